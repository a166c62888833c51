package reconcile

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

func testDetectorKeys() Keys {
	return Keys{InstancePortTag: "iport", AZWeightTag: "HAProxy:Instance:AZperc"}
}

func TestDetectClassifiesCreatedChangedRemoved(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	d := NewChangeDetector(testDetectorKeys())
	key := models.ServiceKey{Name: "web", Port: 80, Region: "eastus"}
	svc := models.Service{Name: "web", Port: 80, Region: "eastus", Instances: []models.Instance{
		inst("vm1", "10.0.0.1", "eastus", "", nil),
	}}

	actions := d.Detect(map[models.ServiceKey]models.Service{key: svc})
	g.Expect(actions).To(gomega.HaveLen(1))
	g.Expect(actions[0].Kind).To(gomega.Equal(Created))

	d.Commit(key, models.BackendState{Servers: d.ServerRecords(svc), SlotCount: 10})

	unchanged := d.Detect(map[models.ServiceKey]models.Service{key: svc})
	g.Expect(unchanged).To(gomega.BeEmpty())

	changedSvc := svc
	changedSvc.Instances = append([]models.Instance{}, svc.Instances...)
	changedSvc.Instances[0].IP = "10.0.0.99"
	changed := d.Detect(map[models.ServiceKey]models.Service{key: changedSvc})
	g.Expect(changed).To(gomega.HaveLen(1))
	g.Expect(changed[0].Kind).To(gomega.Equal(Changed))

	d.Commit(key, models.BackendState{Servers: d.ServerRecords(changedSvc), SlotCount: 10})
	removed := d.Detect(map[models.ServiceKey]models.Service{})
	g.Expect(removed).To(gomega.HaveLen(1))
	g.Expect(removed[0].Kind).To(gomega.Equal(Removed))
}

func TestResetTreatsEverythingAsCreated(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	d := NewChangeDetector(testDetectorKeys())
	key := models.ServiceKey{Name: "web", Port: 80, Region: "eastus"}
	svc := models.Service{Name: "web", Port: 80, Region: "eastus", Instances: []models.Instance{
		inst("vm1", "10.0.0.1", "eastus", "", nil),
	}}
	d.Commit(key, models.BackendState{Servers: d.ServerRecords(svc), SlotCount: 10})

	g.Expect(d.Detect(map[models.ServiceKey]models.Service{key: svc})).To(gomega.BeEmpty())

	d.Reset()
	actions := d.Detect(map[models.ServiceKey]models.Service{key: svc})
	g.Expect(actions).To(gomega.HaveLen(1))
	g.Expect(actions[0].Kind).To(gomega.Equal(Created))
}

func TestNewServerRecordParsesAZPerc(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	keys := testDetectorKeys()

	withPerc := inst("vm1", "10.0.0.1", "eastus", "z1", map[string]string{"HAProxy:Instance:AZperc": "42"})
	rec := NewServerRecord(withPerc, 80, keys)
	g.Expect(rec.HasAZPerc).To(gomega.BeTrue())
	g.Expect(rec.AZPerc).To(gomega.Equal(42))

	outOfRange := inst("vm2", "10.0.0.2", "eastus", "z1", map[string]string{"HAProxy:Instance:AZperc": "0"})
	rec2 := NewServerRecord(outOfRange, 80, keys)
	g.Expect(rec2.HasAZPerc).To(gomega.BeFalse())

	outOfRange100 := inst("vm3", "10.0.0.3", "eastus", "z1", map[string]string{"HAProxy:Instance:AZperc": "100"})
	rec3 := NewServerRecord(outOfRange100, 80, keys)
	g.Expect(rec3.HasAZPerc).To(gomega.BeFalse())
}

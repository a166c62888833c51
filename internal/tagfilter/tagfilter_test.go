package tagfilter

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

func keys() TagKeys {
	return TagKeys{ServiceName: "svc", ServicePort: "port", InstancePort: "iport"}
}

func TestApplyDropsMissingTags(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	f := Filter{Keys: keys()}
	instances := []models.Instance{
		models.NewInstance("vm1", "10.0.0.1", "eastus", "", map[string]string{"svc": "web", "port": "8080"}),
		models.NewInstance("vm2", "10.0.0.2", "eastus", "", map[string]string{"svc": "web"}),
		models.NewInstance("vm3", "10.0.0.3", "eastus", "", map[string]string{"port": "8080"}),
		models.NewInstance("vm4", "10.0.0.4", "eastus", "", map[string]string{"svc": "web", "port": "not-a-number"}),
		models.NewInstance("vm5", "10.0.0.5", "eastus", "", map[string]string{"svc": "web", "port": "70000"}),
	}

	out := f.Apply(instances)
	g.Expect(out).To(gomega.HaveLen(1))
	g.Expect(out[0].ID).To(gomega.Equal("vm1"))
}

func TestApplyAllowlistIsAND(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	f := Filter{
		Keys:      keys(),
		Allowlist: map[string]string{"env": "prod", "team": "core"},
	}
	pass := models.NewInstance("vm1", "10.0.0.1", "eastus", "", map[string]string{
		"svc": "web", "port": "8080", "env": "prod", "team": "core",
	})
	failOne := models.NewInstance("vm2", "10.0.0.2", "eastus", "", map[string]string{
		"svc": "web", "port": "8080", "env": "prod",
	})

	out := f.Apply([]models.Instance{pass, failOne})
	g.Expect(out).To(gomega.HaveLen(1))
	g.Expect(out[0].ID).To(gomega.Equal("vm1"))
}

func TestApplyDenylistIsOR(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	f := Filter{
		Keys:     keys(),
		Denylist: map[string]string{"canary": "true", "drain": "true"},
	}
	denied := models.NewInstance("vm1", "10.0.0.1", "eastus", "", map[string]string{
		"svc": "web", "port": "8080", "canary": "true",
	})
	allowed := models.NewInstance("vm2", "10.0.0.2", "eastus", "", map[string]string{
		"svc": "web", "port": "8080",
	})

	out := f.Apply([]models.Instance{denied, allowed})
	g.Expect(out).To(gomega.HaveLen(1))
	g.Expect(out[0].ID).To(gomega.Equal("vm2"))
}

func TestApplyIsCaseSensitive(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	f := Filter{Keys: keys(), Allowlist: map[string]string{"env": "Prod"}}
	inst := models.NewInstance("vm1", "10.0.0.1", "eastus", "", map[string]string{
		"svc": "web", "port": "8080", "env": "prod",
	})

	out := f.Apply([]models.Instance{inst})
	g.Expect(out).To(gomega.BeEmpty())
}

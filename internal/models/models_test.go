package models

import (
	"testing"

	"github.com/onsi/gomega"
)

func TestBackendName(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	key := ServiceKey{Name: "web", Port: 8080, Region: "eastus"}
	g.Expect(BackendName("azure", "-", key)).To(gomega.Equal("azure-web-8080-eastus"))
}

func TestNewInstanceCopiesTags(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	tags := map[string]string{"a": "1"}
	inst := NewInstance("vm1", "10.0.0.1", "eastus", "", tags)
	tags["a"] = "2"

	g.Expect(inst.Tags["a"]).To(gomega.Equal("1"))
	g.Expect(inst.HasZone()).To(gomega.BeFalse())
}

func TestBackendStateSameServers(t *testing.T) {
	g := gomega.NewGomegaWithT(t)

	a := BackendState{Servers: map[string]ServerRecord{
		"vm1": {InstanceID: "vm1", IP: "10.0.0.1", Port: 8080},
	}}
	b := BackendState{Servers: map[string]ServerRecord{
		"vm1": {InstanceID: "vm1", IP: "10.0.0.1", Port: 8080},
	}}
	c := BackendState{Servers: map[string]ServerRecord{
		"vm1": {InstanceID: "vm1", IP: "10.0.0.2", Port: 8080},
	}}

	g.Expect(a.SameServers(b)).To(gomega.BeTrue())
	g.Expect(a.SameServers(c)).To(gomega.BeFalse())
}

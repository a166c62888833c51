// Package models holds the immutable value types shared across the
// reconciliation pipeline: Instance, Service, and the per-backend state
// the ChangeDetector carries between cycles.
package models

import "fmt"

// Instance is one running cloud compute unit as seen by a DiscoveryClient.
// It is rebuilt fresh every cycle and never mutated after construction.
type Instance struct {
	ID     string
	IP     string
	Region string
	Zone   string // empty when the instance carries no zone
	Tags   map[string]string
}

// HasZone reports whether the instance carries a zone.
func (i Instance) HasZone() bool {
	return i.Zone != ""
}

// NewInstance builds an Instance, copying the tag map so callers can't
// mutate it out from under a cycle in progress.
func NewInstance(id, ip, region, zone string, tags map[string]string) Instance {
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	return Instance{ID: id, IP: ip, Region: region, Zone: zone, Tags: copied}
}

// ServiceKey identifies a Service across cycles. It is comparable and safe
// to use as a map key.
type ServiceKey struct {
	Name   string
	Port   int
	Region string
}

func (k ServiceKey) String() string {
	return fmt.Sprintf("%s:%d@%s", k.Name, k.Port, k.Region)
}

// Service is a logical backend derived from every Instance sharing the same
// service name tag, service port tag, and region. Instances is in discovery
// order; that order is what makes server-slot indices stable within a cycle.
type Service struct {
	Name      string
	Port      int
	Region    string
	Instances []Instance
}

// Key returns the Service's identity key.
func (s Service) Key() ServiceKey {
	return ServiceKey{Name: s.Name, Port: s.Port, Region: s.Region}
}

// BackendName computes the stable HAProxy backend identity for a service.
func BackendName(prefix, sep string, key ServiceKey) string {
	return fmt.Sprintf("%s%s%s%s%d%s%s", prefix, sep, key.Name, sep, key.Port, sep, key.Region)
}

// ServerRecord is the per-slot quintuple ChangeDetector compares across
// cycles: everything about one active server that, if it changes, means the
// backend's slots must be recomputed.
type ServerRecord struct {
	InstanceID string
	IP         string
	Port       int
	Zone       string
	HasAZPerc  bool
	AZPerc     int
}

// Equal reports whether two records describe the same server state.
func (r ServerRecord) Equal(o ServerRecord) bool {
	return r.InstanceID == o.InstanceID &&
		r.IP == o.IP &&
		r.Port == o.Port &&
		r.Zone == o.Zone &&
		r.HasAZPerc == o.HasAZPerc &&
		r.AZPerc == o.AZPerc
}

// BackendState is what the ChangeDetector remembers about one backend
// between cycles: the last-known active-server quintuples, keyed by
// instance ID, and the last-known slot count (so backends never shrink).
type BackendState struct {
	Servers   map[string]ServerRecord
	SlotCount int
}

// SameServers reports whether two BackendStates describe the same set of
// active servers, independent of map iteration order.
func (s BackendState) SameServers(o BackendState) bool {
	if len(s.Servers) != len(o.Servers) {
		return false
	}
	for id, rec := range s.Servers {
		other, ok := o.Servers[id]
		if !ok || !rec.Equal(other) {
			return false
		}
	}
	return true
}

// Package reconcile holds the core of the daemon: ChangeDetector (diffing
// the current service map against the prior cycle's snapshot) and
// Reconciler (applying the resulting change set to HAProxy inside one
// transaction).
package reconcile

import (
	"strconv"
	"sync"

	"github.com/vsk8s/haproxy-fleet-sync/internal/grouper"
	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

// ActionKind classifies what happened to a service between cycles.
type ActionKind string

const (
	Created ActionKind = "created"
	Changed ActionKind = "changed"
	Removed ActionKind = "removed"
)

// Action is one service's change for this cycle. Instances is empty for a
// Removed action (quiesce: no instances, all slots parked).
type Action struct {
	Kind      ActionKind
	Key       models.ServiceKey
	Instances []models.Instance
}

// Keys names the tags ChangeDetector (and the Reconciler) need to build the
// per-server quintuple the spec diffs cycle over cycle: the instance-port
// override tag and the AZ-weight tag.
type Keys struct {
	InstancePortTag string
	AZWeightTag     string
}

// ChangeDetector holds the BackendState snapshot across cycles and classifies
// each service key present in the current or prior map.
type ChangeDetector struct {
	mu    sync.Mutex
	keys  Keys
	prior map[models.ServiceKey]models.BackendState
}

// NewChangeDetector returns a detector with an empty snapshot, as at process
// start.
func NewChangeDetector(keys Keys) *ChangeDetector {
	return &ChangeDetector{keys: keys, prior: make(map[models.ServiceKey]models.BackendState)}
}

// Reset clears the snapshot. Used on SIGHUP: the next cycle treats
// everything as Created.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prior = make(map[models.ServiceKey]models.BackendState)
}

// Detect builds the change set for the current cycle given the current
// service map. It does not mutate the snapshot; call Commit after a
// successful reconcile.
func (d *ChangeDetector) Detect(current map[models.ServiceKey]models.Service) []Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make(map[models.ServiceKey]bool, len(current)+len(d.prior))
	for k := range current {
		keys[k] = true
	}
	for k := range d.prior {
		keys[k] = true
	}

	var actions []Action
	for key := range keys {
		svc, isCurrent := current[key]
		state, wasPrior := d.prior[key]

		switch {
		case isCurrent && !wasPrior:
			actions = append(actions, Action{Kind: Created, Key: key, Instances: svc.Instances})
		case !isCurrent && wasPrior:
			// A backend already committed in quiesced form has nothing
			// left to park, so it stays unchanged.
			if len(state.Servers) > 0 {
				actions = append(actions, Action{Kind: Removed, Key: key})
			}
		case isCurrent && wasPrior:
			currentServers := d.serverRecords(svc)
			if !state.SameServers(models.BackendState{Servers: currentServers}) {
				actions = append(actions, Action{Kind: Changed, Key: key, Instances: svc.Instances})
			}
		}
	}

	return actions
}

// ServerRecords builds the quintuple set for svc the way the snapshot
// compares it: instance ID, effective IP/port, zone, and parsed AZ
// percentage. Exported so the Reconciler commits exactly what the detector
// will compare against next cycle.
func (d *ChangeDetector) ServerRecords(svc models.Service) map[string]models.ServerRecord {
	return d.serverRecords(svc)
}

func (d *ChangeDetector) serverRecords(svc models.Service) map[string]models.ServerRecord {
	out := make(map[string]models.ServerRecord, len(svc.Instances))
	for _, inst := range svc.Instances {
		out[inst.ID] = NewServerRecord(inst, svc.Port, d.keys)
	}
	return out
}

// NewServerRecord builds the comparable quintuple for one instance acting
// as an active server of a service with the given base port.
func NewServerRecord(inst models.Instance, servicePort int, keys Keys) models.ServerRecord {
	rec := models.ServerRecord{
		InstanceID: inst.ID,
		IP:         inst.IP,
		Port:       grouper.EffectivePort(inst, keys.InstancePortTag, servicePort),
		Zone:       inst.Zone,
	}
	if keys.AZWeightTag != "" {
		if raw, ok := inst.Tags[keys.AZWeightTag]; ok {
			if p, err := strconv.Atoi(raw); err == nil && p >= 1 && p <= 99 {
				rec.HasAZPerc = true
				rec.AZPerc = p
			}
		}
	}
	return rec
}

// Snapshot returns the BackendState the detector currently holds for key,
// and whether one exists.
func (d *ChangeDetector) Snapshot(key models.ServiceKey) (models.BackendState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.prior[key]
	return s, ok
}

// Commit replaces the snapshot entry for key with newState, called by the
// Reconciler after a successful commit for that service. Removed services
// are committed in quiesced form (Servers cleared, SlotCount retained) so
// invariant 5 (never shrink) survives the removal.
func (d *ChangeDetector) Commit(key models.ServiceKey, newState models.BackendState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prior[key] = newState
}

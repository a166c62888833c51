// Package tagfilter implements the allow/deny evaluation over instance tags
// that decides which discovered instances are eligible to join a Service.
package tagfilter

import (
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

// TagKeys names the tags the filter looks for on every instance.
type TagKeys struct {
	ServiceName  string
	ServicePort  string
	InstancePort string // optional, per-instance port override
}

// Filter evaluates instances against an allowlist (AND over entries) and a
// denylist (OR over entries), requiring a parseable service-name/port tag
// pair. Matching is case-sensitive string equality throughout.
type Filter struct {
	Keys      TagKeys
	Allowlist map[string]string
	Denylist  map[string]string
}

// Apply returns the subset of instances that pass the filter, logging each
// drop at debug level with the reason.
func (f Filter) Apply(instances []models.Instance) []models.Instance {
	out := make([]models.Instance, 0, len(instances))
	for _, inst := range instances {
		if reason, ok := f.reject(inst); ok {
			log.WithFields(log.Fields{
				"instance_id": inst.ID,
				"reason":      reason,
			}).Debug("dropping instance")
			continue
		}
		out = append(out, inst)
	}
	return out
}

// reject returns a human-readable reason and true if the instance should be
// dropped, or ("", false) if it passes.
func (f Filter) reject(inst models.Instance) (string, bool) {
	name, ok := inst.Tags[f.Keys.ServiceName]
	if !ok || name == "" {
		return "missing service name tag", true
	}

	portStr, ok := inst.Tags[f.Keys.ServicePort]
	if !ok {
		return "missing service port tag", true
	}
	if !validPort(portStr) {
		return "unparseable service port tag", true
	}

	for key, want := range f.Allowlist {
		if got, ok := inst.Tags[key]; !ok || got != want {
			return "allowlist mismatch on " + key, true
		}
	}

	for key, want := range f.Denylist {
		if got, ok := inst.Tags[key]; ok && got == want {
			return "denylist match on " + key, true
		}
	}

	return "", false
}

func validPort(s string) bool {
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// Package grouper folds filtered instances into services keyed by
// (name, port, region).
package grouper

import (
	"strconv"

	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
	"github.com/vsk8s/haproxy-fleet-sync/internal/tagfilter"
)

// Grouper builds the current service map from a filtered instance list.
type Grouper struct {
	Keys tagfilter.TagKeys
}

// Group folds instances into services, de-duplicated by instance ID within
// a service (first occurrence wins), preserving discovery order. The
// effective per-instance port is the instance-port tag when present and
// parseable, otherwise the service's own port.
func (g Grouper) Group(instances []models.Instance) map[models.ServiceKey]models.Service {
	out := make(map[models.ServiceKey]models.Service)
	seen := make(map[models.ServiceKey]map[string]bool)

	for _, inst := range instances {
		name := inst.Tags[g.Keys.ServiceName]
		port, err := strconv.Atoi(inst.Tags[g.Keys.ServicePort])
		if err != nil {
			// TagFilter should have already dropped this; defensive skip.
			continue
		}
		key := models.ServiceKey{Name: name, Port: port, Region: inst.Region}

		if seen[key] == nil {
			seen[key] = make(map[string]bool)
		}
		if seen[key][inst.ID] {
			continue
		}
		seen[key][inst.ID] = true

		svc := out[key]
		svc.Name = name
		svc.Port = port
		svc.Region = inst.Region
		svc.Instances = append(svc.Instances, inst)
		out[key] = svc
	}

	return out
}

// EffectivePort returns the per-instance server port: the instance-port tag
// if present and parseable, else the service's port.
func EffectivePort(inst models.Instance, instancePortKey string, servicePort int) int {
	return effectivePort(inst, instancePortKey, servicePort)
}

func effectivePort(inst models.Instance, instancePortKey string, servicePort int) int {
	if instancePortKey == "" {
		return servicePort
	}
	raw, ok := inst.Tags[instancePortKey]
	if !ok {
		return servicePort
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 65535 {
		return servicePort
	}
	return n
}

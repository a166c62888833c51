// Package discovery defines the cloud-fleet discovery contract. Exactly one
// implementation (azure or aws) is active per process, selected by
// config.Provider.
package discovery

import (
	"context"

	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
)

// Client discovers every instance the configured cloud fleet currently
// contains, tags and all. Tag filtering and grouping happen downstream of
// this call; Client only returns what the cloud API reports as running.
type Client interface {
	DiscoverAll(ctx context.Context) ([]models.Instance, error)
}

// Package haproxyapi is the abstract Dataplane API client the Reconciler
// consumes, plus its HTTP implementation and the TransactionScope resource
// pattern wrapping it.
package haproxyapi

import (
	"context"
	"fmt"
)

// Server is one backend server entry as materialized by the Reconciler.
type Server struct {
	Name        string
	Address     string
	Port        int
	Maintenance bool
	Check       bool
	Weight      int // 0 means "unset", leaving HAProxy's default
	Backup      bool
	Cookie      string
}

// Backend is the create payload for a new backend. Extra carries any
// verbatim backend_options JSON fragment merged in at creation time.
type Backend struct {
	Name    string
	Mode    string
	Balance string
	Extra   map[string]interface{}
}

// Client is the Dataplane API surface the Reconciler drives. All methods
// honor a caller-supplied context for cancellation/timeout (§5 of the spec:
// every outbound call is a cycle suspension point).
type Client interface {
	ConfigurationVersion(ctx context.Context) (int, error)
	CreateTransaction(ctx context.Context, version int) (string, error)
	CommitTransaction(ctx context.Context, txnID string) error
	DeleteTransaction(ctx context.Context, txnID string) error

	GetBackend(ctx context.Context, name, txnID string) (*Backend, error)
	CreateBackend(ctx context.Context, payload Backend, txnID string) error

	GetServers(ctx context.Context, backend, txnID string) ([]Server, error)
	CreateServer(ctx context.Context, backend string, payload Server, txnID string) error
	ReplaceServer(ctx context.Context, backend, name string, payload Server, txnID string) error
	DeleteServer(ctx context.Context, backend, name, txnID string) error
}

// ErrVersionConflict is returned by CommitTransaction when the Dataplane API
// rejects the commit with HTTP 409 / an explicit version-conflict signal.
type ErrVersionConflict struct {
	TxnID string
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("dataplane: version conflict committing transaction %s", e.TxnID)
}

// Error is any other non-2xx Dataplane response.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dataplane: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

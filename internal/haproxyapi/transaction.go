package haproxyapi

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// state is the TransactionScope's internal lifecycle marker.
type state int

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
	stateDiscarded
)

// Scope is a scoped acquisition of a Dataplane transaction, guaranteeing the
// transaction is released on every exit path: committed when changed,
// discarded (deleted, no commit) when nothing changed, aborted (deleted) on
// any error. Mirrors the Open -> Committed|Aborted|Discarded state machine
// of the spec's TransactionScope.
type Scope struct {
	client  Client
	ctx     context.Context
	id      string
	version int
	changed bool
	state   state
}

// Open fetches the current configuration version and creates a new
// transaction against it, returning a handle.
func Open(ctx context.Context, client Client) (*Scope, error) {
	version, err := client.ConfigurationVersion(ctx)
	if err != nil {
		return nil, err
	}
	id, err := client.CreateTransaction(ctx, version)
	if err != nil {
		return nil, err
	}
	return &Scope{client: client, ctx: ctx, id: id, version: version, state: stateOpen}, nil
}

// ID returns the transaction ID for use in Dataplane calls scoped to it.
func (s *Scope) ID() string {
	return s.id
}

// MarkChanged records that the reconciler issued a mutating write. Once
// set, Close commits instead of discarding.
func (s *Scope) MarkChanged() {
	s.changed = true
}

// Changed reports whether MarkChanged has been called.
func (s *Scope) Changed() bool {
	return s.changed
}

// Close releases the transaction: commits if something changed, otherwise
// deletes the empty transaction without committing (an empty commit would
// bump the configuration version for nothing). If *errp already holds an
// error on entry, Close aborts (deletes) instead, and never overwrites
// *errp with a delete failure -- the original error is what the caller
// acts on. When run as a deferred call during a panic, Close aborts
// (deletes) the transaction and then re-raises the panic.
//
// Callers use this as `defer txn.Close(ctx, &err)`.
func (s *Scope) Close(ctx context.Context, errp *error) {
	if s.state != stateOpen {
		return
	}

	if p := recover(); p != nil {
		s.state = stateAborted
		if delErr := s.client.DeleteTransaction(ctx, s.id); delErr != nil {
			log.WithField("txn", s.id).WithError(delErr).Warn("failed to delete transaction after panic")
		}
		panic(p)
	}

	if *errp != nil {
		s.state = stateAborted
		if delErr := s.client.DeleteTransaction(ctx, s.id); delErr != nil {
			log.WithField("txn", s.id).WithError(delErr).Warn("failed to delete aborted transaction")
		}
		return
	}

	if !s.changed {
		s.state = stateDiscarded
		if delErr := s.client.DeleteTransaction(ctx, s.id); delErr != nil {
			log.WithField("txn", s.id).WithError(delErr).Warn("failed to delete empty transaction")
		}
		return
	}

	if commitErr := s.client.CommitTransaction(ctx, s.id); commitErr != nil {
		*errp = commitErr
		s.state = stateAborted
		if delErr := s.client.DeleteTransaction(ctx, s.id); delErr != nil {
			log.WithField("txn", s.id).WithError(delErr).Warn("failed to delete transaction after failed commit")
		}
		return
	}

	s.state = stateCommitted
}

package reconcile

import (
	"context"
	"strconv"

	"github.com/vsk8s/haproxy-fleet-sync/internal/haproxyapi"
)

// fakeDataplane is an in-memory haproxyapi.Client used to exercise the
// Reconciler end to end, the way the spec's E1-E6 scenarios describe.
type fakeDataplane struct {
	version int

	backends map[string]haproxyapi.Backend
	servers  map[string]map[string]haproxyapi.Server

	openTxns   map[string]bool
	txnCounter int

	// rollback holds the state captured when each transaction opened; a
	// transaction deleted instead of committed restores it, so writes made
	// inside an aborted or discarded transaction do not persist.
	rollback map[string]fakeState

	createdTxns int
	deletedTxns int
	committed   int

	// conflictsRemaining makes CommitTransaction fail with a version
	// conflict this many times before succeeding.
	conflictsRemaining int
}

func newFakeDataplane() *fakeDataplane {
	return &fakeDataplane{
		version:  1,
		backends: make(map[string]haproxyapi.Backend),
		servers:  make(map[string]map[string]haproxyapi.Server),
		openTxns: make(map[string]bool),
		rollback: make(map[string]fakeState),
	}
}

type fakeState struct {
	backends map[string]haproxyapi.Backend
	servers  map[string]map[string]haproxyapi.Server
}

func (f *fakeDataplane) saveState() fakeState {
	s := fakeState{
		backends: make(map[string]haproxyapi.Backend, len(f.backends)),
		servers:  make(map[string]map[string]haproxyapi.Server, len(f.servers)),
	}
	for name, b := range f.backends {
		s.backends[name] = b
	}
	for name, m := range f.servers {
		copied := make(map[string]haproxyapi.Server, len(m))
		for k, v := range m {
			copied[k] = v
		}
		s.servers[name] = copied
	}
	return s
}

func (f *fakeDataplane) ConfigurationVersion(ctx context.Context) (int, error) {
	return f.version, nil
}

func (f *fakeDataplane) CreateTransaction(ctx context.Context, version int) (string, error) {
	f.txnCounter++
	id := "txn" + strconv.Itoa(f.txnCounter)
	f.openTxns[id] = true
	f.rollback[id] = f.saveState()
	f.createdTxns++
	return id, nil
}

func (f *fakeDataplane) CommitTransaction(ctx context.Context, txnID string) error {
	if f.conflictsRemaining > 0 {
		f.conflictsRemaining--
		return &haproxyapi.ErrVersionConflict{TxnID: txnID}
	}
	delete(f.openTxns, txnID)
	delete(f.rollback, txnID)
	f.committed++
	f.version++
	return nil
}

func (f *fakeDataplane) DeleteTransaction(ctx context.Context, txnID string) error {
	if s, ok := f.rollback[txnID]; ok {
		f.backends, f.servers = s.backends, s.servers
		delete(f.rollback, txnID)
	}
	delete(f.openTxns, txnID)
	f.deletedTxns++
	return nil
}

func (f *fakeDataplane) GetBackend(ctx context.Context, name, txnID string) (*haproxyapi.Backend, error) {
	b, ok := f.backends[name]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeDataplane) CreateBackend(ctx context.Context, payload haproxyapi.Backend, txnID string) error {
	f.backends[payload.Name] = payload
	f.servers[payload.Name] = make(map[string]haproxyapi.Server)
	return nil
}

func (f *fakeDataplane) GetServers(ctx context.Context, backend, txnID string) ([]haproxyapi.Server, error) {
	m := f.servers[backend]
	out := make([]haproxyapi.Server, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeDataplane) CreateServer(ctx context.Context, backend string, payload haproxyapi.Server, txnID string) error {
	if f.servers[backend] == nil {
		f.servers[backend] = make(map[string]haproxyapi.Server)
	}
	f.servers[backend][payload.Name] = payload
	return nil
}

func (f *fakeDataplane) ReplaceServer(ctx context.Context, backend, name string, payload haproxyapi.Server, txnID string) error {
	f.servers[backend][name] = payload
	return nil
}

func (f *fakeDataplane) DeleteServer(ctx context.Context, backend, name, txnID string) error {
	delete(f.servers[backend], name)
	return nil
}

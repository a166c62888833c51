package reconcile

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vsk8s/haproxy-fleet-sync/internal/errkind"
	"github.com/vsk8s/haproxy-fleet-sync/internal/grouper"
	"github.com/vsk8s/haproxy-fleet-sync/internal/haproxyapi"
	"github.com/vsk8s/haproxy-fleet-sync/internal/models"
	"github.com/vsk8s/haproxy-fleet-sync/internal/slotalloc"
)

// maxAttempts bounds the version-conflict retry loop: the whole cycle's
// reconciliation is retried, opening a fresh transaction each time, up to
// this many attempts total.
const maxAttempts = 3

// serverNameWidth is the zero-padding width for deterministic server names
// ("srv0000".."srv9999"), fixed for a backend's lifetime per spec Open
// Question #2.
const serverNameWidth = 4

// BackendNaming configures how backend and server names are derived.
type BackendNaming struct {
	Prefix    string
	Separator string
}

// AZPolicy configures availability-zone weighting. Zone == "" means AZ
// weighting is disabled entirely (no weight/backup options are ever
// emitted).
type AZPolicy struct {
	Zone string
}

// Config bundles everything the Reconciler needs beyond the DataplaneClient
// and the per-cycle change set.
type Config struct {
	Naming         BackendNaming
	Mode           string
	Balance        string
	BackendOptions map[string]map[string]interface{}
	SlotAllocator  slotalloc.Allocator
	AZ             AZPolicy
	Keys           Keys
}

// Reconciler applies a cycle's change set against HAProxy inside one
// TransactionScope, with AZ weighting, slot materialization, and the
// quiesce-on-removal rule.
type Reconciler struct {
	client   haproxyapi.Client
	detector *ChangeDetector
	cfg      Config
}

// New builds a Reconciler.
func New(client haproxyapi.Client, detector *ChangeDetector, cfg Config) *Reconciler {
	return &Reconciler{client: client, detector: detector, cfg: cfg}
}

// Result summarizes one cycle's reconciliation for logging.
type Result struct {
	Created int
	Changed int
	Removed int
	Attempt int
}

// Reconcile applies actions (the full change set for one cycle) inside a
// single transaction, retrying the whole reconciliation up to maxAttempts
// times on a version conflict. The already-discovered/diffed actions are
// reused verbatim across retries -- discovery is not repeated.
func (r *Reconciler) Reconcile(ctx context.Context, actions []Action) (Result, error) {
	if len(actions) == 0 {
		return Result{}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := r.attempt(ctx, actions, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errkind.Is(err, errkind.VersionConflict) {
			return Result{}, err
		}
		log.WithField("attempt", attempt).Warn("version conflict committing reconciliation, retrying")
	}

	return Result{}, errkind.New(errkind.Dataplane, lastErr, "version conflict retries exhausted").WithAttempt(maxAttempts)
}

func (r *Reconciler) attempt(ctx context.Context, actions []Action, attempt int) (res Result, err error) {
	scope, err := haproxyapi.Open(ctx, r.client)
	if err != nil {
		return Result{}, errkind.New(errkind.Dataplane, err, "open transaction").WithAttempt(attempt)
	}
	defer scope.Close(ctx, &err)

	commits := make([]func(), 0, len(actions))

	for _, action := range actions {
		name := models.BackendName(r.cfg.Naming.Prefix, r.cfg.Naming.Separator, action.Key)

		switch action.Kind {
		case Removed:
			prior, ok := r.detector.Snapshot(action.Key)
			if !ok {
				continue
			}
			if applyErr := r.quiesce(ctx, scope, name, prior.SlotCount); applyErr != nil {
				return Result{}, wrapDataplaneErr(applyErr, action.Key, name, attempt)
			}
			res.Removed++
			key := action.Key
			commits = append(commits, func() {
				r.detector.Commit(key, models.BackendState{Servers: map[string]models.ServerRecord{}, SlotCount: prior.SlotCount})
			})

		case Created, Changed:
			svc := models.Service{Name: action.Key.Name, Port: action.Key.Port, Region: action.Key.Region, Instances: action.Instances}
			newSlotCount, applyErr := r.materialize(ctx, scope, name, svc)
			if applyErr != nil {
				return Result{}, wrapDataplaneErr(applyErr, action.Key, name, attempt)
			}
			if action.Kind == Created {
				res.Created++
			} else {
				res.Changed++
			}
			key := action.Key
			records := r.detector.ServerRecords(svc)
			commits = append(commits, func() {
				r.detector.Commit(key, models.BackendState{Servers: records, SlotCount: newSlotCount})
			})
		}
	}

	res.Attempt = attempt
	// Snapshot commits only land once the transaction has actually
	// committed, so close it explicitly here (the deferred Close above is
	// then a no-op backstop for any path that returned earlier).
	scope.Close(ctx, &err)
	if err != nil {
		var conflict *haproxyapi.ErrVersionConflict
		if asVersionConflict(err, &conflict) {
			return Result{}, errkind.New(errkind.VersionConflict, err, "commit conflict").WithAttempt(attempt)
		}
		return Result{}, errkind.New(errkind.Dataplane, err, "commit transaction").WithAttempt(attempt)
	}
	for _, c := range commits {
		c()
	}
	return res, nil
}

func wrapDataplaneErr(err error, key models.ServiceKey, backend string, attempt int) error {
	var conflict *haproxyapi.ErrVersionConflict
	if asVersionConflict(err, &conflict) {
		return errkind.New(errkind.VersionConflict, err, "commit conflict").
			WithService(key.String()).WithBackend(backend).WithAttempt(attempt)
	}
	return errkind.New(errkind.Dataplane, err, "apply backend change").
		WithService(key.String()).WithBackend(backend).WithAttempt(attempt)
}

func asVersionConflict(err error, target **haproxyapi.ErrVersionConflict) bool {
	if e, ok := err.(*haproxyapi.ErrVersionConflict); ok {
		*target = e
		return true
	}
	return false
}

// quiesce parks every slot of an existing backend (invariant 4): the
// backend is never deleted, only marked all-maintenance.
func (r *Reconciler) quiesce(ctx context.Context, scope *haproxyapi.Scope, backend string, slotCount int) error {
	servers, err := r.client.GetServers(ctx, backend, scope.ID())
	if err != nil {
		return err
	}
	existing := make(map[string]haproxyapi.Server, len(servers))
	for _, s := range servers {
		existing[s.Name] = s
	}

	for i := 0; i < slotCount; i++ {
		name := serverName(i)
		parked := parkedServer(name)
		if cur, ok := existing[name]; ok {
			if serverEquivalent(cur, parked) {
				continue
			}
			if err := r.client.ReplaceServer(ctx, backend, name, parked, scope.ID()); err != nil {
				return err
			}
		} else {
			if err := r.client.CreateServer(ctx, backend, parked, scope.ID()); err != nil {
				return err
			}
		}
		scope.MarkChanged()
	}
	return nil
}

// materialize ensures the backend exists, computes the target slot count,
// and writes every slot: active for the first len(instances), parked
// beyond that. Returns the resulting slot count.
func (r *Reconciler) materialize(ctx context.Context, scope *haproxyapi.Scope, backend string, svc models.Service) (int, error) {
	existingBackend, err := r.client.GetBackend(ctx, backend, scope.ID())
	if err != nil {
		return 0, err
	}
	if existingBackend == nil {
		payload := haproxyapi.Backend{
			Name:    backend,
			Mode:    r.cfg.Mode,
			Balance: r.cfg.Balance,
			Extra:   r.cfg.BackendOptions[svc.Name],
		}
		if err := r.client.CreateBackend(ctx, payload, scope.ID()); err != nil {
			return 0, err
		}
		scope.MarkChanged()
	}

	servers, err := r.client.GetServers(ctx, backend, scope.ID())
	if err != nil {
		return 0, err
	}
	existing := make(map[string]haproxyapi.Server, len(servers))
	for _, s := range servers {
		existing[s.Name] = s
	}

	desired := r.cfg.SlotAllocator.Desired(len(svc.Instances))
	targetSlots := desired
	if len(servers) > targetSlots {
		targetSlots = len(servers)
	}

	for i := 0; i < targetSlots; i++ {
		name := serverName(i)
		var want haproxyapi.Server
		if i < len(svc.Instances) {
			want = r.activeServer(name, svc.Instances[i], svc.Port)
		} else {
			want = parkedServer(name)
		}

		if cur, ok := existing[name]; ok {
			if serverEquivalent(cur, want) {
				continue
			}
			if err := r.client.ReplaceServer(ctx, backend, name, want, scope.ID()); err != nil {
				return 0, err
			}
		} else {
			if err := r.client.CreateServer(ctx, backend, want, scope.ID()); err != nil {
				return 0, err
			}
		}
		scope.MarkChanged()
	}

	return targetSlots, nil
}

func (r *Reconciler) activeServer(name string, inst models.Instance, servicePort int) haproxyapi.Server {
	port := grouper.EffectivePort(inst, r.cfg.Keys.InstancePortTag, servicePort)
	s := haproxyapi.Server{
		Name:        name,
		Address:     inst.IP,
		Port:        port,
		Maintenance: false,
		Check:       true,
		Cookie:      name,
	}

	if r.cfg.AZ.Zone == "" {
		return s
	}

	sameAZ := inst.Zone == "" || inst.Zone == r.cfg.AZ.Zone
	raw, hasPerc := inst.Tags[r.cfg.Keys.AZWeightTag]
	perc, percOK := parseAZPerc(raw)
	hasPerc = hasPerc && percOK

	switch {
	case !hasPerc && sameAZ:
		// default weight, not backup
	case !hasPerc && !sameAZ:
		s.Backup = true
	case hasPerc && sameAZ:
		s.Weight = 100 - perc
	case hasPerc && !sameAZ:
		s.Weight = perc
	}
	return s
}

func parseAZPerc(raw string) (int, bool) {
	p, err := strconv.Atoi(raw)
	if err != nil || p < 1 || p > 99 {
		return 0, false
	}
	return p, true
}

func parkedServer(name string) haproxyapi.Server {
	return haproxyapi.Server{
		Name:        name,
		Address:     "127.0.0.1",
		Port:        80,
		Maintenance: true,
		Check:       false,
	}
}

func serverEquivalent(a, b haproxyapi.Server) bool {
	return a.Address == b.Address &&
		a.Port == b.Port &&
		a.Maintenance == b.Maintenance &&
		a.Check == b.Check &&
		a.Weight == b.Weight &&
		a.Backup == b.Backup &&
		a.Cookie == b.Cookie
}

func serverName(i int) string {
	return fmt.Sprintf("srv%0*d", serverNameWidth, i)
}

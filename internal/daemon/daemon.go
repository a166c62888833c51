// Package daemon drives the reconciliation cycle on a timer, generalizing
// the teacher's Cluster.workLoop reconnect-with-sleep pattern into a
// jittered poll interval with exponential backoff, plus SIGHUP-driven
// snapshot resets.
package daemon

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vsk8s/haproxy-fleet-sync/internal/discovery"
	"github.com/vsk8s/haproxy-fleet-sync/internal/grouper"
	"github.com/vsk8s/haproxy-fleet-sync/internal/reconcile"
	"github.com/vsk8s/haproxy-fleet-sync/internal/tagfilter"
)

// PollingPolicy configures the cycle timer, per spec.md §6.3's
// polling.* fields.
type PollingPolicy struct {
	Interval    time.Duration
	Jitter      time.Duration
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// Loop runs the discover -> filter -> group -> detect -> reconcile
// pipeline on a poll timer. It is not safe for concurrent use; one Loop
// drives one provider's reconciliation.
type Loop struct {
	Discovery  discovery.Client
	Filter     tagfilter.Filter
	Grouper    grouper.Grouper
	Detector   *reconcile.ChangeDetector
	Reconciler *reconcile.Reconciler
	Policy     PollingPolicy

	resetCh chan struct{}
	failures int
}

// NewLoop builds a Loop ready to Run.
func NewLoop(disc discovery.Client, filter tagfilter.Filter, grp grouper.Grouper, detector *reconcile.ChangeDetector, recon *reconcile.Reconciler, policy PollingPolicy) *Loop {
	return &Loop{
		Discovery: disc, Filter: filter, Grouper: grp, Detector: detector, Reconciler: recon, Policy: policy,
		resetCh: make(chan struct{}, 1),
	}
}

// RequestReset asks the next cycle to clear the ChangeDetector's snapshot
// first, the SIGHUP behavior from spec.md §6.4. Safe to call from a
// different goroutine (the daemon's signal handler).
func (l *Loop) RequestReset() {
	select {
	case l.resetCh <- struct{}{}:
	default:
	}
}

// RunOnce executes exactly one cycle: discover, filter, group, detect,
// reconcile. Used both by Run's loop body and by --once mode.
func (l *Loop) RunOnce(ctx context.Context) (reconcile.Result, error) {
	select {
	case <-l.resetCh:
		l.Detector.Reset()
		log.Info("snapshot cleared, next cycle treats every service as created")
	default:
	}

	instances, err := l.Discovery.DiscoverAll(ctx)
	if err != nil {
		return reconcile.Result{}, err
	}

	filtered := l.Filter.Apply(instances)
	services := l.Grouper.Group(filtered)
	actions := l.Detector.Detect(services)

	res, err := l.Reconciler.Reconcile(ctx, actions)
	if err != nil {
		return reconcile.Result{}, err
	}

	log.WithFields(log.Fields{
		"created": res.Created,
		"changed": res.Changed,
		"removed": res.Removed,
		"attempt": res.Attempt,
	}).Info("cycle complete")
	return res, nil
}

// Run blocks, executing cycles on a jittered timer until ctx is
// cancelled. A cycle error triggers exponential backoff before the next
// attempt, capped at Policy.MaxBackoff; a successful cycle resets the
// backoff counter.
func (l *Loop) Run(ctx context.Context) error {
	for {
		_, err := l.RunOnce(ctx)
		var wait time.Duration
		if err != nil {
			log.WithError(err).Warn("reconciliation cycle failed")
			wait = l.backoff()
		} else {
			l.failures = 0
			wait = l.nextInterval()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *Loop) nextInterval() time.Duration {
	interval := l.Policy.Interval
	if l.Policy.Jitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int63n(int64(l.Policy.Jitter)))
}

func (l *Loop) backoff() time.Duration {
	l.failures++
	wait := l.Policy.BackoffBase * time.Duration(1<<uint(l.failures-1))
	if wait > l.Policy.MaxBackoff {
		wait = l.Policy.MaxBackoff
	}
	return wait
}

package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/events"
	"github.com/cuemby/genesis-core/pkg/log"
	"github.com/cuemby/genesis-core/pkg/metrics"
	"github.com/cuemby/genesis-core/pkg/scheduler"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

// Reconciler is the cluster-wide worker pool: it generalizes the
// teacher's single Reconciler goroutine (which inspected nodes and
// containers directly) into one ticker-driven worker per capability
// kind family, each independently claiming, placing, fanning out, and
// converging its own kind.
type Reconciler struct {
	cfg      Config
	store    storage.Store
	registry *scheduler.Registry
	sched    *scheduler.Scheduler
	assigner *Assigner
	logger   zerolog.Logger

	attemptsMu sync.Mutex
	attempts   map[string]int

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewReconciler builds a Reconciler over store, wiring it to registry
// for placement decisions. assigner is shared with
// pkg/transport/httpapi's fetch handler, which reads the placements
// this reconciler produces.
func NewReconciler(cfg Config, store storage.Store, registry *scheduler.Registry, assigner *Assigner) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		sched:    scheduler.NewScheduler(registry),
		assigner: assigner,
		logger:   log.WithComponent("orchestrator"),
		attempts: make(map[string]int),
		stopCh:   make(chan struct{}),
	}
}

// Start launches one worker goroutine per driver-registrable capability
// kind, plus the heartbeat-staleness sweep.
func (r *Reconciler) Start(ctx context.Context) {
	for _, kind := range capability.AllKinds() {
		if !kind.HasDriver() {
			continue
		}
		r.wg.Add(1)
		go func(kind capability.Kind) {
			defer r.wg.Done()
			r.runKind(ctx, kind)
		}(kind)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runStaleSweep(ctx)
	}()
}

// Stop signals every worker to exit and blocks until they have.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) runKind(ctx context.Context, kind capability.Kind) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.reconcileKind(ctx, kind); err != nil {
				r.logger.Error().Err(err).Str("kind", string(kind)).Msg("reconciliation cycle failed")
			}
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

// reconcileKind runs one full pass for kind: claim+place unplaced
// targets, fan Service targets out to ServiceNode, converge claimed
// targets against their actuals, cascade DELETING targets onto their
// children, and escalate targets stuck past cfg.StuckAfter.
func (r *Reconciler) reconcileKind(ctx context.Context, kind capability.Kind) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	if err := r.cascadeDeleting(ctx, kind); err != nil {
		r.logger.Error().Err(err).Str("kind", string(kind)).Msg("cascade pass failed")
	}

	claimed, err := r.store.ClaimBatch(ctx, kind, r.cfg.ClaimBatchSize, r.cfg.LeaseWindow)
	if err != nil {
		return err
	}
	metrics.TargetsClaimed.WithLabelValues(string(kind)).Add(float64(len(claimed)))

	for _, target := range claimed {
		if kind == capability.KindService {
			if err := fanoutService(ctx, r.store, r.sched, r.cfg.ProjectID, target); err != nil {
				if ferr := r.failTarget(ctx, kind, target, err); ferr != nil {
					r.logger.Error().Err(ferr).Str("id", target.UUID).Msg("failing service target")
				}
				continue
			}
		}

		if err := r.place(ctx, kind, target); err != nil {
			r.logger.Warn().Err(err).Str("kind", string(kind)).Str("id", target.UUID).Msg("placement deferred")
		}
		_ = r.store.ReleaseLease(ctx, kind, target.UUID)
	}

	if err := r.convergeKind(ctx, kind); err != nil {
		r.logger.Error().Err(err).Str("kind", string(kind)).Msg("convergence pass failed")
	}
	if err := r.escalateStuck(ctx, kind); err != nil {
		r.logger.Error().Err(err).Str("kind", string(kind)).Msg("escalation sweep failed")
	}
	return nil
}

// cascadeDeleting drives every target of kind already in DELETING one
// step further down its containment tree: ClaimBatch only ever
// surfaces NEW/IN_PROGRESS rows, so DELETING targets are found and
// retired here instead, independent of the claim/lease machinery.
func (r *Reconciler) cascadeDeleting(ctx context.Context, kind capability.Kind) error {
	deleting, err := r.store.List(ctx, types.PlaneTarget, kind, storage.ListFilter{ProjectID: r.cfg.ProjectID, Status: types.StatusDeleting})
	if err != nil {
		return err
	}
	for _, target := range deleting {
		if err := cascadeOne(ctx, r.store, r.cfg.ProjectID, target); err != nil {
			r.logger.Error().Err(err).Str("id", target.UUID).Msg("cascade delete failed")
			continue
		}
		r.assigner.ClearTarget(kind, target.UUID)
		r.clearAttempts(kind, target.UUID)
	}
	return nil
}

// place asks the scheduler for an eligible agent and hands it the
// target via the Assigner; a Transient "no candidate yet" is routine
// during agent rollout and simply retried next cycle.
func (r *Reconciler) place(ctx context.Context, kind capability.Kind, target types.WireResource) error {
	nodeID, err := r.sched.SelectNode(kind)
	if err != nil {
		return err
	}
	r.assigner.Assign(nodeID, kind, append(r.assigner.FetchFor(nodeID, []string{string(kind)}), target))
	return r.enqueueEvent(ctx, events.KindResourceCreated, events.ResourceEvent{
		Kind: string(kind), ID: target.UUID, ProjectID: target.ProjectID,
		Status: string(target.Status), Version: target.Version, At: time.Now(),
	})
}

// convergeKind compares claimed targets against their actuals: a target
// whose actual has caught up to its version and reports ACTIVE is
// flipped ACTIVE; one whose actual reports ERROR is counted toward
// escalation.
func (r *Reconciler) convergeKind(ctx context.Context, kind capability.Kind) error {
	targets, err := r.store.List(ctx, types.PlaneTarget, kind, storage.ListFilter{ProjectID: r.cfg.ProjectID})
	if err != nil {
		return err
	}
	for _, target := range targets {
		if target.Status == types.StatusActive || target.Status == types.StatusDeleting {
			continue
		}
		actual, err := r.store.Get(ctx, types.PlaneActual, kind, target.UUID)
		if err != nil {
			continue // no actual reported yet
		}
		switch {
		case actual.Status == types.StatusError:
			r.bumpAttempts(kind, target.UUID)
		case actual.Version >= target.Version && actual.Status == types.StatusActive:
			r.clearAttempts(kind, target.UUID)
			r.assigner.ClearTarget(kind, target.UUID)
			if _, err := r.store.CompareAndSwap(ctx, types.PlaneTarget, kind, target.UUID, target.Version, func(res *types.WireResource) error {
				res.Status = types.StatusActive
				return nil
			}); err != nil && types.AsError(err).Kind != types.ErrConflict {
				return err
			}
		}
	}
	return nil
}

// escalateStuck sweeps targets that have sat in NEW or IN_PROGRESS past
// cfg.StuckAfter; once a target has been observed stuck cfg.MaxAttempts
// times it's moved to ERROR, per spec.md §3's lifecycle.
func (r *Reconciler) escalateStuck(ctx context.Context, kind capability.Kind) error {
	for _, status := range []types.Status{types.StatusNew, types.StatusInProgress} {
		stuck, err := r.store.ListTargetsInStateOlderThan(ctx, kind, status, time.Now().Add(-r.cfg.StuckAfter))
		if err != nil {
			return err
		}
		for _, target := range stuck {
			if r.bumpAttempts(kind, target.UUID) < r.cfg.MaxAttempts {
				continue
			}
			if err := r.failTarget(ctx, kind, target, types.NewError(types.ErrPermanent, "target stuck in %s past %s", status, r.cfg.StuckAfter)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) failTarget(ctx context.Context, kind capability.Kind, target types.WireResource, cause error) error {
	r.logger.Error().Err(cause).Str("kind", string(kind)).Str("id", target.UUID).Msg("target moved to ERROR")
	metrics.TargetsFailed.WithLabelValues(string(kind)).Inc()
	r.clearAttempts(kind, target.UUID)
	r.assigner.ClearTarget(kind, target.UUID)
	_, err := r.store.CompareAndSwap(ctx, types.PlaneTarget, kind, target.UUID, target.Version, func(res *types.WireResource) error {
		res.Status = types.StatusError
		return nil
	})
	if err != nil && types.AsError(err).Kind != types.ErrConflict {
		return err
	}
	return r.enqueueEvent(ctx, events.KindResourceError, events.ResourceEvent{
		Kind: string(kind), ID: target.UUID, ProjectID: target.ProjectID,
		Status: string(types.StatusError), Version: target.Version, At: time.Now(),
	})
}

func (r *Reconciler) bumpAttempts(kind capability.Kind, id string) int {
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	key := string(kind) + ":" + id
	r.attempts[key]++
	return r.attempts[key]
}

func (r *Reconciler) clearAttempts(kind capability.Kind, id string) {
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	delete(r.attempts, string(kind)+":"+id)
}

func (r *Reconciler) enqueueEvent(ctx context.Context, kind events.Kind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.WrapError(types.ErrPermanent, err, "encode event payload")
	}
	return r.store.EnqueueEvent(ctx, storage.OutboxRecord{
		ID:        uuid.NewString(),
		EventKind: string(kind),
		Payload:   body,
	})
}

// runStaleSweep evicts agents whose heartbeat has gone stale and
// publishes AgentHeartbeatStale for each, per spec.md §4.7.
func (r *Reconciler) runStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(scheduler.DefaultStaleBound)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for _, agent := range r.registry.Stale(scheduler.DefaultStaleBound, now) {
				r.registry.Evict(agent.NodeID)
				_ = r.enqueueEvent(ctx, events.KindAgentHeartbeatStale, events.AgentHeartbeatStale{
					NodeID: agent.NodeID, LastSeen: agent.LastHeartbeat, DetectedAt: now,
				})
			}
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

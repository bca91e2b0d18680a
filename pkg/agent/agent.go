package agent

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/log"
	"github.com/cuemby/genesis-core/pkg/metrics"
	"github.com/cuemby/genesis-core/pkg/types"
)

// Config configures one Agent instance.
type Config struct {
	NodeID           string
	AuthEndpoint     string
	OrchEndpoint     string
	StatusEndpoint   string
	StaticCredential string
	PollInterval     time.Duration
	ProjectID        string
}

// Agent is the per-node universal agent: it authenticates, advertises
// capabilities, and drives the bounded-poll reconciliation loop of
// spec.md §4.3 against one capability.Driver per advertised Kind.
type Agent struct {
	cfg     Config
	drivers map[capability.Kind]capability.Driver
	client  *controlPlaneClient
	locks   *keyedMutex
	logger  zerolog.Logger

	breakers map[capability.Kind]*gobreaker.CircuitBreaker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an Agent. drivers maps every Kind this node can reconcile
// to its capability.Driver implementation; the map's keys, not the
// drivers' SupportedKinds(), decide both routing and the Register call's
// advertised label set (the caller already decided which driver handles
// which kind).
func New(cfg Config, drivers map[capability.Kind]capability.Driver) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	breakers := make(map[capability.Kind]*gobreaker.CircuitBreaker, len(drivers))
	for kind := range drivers {
		k := kind
		breakers[k] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: string(k),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
				}
			},
		})
	}
	return &Agent{
		cfg:      cfg,
		drivers:  drivers,
		client:   newControlPlaneClient(cfg.OrchEndpoint, cfg.StatusEndpoint, NewTokenCache(cfg.AuthEndpoint, cfg.StaticCredential, nil)),
		locks:    newKeyedMutex(),
		logger:   log.WithNodeID(cfg.NodeID),
		breakers: breakers,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// capabilityLabels is the advertised label set: every Kind this node
// has a driver wired for, per spec.md §4.2's supported_kinds().
func (a *Agent) capabilityLabels() []string {
	labels := make([]string, 0, len(a.drivers))
	for kind := range a.drivers {
		labels = append(labels, string(kind))
	}
	return labels
}

// Start registers the agent and launches the reconciliation loop in the
// background; it returns once registration succeeds.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.client.Register(ctx, types.RegisterRequest{NodeID: a.cfg.NodeID, Capabilities: a.capabilityLabels()}); err != nil {
		return err
	}
	go a.run(ctx)
	return nil
}

// Stop signals the loop to exit and blocks until it has, so an
// in-flight driver call finishes (or is abandoned at its next safe
// point) before the process tears down.
func (a *Agent) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.doneCh)
	ticker := time.NewTicker(jitter(a.cfg.PollInterval))
	defer ticker.Stop()

	a.logger.Info().Msg("agent reconciliation loop started")
	for {
		select {
		case <-ticker.C:
			if err := a.iterate(ctx); err != nil {
				a.logger.Error().Err(err).Msg("reconciliation iteration failed")
			}
			ticker.Reset(jitter(a.cfg.PollInterval))
		case <-ctx.Done():
			a.logger.Info().Msg("agent reconciliation loop canceled")
			return
		case <-a.stopCh:
			a.logger.Info().Msg("agent reconciliation loop stopped")
			return
		}
	}
}

// jitter randomizes the poll period to a value in [base/2, base) so a
// fleet of agents doesn't
// synchronize on the control plane, per spec.md §4.3 "bounded poll
// period (seconds-scale, jittered)".
func jitter(base time.Duration) time.Duration {
	delta := time.Duration(rand.Int63n(int64(base) / 2))
	return base/2 + delta
}

// iterate runs one reconciliation pass: fetch assigned targets for
// every advertised kind, diff each kind's targets against its driver's
// ListActual, execute the drivers in parallel across kinds but
// serialized per identifier, then push the resulting actual set.
func (a *Agent) iterate(ctx context.Context) error {
	kinds := a.capabilityLabels()
	resp, err := a.client.FetchTargets(ctx, types.TargetFetchRequest{NodeID: a.cfg.NodeID, Kinds: kinds})
	if err != nil {
		return err
	}

	byKind := make(map[capability.Kind][]types.WireResource)
	ids := make([]string, 0, len(resp.Targets))
	for _, t := range resp.Targets {
		byKind[capability.Kind(t.Kind)] = append(byKind[capability.Kind(t.Kind)], t)
		ids = append(ids, t.UUID)
	}
	if err := a.client.Acknowledge(ctx, types.AssignmentAck{NodeID: a.cfg.NodeID, IDs: ids}); err != nil {
		a.logger.Warn().Err(err).Msg("assignment ack failed (advisory, continuing)")
	}

	resultCh := make(chan []types.WireResource, len(byKind))
	for kind, targets := range byKind {
		driver, ok := a.drivers[kind]
		if !ok {
			continue
		}
		go func(kind capability.Kind, driver capability.Driver, targets []types.WireResource) {
			resultCh <- a.reconcileKind(ctx, kind, driver, targets)
		}(kind, driver, targets)
	}

	var actuals []types.WireResource
	for range byKind {
		actuals = append(actuals, <-resultCh...)
	}

	return a.client.PushStatus(ctx, types.StatusPushRequest{NodeID: a.cfg.NodeID, Actuals: actuals, SentAt: time.Now()})
}

// reconcileKind implements the per-driver diff of spec.md §4.3: target
// present/actual absent -> create; both present -> update (the driver's
// Update is called for every still-targeted identifier);
// actual present/target absent -> delete. Operations on different
// identifiers run concurrently; operations sharing an identifier never
// overlap, via the keyed mutex.
func (a *Agent) reconcileKind(ctx context.Context, kind capability.Kind, driver capability.Driver, targets []types.WireResource) []types.WireResource {
	actuals, err := driver.ListActual(ctx, capability.Filter{ProjectID: a.cfg.ProjectID})
	if err != nil {
		a.logger.Error().Err(err).Str("kind", string(kind)).Msg("list_actual failed")
		return nil
	}
	actualByID := make(map[string]capability.Actual, len(actuals))
	for _, act := range actuals {
		actualByID[act.Resource.UUID] = act
	}
	targetByID := make(map[string]types.WireResource, len(targets))
	for _, t := range targets {
		targetByID[t.UUID] = t
	}

	type opResult struct {
		wire types.WireResource
		ok   bool
	}
	resultCh := make(chan opResult, len(targets)+len(actuals))
	pending := 0

	for id, target := range targetByID {
		id, target := id, target
		pending++
		go func() {
			unlock := a.locks.Lock(id)
			defer unlock()
			wire, ok := a.apply(ctx, kind, driver, id, target, actualByID[id])
			resultCh <- opResult{wire: wire, ok: ok}
		}()
	}
	for id, act := range actualByID {
		if _, stillTargeted := targetByID[id]; stillTargeted {
			continue
		}
		id, act := id, act
		pending++
		go func() {
			unlock := a.locks.Lock(id)
			defer unlock()
			a.deleteOne(ctx, kind, driver, id, act)
			resultCh <- opResult{ok: false}
		}()
	}

	var out []types.WireResource
	for i := 0; i < pending; i++ {
		r := <-resultCh
		if r.ok {
			out = append(out, r.wire)
		}
	}
	return out
}

// apply performs the create-or-update half of the diff for one
// identifier, guarded by the circuit breaker and transient-retry policy
// of spec.md §7 (base 1s, cap 60s, +/-25% jitter).
func (a *Agent) apply(ctx context.Context, kind capability.Kind, driver capability.Driver, id string, target types.WireResource, prior capability.Actual) (types.WireResource, bool) {
	op := "create"
	if prior.Resource.UUID != "" {
		op = "update"
	}
	timer := metrics.NewTimer()
	result, err := a.callWithRetry(ctx, kind, func() (capability.Actual, error) {
		if prior.Resource.UUID == "" {
			return driver.Create(ctx, target)
		}
		return driver.Update(ctx, target, prior)
	})
	timer.ObserveDurationVec(metrics.DriverCallDuration, string(kind), op)
	if err != nil {
		a.logger.Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("driver call failed")
		return types.WireResource{}, false
	}
	wire := result.Resource
	wire.Version = result.ConvergedVersion
	wire.ObservedAt = time.Now()
	return wire, true
}

func (a *Agent) deleteOne(ctx context.Context, kind capability.Kind, driver capability.Driver, id string, actual capability.Actual) {
	timer := metrics.NewTimer()
	_, err := a.callWithRetry(ctx, kind, func() (capability.Actual, error) {
		return capability.Actual{}, driver.Delete(ctx, actual)
	})
	timer.ObserveDurationVec(metrics.DriverCallDuration, string(kind), "delete")
	if err != nil {
		a.logger.Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("driver delete failed")
	}
}

// callWithRetry wraps fn in the kind's circuit breaker and, for
// Transient failures, exponential backoff (base 1s, cap 60s, +/-25%
// jitter) until fn succeeds, a non-Transient error surfaces, or ctx is
// canceled. Permanent failures are never retried: the caller logs the
// failure and leaves the identifier out of the pushed actual set. The
// agent does not move the target to ERROR or record the failure reason;
// the orchestrator's stuck-target sweep is what eventually marks it
// ERROR.
func (a *Agent) callWithRetry(ctx context.Context, kind capability.Kind, fn func() (capability.Actual, error)) (capability.Actual, error) {
	breaker := a.breakers[kind]
	operation := func() (capability.Actual, error) {
		result, err := breaker.Execute(func() (any, error) {
			return fn()
		})
		if err != nil {
			actErr := types.AsError(err)
			if !actErr.Retryable() {
				return capability.Actual{}, backoff.Permanent(actErr)
			}
			metrics.DriverRetriesTotal.WithLabelValues(string(kind)).Inc()
			return capability.Actual{}, actErr
		}
		return result.(capability.Actual), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 60 * time.Second
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	return backoff.Retry(ctx, operation, backoff.WithBackOff(b))
}

package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/genesis-core/pkg/log"
	"github.com/cuemby/genesis-core/pkg/metrics"
	"github.com/cuemby/genesis-core/pkg/storage"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 8
	defaultPollEvery   = 500 * time.Millisecond
)

// Handler processes one delivered event; a non-nil error is treated as
// transient and retried with backoff until maxAttempts is exhausted.
type Handler func(ctx context.Context, kind Kind, payload json.RawMessage) error

// Dispatcher drains the durable outbox storage.Store.Outbox at a fixed
// poll interval, invokes the handler registered for each record's Kind,
// retries failures with exponential backoff, and dead-letters a record
// once it exceeds maxAttempts — the at-least-once delivery guarantee of
// spec.md §4.6 and testable property 6.
type Dispatcher struct {
	store       storage.Outbox
	broker      *Broker
	handlers    map[Kind]Handler
	batchSize   int
	maxAttempts int
	pollEvery   time.Duration
	logger      zerolog.Logger
}

func NewDispatcher(store storage.Outbox, broker *Broker) *Dispatcher {
	return &Dispatcher{
		store:       store,
		broker:      broker,
		handlers:    make(map[Kind]Handler),
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		pollEvery:   defaultPollEvery,
		logger:      log.WithComponent("events.dispatcher"),
	}
}

// OnKind registers a handler for events of kind; kinds without a
// registered handler still get broadcast on the in-process Broker but
// are marked delivered immediately (no retry machinery needed for a
// best-effort subscriber).
func (d *Dispatcher) OnKind(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Run drains the outbox until ctx is canceled, matching the teacher's
// ticker-driven loop shape.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	records, err := d.store.DequeueBatch(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("dequeue outbox batch")
		return
	}
	for _, rec := range records {
		d.process(ctx, rec)
	}
}

func (d *Dispatcher) process(ctx context.Context, rec storage.OutboxRecord) {
	kind := Kind(rec.EventKind)
	handler, hasHandler := d.handlers[kind]

	var handlerErr error
	if hasHandler {
		handlerErr = handler(ctx, kind, rec.Payload)
	}

	d.broker.Publish(&Event{ID: rec.ID, Kind: kind, Payload: json.RawMessage(rec.Payload)})

	if handlerErr == nil {
		if err := d.store.MarkDelivered(ctx, rec.ID); err != nil {
			d.logger.Error().Err(err).Msg("mark event delivered")
		}
		return
	}

	if rec.Attempts+1 >= d.maxAttempts {
		metrics.EventsDeadLettered.WithLabelValues(rec.EventKind).Inc()
		if err := d.store.DeadLetter(ctx, rec.ID, handlerErr.Error()); err != nil {
			d.logger.Error().Err(err).Msg("dead-letter event")
		}
		return
	}

	if err := d.store.MarkFailed(ctx, rec.ID, time.Now().Add(delayForAttempt(rec.Attempts))); err != nil {
		d.logger.Error().Err(err).Msg("mark event failed")
	}
}

// delayForAttempt computes the base-1s/cap-60s/±25%-jitter exponential
// backoff for the given zero-based attempt count, per spec.md §7.
func delayForAttempt(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 60 * time.Second
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		result := b.NextBackOff()
		delay = result
	}
	return delay
}

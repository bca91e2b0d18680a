package storage

import (
	"context"
	"time"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

// ListFilter narrows a List call; zero value lists everything of the
// requested plane/kind.
type ListFilter struct {
	ProjectID string
	Status    types.Status // empty means any status
}

// Mutator transforms a resource in place inside CompareAndSwap; returning
// an error aborts the swap without writing.
type Mutator func(*types.WireResource) error

// Store is the transactional read/write adapter for reconciled resources
// and the event outbox; IAM relations live in pkg/iam's own Store. Every
// kind shares one generic resources table (see schema.go), so the
// adapter is agnostic to entity kind, per spec.md §4.1.
type Store interface {
	// Create inserts a new target or actual row. Fails with Conflict if
	// (plane, kind, id) already exists.
	Create(ctx context.Context, plane types.Plane, kind capability.Kind, resource types.WireResource) error

	// Get fetches one row. Fails with NotFound if absent.
	Get(ctx context.Context, plane types.Plane, kind capability.Kind, id string) (types.WireResource, error)

	// List returns every row of kind/plane matching filter.
	List(ctx context.Context, plane types.Plane, kind capability.Kind, filter ListFilter) ([]types.WireResource, error)

	// CompareAndSwap applies mutate to the current row if its version
	// equals expectedVersion, bumping version by exactly one on success.
	// Fails with Conflict if the stored version has moved on.
	CompareAndSwap(ctx context.Context, plane types.Plane, kind capability.Kind, id string, expectedVersion int64, mutate Mutator) (types.WireResource, error)

	// Delete removes a row outright (used once a DELETING resource's
	// dependents are confirmed gone).
	Delete(ctx context.Context, plane types.Plane, kind capability.Kind, id string) error

	// ClaimBatch atomically bumps version and sets status IN_PROGRESS on
	// up to limit target rows in NEW or IN_PROGRESS for kind, oldest
	// first, ties broken by id, skipping rows whose lease hasn't expired.
	// Claimed rows are invisible to other callers until leaseWindow
	// elapses or ReleaseLease runs.
	ClaimBatch(ctx context.Context, kind capability.Kind, limit int, leaseWindow time.Duration) ([]types.WireResource, error)

	// ReleaseLease clears a row's lease early (called after a claim batch
	// finishes processing, successfully or not).
	ReleaseLease(ctx context.Context, kind capability.Kind, id string) error

	// ListTargetsMissingActual returns targets of kind with no actual row
	// sharing their identifier: the create side of the agent's diff.
	ListTargetsMissingActual(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error)

	// ListActualsMissingTarget returns actuals of kind whose target has
	// disappeared: garbage, scheduled for deletion.
	ListActualsMissingTarget(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error)

	// ListTargetsInStateOlderThan returns targets of kind in status whose
	// updated_at predates olderThan: used for stuck-target detection and
	// ERROR escalation.
	ListTargetsInStateOlderThan(ctx context.Context, kind capability.Kind, status types.Status, olderThan time.Time) ([]types.WireResource, error)

	// WithTx runs fn inside a serializable transaction; fn's writes
	// commit only if fn returns nil. ClaimBatch runs its claim through
	// it. The IAM kernel (pkg/iam) has its own store and does not run its
	// authorization checks inside these transactions.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Outbox is the durable event queue; see pkg/events.
	Outbox

	Close() error
}

// Outbox is the durable event queue storage.Store embeds so producers can
// enqueue an event inside the same transaction that mutates the resource
// that triggered it (spec.md §4.6).
type Outbox interface {
	EnqueueEvent(ctx context.Context, rec OutboxRecord) error
	DequeueBatch(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time) error
	DeadLetter(ctx context.Context, id string, reason string) error
}

// OutboxRecord is one durable, at-least-once-delivered event.
type OutboxRecord struct {
	ID            string
	EventKind     string
	Payload       []byte // versioned, structured JSON — see pkg/events
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	DeadLettered  bool
}

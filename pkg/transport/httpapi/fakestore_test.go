package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

// fakeStore is a minimal in-memory storage.Store for this package's
// handler tests; only Create/Delete (used by handleStatus) and Get (used
// by the tests to inspect the result) are exercised, the rest are
// unused stubs satisfying the interface.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]types.WireResource
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[string]types.WireResource)} }

func (f *fakeStore) key(plane types.Plane, kind capability.Kind, id string) string {
	return string(plane) + "|" + string(kind) + "|" + id
}

func (f *fakeStore) Create(ctx context.Context, plane types.Plane, kind capability.Kind, resource types.WireResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.key(plane, kind, resource.UUID)
	if _, ok := f.rows[key]; ok {
		return types.NewError(types.ErrConflict, "already exists")
	}
	f.rows[key] = resource
	return nil
}

func (f *fakeStore) Get(ctx context.Context, plane types.Plane, kind capability.Kind, id string) (types.WireResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[f.key(plane, kind, id)]
	if !ok {
		return types.WireResource{}, types.NewError(types.ErrNotFound, "not found")
	}
	return row, nil
}

func (f *fakeStore) List(ctx context.Context, plane types.Plane, kind capability.Kind, filter storage.ListFilter) ([]types.WireResource, error) {
	return nil, nil
}

func (f *fakeStore) CompareAndSwap(ctx context.Context, plane types.Plane, kind capability.Kind, id string, expectedVersion int64, mutate storage.Mutator) (types.WireResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.key(plane, kind, id)
	row, ok := f.rows[key]
	if !ok {
		return types.WireResource{}, types.NewError(types.ErrNotFound, "not found")
	}
	if row.Version != expectedVersion {
		return types.WireResource{}, types.NewError(types.ErrConflict, "version mismatch")
	}
	if err := mutate(&row); err != nil {
		return types.WireResource{}, err
	}
	f.rows[key] = row
	return row, nil
}

func (f *fakeStore) Delete(ctx context.Context, plane types.Plane, kind capability.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, f.key(plane, kind, id))
	return nil
}

func (f *fakeStore) ClaimBatch(ctx context.Context, kind capability.Kind, limit int, leaseWindow time.Duration) ([]types.WireResource, error) {
	return nil, nil
}
func (f *fakeStore) ReleaseLease(ctx context.Context, kind capability.Kind, id string) error {
	return nil
}
func (f *fakeStore) ListTargetsMissingActual(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error) {
	return nil, nil
}
func (f *fakeStore) ListActualsMissingTarget(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error) {
	return nil, nil
}
func (f *fakeStore) ListTargetsInStateOlderThan(ctx context.Context, kind capability.Kind, status types.Status, olderThan time.Time) ([]types.WireResource, error) {
	return nil, nil
}
func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (f *fakeStore) EnqueueEvent(ctx context.Context, rec storage.OutboxRecord) error { return nil }
func (f *fakeStore) DequeueBatch(ctx context.Context, limit int) ([]storage.OutboxRecord, error) {
	return nil, nil
}
func (f *fakeStore) MarkDelivered(ctx context.Context, id string) error { return nil }
func (f *fakeStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time) error {
	return nil
}
func (f *fakeStore) DeadLetter(ctx context.Context, id string, reason string) error { return nil }
func (f *fakeStore) Close() error                                                  { return nil }

var _ storage.Store = (*fakeStore)(nil)

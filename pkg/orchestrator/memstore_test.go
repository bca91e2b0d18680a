package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

// memStore is a minimal in-memory storage.Store used only by this
// package's tests, standing in for PostgresStore the way the teacher's
// own unit tests stand in a bare manager.Manager for an embedded
// BoltDB/Raft one.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]*memRow
	seq       int
	outbox    []storage.OutboxRecord
}

type memRow struct {
	res         types.WireResource
	leasedUntil time.Time
	seq         int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*memRow)}
}

func rowKey(plane types.Plane, kind capability.Kind, id string) string {
	return string(plane) + "|" + string(kind) + "|" + id
}

func (m *memStore) Create(ctx context.Context, plane types.Plane, kind capability.Kind, resource types.WireResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rowKey(plane, kind, resource.UUID)
	if _, ok := m.rows[key]; ok {
		return types.NewError(types.ErrConflict, "already exists")
	}
	m.seq++
	m.rows[key] = &memRow{res: resource, seq: m.seq}
	return nil
}

func (m *memStore) Get(ctx context.Context, plane types.Plane, kind capability.Kind, id string) (types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(plane, kind, id)]
	if !ok {
		return types.WireResource{}, types.NewError(types.ErrNotFound, "not found")
	}
	return row.res, nil
}

func (m *memStore) List(ctx context.Context, plane types.Plane, kind capability.Kind, filter storage.ListFilter) ([]types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.WireResource
	for _, row := range m.rows {
		if row.res.Kind != string(kind) {
			continue
		}
		if filter.ProjectID != "" && row.res.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && row.res.Status != filter.Status {
			continue
		}
		out = append(out, row.res)
	}
	return out, nil
}

func (m *memStore) CompareAndSwap(ctx context.Context, plane types.Plane, kind capability.Kind, id string, expectedVersion int64, mutate storage.Mutator) (types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(plane, kind, id)]
	if !ok {
		return types.WireResource{}, types.NewError(types.ErrNotFound, "not found")
	}
	if row.res.Version != expectedVersion {
		return types.WireResource{}, types.NewError(types.ErrConflict, "version mismatch")
	}
	updated := row.res
	if err := mutate(&updated); err != nil {
		return types.WireResource{}, err
	}
	updated.Version++
	row.res = updated
	return updated, nil
}

func (m *memStore) Delete(ctx context.Context, plane types.Plane, kind capability.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rowKey(plane, kind, id)
	if _, ok := m.rows[key]; !ok {
		return types.NewError(types.ErrNotFound, "not found")
	}
	delete(m.rows, key)
	return nil
}

func (m *memStore) ClaimBatch(ctx context.Context, kind capability.Kind, limit int, leaseWindow time.Duration) ([]types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*memRow
	for _, row := range m.rows {
		if row.res.Kind != string(kind) {
			continue
		}
		if row.res.Status != types.StatusNew && row.res.Status != types.StatusInProgress {
			continue
		}
		if time.Now().Before(row.leasedUntil) {
			continue
		}
		candidates = append(candidates, row)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	var out []types.WireResource
	for i, row := range candidates {
		if i >= limit {
			break
		}
		row.res.Version++
		row.res.Status = types.StatusInProgress
		row.leasedUntil = time.Now().Add(leaseWindow)
		out = append(out, row.res)
	}
	return out, nil
}

func (m *memStore) ReleaseLease(ctx context.Context, kind capability.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[rowKey(types.PlaneTarget, kind, id)]; ok {
		row.leasedUntil = time.Time{}
	}
	return nil
}

func (m *memStore) ListTargetsMissingActual(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.WireResource
	for _, row := range m.rows {
		if row.res.Kind != string(kind) {
			continue
		}
		if _, ok := m.rows[rowKey(types.PlaneActual, kind, row.res.UUID)]; ok {
			continue
		}
		out = append(out, row.res)
	}
	return out, nil
}

func (m *memStore) ListActualsMissingTarget(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.WireResource
	for key, row := range m.rows {
		_ = key
		if row.res.Kind != string(kind) {
			continue
		}
		if _, ok := m.rows[rowKey(types.PlaneTarget, kind, row.res.UUID)]; ok {
			continue
		}
		out = append(out, row.res)
	}
	return out, nil
}

func (m *memStore) ListTargetsInStateOlderThan(ctx context.Context, kind capability.Kind, status types.Status, olderThan time.Time) ([]types.WireResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.WireResource
	for _, row := range m.rows {
		if row.res.Kind != string(kind) || row.res.Status != status {
			continue
		}
		out = append(out, row.res)
	}
	return out, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) EnqueueEvent(ctx context.Context, rec storage.OutboxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, rec)
	return nil
}

func (m *memStore) DequeueBatch(ctx context.Context, limit int) ([]storage.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.outbox) {
		limit = len(m.outbox)
	}
	out := append([]storage.OutboxRecord{}, m.outbox[:limit]...)
	return out, nil
}

func (m *memStore) MarkDelivered(ctx context.Context, id string) error { return nil }
func (m *memStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time) error {
	return nil
}
func (m *memStore) DeadLetter(ctx context.Context, id string, reason string) error { return nil }

func (m *memStore) Close() error { return nil }

var _ storage.Store = (*memStore)(nil)

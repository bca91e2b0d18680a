package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

// PostgresStore is the sqlx/lib-pq-backed Store. Schema is declared in
// schema.go and applied idempotently on Open; the adapter never assumes
// a pre-migrated database, the way the teacher's BoltStore creates its
// buckets on open.
type PostgresStore struct {
	db *sqlx.DB
}

// resourceRow is the scan target for the resources table; it carries the
// sqlx `db` tags the wire types don't need.
type resourceRow struct {
	ID          string         `db:"id"`
	Plane       string         `db:"plane"`
	Kind        string         `db:"kind"`
	ProjectID   string         `db:"project_id"`
	Version     int64          `db:"version"`
	Status      string         `db:"status"`
	Spec        []byte         `db:"spec"`
	ObservedAt  sql.NullTime   `db:"observed_at"`
	LeasedUntil sql.NullTime   `db:"leased_until"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r resourceRow) toWire() types.WireResource {
	wr := types.WireResource{
		UUID:      r.ID,
		Kind:      r.Kind,
		ProjectID: r.ProjectID,
		Version:   r.Version,
		Status:    types.Status(r.Status),
		Spec:      append(json.RawMessage(nil), r.Spec...),
	}
	if r.ObservedAt.Valid {
		wr.ObservedAt = r.ObservedAt.Time
	}
	return wr
}

// Open connects to Postgres via dsn and applies schemaDDL.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// txKey carries an in-flight *sqlx.Tx through ctx so every method below
// can transparently run inside WithTx's transaction or standalone.
type txKeyType struct{}

var txKey = txKeyType{}

func (s *PostgresStore) execer(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "begin transaction")
	}
	txCtx := context.WithValue(ctx, txKey, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.ErrTransient, err, "commit transaction")
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, plane types.Plane, kind capability.Kind, resource types.WireResource) error {
	if resource.Version == 0 {
		resource.Version = 1
	}
	if resource.Status == "" {
		resource.Status = types.StatusNew
	}
	specJSON := resource.Spec
	if specJSON == nil {
		specJSON = []byte("{}")
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO resources (id, plane, kind, project_id, version, status, spec, observed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, resource.UUID, string(plane), string(kind), resource.ProjectID, resource.Version, string(resource.Status), []byte(specJSON), nullableTime(resource.ObservedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewError(types.ErrConflict, "%s/%s/%s already exists", plane, kind, resource.UUID)
		}
		return types.WrapError(types.ErrTransient, err, "insert resource")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, plane types.Plane, kind capability.Kind, id string) (types.WireResource, error) {
	var row resourceRow
	err := sqlx.GetContext(ctx, s.execer(ctx), &row, `
		SELECT id, plane, kind, project_id, version, status, spec, observed_at, leased_until, created_at, updated_at
		FROM resources WHERE plane = $1 AND kind = $2 AND id = $3
	`, string(plane), string(kind), id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.WireResource{}, types.NewError(types.ErrNotFound, "%s/%s/%s not found", plane, kind, id)
	}
	if err != nil {
		return types.WireResource{}, types.WrapError(types.ErrTransient, err, "get resource")
	}
	return row.toWire(), nil
}

func (s *PostgresStore) List(ctx context.Context, plane types.Plane, kind capability.Kind, filter ListFilter) ([]types.WireResource, error) {
	query := `
		SELECT id, plane, kind, project_id, version, status, spec, observed_at, leased_until, created_at, updated_at
		FROM resources WHERE plane = $1 AND kind = $2`
	args := []any{string(plane), string(kind)}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	var rows []resourceRow
	if err := sqlx.SelectContext(ctx, s.execer(ctx), &rows, query, args...); err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "list resources")
	}
	out := make([]types.WireResource, len(rows))
	for i, r := range rows {
		out[i] = r.toWire()
	}
	return out, nil
}

// CompareAndSwap loads the current row, applies mutate, and writes it
// back with a version-guarded UPDATE. Zero rows affected means the
// version moved on since the caller read it: Conflict.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, plane types.Plane, kind capability.Kind, id string, expectedVersion int64, mutate Mutator) (types.WireResource, error) {
	current, err := s.Get(ctx, plane, kind, id)
	if err != nil {
		return types.WireResource{}, err
	}
	if current.Version != expectedVersion {
		return types.WireResource{}, types.NewError(types.ErrConflict, "%s/%s/%s version %d does not match expected %d", plane, kind, id, current.Version, expectedVersion)
	}
	mutated := current
	if err := mutate(&mutated); err != nil {
		return types.WireResource{}, err
	}
	specJSON := mutated.Spec
	if specJSON == nil {
		specJSON = []byte("{}")
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE resources
		SET version = version + 1, status = $1, spec = $2, observed_at = $3, updated_at = now()
		WHERE plane = $4 AND kind = $5 AND id = $6 AND version = $7
	`, string(mutated.Status), []byte(specJSON), nullableTime(mutated.ObservedAt), string(plane), string(kind), id, expectedVersion)
	if err != nil {
		return types.WireResource{}, types.WrapError(types.ErrTransient, err, "compare-and-swap resource")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.WireResource{}, types.WrapError(types.ErrTransient, err, "compare-and-swap rows affected")
	}
	if n == 0 {
		return types.WireResource{}, types.NewError(types.ErrConflict, "%s/%s/%s updated concurrently", plane, kind, id)
	}
	return s.Get(ctx, plane, kind, id)
}

func (s *PostgresStore) Delete(ctx context.Context, plane types.Plane, kind capability.Kind, id string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM resources WHERE plane = $1 AND kind = $2 AND id = $3`, string(plane), string(kind), id)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "delete resource")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrNotFound, "%s/%s/%s not found", plane, kind, id)
	}
	return nil
}

// ClaimBatch leases up to limit target rows in NEW or IN_PROGRESS for
// kind, oldest-first with id as tiebreaker, skipping rows another worker
// is currently leasing. The lease is itself a version bump so a crashed
// claimer can never re-win a row out from under a live one without
// going through the same CAS path every other writer uses.
func (s *PostgresStore) ClaimBatch(ctx context.Context, kind capability.Kind, limit int, leaseWindow time.Duration) ([]types.WireResource, error) {
	var claimed []types.WireResource
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var rows []resourceRow
		err := sqlx.SelectContext(ctx, s.execer(ctx), &rows, `
			SELECT id, plane, kind, project_id, version, status, spec, observed_at, leased_until, created_at, updated_at
			FROM resources
			WHERE plane = $1 AND kind = $2
			  AND status IN ('NEW', 'IN_PROGRESS')
			  AND (leased_until IS NULL OR leased_until < now())
			ORDER BY created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`, string(types.PlaneTarget), string(kind), limit)
		if err != nil {
			return types.WrapError(types.ErrTransient, err, "claim batch select")
		}
		for _, r := range rows {
			leaseUntil := time.Now().Add(leaseWindow)
			_, err := s.execer(ctx).ExecContext(ctx, `
				UPDATE resources
				SET version = version + 1, status = 'IN_PROGRESS', leased_until = $1, updated_at = now()
				WHERE plane = $2 AND kind = $3 AND id = $4 AND version = $5
			`, leaseUntil, string(types.PlaneTarget), string(kind), r.ID, r.Version)
			if err != nil {
				return types.WrapError(types.ErrTransient, err, "claim batch update")
			}
			r.Version++
			r.Status = string(types.StatusInProgress)
			claimed = append(claimed, r.toWire())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, kind capability.Kind, id string) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE resources SET leased_until = NULL, updated_at = now()
		WHERE plane = $1 AND kind = $2 AND id = $3
	`, string(types.PlaneTarget), string(kind), id)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "release lease")
	}
	return nil
}

// ListTargetsMissingActual is the create-side diff query: targets with
// no matching actual row for the same kind and id.
func (s *PostgresStore) ListTargetsMissingActual(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error) {
	query := `
		SELECT t.id, t.plane, t.kind, t.project_id, t.version, t.status, t.spec, t.observed_at, t.leased_until, t.created_at, t.updated_at
		FROM resources t
		LEFT JOIN resources a ON a.id = t.id AND a.kind = t.kind AND a.plane = 'actual'
		WHERE t.plane = 'target' AND t.kind = $1 AND a.id IS NULL`
	args := []any{string(kind)}
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND t.project_id = $%d", len(args))
	}
	query += " ORDER BY t.created_at ASC, t.id ASC"

	var rows []resourceRow
	if err := sqlx.SelectContext(ctx, s.execer(ctx), &rows, query, args...); err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "list targets missing actual")
	}
	out := make([]types.WireResource, len(rows))
	for i, r := range rows {
		out[i] = r.toWire()
	}
	return out, nil
}

// ListActualsMissingTarget is the delete-side diff query: actuals whose
// target has been removed, meaning the driver should tear the resource
// down and the row should be reaped.
func (s *PostgresStore) ListActualsMissingTarget(ctx context.Context, kind capability.Kind, projectID string) ([]types.WireResource, error) {
	query := `
		SELECT a.id, a.plane, a.kind, a.project_id, a.version, a.status, a.spec, a.observed_at, a.leased_until, a.created_at, a.updated_at
		FROM resources a
		LEFT JOIN resources t ON t.id = a.id AND t.kind = a.kind AND t.plane = 'target'
		WHERE a.plane = 'actual' AND a.kind = $1 AND t.id IS NULL`
	args := []any{string(kind)}
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND a.project_id = $%d", len(args))
	}
	query += " ORDER BY a.created_at ASC, a.id ASC"

	var rows []resourceRow
	if err := sqlx.SelectContext(ctx, s.execer(ctx), &rows, query, args...); err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "list actuals missing target")
	}
	out := make([]types.WireResource, len(rows))
	for i, r := range rows {
		out[i] = r.toWire()
	}
	return out, nil
}

// ListTargetsInStateOlderThan is the stuck-target detector: used by the
// orchestrator to escalate targets sitting in IN_PROGRESS (or any given
// status) past a staleness bound into ERROR.
func (s *PostgresStore) ListTargetsInStateOlderThan(ctx context.Context, kind capability.Kind, status types.Status, olderThan time.Time) ([]types.WireResource, error) {
	var rows []resourceRow
	err := sqlx.SelectContext(ctx, s.execer(ctx), &rows, `
		SELECT id, plane, kind, project_id, version, status, spec, observed_at, leased_until, created_at, updated_at
		FROM resources
		WHERE plane = 'target' AND kind = $1 AND status = $2 AND updated_at < $3
		ORDER BY updated_at ASC, id ASC
	`, string(kind), string(status), olderThan)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "list stale targets")
	}
	out := make([]types.WireResource, len(rows))
	for i, r := range rows {
		out[i] = r.toWire()
	}
	return out, nil
}

// --- Outbox -----------------------------------------------------------

func (s *PostgresStore) EnqueueEvent(ctx context.Context, rec OutboxRecord) error {
	if rec.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = time.Now()
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO event_outbox (id, event_kind, payload, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, rec.ID, rec.EventKind, rec.Payload, rec.Attempts, rec.NextAttemptAt)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "enqueue event")
	}
	return nil
}

type outboxRow struct {
	ID              string    `db:"id"`
	EventKind       string    `db:"event_kind"`
	Payload         []byte    `db:"payload"`
	Attempts        int       `db:"attempts"`
	NextAttemptAt   time.Time `db:"next_attempt_at"`
	CreatedAt       time.Time `db:"created_at"`
	DeadLettered    bool      `db:"dead_lettered"`
}

func (s *PostgresStore) DequeueBatch(ctx context.Context, limit int) ([]OutboxRecord, error) {
	var rows []outboxRow
	err := sqlx.SelectContext(ctx, s.execer(ctx), &rows, `
		SELECT id, event_kind, payload, attempts, next_attempt_at, created_at, dead_lettered
		FROM event_outbox
		WHERE delivered_at IS NULL AND dead_lettered = false AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "dequeue outbox batch")
	}
	out := make([]OutboxRecord, len(rows))
	for i, r := range rows {
		out[i] = OutboxRecord{
			ID: r.ID, EventKind: r.EventKind, Payload: r.Payload,
			Attempts: r.Attempts, NextAttemptAt: r.NextAttemptAt,
			CreatedAt: r.CreatedAt, DeadLettered: r.DeadLettered,
		}
	}
	return out, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.execer(ctx).ExecContext(ctx, `UPDATE event_outbox SET delivered_at = now() WHERE id = $1`, id)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "mark event delivered")
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE event_outbox SET attempts = attempts + 1, next_attempt_at = $1 WHERE id = $2
	`, nextAttemptAt, id)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "mark event failed")
	}
	return nil
}

func (s *PostgresStore) DeadLetter(ctx context.Context, id string, reason string) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE event_outbox SET dead_lettered = true, dead_letter_reason = $1 WHERE id = $2
	`, reason, id)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "dead-letter event")
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}

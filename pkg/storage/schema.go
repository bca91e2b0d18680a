package storage

// schemaDDL is applied idempotently at startup. It declares the single
// generic resources table plus the durable event outbox; per-kind schema
// is enforced at the JSON boundary (capability.Driver / types package),
// not in SQL, per spec.md §4.1.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS resources (
	id           TEXT NOT NULL,
	plane        TEXT NOT NULL,
	kind         TEXT NOT NULL,
	project_id   TEXT NOT NULL DEFAULT '',
	version      BIGINT NOT NULL DEFAULT 1,
	status       TEXT NOT NULL DEFAULT 'NEW',
	spec         JSONB NOT NULL DEFAULT '{}'::jsonb,
	observed_at  TIMESTAMPTZ,
	leased_until TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (plane, kind, id)
);

CREATE INDEX IF NOT EXISTS idx_resources_kind_status
	ON resources (kind, plane, status, created_at, id);

CREATE INDEX IF NOT EXISTS idx_resources_project
	ON resources (project_id, kind, plane);

CREATE INDEX IF NOT EXISTS idx_resources_updated_at
	ON resources (kind, plane, status, updated_at);

CREATE TABLE IF NOT EXISTS event_outbox (
	id              TEXT PRIMARY KEY,
	event_kind      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	attempts        INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	delivered_at    TIMESTAMPTZ,
	dead_lettered   BOOLEAN NOT NULL DEFAULT false,
	dead_letter_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending
	ON event_outbox (next_attempt_at)
	WHERE delivered_at IS NULL AND dead_lettered = false;
`

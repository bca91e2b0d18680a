package iam

// schemaDDL declares the relational IAM tables. Unlike pkg/storage's
// generic resources table, these are proper foreign-keyed relations: a
// RoleBinding without a User or Role is a schema violation, not
// something application code should have to guard against.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS iam_users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	version    BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS iam_organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	version    BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS iam_organization_members (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES iam_organizations(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL REFERENCES iam_users(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	version         BIGINT NOT NULL DEFAULT 1,
	UNIQUE (organization_id, user_id)
);

CREATE TABLE IF NOT EXISTS iam_projects (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES iam_organizations(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	version         BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS iam_permissions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	version    BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS iam_roles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	version    BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS iam_permission_bindings (
	id            TEXT PRIMARY KEY,
	role_id       TEXT NOT NULL REFERENCES iam_roles(id) ON DELETE CASCADE,
	permission_id TEXT NOT NULL REFERENCES iam_permissions(id) ON DELETE CASCADE,
	scope_project TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	version       BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS iam_role_bindings (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES iam_users(id) ON DELETE CASCADE,
	role_id       TEXT NOT NULL REFERENCES iam_roles(id) ON DELETE CASCADE,
	scope_project TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	version       BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_role_bindings_user ON iam_role_bindings (user_id);
CREATE INDEX IF NOT EXISTS idx_permission_bindings_role ON iam_permission_bindings (role_id);

CREATE TABLE IF NOT EXISTS iam_clients (
	id            TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL UNIQUE,
	client_secret TEXT NOT NULL,
	name          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	version       BIGINT NOT NULL DEFAULT 1
);
`

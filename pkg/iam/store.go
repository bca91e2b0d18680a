package iam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuemby/genesis-core/pkg/types"
)

// Store is the relational IAM store, separate from pkg/storage.Store
// because these rows are foreign-keyed relations, not generic
// reconciled resources. Kernel wraps Store the way security.CertAuthority
// wraps pkg/storage.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and applies the IAM schema.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres for iam: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply iam schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already-open handle (e.g. shared with
// pkg/storage in a single process) instead of opening a second pool.
func NewStoreFromDB(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("apply iam schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func newID() string { return uuid.NewString() }

func (s *Store) CreateUser(ctx context.Context, username, email string) (types.User, error) {
	u := types.User{Envelope: types.Envelope{ID: newID(), Version: 1}, Username: username, Email: email}
	_, err := s.db.ExecContext(ctx, `INSERT INTO iam_users (id, username, email) VALUES ($1, $2, $3)`, u.ID, u.Username, u.Email)
	if err != nil {
		return types.User{}, types.WrapError(types.ErrTransient, err, "create user")
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	var u types.User
	err := s.db.GetContext(ctx, &u, `SELECT id, username, email, created_at, updated_at, version FROM iam_users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, types.NewError(types.ErrNotFound, "user %q not found", username)
	}
	if err != nil {
		return types.User{}, types.WrapError(types.ErrTransient, err, "get user")
	}
	return u, nil
}

func (s *Store) CreateOrganization(ctx context.Context, name string) (types.Organization, error) {
	o := types.Organization{Envelope: types.Envelope{ID: newID(), Version: 1}, Name: name}
	_, err := s.db.ExecContext(ctx, `INSERT INTO iam_organizations (id, name) VALUES ($1, $2)`, o.ID, o.Name)
	if err != nil {
		return types.Organization{}, types.WrapError(types.ErrTransient, err, "create organization")
	}
	return o, nil
}

func (s *Store) CreateProject(ctx context.Context, organizationID, name string) (types.Project, error) {
	p := types.Project{Envelope: types.Envelope{ID: newID(), Version: 1}, OrganizationID: organizationID, Name: name}
	_, err := s.db.ExecContext(ctx, `INSERT INTO iam_projects (id, organization_id, name) VALUES ($1, $2, $3)`, p.ID, p.OrganizationID, p.Name)
	if err != nil {
		return types.Project{}, types.WrapError(types.ErrTransient, err, "create project")
	}
	return p, nil
}

// CreatePermission validates name against the service.resource.action
// pattern before persisting it. The wildcard "*.*.*" is reserved for the
// bootstrap admin permission (spec.md §3 invariant 5) and is special-
// cased here rather than admitted by PermissionPattern, so no other
// caller can mint a permission with a wildcard service segment.
func (s *Store) CreatePermission(ctx context.Context, name string) (types.Permission, error) {
	if name != types.BootstrapAdminPermission && !types.PermissionPattern.MatchString(name) {
		return types.Permission{}, types.NewError(types.ErrValidation, "permission name %q does not match service.resource.action", name)
	}
	p := types.Permission{Envelope: types.Envelope{ID: newID(), Version: 1}, Name: name}
	_, err := s.db.ExecContext(ctx, `INSERT INTO iam_permissions (id, name) VALUES ($1, $2)`, p.ID, p.Name)
	if err != nil {
		return types.Permission{}, types.WrapError(types.ErrTransient, err, "create permission")
	}
	return p, nil
}

func (s *Store) CreateRole(ctx context.Context, name string) (types.Role, error) {
	r := types.Role{Envelope: types.Envelope{ID: newID(), Version: 1}, Name: name}
	_, err := s.db.ExecContext(ctx, `INSERT INTO iam_roles (id, name) VALUES ($1, $2)`, r.ID, r.Name)
	if err != nil {
		return types.Role{}, types.WrapError(types.ErrTransient, err, "create role")
	}
	return r, nil
}

func (s *Store) BindPermission(ctx context.Context, roleID, permissionID, scopeProject string) (types.PermissionBinding, error) {
	b := types.PermissionBinding{Envelope: types.Envelope{ID: newID(), Version: 1}, RoleID: roleID, PermissionID: permissionID, ScopeProject: scopeProject}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iam_permission_bindings (id, role_id, permission_id, scope_project) VALUES ($1, $2, $3, $4)
	`, b.ID, b.RoleID, b.PermissionID, b.ScopeProject)
	if err != nil {
		return types.PermissionBinding{}, types.WrapError(types.ErrTransient, err, "bind permission to role")
	}
	return b, nil
}

func (s *Store) BindRole(ctx context.Context, userID, roleID, scopeProject string) (types.RoleBinding, error) {
	b := types.RoleBinding{Envelope: types.Envelope{ID: newID(), Version: 1}, UserID: userID, RoleID: roleID, ScopeProject: scopeProject}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iam_role_bindings (id, user_id, role_id, scope_project) VALUES ($1, $2, $3, $4)
	`, b.ID, b.UserID, b.RoleID, b.ScopeProject)
	if err != nil {
		return types.RoleBinding{}, types.WrapError(types.ErrTransient, err, "bind role to user")
	}
	return b, nil
}

// grantRow is one (permission name, role-binding scope, permission-binding
// scope) triple reachable from a user through some role binding, used
// directly by Kernel.Authorize. Both scopes must independently apply per
// spec.md §4.5 step 1 (RoleBinding) and step 2 (PermissionBinding).
type grantRow struct {
	PermissionName  string `db:"permission_name"`
	RoleScope       string `db:"role_scope_project"`
	PermissionScope string `db:"permission_scope_project"`
}

// GrantsForUser returns every permission reachable from userID across
// all its role bindings, each tagged with both the role binding's project
// scope and the permission binding's project scope.
func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]grantRow, error) {
	var rows []grantRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.name AS permission_name,
		       rb.scope_project AS role_scope_project,
		       pb.scope_project AS permission_scope_project
		FROM iam_role_bindings rb
		JOIN iam_permission_bindings pb ON pb.role_id = rb.role_id
		JOIN iam_permissions p ON p.id = pb.permission_id
		WHERE rb.user_id = $1
	`, userID)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "load grants for user")
	}
	return rows, nil
}

// Now is extracted so tests can drive cache TTL deterministically without
// the package reaching for time.Now() directly everywhere.
var Now = time.Now

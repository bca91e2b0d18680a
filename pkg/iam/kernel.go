package iam

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cuemby/genesis-core/pkg/types"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 250 * time.Millisecond
)

// cacheEntry pairs a memoized decision with when it was computed, so
// the kernel can bound memoization to a few hundred milliseconds without
// a second eviction mechanism.
type cacheEntry struct {
	allowed   bool
	computedAt time.Time
}

// Kernel is the deny-by-default authorization kernel: Authorize(user,
// need, project) consults the user's role bindings and permission
// bindings, matches the dotted-triple need against every granted
// permission (wildcards allowed per segment), and denies unless at least
// one grant both matches and is in scope. Decisions are memoized briefly
// to absorb bursts of identical checks from the same request.
type Kernel struct {
	store *Store

	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
}

// NewKernel builds a Kernel over store with the default cache size/TTL.
func NewKernel(store *Store) (*Kernel, error) {
	return NewKernelWithCache(store, defaultCacheSize, defaultCacheTTL)
}

// NewKernelWithCache lets callers tune the memoization bound; a TTL of
// zero disables memoization outright.
func NewKernelWithCache(store *Store, size int, ttl time.Duration) (*Kernel, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Kernel{store: store, cache: cache, ttl: ttl}, nil
}

type cacheKey struct {
	userID    string
	need      string
	projectID string
}

// Authorize reports whether userID may perform need (a "service.resource.
// action" dotted triple) against projectID ("" for cluster-scoped
// actions). Deny-by-default: any error loading grants, or simply finding
// none that match, denies.
func (k *Kernel) Authorize(ctx context.Context, userID, need, projectID string) (bool, error) {
	if userID == "" {
		return false, types.NewError(types.ErrAuthRequired, "authorize: no principal")
	}
	key := cacheKey{userID: userID, need: need, projectID: projectID}

	if cached, ok := k.lookupCache(key); ok {
		return cached, nil
	}

	grants, err := k.store.GrantsForUser(ctx, userID)
	if err != nil {
		return false, err
	}

	allowed := false
	for _, g := range grants {
		if matches(g.PermissionName, need) && scopeApplies(g.RoleScope, projectID) && scopeApplies(g.PermissionScope, projectID) {
			allowed = true
			break
		}
	}

	k.storeCache(key, allowed)
	return allowed, nil
}

// Require is Authorize's enforcing counterpart: it returns a
// PermissionDenied *types.Error instead of a bool when denied, the shape
// every HTTP handler actually wants to return to the edge.
func (k *Kernel) Require(ctx context.Context, userID, need, projectID string) error {
	allowed, err := k.Authorize(ctx, userID, need, projectID)
	if err != nil {
		return err
	}
	if !allowed {
		return types.NewError(types.ErrPermissionDenied, "%s may not %s on project %q", userID, need, projectID)
	}
	return nil
}

func (k *Kernel) lookupCache(key cacheKey) (bool, bool) {
	if k.ttl <= 0 {
		return false, false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	raw, ok := k.cache.Get(key)
	if !ok {
		return false, false
	}
	entry := raw.(cacheEntry)
	if Now().Sub(entry.computedAt) > k.ttl {
		k.cache.Remove(key)
		return false, false
	}
	return entry.allowed, true
}

func (k *Kernel) storeCache(key cacheKey, allowed bool) {
	if k.ttl <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cache.Add(key, cacheEntry{allowed: allowed, computedAt: Now()})
}

// Bootstrap ensures a cluster-wide admin user holding
// BootstrapAdminPermission exists, creating the user/permission/role/
// bindings on first run and returning the existing user on subsequent
// ones. Called once at orchestrator startup, per spec.md §3 invariant 5.
func (k *Kernel) Bootstrap(ctx context.Context, username, email string) (types.User, error) {
	if user, err := k.store.GetUserByUsername(ctx, username); err == nil {
		return user, nil
	}

	user, err := k.store.CreateUser(ctx, username, email)
	if err != nil {
		return types.User{}, err
	}
	perm, err := k.store.CreatePermission(ctx, types.BootstrapAdminPermission)
	if err != nil {
		return types.User{}, err
	}
	role, err := k.store.CreateRole(ctx, "bootstrap-admin")
	if err != nil {
		return types.User{}, err
	}
	if _, err := k.store.BindPermission(ctx, role.ID, perm.ID, ""); err != nil {
		return types.User{}, err
	}
	if _, err := k.store.BindRole(ctx, user.ID, role.ID, ""); err != nil {
		return types.User{}, err
	}
	return user, nil
}

package capability

import (
	"context"

	"github.com/cuemby/genesis-core/pkg/types"
)

// Actual is the observed-state payload a driver reports back: the wire
// resource plus the target version it converged against.
type Actual struct {
	Resource        types.WireResource
	ConvergedVersion int64
}

// Filter narrows list_actual to a project (and, where meaningful, a
// parent resource); drivers are free to ignore fields they don't index.
type Filter struct {
	ProjectID string
}

// Driver is the uniform contract a capability driver implements for
// exactly one resource Kind, per spec.md §4.2. Every method must be
// idempotent: the agent may call create/update/delete again after a
// crash mid-operation, and the driver must converge rather than error.
//
// Drivers must tolerate concurrent invocation of their own ListActual
// alongside Create/Update/Delete; the agent only serializes operations
// that share an identifier, not calls across identifiers.
type Driver interface {
	// SupportedKinds is advertised on agent registration.
	SupportedKinds() []Kind

	// ListActual returns what exists locally right now, matching filter.
	ListActual(ctx context.Context, filter Filter) ([]Actual, error)

	// Create realizes a target that has no actual yet. Idempotent on the
	// target's identifier: calling it twice for the same ID must not
	// create two resources.
	Create(ctx context.Context, target types.WireResource) (Actual, error)

	// Update reconciles a target against its prior actual; it may be a
	// no-op if the fields already converge.
	Update(ctx context.Context, target types.WireResource, prior Actual) (Actual, error)

	// Delete removes a resource whose target has disappeared. Idempotent:
	// it must succeed if the resource is already gone.
	Delete(ctx context.Context, actual Actual) error
}

// Constructor builds a Driver for one Kind given a free-form configuration
// blob (driver-specific credentials/paths, per spec.md §6
// "CoreCapabilityDriver credentials and paths").
type Constructor func(cfg map[string]string) (Driver, error)

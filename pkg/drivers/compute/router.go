package compute

import (
	"context"
	"encoding/json"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

// Router is the KindComputeNode driver the agent actually wires up
// (cmd/genesis-agent). A Node's backing implementation isn't a property of the
// node itself but of the MachinePool it belongs to (Spec.MachinePoolID),
// so Router looks the pool up and delegates to the matching concrete
// driver instead of requiring one driver per Kind.
type Router struct {
	store   storage.Store
	dummy   capability.Driver
	libvirt capability.Driver
}

// NewRouter wires both concrete compute drivers behind one KindComputeNode
// registration.
func NewRouter(store storage.Store, dummy, libvirt capability.Driver) *Router {
	return &Router{store: store, dummy: dummy, libvirt: libvirt}
}

func (r *Router) SupportedKinds() []capability.Kind {
	return []capability.Kind{capability.KindComputeNode}
}

func (r *Router) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	dummyActuals, err := r.dummy.ListActual(ctx, filter)
	if err != nil {
		return nil, err
	}
	libvirtActuals, err := r.libvirt.ListActual(ctx, filter)
	if err != nil {
		return nil, err
	}
	return append(dummyActuals, libvirtActuals...), nil
}

func (r *Router) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	driver, err := r.resolve(ctx, target)
	if err != nil {
		return capability.Actual{}, err
	}
	return driver.Create(ctx, target)
}

func (r *Router) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	driver, err := r.resolve(ctx, target)
	if err != nil {
		return capability.Actual{}, err
	}
	return driver.Update(ctx, target, prior)
}

func (r *Router) Delete(ctx context.Context, actual capability.Actual) error {
	driver, err := r.resolve(ctx, actual.Resource)
	if err != nil {
		return err
	}
	return driver.Delete(ctx, actual)
}

// resolve loads the node's owning MachinePool and picks the driver its
// Spec.Driver names.
func (r *Router) resolve(ctx context.Context, node types.WireResource) (capability.Driver, error) {
	var spec types.NodeSpec
	if err := json.Unmarshal(node.Spec, &spec); err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "decode node spec")
	}
	if spec.MachinePoolID == "" {
		return nil, types.NewError(types.ErrValidation, "node %s has no machine_pool_id", node.UUID)
	}
	poolResource, err := r.store.Get(ctx, types.PlaneTarget, capability.KindMachinePool, spec.MachinePoolID)
	if err != nil {
		return nil, err
	}
	var pool types.MachinePoolSpec
	if err := json.Unmarshal(poolResource.Spec, &pool); err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "decode machine pool spec")
	}
	switch pool.Driver {
	case types.MachinePoolLibvirt:
		return r.libvirt, nil
	case types.MachinePoolDummy, "":
		return r.dummy, nil
	default:
		return nil, types.NewError(types.ErrValidation, "machine pool %s: unknown driver %q", spec.MachinePoolID, pool.Driver)
	}
}

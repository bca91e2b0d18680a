package compute

import (
	"context"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

// LibvirtDriver is an intentional stub. The physical hypervisor backend
// is an explicit non-goal; this exists so KindComputeNode has a second,
// real driver for Router to dispatch to when a MachinePool advertises
// driver "libvirt".
type LibvirtDriver struct{}

func NewLibvirtDriver(map[string]string) (capability.Driver, error) {
	return &LibvirtDriver{}, nil
}

func (d *LibvirtDriver) SupportedKinds() []capability.Kind {
	return []capability.Kind{capability.KindComputeNode}
}

func (d *LibvirtDriver) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	return nil, nil
}

func (d *LibvirtDriver) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	return capability.Actual{}, types.NewError(types.ErrPermanent, "libvirt driver not implemented")
}

func (d *LibvirtDriver) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	return capability.Actual{}, types.NewError(types.ErrPermanent, "libvirt driver not implemented")
}

func (d *LibvirtDriver) Delete(ctx context.Context, actual capability.Actual) error {
	return types.NewError(types.ErrPermanent, "libvirt driver not implemented")
}

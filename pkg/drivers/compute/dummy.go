// Package compute implements the KindComputeNode capability driver: a
// containerd-backed "dummy" implementation standing in for a lightweight
// VM, a permanently-unimplemented libvirt stub, and a router that picks
// between them per the owning MachinePool's driver field.
package compute

import (
	"context"
	"encoding/json"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

const (
	// namespace isolates genesis-managed containers from anything else
	// running against the same containerd socket.
	namespace = "genesis-core"

	defaultSocketPath = "/run/containerd/containerd.sock"

	// cpuSharesPerCore mirrors the teacher's convention of 1024 shares
	// per core and a 100ms CFS period.
	cpuSharesPerCore = 1024
	cfsPeriodMicros  = uint64(100000)
)

// DummyDriver realizes NodeSpec as a containerd container, using the
// container as a stand-in for the VM a real hypervisor would manage.
type DummyDriver struct {
	client *containerd.Client
}

// NewDummyDriver dials containerd at cfg["socket_path"]
// (defaultSocketPath when empty), per spec.md §6's
// "driver credentials and paths" convention.
func NewDummyDriver(cfg map[string]string) (capability.Driver, error) {
	socketPath := cfg["socket_path"]
	if socketPath == "" {
		socketPath = defaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "connect to containerd at %s", socketPath)
	}
	return &DummyDriver{client: client}, nil
}

func (d *DummyDriver) SupportedKinds() []capability.Kind {
	return []capability.Kind{capability.KindComputeNode}
}

func (d *DummyDriver) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	ctx = namespaces.WithNamespace(ctx, namespace)
	containers, err := d.client.Containers(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "list containerd containers")
	}
	out := make([]capability.Actual, 0, len(containers))
	for _, c := range containers {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		if filter.ProjectID != "" && labels["genesis.project_id"] != filter.ProjectID {
			continue
		}
		spec := types.NodeSpec{
			Name:          labels["genesis.name"],
			MachinePoolID: labels["genesis.machine_pool_id"],
			Image:         labels["genesis.image"],
		}
		specJSON, err := json.Marshal(spec)
		if err != nil {
			continue
		}
		out = append(out, capability.Actual{
			Resource: types.WireResource{
				UUID:      c.ID(),
				Kind:      string(capability.KindComputeNode),
				ProjectID: labels["genesis.project_id"],
				Spec:      specJSON,
				Status:    types.StatusActive,
			},
		})
	}
	return out, nil
}

func (d *DummyDriver) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	var spec types.NodeSpec
	if err := json.Unmarshal(target.Spec, &spec); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrValidation, err, "decode node spec")
	}
	if spec.Image == "" {
		return capability.Actual{}, types.NewError(types.ErrValidation, "node %s: image is required", target.UUID)
	}

	ctx = namespaces.WithNamespace(ctx, namespace)

	// Idempotent: a container with this ID already existing means a
	// prior Create already succeeded.
	if existing, err := d.client.LoadContainer(ctx, target.UUID); err == nil {
		return d.actualFrom(ctx, existing, target)
	}

	image, err := d.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = d.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return capability.Actual{}, types.WrapError(types.ErrTransient, err, "pull image %s", spec.Image)
		}
	}

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if spec.Hardware.CPUCores > 0 {
		shares := uint64(spec.Hardware.CPUCores * cpuSharesPerCore)
		quota := int64(spec.Hardware.CPUCores) * int64(cfsPeriodMicros)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, cfsPeriodMicros))
	}
	if spec.Hardware.RAMBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.Hardware.RAMBytes)))
	}

	labels := map[string]string{
		"genesis.name":            spec.Name,
		"genesis.project_id":      target.ProjectID,
		"genesis.machine_pool_id": spec.MachinePoolID,
		"genesis.image":           spec.Image,
	}

	c, err := d.client.NewContainer(ctx, target.UUID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(target.UUID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(labels),
	)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "create container for node %s", target.UUID)
	}

	task, err := c.NewTask(ctx, cio.NullIO)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "create task for node %s", target.UUID)
	}
	if err := task.Start(ctx); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "start task for node %s", target.UUID)
	}

	return d.actualFrom(ctx, c, target)
}

func (d *DummyDriver) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	// NodeSpec is effectively immutable after creation (hardware/image
	// changes require a replace, not an in-place update); Update is a
	// no-op that simply re-reports the current actual.
	ctx = namespaces.WithNamespace(ctx, namespace)
	c, err := d.client.LoadContainer(ctx, target.UUID)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrPermanent, err, "node %s has no backing container", target.UUID)
	}
	return d.actualFrom(ctx, c, target)
}

func (d *DummyDriver) Delete(ctx context.Context, actual capability.Actual) error {
	ctx = namespaces.WithNamespace(ctx, namespace)
	c, err := d.client.LoadContainer(ctx, actual.Resource.UUID)
	if err != nil {
		// Already gone: Delete must be idempotent.
		return nil
	}
	if task, err := c.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
	}
	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return types.WrapError(types.ErrTransient, err, "delete container for node %s", actual.Resource.UUID)
	}
	return nil
}

func (d *DummyDriver) actualFrom(ctx context.Context, c containerd.Container, target types.WireResource) (capability.Actual, error) {
	_ = ctx
	return capability.Actual{
		Resource: types.WireResource{
			UUID:      c.ID(),
			Kind:      string(capability.KindComputeNode),
			ProjectID: target.ProjectID,
			Version:   target.Version,
			Status:    types.StatusActive,
			Spec:      target.Spec,
		},
		ConvergedVersion: target.Version,
	}, nil
}

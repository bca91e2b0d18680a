package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

func TestCascadeOneMarksChildrenDeletingBeforeParentDelete(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	lbSpec, _ := json.Marshal(types.LoadBalancerSpec{Name: "lb1"})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindLoadBalancer, types.WireResource{
		UUID: "lb1", Kind: string(capability.KindLoadBalancer), Version: 1, Status: types.StatusDeleting, Spec: lbSpec,
	}))

	vhostSpec, _ := json.Marshal(types.VhostSpec{LoadBalancerID: "lb1", Protocol: "http", Port: 80})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindVhost, types.WireResource{
		UUID: "vh1", Kind: string(capability.KindVhost), Version: 1, Status: types.StatusActive, Spec: vhostSpec,
	}))

	lb, err := store.Get(ctx, types.PlaneTarget, capability.KindLoadBalancer, "lb1")
	require.NoError(t, err)

	require.NoError(t, cascadeOne(ctx, store, "", lb))

	vh, err := store.Get(ctx, types.PlaneTarget, capability.KindVhost, "vh1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeleting, vh.Status)

	// Parent isn't removed yet: the child is still DELETING, not gone.
	_, err = store.Get(ctx, types.PlaneTarget, capability.KindLoadBalancer, "lb1")
	assert.NoError(t, err)
}

func TestCascadeOneDeletesParentOnceChildrenAreGone(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	poolSpec, _ := json.Marshal(types.MachinePoolSpec{Name: "p1", Driver: types.MachinePoolDummy})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindMachinePool, types.WireResource{
		UUID: "pool1", Kind: string(capability.KindMachinePool), Version: 1, Status: types.StatusDeleting, Spec: poolSpec,
	}))

	pool, err := store.Get(ctx, types.PlaneTarget, capability.KindMachinePool, "pool1")
	require.NoError(t, err)

	require.NoError(t, cascadeOne(ctx, store, "", pool))

	_, err = store.Get(ctx, types.PlaneTarget, capability.KindMachinePool, "pool1")
	assert.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Kind)
}

func TestCascadeOneDeletesLeafKindOutright(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	specJSON, _ := json.Marshal(types.PasswordSpec{Name: "secret1"})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindPassword, types.WireResource{
		UUID: "pw1", Kind: string(capability.KindPassword), Version: 1, Status: types.StatusDeleting, Spec: specJSON,
	}))
	pw, err := store.Get(ctx, types.PlaneTarget, capability.KindPassword, "pw1")
	require.NoError(t, err)

	require.NoError(t, cascadeOne(ctx, store, "", pw))

	_, err = store.Get(ctx, types.PlaneTarget, capability.KindPassword, "pw1")
	assert.Error(t, err)
}

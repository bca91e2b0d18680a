package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/scheduler"
	"github.com/cuemby/genesis-core/pkg/types"
)

func newTestReconciler(store *memStore, registry *scheduler.Registry) *Reconciler {
	return NewReconciler(Config{
		PollInterval:   time.Millisecond,
		ClaimBatchSize: 10,
		LeaseWindow:    time.Second,
		StuckAfter:     50 * time.Millisecond,
		MaxAttempts:    2,
	}, store, registry, NewAssigner())
}

func TestReconcileKindPlacesNewTargetOnLiveAgent(t *testing.T) {
	store := newMemStore()
	registry := scheduler.NewRegistry()
	registry.Register("node-1", []string{string(capability.KindComputeNode)}, time.Now())
	registry.Heartbeat("node-1", 0, time.Now())

	specJSON, _ := json.Marshal(types.NodeSpec{Name: "n1"})
	require.NoError(t, store.Create(context.Background(), types.PlaneTarget, capability.KindComputeNode, types.WireResource{
		UUID: "n1", Kind: string(capability.KindComputeNode), Version: 1, Status: types.StatusNew, Spec: specJSON,
	}))

	r := newTestReconciler(store, registry)
	require.NoError(t, r.reconcileKind(context.Background(), capability.KindComputeNode))

	assigned := r.assigner.FetchFor("node-1", []string{string(capability.KindComputeNode)})
	require.Len(t, assigned, 1)
	assert.Equal(t, "n1", assigned[0].UUID)
}

func TestReconcileKindConvergesTargetToActive(t *testing.T) {
	store := newMemStore()
	registry := scheduler.NewRegistry()
	ctx := context.Background()

	specJSON, _ := json.Marshal(types.NodeSpec{Name: "n1"})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindComputeNode, types.WireResource{
		UUID: "n1", Kind: string(capability.KindComputeNode), Version: 1, Status: types.StatusInProgress, Spec: specJSON,
	}))
	require.NoError(t, store.Create(ctx, types.PlaneActual, capability.KindComputeNode, types.WireResource{
		UUID: "n1", Kind: string(capability.KindComputeNode), Version: 1, Status: types.StatusActive, Spec: specJSON,
	}))

	r := newTestReconciler(store, registry)
	require.NoError(t, r.convergeKind(ctx, capability.KindComputeNode))

	target, err := store.Get(ctx, types.PlaneTarget, capability.KindComputeNode, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, target.Status)
}

func TestEscalateStuckMovesTargetToErrorAfterMaxAttempts(t *testing.T) {
	store := newMemStore()
	registry := scheduler.NewRegistry()
	ctx := context.Background()

	specJSON, _ := json.Marshal(types.NodeSpec{Name: "n1"})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindComputeNode, types.WireResource{
		UUID: "n1", Kind: string(capability.KindComputeNode), Version: 1, Status: types.StatusNew, Spec: specJSON,
	}))

	r := newTestReconciler(store, registry)
	require.NoError(t, r.escalateStuck(ctx, capability.KindComputeNode))
	require.NoError(t, r.escalateStuck(ctx, capability.KindComputeNode))

	target, err := store.Get(ctx, types.PlaneTarget, capability.KindComputeNode, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, target.Status)
}

func TestReconcileKindCascadesDeletingTarget(t *testing.T) {
	store := newMemStore()
	registry := scheduler.NewRegistry()
	ctx := context.Background()

	specJSON, _ := json.Marshal(types.PasswordSpec{Name: "pw1"})
	require.NoError(t, store.Create(ctx, types.PlaneTarget, capability.KindPassword, types.WireResource{
		UUID: "pw1", Kind: string(capability.KindPassword), Version: 1, Status: types.StatusDeleting, Spec: specJSON,
	}))

	r := newTestReconciler(store, registry)
	require.NoError(t, r.reconcileKind(ctx, capability.KindPassword))

	_, err := store.Get(ctx, types.PlaneTarget, capability.KindPassword, "pw1")
	assert.Error(t, err)
}

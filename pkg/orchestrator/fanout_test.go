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
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

func newTestSchedulerWithNodes(nodeIDs ...string) *scheduler.Scheduler {
	registry := scheduler.NewRegistry()
	now := time.Now()
	for _, id := range nodeIDs {
		registry.Register(id, []string{string(capability.KindServiceNode)}, now)
		registry.Heartbeat(id, 0, now)
	}
	return scheduler.NewScheduler(registry)
}

func createNodeSet(t *testing.T, store *memStore, id string, members []string) {
	t.Helper()
	spec, err := json.Marshal(struct {
		Name    string   `json:"name"`
		NodeIDs []string `json:"node_ids"`
	}{Name: id, NodeIDs: members})
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), types.PlaneTarget, capability.KindNodeSet, types.WireResource{
		UUID: id, Kind: string(capability.KindNodeSet), Version: 1, Status: types.StatusActive, Spec: spec,
	}))
}

func TestFanoutServiceSimpleExpandsToEveryLiveMember(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	sched := newTestSchedulerWithNodes("a", "b", "c")
	createNodeSet(t, store, "set1", []string{"a", "b", "c"})

	specJSON, _ := json.Marshal(types.ServiceSpec{
		Name: "svc1", Kind: types.ServiceSimple,
		Target:  types.DeployTarget{Kind: types.TargetNodeSet, NodeSetID: "set1"},
		Command: "/usr/bin/foo",
	})
	svc := types.WireResource{UUID: "svc1", Kind: string(capability.KindService), Version: 1, Status: types.StatusNew, Spec: specJSON}

	require.NoError(t, fanoutService(ctx, store, sched, "", svc))

	nodes, err := store.List(ctx, types.PlaneTarget, capability.KindServiceNode, storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestFanoutServiceMonopolyExpandsToOneElectedMember(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	sched := newTestSchedulerWithNodes("z", "a", "m")
	createNodeSet(t, store, "set1", []string{"z", "a", "m"})

	specJSON, _ := json.Marshal(types.ServiceSpec{
		Name: "svc1", Kind: types.ServiceMonopoly,
		Target:  types.DeployTarget{Kind: types.TargetNodeSet, NodeSetID: "set1"},
		Command: "/usr/bin/foo",
	})
	svc := types.WireResource{UUID: "svc1", Kind: string(capability.KindService), Version: 1, Status: types.StatusNew, Spec: specJSON}

	require.NoError(t, fanoutService(ctx, store, sched, "", svc))

	nodes, err := store.List(ctx, types.PlaneTarget, capability.KindServiceNode, storage.ListFilter{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	var nodeSpec types.ServiceNodeSpec
	require.NoError(t, json.Unmarshal(nodes[0].Spec, &nodeSpec))
	assert.Equal(t, "a", nodeSpec.NodeID)
}

func TestFanoutServiceRejectsServiceKindHooks(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	sched := newTestSchedulerWithNodes("a")

	specJSON, _ := json.Marshal(types.ServiceSpec{
		Name: "svc1", Kind: types.ServiceSimple,
		Target:  types.DeployTarget{Kind: types.TargetNode, NodeID: "a"},
		Command: "/usr/bin/foo",
		Before:  []types.Hook{{Kind: types.HookService, ServiceRef: "other"}},
	})
	svc := types.WireResource{UUID: "svc1", Kind: string(capability.KindService), Version: 1, Status: types.StatusNew, Spec: specJSON}

	err := fanoutService(ctx, store, sched, "", svc)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.AsError(err).Kind)
}

func TestFanoutServiceIsIdempotent(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	sched := newTestSchedulerWithNodes("a")

	specJSON, _ := json.Marshal(types.ServiceSpec{
		Name: "svc1", Kind: types.ServiceSimple,
		Target:  types.DeployTarget{Kind: types.TargetNode, NodeID: "a"},
		Command: "/usr/bin/foo",
	})
	svc := types.WireResource{UUID: "svc1", Kind: string(capability.KindService), Version: 1, Status: types.StatusNew, Spec: specJSON}

	require.NoError(t, fanoutService(ctx, store, sched, "", svc))
	require.NoError(t, fanoutService(ctx, store, sched, "", svc))

	nodes, err := store.List(ctx, types.PlaneTarget, capability.KindServiceNode, storage.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

func TestSelectNodePrefersLeastLoaded(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Register("node-a", []string{"em_core_*"}, now)
	registry.Register("node-b", []string{"em_core_*"}, now)
	registry.Heartbeat("node-a", 5, now)
	registry.Heartbeat("node-b", 1, now)

	s := NewScheduler(registry)
	node, err := s.SelectNode(capability.KindComputeNode)
	require.NoError(t, err)
	assert.Equal(t, "node-b", node)
}

func TestSelectNodeIgnoresStaleAgents(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Register("node-stale", []string{"em_core_*"}, now.Add(-time.Hour))
	registry.Heartbeat("node-stale", 0, now.Add(-time.Hour))

	s := NewScheduler(registry)
	_, err := s.SelectNode(capability.KindComputeNode)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransient, err.(*types.Error).Kind)
}

func TestSelectNodeRequiresCapabilityMatch(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Register("node-lb", []string{"em_lb_*"}, now)

	s := NewScheduler(registry)
	_, err := s.SelectNode(capability.KindComputeNode)
	require.Error(t, err)
}

func TestElectMonopolyIsDeterministic(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	for _, id := range []string{"node-c", "node-a", "node-b"} {
		registry.Register(id, []string{string(capability.KindServiceNode)}, now)
	}

	nodeSet := types.NodeSet{Envelope: types.Envelope{ID: "ns-1"}}
	nodeSet.Spec.NodeIDs = []string{"node-c", "node-a", "node-b"}

	s := NewScheduler(registry)
	winner, err := s.ElectMonopoly(nodeSet)
	require.NoError(t, err)
	assert.Equal(t, "node-a", winner)

	// Electing again must pick the same winner: no hidden state advances.
	winner2, err := s.ElectMonopoly(nodeSet)
	require.NoError(t, err)
	assert.Equal(t, winner, winner2)
}

func TestElectMonopolySkipsDeadMembers(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Register("node-a", []string{string(capability.KindServiceNode)}, now.Add(-time.Hour))
	registry.Heartbeat("node-a", 0, now.Add(-time.Hour))
	registry.Register("node-b", []string{string(capability.KindServiceNode)}, now)

	nodeSet := types.NodeSet{Envelope: types.Envelope{ID: "ns-2"}}
	nodeSet.Spec.NodeIDs = []string{"node-a", "node-b"}

	s := NewScheduler(registry)
	winner, err := s.ElectMonopoly(nodeSet)
	require.NoError(t, err)
	assert.Equal(t, "node-b", winner)
}

func TestFanoutTargetsReturnsAllLiveMembers(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Register("node-a", []string{string(capability.KindServiceNode)}, now)
	registry.Register("node-b", []string{string(capability.KindServiceNode)}, now)

	nodeSet := types.NodeSet{Envelope: types.Envelope{ID: "ns-3"}}
	nodeSet.Spec.NodeIDs = []string{"node-b", "node-a"}

	s := NewScheduler(registry)
	targets := s.FanoutTargets(nodeSet)
	assert.Equal(t, []string{"node-a", "node-b"}, targets)
}

func TestRegistryStaleAndEvict(t *testing.T) {
	registry := NewRegistry()
	now := time.Now()
	registry.Register("node-a", []string{"em_core_*"}, now.Add(-time.Minute))
	registry.Heartbeat("node-a", 0, now.Add(-time.Minute))

	stale := registry.Stale(DefaultStaleBound, now)
	require.Len(t, stale, 1)
	assert.Equal(t, "node-a", stale[0].NodeID)

	registry.Evict("node-a")
	assert.Empty(t, registry.Stale(DefaultStaleBound, now))
}

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

func TestAssignerFetchForFiltersByNodeAndKind(t *testing.T) {
	a := NewAssigner()
	a.Assign("node-1", capability.KindComputeNode, []types.WireResource{{UUID: "n1"}})
	a.Assign("node-1", capability.KindPassword, []types.WireResource{{UUID: "p1"}})
	a.Assign("node-2", capability.KindComputeNode, []types.WireResource{{UUID: "n2"}})

	got := a.FetchFor("node-1", []string{string(capability.KindComputeNode)})
	assert.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].UUID)

	assert.Empty(t, a.FetchFor("node-3", []string{string(capability.KindComputeNode)}))
}

func TestAssignerClearTargetRemovesAcrossNodes(t *testing.T) {
	a := NewAssigner()
	a.Assign("node-1", capability.KindComputeNode, []types.WireResource{{UUID: "n1"}, {UUID: "n2"}})

	a.ClearTarget(capability.KindComputeNode, "n1")

	got := a.FetchFor("node-1", []string{string(capability.KindComputeNode)})
	assert.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].UUID)
}

package orchestrator

import (
	"sync"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

// Assigner holds the orchestrator's current placement decisions: which
// node is responsible for which claimed targets. It is deliberately
// in-memory rather than persisted (placement appends to a node's batch;
// ClearTarget drops an entry once its target is finished) —
// spec.md's resources table (§4.1) has no placement column, and a
// target left unconverged by a crashed orchestrator is simply
// reclaimed and re-placed on the next cycle once its lease expires, so
// durability here buys nothing the lease mechanism doesn't already
// provide.
type Assigner struct {
	mu     sync.RWMutex
	byNode map[string]map[capability.Kind][]types.WireResource
}

func NewAssigner() *Assigner {
	return &Assigner{byNode: make(map[string]map[capability.Kind][]types.WireResource)}
}

// Assign replaces nodeID's assigned batch for kind with targets.
func (a *Assigner) Assign(nodeID string, kind capability.Kind, targets []types.WireResource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.byNode[nodeID] == nil {
		a.byNode[nodeID] = make(map[capability.Kind][]types.WireResource)
	}
	a.byNode[nodeID][kind] = targets
}

// FetchFor returns every target currently assigned to nodeID whose kind
// is in kinds, the data backing the orchestrator endpoint's fetch
// handler (pkg/transport/httpapi).
func (a *Assigner) FetchFor(nodeID string, kinds []string) []types.WireResource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []types.WireResource
	for kind, targets := range a.byNode[nodeID] {
		if want[string(kind)] {
			out = append(out, targets...)
		}
	}
	return out
}

// Clear drops nodeID's whole assignment for kind. The reconciler uses
// ClearTarget, not Clear, when a target finishes.
func (a *Assigner) Clear(nodeID string, kind capability.Kind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byNode[nodeID], kind)
}

// ClearTarget removes one identifier from every node's assignment for
// kind, called once a target converges to ACTIVE, moves to ERROR, or is
// deleted outright, so a node's fetch result doesn't keep re-delivering
// work it already finished.
func (a *Assigner) ClearTarget(kind capability.Kind, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, kinds := range a.byNode {
		targets := kinds[kind]
		if len(targets) == 0 {
			continue
		}
		out := targets[:0]
		for _, t := range targets {
			if t.UUID != id {
				out = append(out, t)
			}
		}
		kinds[kind] = out
	}
}

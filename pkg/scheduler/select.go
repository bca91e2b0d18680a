package scheduler

import (
	"sort"
	"time"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/metrics"
	"github.com/cuemby/genesis-core/pkg/types"
)

// DefaultStaleBound is how long an agent may go without a heartbeat
// before the scheduler stops considering it a placement candidate.
const DefaultStaleBound = 30 * time.Second

// Scheduler places capability targets on registered agents.
type Scheduler struct {
	registry   *Registry
	staleBound time.Duration
}

func NewScheduler(registry *Registry) *Scheduler {
	return &Scheduler{registry: registry, staleBound: DefaultStaleBound}
}

// SelectNode picks the least-loaded live agent advertising kind.
// Returns a Transient error (no eligible agent right now, might appear
// after the next heartbeat) rather than Permanent, since a momentarily
// empty pool of candidates is routine during agent rollout.
func (s *Scheduler) SelectNode(kind capability.Kind) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	candidates := s.registry.Candidates(string(kind), s.staleBound, time.Now())
	if len(candidates) == 0 {
		return "", types.NewError(types.ErrTransient, "no agent advertises capability %q", kind)
	}
	return candidates[0].NodeID, nil
}

// ElectMonopoly deterministically picks exactly one member of a NodeSet
// for a monopoly or monopoly_oneshot Service: the lowest member ID,
// restricted to members that are currently live placement candidates for
// KindServiceNode. Per spec.md §4.8/§4.7, this election must be
// reproducible from the same NodeSet without any coordination beyond
// reading the same sorted list, since two orchestrator workers racing
// the same Service must agree.
func (s *Scheduler) ElectMonopoly(nodeSet types.NodeSet) (string, error) {
	candidates := s.registry.Candidates(string(capability.KindServiceNode), s.staleBound, time.Now())
	live := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		live[c.NodeID] = true
	}

	eligible := make([]string, 0, len(nodeSet.Spec.NodeIDs))
	for _, id := range nodeSet.Spec.NodeIDs {
		if live[id] {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return "", types.NewError(types.ErrTransient, "node set %s: no live member is a service-node placement candidate", nodeSet.ID)
	}
	sort.Strings(eligible)
	return eligible[0], nil
}

// FanoutTargets returns every live node a simple/oneshot Service should
// deploy to: every candidate member of the NodeSet (as opposed to
// ElectMonopoly's single winner).
func (s *Scheduler) FanoutTargets(nodeSet types.NodeSet) []string {
	candidates := s.registry.Candidates(string(capability.KindServiceNode), s.staleBound, time.Now())
	live := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		live[c.NodeID] = true
	}
	out := make([]string, 0, len(nodeSet.Spec.NodeIDs))
	for _, id := range nodeSet.Spec.NodeIDs {
		if live[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

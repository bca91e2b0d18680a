package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// AgentRegistration is what an agent advertises on RegisterRequest and
// refreshes on every heartbeat: its node identity, capability labels
// (including glob wildcards such as "em_core_*"), and current load (the
// count of targets it's actively reconciling).
type AgentRegistration struct {
	NodeID        string
	Capabilities  []string
	Load          int
	LastHeartbeat time.Time
}

// Registry tracks live agents in memory; it is rebuilt from scratch on
// orchestrator restart via each agent's next heartbeat rather than
// persisted, since staleness makes a cold registry self-healing within
// one heartbeat interval.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentRegistration
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*AgentRegistration)}
}

// Register records or refreshes an agent's advertised capabilities.
func (r *Registry) Register(nodeID string, capabilities []string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[nodeID] = &AgentRegistration{NodeID: nodeID, Capabilities: capabilities, LastHeartbeat: now}
}

// Heartbeat refreshes LastHeartbeat and Load for an already-registered
// agent; a heartbeat from an unknown node is treated as a fresh
// registration with no capabilities yet (the agent's next fetch will
// re-register fully).
func (r *Registry) Heartbeat(nodeID string, load int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[nodeID]
	if !ok {
		a = &AgentRegistration{NodeID: nodeID}
		r.agents[nodeID] = a
	}
	a.Load = load
	a.LastHeartbeat = now
}

// Candidates returns every agent whose capabilities glob-match kind and
// whose last heartbeat is within staleBound of now, ordered by
// ascending load (least-loaded first) for deterministic tie-breaking.
func (r *Registry) Candidates(kind string, staleBound time.Duration, now time.Time) []AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AgentRegistration
	for _, a := range r.agents {
		if now.Sub(a.LastHeartbeat) > staleBound {
			continue
		}
		if !matchesAny(a.Capabilities, kind) {
			continue
		}
		out = append(out, *a)
	}
	sortByLoadThenID(out)
	return out
}

// Stale returns agents whose heartbeat predates now.Add(-staleBound),
// used to drive AgentHeartbeatStale eviction events.
func (r *Registry) Stale(staleBound time.Duration, now time.Time) []AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AgentRegistration
	for _, a := range r.agents {
		if now.Sub(a.LastHeartbeat) > staleBound {
			out = append(out, *a)
		}
	}
	return out
}

// Evict removes a node from the registry outright (called after a
// staleness eviction event has been emitted).
func (r *Registry) Evict(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, nodeID)
}

func matchesAny(capabilities []string, kind string) bool {
	for _, c := range capabilities {
		if globMatch(c, kind) {
			return true
		}
	}
	return false
}

// globMatch supports exactly the label convention spec.md describes: an
// exact match, or a single trailing "*" meaning "any kind with this
// prefix" (e.g. "em_core_*" matches "em_core_compute_nodes").
func globMatch(pattern, kind string) bool {
	if pattern == kind {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(kind, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func sortByLoadThenID(agents []AgentRegistration) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Load != agents[j].Load {
			return agents[i].Load < agents[j].Load
		}
		return agents[i].NodeID < agents[j].NodeID
	})
}

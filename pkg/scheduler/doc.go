// Package scheduler generalizes the teacher's round-robin selectNode
// (fewest-containers-per-node) into capability-aware placement: it
// glob-matches a requested capability.Kind against each registered
// agent's advertised labels, drops agents whose heartbeat has gone
// stale, and breaks ties by load; monopoly-kind services additionally
// get a deterministic single winner instead of a pick among candidates.
package scheduler

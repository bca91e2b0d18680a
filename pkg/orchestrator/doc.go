// Package orchestrator generalizes the teacher's single Reconciler (a
// ticker loop that flips node/container status by direct inspection)
// into the cluster-wide reconciler of spec.md §4.4: one worker per
// capability kind family claims batches of unplaced or unconverged
// targets via storage.Store.ClaimBatch, asks pkg/scheduler for
// placement, fans Service targets out to ServiceNode targets per §4.8,
// converges target status against the actual plane, and escalates
// targets stuck past Config.StuckAfter to ERROR.
package orchestrator

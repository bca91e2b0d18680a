// Package httpapi is the one meeting point in Genesis Core where the
// in-scope universal agent talks to the out-of-scope control plane: the
// orchestrator endpoint (register, fetch, ack) and the status endpoint
// (actual push), wired to pkg/orchestrator's Assigner and
// pkg/scheduler's Registry the way the teacher's gRPC server wired
// straight into its Reconciler and scheduler.
//
// The full /v1/... CRUD surface spec.md §6 lists is an explicit external
// collaborator and isn't implemented here.
package httpapi

// Package agent implements the universal agent: the per-node daemon that
// authenticates to the user API, advertises its capability drivers to
// the orchestrator, and runs the bounded-poll reconciliation loop of
// spec.md §4.3 — fetch assigned targets, diff against ListActual per
// driver, invoke Create/Update/Delete, push the resulting actual set to
// the status endpoint.
package agent

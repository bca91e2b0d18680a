// Package metrics exposes the prometheus collectors shared across the
// reconciler, scheduler, agent, and event dispatcher, adapted from the
// teacher repo's pkg/metrics.
package metrics

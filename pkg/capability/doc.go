// Package capability defines the uniform contract capability drivers
// implement (one driver per resource kind) plus the closed, compile-time
// enumeration of kinds and the registry mapping a kind to its driver
// constructor, per spec.md §4.2 and §9 ("Design Notes").
package capability

// Package storage implements the transactional, CAS-capable resource
// store every other subsystem reads and writes through: the target/actual
// reconciliation table, the three indexed reconciliation queries, and the
// durable event outbox, backed by PostgreSQL via sqlx.
package storage

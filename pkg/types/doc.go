// Package types defines the shared resource model: the envelope every
// persistent entity carries, the target/actual reconciliation pair, and
// the typed entity schema for nodes, networks, services, load balancers,
// IAM, and secrets.
package types

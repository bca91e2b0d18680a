// Package events keeps the teacher's in-process broker/subscribe/publish
// shape but backs delivery with a durable outbox (pkg/storage) so
// publishing is at-least-once even across a process crash, per
// spec.md §4.6.
package events

import "time"

// Kind is the closed set of structured event payloads Genesis Core
// emits. Unlike the teacher's free-form EventType/Message/Metadata
// shape, each Kind here pairs with one versioned Go struct so consumers
// don't have to parse Metadata by convention.
type Kind string

const (
	KindResourceCreated     Kind = "resource.created"
	KindResourceUpdated     Kind = "resource.updated"
	KindResourceDeleted     Kind = "resource.deleted"
	KindResourceError       Kind = "resource.error"
	KindIamUserRegistration Kind = "iam.user_registration"
	KindIamUserResetPassword Kind = "iam.user_reset_password"
	KindAgentRegistered     Kind = "agent.registered"
	KindAgentHeartbeatStale Kind = "agent.heartbeat_stale"
)

// ResourceEvent is emitted on every target-plane CAS transition; Version
// is the new version after the transition.
type ResourceEvent struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// IamUserRegistration fires when a new User is created.
type IamUserRegistration struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	At       time.Time `json:"at"`
}

// IamUserResetPassword fires when a User's credential is rotated.
type IamUserResetPassword struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// AgentHeartbeatStale fires when the scheduler evicts a node whose last
// heartbeat exceeded the staleness bound.
type AgentHeartbeatStale struct {
	NodeID       string    `json:"node_id"`
	LastSeen     time.Time `json:"last_seen"`
	DetectedAt   time.Time `json:"detected_at"`
}

package types

import (
	"encoding/json"
	"time"
)

// WireResource is the agent-to-control-plane wire envelope from spec.md
// §6: {uuid, kind, project_id, version, status, spec, observed_at}. It
// carries both target fetches (orchestrator endpoint) and actual pushes
// (status endpoint) with the resource-specific payload left opaque as
// json.RawMessage so pkg/agent and pkg/transport/httpapi don't need to
// import every concrete resource type.
type WireResource struct {
	UUID       string          `json:"uuid"`
	Kind       string          `json:"kind"`
	ProjectID  string          `json:"project_id"`
	Version    int64           `json:"version"`
	Status     Status          `json:"status"`
	Spec       json.RawMessage `json:"spec"`
	ObservedAt time.Time       `json:"observed_at"`
}

// TargetFetchRequest is sent by the agent to the orchestrator endpoint to
// pull targets assigned to its advertised capability kinds.
type TargetFetchRequest struct {
	NodeID string   `json:"node_id" validate:"required"`
	Kinds  []string `json:"kinds"`
}

type TargetFetchResponse struct {
	Targets []WireResource `json:"targets"`
}

// AssignmentAck confirms the agent has claimed a batch of targets for a
// poll iteration; it's advisory bookkeeping, not a CAS operation.
type AssignmentAck struct {
	NodeID string   `json:"node_id" validate:"required"`
	IDs    []string `json:"ids"`
}

// StatusPushRequest is sent by the agent to the status endpoint after a
// reconciliation iteration; each Actual carries the target version it
// converged against.
type StatusPushRequest struct {
	NodeID  string         `json:"node_id" validate:"required"`
	Actuals []WireResource `json:"actuals"`
	SentAt  time.Time      `json:"sent_at"`
}

// RegisterRequest advertises an agent's node identity and capability
// labels (including glob wildcards such as "em_core_*") to the
// orchestrator on startup.
type RegisterRequest struct {
	NodeID       string   `json:"node_id" validate:"required"`
	Capabilities []string `json:"capabilities"`
}

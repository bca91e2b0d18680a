package types

import "time"

// Status is the closed lifecycle set every reconciled resource moves
// through: NEW -> IN_PROGRESS -> ACTIVE | ERROR, with DELETING terminal.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusActive     Status = "ACTIVE"
	StatusError      Status = "ERROR"
	StatusDeleting   Status = "DELETING"
)

// Envelope is the common header every persistent entity carries.
type Envelope struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int64     `json:"version" db:"version"`
	Status    Status    `json:"status" db:"status"`
}

// Plane distinguishes the target (desired) row from the actual (observed)
// row of a reconciliation unit. Both share Envelope.ID and ProjectID.
type Plane string

const (
	PlaneTarget Plane = "target"
	PlaneActual Plane = "actual"
)

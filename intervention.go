package caseflow

import "time"

// InterventionStatus is the lifecycle state of an intervention record.
type InterventionStatus string

const (
	InterventionPending  InterventionStatus = "PENDING"
	InterventionResolved InterventionStatus = "RESOLVED"
)

// Intervention kinds
const (
	InterventionMissingInput = "missing-input"
)

// InterventionRecord is a recorded pause awaiting externally-supplied input.
// At most one PENDING record exists per case at a time. Records are retained
// for audit after resolution.
type InterventionRecord struct {
	ID            string             `json:"id"`
	CaseID        string             `json:"case_id"`
	Kind          string             `json:"kind"`
	Reason        string             `json:"reason"`
	MissingFields []string           `json:"missing_fields"`
	Status        InterventionStatus `json:"status"`
	PollingActive bool               `json:"polling_active"`
	CreatedAt     time.Time          `json:"created_at"`
	ResolvedAt    time.Time          `json:"resolved_at,omitzero"`
}

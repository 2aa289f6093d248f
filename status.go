package caseflow

import "time"

// Status is a workflow phase label recorded in the status log.
type Status string

const (
	StatusCreated            Status = "created"
	StatusTranscriptProvided Status = "transcript-provided"
	StatusCleaned            Status = "cleaned"
	StatusSummaryGenerated   Status = "summary-generated"
	StatusValidated          Status = "validated"
	StatusValidationFailed   Status = "validation-failed"
	StatusNotified           Status = "notified"
	StatusError              Status = "error"
	StatusAwaitingInput      Status = "awaiting-input"
	StatusResumed            Status = "resumed"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// StatusEntry is one immutable row of the append-only status log. The most
// recent entry for a case is its current status.
type StatusEntry struct {
	CaseID    string    `json:"case_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

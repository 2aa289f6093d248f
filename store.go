package caseflow

import (
	"context"
	"errors"
)

// ErrCaseNotFound is returned when the named case does not exist.
var ErrCaseNotFound = errors.New("case not found")

// Store is the persistence boundary shared by the engine, the executors, and
// the polling manager. Implementations must make UpdateCase transactional:
// the mutation either commits in full or not at all, and concurrent updates
// for the same case must not interleave.
type Store interface {

	// CreateCase persists a new case.
	CreateCase(ctx context.Context, c *Case) error

	// GetCase returns the case with the given ID, or ErrCaseNotFound.
	GetCase(ctx context.Context, caseID string) (*Case, error)

	// UpdateCase applies fn to the case inside a transaction scope. The case
	// passed to fn is the current committed state; mutations made by fn are
	// committed when fn returns nil and discarded when it returns an error.
	UpdateCase(ctx context.Context, caseID string, fn func(c *Case) error) error

	// DeleteCase removes the case along with its status history, checkpoint,
	// and intervention records. Callers must stop any active poll loop first.
	DeleteCase(ctx context.Context, caseID string) error

	// CountCases returns the total number of cases.
	CountCases(ctx context.Context) (int, error)

	// AppendStatus appends one entry to the case's status log.
	AppendStatus(ctx context.Context, caseID string, status Status) error

	// LatestStatus returns the most recent status entry for the case, or nil
	// when the log is empty.
	LatestStatus(ctx context.Context, caseID string) (*StatusEntry, error)

	// StatusHistory returns all status entries for the case in append order.
	StatusHistory(ctx context.Context, caseID string) ([]*StatusEntry, error)

	// SaveCheckpoint overwrites the checkpoint for the checkpoint's case.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint loads the checkpoint for a case. Returns nil, nil when
	// no checkpoint exists.
	LoadCheckpoint(ctx context.Context, caseID string) (*Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for a case.
	DeleteCheckpoint(ctx context.Context, caseID string) error

	// CreateIntervention records a PENDING intervention unless one is already
	// pending for the case, in which case it reports created=false and leaves
	// the existing record untouched.
	CreateIntervention(ctx context.Context, record *InterventionRecord) (created bool, err error)

	// ResolveInterventions marks all PENDING interventions for the case
	// RESOLVED and clears their polling-active flag. Returns the number of
	// records resolved.
	ResolveInterventions(ctx context.Context, caseID string) (int, error)

	// SetPollingActive updates the polling-active flag on the case's PENDING
	// interventions.
	SetPollingActive(ctx context.Context, caseID string, active bool) error

	// Interventions returns all intervention records for the case, oldest
	// first.
	Interventions(ctx context.Context, caseID string) ([]*InterventionRecord, error)

	// CountPendingInterventions returns the number of PENDING interventions
	// across all cases.
	CountPendingInterventions(ctx context.Context) (int, error)
}

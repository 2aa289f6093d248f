package executors

import (
	"context"

	"github.com/deepnoodle-ai/caseflow"
)

// ValidateExecutor checks that every required discharge summary field is
// present and records validated or validation-failed accordingly. A failed
// validation is a normal outcome, not an error.
type ValidateExecutor struct{}

// NewValidateExecutor creates a new validation executor.
func NewValidateExecutor() *ValidateExecutor {
	return &ValidateExecutor{}
}

func (e *ValidateExecutor) Name() string {
	return "validate"
}

// Execute checks the summary fields and appends the resulting status.
func (e *ValidateExecutor) Execute(ctx context.Context, store caseflow.Store, caseID string) (caseflow.Status, error) {
	c, err := store.GetCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	if c.Summary == nil {
		return "", caseflow.NewPreconditionError("discharge summary has not been generated", "summary")
	}

	status := caseflow.StatusValidated
	if len(MissingSummaryFields(c)) > 0 {
		status = caseflow.StatusValidationFailed
	}
	if err := store.AppendStatus(ctx, caseID, status); err != nil {
		return "", caseflow.NewPersistenceError(err)
	}
	return status, nil
}

// MissingSummaryFields names the summary fields a case is still missing.
func MissingSummaryFields(c *caseflow.Case) []string {
	var missing []string
	if c.Summary == nil || len(c.Summary.History) == 0 {
		missing = append(missing, "history")
	}
	if c.Summary == nil || len(c.Summary.Diagnosis) == 0 {
		missing = append(missing, "diagnosis")
	}
	if c.Summary == nil || trim(c.Summary.ExamFindings) == "" {
		missing = append(missing, "exam_findings")
	}
	if len(c.Medications) == 0 {
		missing = append(missing, "medications")
	}
	if c.Summary == nil || trim(c.Summary.FollowUp) == "" {
		missing = append(missing, "follow_up_instructions")
	}
	return missing
}

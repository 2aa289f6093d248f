package executors

import (
	"context"

	"github.com/deepnoodle-ai/caseflow"
)

// ErrorExecutor is the handler invoked when the oracle selects the error
// action. It records the error status without mutating any derived state so
// the machine can re-decide from a known position.
type ErrorExecutor struct{}

// NewErrorExecutor creates a new error handling executor.
func NewErrorExecutor() *ErrorExecutor {
	return &ErrorExecutor{}
}

func (e *ErrorExecutor) Name() string {
	return string(caseflow.ActionError)
}

func (e *ErrorExecutor) Execute(ctx context.Context, store caseflow.Store, caseID string) (caseflow.Status, error) {
	if err := store.AppendStatus(ctx, caseID, caseflow.StatusError); err != nil {
		return "", caseflow.NewPersistenceError(err)
	}
	return caseflow.StatusError, nil
}

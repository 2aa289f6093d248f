package executors

import (
	"context"

	"github.com/deepnoodle-ai/caseflow"
)

// NotifyExecutor records that the clinician was notified the discharge
// summary is ready for review. Delivery itself is out of band; this executor
// only appends the notified status so the decision loop can observe it.
type NotifyExecutor struct{}

// NewNotifyExecutor creates a new notification executor.
func NewNotifyExecutor() *NotifyExecutor {
	return &NotifyExecutor{}
}

func (e *NotifyExecutor) Name() string {
	return "notify"
}

func (e *NotifyExecutor) Execute(ctx context.Context, store caseflow.Store, caseID string) (caseflow.Status, error) {
	c, err := store.GetCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	if c.Summary == nil {
		return "", caseflow.NewPreconditionError("nothing to notify about: summary not generated", "summary")
	}
	if err := store.AppendStatus(ctx, caseID, caseflow.StatusNotified); err != nil {
		return "", caseflow.NewPersistenceError(err)
	}
	return caseflow.StatusNotified, nil
}

package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/caseflow"
)

// CleanupExecutor normalizes the raw transcript into the cleaned transcript.
// Re-running it on an already-cleaned case is a no-op that still succeeds.
type CleanupExecutor struct{}

// NewCleanupExecutor creates a new cleanup executor.
func NewCleanupExecutor() *CleanupExecutor {
	return &CleanupExecutor{}
}

func (e *CleanupExecutor) Name() string {
	return "cleanup"
}

// Execute trims and collapses the raw transcript into the cleaned field.
func (e *CleanupExecutor) Execute(ctx context.Context, store caseflow.Store, caseID string) (caseflow.Status, error) {
	err := store.UpdateCase(ctx, caseID, func(c *caseflow.Case) error {
		if !c.HasTranscript() {
			return caseflow.NewPreconditionError("raw transcript is missing or too short", "raw_transcript")
		}
		c.CleanedTranscript = cleanTranscript(c.RawTranscript)
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := store.AppendStatus(ctx, caseID, caseflow.StatusCleaned); err != nil {
		return "", caseflow.NewPersistenceError(err)
	}
	return caseflow.StatusCleaned, nil
}

// cleanTranscript trims surrounding whitespace and collapses internal runs of
// whitespace to single spaces.
func cleanTranscript(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

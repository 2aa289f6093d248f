// Package executors provides the discharge-summary action executors: each is
// one idempotent unit of work bound to a node of the workflow state machine.
package executors

import (
	"github.com/deepnoodle-ai/caseflow"
)

// All returns the full executor set for the discharge-summary workflow.
func All(client caseflow.ChatClient) []caseflow.Executor {
	return []caseflow.Executor{
		NewCleanupExecutor(),
		NewSummarizeExecutor(client),
		NewValidateExecutor(),
		NewNotifyExecutor(),
		NewErrorExecutor(),
	}
}

// DecisionGuidance is the routing policy handed to the LLM oracle for the
// discharge-summary workflow.
const DecisionGuidance = `- If there is no raw transcript (fact has_raw_transcript is false): choose "wait"
- If the raw transcript has just arrived after waiting: choose "resolve_intervention" once, then move on
- If a raw transcript exists but there is no cleaned transcript: choose "cleanup"
- If cleaned but there is no summary: choose "summarize"
- After summarize: choose "validate"
- After validate: choose "notify"
- Once every step is done: choose "complete"`

func normalizeStrings(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if s := trim(v); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		var out []string
		for _, item := range v {
			if item == nil {
				continue
			}
			if s := trim(stringify(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := trim(stringify(v)); s != "" {
			return []string{s}
		}
		return nil
	}
}

package caseflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LLMOracleOptions configures an LLMOracle.
type LLMOracleOptions struct {
	Client ChatClient

	// Actions is the full enumerated action set presented to the model,
	// typically engine.ActionSet(). Required.
	Actions []Action

	// Guidance is optional extra decision rules appended to the prompt.
	Guidance string
}

// LLMOracle asks an LLM to choose the next action. The model is untrusted:
// parse failures and unknown labels are mapped to the error action rather
// than returned as Go errors, so a misbehaving model never aborts a run.
type LLMOracle struct {
	client   ChatClient
	actions  []Action
	guidance string
}

// NewLLMOracle creates a new LLM-backed decision oracle.
func NewLLMOracle(opts LLMOracleOptions) (*LLMOracle, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if len(opts.Actions) == 0 {
		return nil, fmt.Errorf("action set is required")
	}
	return &LLMOracle{
		client:   opts.Client,
		actions:  opts.Actions,
		guidance: opts.Guidance,
	}, nil
}

// Decide sends the decision context to the model and parses its response.
// Exactly one model call is made per decide step.
func (o *LLMOracle) Decide(ctx context.Context, dc *DecisionContext) (*Decision, error) {
	response, err := o.client.Complete(ctx, o.buildPrompt(dc))
	if err != nil {
		return &Decision{
			Action:    ActionError,
			Reasoning: fmt.Sprintf("oracle call failed: %v", err),
		}, nil
	}
	decision, err := ParseDecision(response)
	if err != nil {
		return &Decision{
			Action:    ActionError,
			Reasoning: fmt.Sprintf("failed to parse oracle response: %v", err),
		}, nil
	}
	return decision, nil
}

func (o *LLMOracle) buildPrompt(dc *DecisionContext) string {
	var b strings.Builder
	b.WriteString("You are the central orchestrator for a case workflow.\n\n")

	fmt.Fprintf(&b, "CURRENT STATE:\n- Case ID: %s\n- Current Status: %s\n", dc.CaseID, dc.Status)
	for _, key := range sortedFactKeys(dc.Facts) {
		fmt.Fprintf(&b, "- %s: %v\n", key, dc.Facts[key])
	}

	completed := "None"
	if len(dc.Completed) > 0 {
		completed = strings.Join(dc.Completed, ", ")
	}
	fmt.Fprintf(&b, "- Completed Actions: %s\n", completed)

	if len(dc.Trace) > 0 {
		fmt.Fprintf(&b, "\nWORKFLOW HISTORY: %s\n", strings.Join(dc.Trace, " | "))
	}

	b.WriteString("\nAVAILABLE ACTIONS:\n")
	for i, action := range o.actions {
		fmt.Fprintf(&b, "%d. %q\n", i+1, action)
	}

	if o.guidance != "" {
		b.WriteString("\nDECISION RULES:\n")
		b.WriteString(o.guidance)
		b.WriteString("\n")
	}

	b.WriteString(`
Analyze the current state and choose the single next best action.
Do not repeat completed actions.

Respond with ONLY a JSON object:
{
    "action": "one of the actions above",
    "reasoning": "brief explanation"
}

No markdown formatting.
`)
	return b.String()
}

func sortedFactKeys(facts map[string]any) []string {
	keys := make([]string, 0, len(facts))
	for key := range facts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

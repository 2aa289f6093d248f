package caseflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Action is a label in the engine's enumerated action set: the built-in
// routing labels below plus the name of every registered executor.
type Action string

const (
	// ActionWait parks the workflow until missing input is supplied. The
	// polling manager takes over and re-drives the engine.
	ActionWait Action = "wait"

	// ActionResolveIntervention resolves pending interventions and stops the
	// poll loop once the awaited input has arrived.
	ActionResolveIntervention Action = "resolve_intervention"

	// ActionError routes to the error-handling executor and then re-decides.
	ActionError Action = "error"

	// ActionComplete terminates the run successfully.
	ActionComplete Action = "complete"
)

// ReentrantActions may be chosen again even when already present in the
// completed-action set. Resolving interventions is idempotent, so a case
// that parks twice can resolve twice.
var ReentrantActions = map[Action]bool{
	ActionWait:                true,
	ActionResolveIntervention: true,
	ActionError:               true,
	ActionComplete:            true,
}

// Decision is the oracle's answer for one decide step.
type Decision struct {
	Action    Action `json:"action"`
	Reasoning string `json:"reasoning"`
}

// DecisionContext is the snapshot handed to the oracle: the current status,
// presence/size facts about the case's inputs and derived fields, the set of
// completed actions, and a bounded window of recent trace messages.
type DecisionContext struct {
	CaseID    string         `json:"case_id"`
	Status    Status         `json:"status"`
	Facts     map[string]any `json:"facts"`
	Completed []string       `json:"completed_actions"`
	Trace     []string       `json:"trace"`
}

// Oracle chooses the next action for a case. Implementations are untrusted:
// the engine validates the returned label and enforces the anti-repeat guard
// itself. One call per decide step; transport-level retries belong to the
// implementation, not the engine.
type Oracle interface {
	Decide(ctx context.Context, dc *DecisionContext) (*Decision, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, dc *DecisionContext) (*Decision, error)

func (f OracleFunc) Decide(ctx context.Context, dc *DecisionContext) (*Decision, error) {
	return f(ctx, dc)
}

// ExtractJSONObject returns the first well-formed top-level JSON object found
// in text, tolerating surrounding prose and markdown fences. It scans for a
// balanced brace pair rather than trusting the response to be pure JSON.
func ExtractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("extracted object is not valid JSON")
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// ParseDecision extracts a Decision from a free-form oracle response. The
// response is expected to contain one JSON object with "action" and
// "reasoning" keys, possibly surrounded by prose.
func ParseDecision(response string) (*Decision, error) {
	raw, err := ExtractJSONObject(response)
	if err != nil {
		return nil, err
	}
	var decision Decision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	decision.Action = Action(strings.TrimSpace(strings.ToLower(string(decision.Action))))
	if decision.Action == "" {
		return nil, fmt.Errorf("decision is missing an action")
	}
	if decision.Reasoning == "" {
		decision.Reasoning = "no reasoning provided"
	}
	return &decision, nil
}

package caseflow

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/caseflow/script"
)

// ScriptOracle evaluates a user-supplied Risor script to choose the next
// action. The script sees the globals `status`, `facts`, `completed`, and
// `trace`, and must return either an action string or a map with "action"
// and "reasoning" keys. Useful for deterministic routing policies and for
// testing engine behavior without a live model.
type ScriptOracle struct {
	compiled script.Script
}

// NewScriptOracle compiles the decision script.
func NewScriptOracle(ctx context.Context, code string) (*ScriptOracle, error) {
	engine := script.NewRisorEngine(map[string]any{
		"status":    "",
		"facts":     map[string]any{},
		"completed": []any{},
		"trace":     []any{},
	})
	compiled, err := engine.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile decision script: %w", err)
	}
	return &ScriptOracle{compiled: compiled}, nil
}

// Decide evaluates the script against the decision context.
func (o *ScriptOracle) Decide(ctx context.Context, dc *DecisionContext) (*Decision, error) {
	completed := make([]any, len(dc.Completed))
	for i, action := range dc.Completed {
		completed[i] = action
	}
	trace := make([]any, len(dc.Trace))
	for i, msg := range dc.Trace {
		trace[i] = msg
	}
	facts := dc.Facts
	if facts == nil {
		facts = map[string]any{}
	}

	value, err := o.compiled.Evaluate(ctx, map[string]any{
		"status":    string(dc.Status),
		"facts":     facts,
		"completed": completed,
		"trace":     trace,
	})
	if err != nil {
		return &Decision{
			Action:    ActionError,
			Reasoning: fmt.Sprintf("decision script failed: %v", err),
		}, nil
	}

	switch result := value.Value().(type) {
	case string:
		return &Decision{Action: Action(result), Reasoning: "decision script"}, nil
	case map[string]any:
		action, _ := result["action"].(string)
		if action == "" {
			return &Decision{
				Action:    ActionError,
				Reasoning: "decision script returned no action",
			}, nil
		}
		reasoning, _ := result["reasoning"].(string)
		if reasoning == "" {
			reasoning = "decision script"
		}
		return &Decision{Action: Action(action), Reasoning: reasoning}, nil
	default:
		return &Decision{
			Action:    ActionError,
			Reasoning: fmt.Sprintf("decision script returned unsupported type %T", result),
		}, nil
	}
}

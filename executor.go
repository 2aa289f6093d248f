package caseflow

import (
	"context"
)

// Executor is one idempotent unit of business work bound to a single node of
// the state machine. Running an executor twice against the same persisted
// case state yields the same persisted result and the same returned status.
//
// Executors read only the fields they need, fail fast with a typed
// precondition error when a required input is absent, write derived fields
// through Store.UpdateCase, and append exactly one StatusEntry. They never
// call the decision oracle and know nothing about routing.
type Executor interface {

	// Name returns the action label this executor is registered under.
	Name() string

	// Execute performs the unit of work for the given case and returns the
	// status it recorded.
	Execute(ctx context.Context, store Store, caseID string) (Status, error)
}

// ExecutorRegistry is a map of action labels to executors
type ExecutorRegistry map[string]Executor

// ExecutorFunc is a function that can be used as an executor
type ExecutorFunc struct {
	name string
	fn   func(ctx context.Context, store Store, caseID string) (Status, error)
}

// NewExecutorFunc creates a new ExecutorFunc
func NewExecutorFunc(name string, fn func(ctx context.Context, store Store, caseID string) (Status, error)) *ExecutorFunc {
	return &ExecutorFunc{name: name, fn: fn}
}

func (e *ExecutorFunc) Name() string {
	return e.name
}

func (e *ExecutorFunc) Execute(ctx context.Context, store Store, caseID string) (Status, error) {
	return e.fn(ctx, store, caseID)
}

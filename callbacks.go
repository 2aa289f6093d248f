package caseflow

import (
	"context"
	"time"
)

// RunCallbacks defines hooks invoked during an engine run. All methods are
// called synchronously on the engine goroutine.
type RunCallbacks interface {

	// AfterDecision is called after each oracle decision has been validated
	// and guarded.
	AfterDecision(ctx context.Context, event *DecisionEvent)

	// AfterExecutor is called after each executor invocation.
	AfterExecutor(ctx context.Context, event *ExecutorEvent)

	// AfterRun is called once when the run reaches a terminal or
	// soft-terminal state.
	AfterRun(ctx context.Context, result *RunResult)
}

// DecisionEvent provides context for a single decide step
type DecisionEvent struct {
	CaseID    string
	Step      int
	Action    Action
	Reasoning string
	Forced    bool // true when the repeat guard overrode the oracle
}

// ExecutorEvent provides context for a single executor invocation
type ExecutorEvent struct {
	CaseID    string
	Executor  string
	Status    Status
	StartTime time.Time
	Duration  time.Duration
	Error     error
}

// BaseRunCallbacks provides a default implementation that does nothing
type BaseRunCallbacks struct{}

func (b *BaseRunCallbacks) AfterDecision(ctx context.Context, event *DecisionEvent) {
	// noop
}

func (b *BaseRunCallbacks) AfterExecutor(ctx context.Context, event *ExecutorEvent) {
	// noop
}

func (b *BaseRunCallbacks) AfterRun(ctx context.Context, result *RunResult) {
	// noop
}

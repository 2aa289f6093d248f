package caseflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RepeatPolicy controls what happens when the oracle chooses an action that
// is already in the completed set and is not re-entrant.
type RepeatPolicy string

const (
	// RepeatForceComplete treats the repeat as a signal that the workflow is
	// done and forces the complete action. Can mask oracle mistakes.
	RepeatForceComplete RepeatPolicy = "force-complete"

	// RepeatTreatAsError routes the repeat to the error handler and
	// re-decides.
	RepeatTreatAsError RepeatPolicy = "treat-as-error"
)

// DefaultMaxSteps is the default hard ceiling on decide/act iterations per
// run.
const DefaultMaxSteps = 40

// FactsFunc derives the presence/size facts about a case that are handed to
// the oracle in the decision context.
type FactsFunc func(c *Case) map[string]any

// MissingFieldsFunc names the input fields a case is still missing. An empty
// result means every required input is present.
type MissingFieldsFunc func(c *Case) []string

// InterventionRaiser opens an intervention record and arms the polling loop
// for a case. Implemented by the polling Manager.
type InterventionRaiser interface {
	Raise(ctx context.Context, caseID, kind, reason string, missingFields []string) error
	Stop(caseID string)
}

// RunResult describes the outcome of a single engine invocation. The full
// trace lets a caller reconstruct the path taken.
type RunResult struct {
	RunID      string   `json:"run_id"`
	CaseID     string   `json:"case_id"`
	State      RunState `json:"state"`
	LastAction Action   `json:"last_action,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Trace      []string `json:"trace"`
	Steps      int      `json:"steps"`
	Diagnostic string   `json:"diagnostic,omitempty"`
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Store         Store
	Oracle        Oracle
	Executors     []Executor
	Interventions InterventionRaiser
	Logger        *slog.Logger
	Callbacks     RunCallbacks
	MaxSteps      int
	RepeatPolicy  RepeatPolicy
	Facts         FactsFunc
	MissingFields MissingFieldsFunc
	TraceWindow   int
}

// Engine drives the per-case state machine: one decide node (the oracle)
// plus one node per registered executor, with every non-terminal action
// looping back to decide. State is checkpointed after every step so a crashed
// or parked run resumes where it left off.
//
// A per-case mutex serializes trigger runs and polling resumes for the same
// case, so status log writes for a case are totally ordered.
type Engine struct {
	store         Store
	oracle        Oracle
	executors     ExecutorRegistry
	interventions InterventionRaiser
	logger        *slog.Logger
	callbacks     RunCallbacks
	maxSteps      int
	repeatPolicy  RepeatPolicy
	facts         FactsFunc
	missingFields MissingFieldsFunc
	traceWindow   int

	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a new workflow engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if len(opts.Executors) == 0 {
		return nil, fmt.Errorf("executors are required")
	}
	if opts.Logger == nil {
		opts.Logger = NewSilentLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseRunCallbacks{}
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.RepeatPolicy == "" {
		opts.RepeatPolicy = RepeatForceComplete
	}
	if opts.Facts == nil {
		opts.Facts = DefaultFacts
	}
	if opts.MissingFields == nil {
		opts.MissingFields = DefaultMissingFields
	}
	if opts.TraceWindow <= 0 {
		opts.TraceWindow = 10
	}

	executors := make(ExecutorRegistry, len(opts.Executors))
	for _, executor := range opts.Executors {
		name := executor.Name()
		if name == "" {
			return nil, fmt.Errorf("executor name required")
		}
		// The error label names both a routing action and its optional
		// handler; every other built-in label is reserved.
		if isBuiltinAction(Action(name)) && Action(name) != ActionError {
			return nil, fmt.Errorf("executor name %q collides with a built-in action", name)
		}
		if _, exists := executors[name]; exists {
			return nil, fmt.Errorf("duplicate executor %q", name)
		}
		executors[name] = executor
	}

	return &Engine{
		store:         opts.Store,
		oracle:        opts.Oracle,
		executors:     executors,
		interventions: opts.Interventions,
		logger:        opts.Logger,
		callbacks:     opts.Callbacks,
		maxSteps:      opts.MaxSteps,
		repeatPolicy:  opts.RepeatPolicy,
		facts:         opts.Facts,
		missingFields: opts.MissingFields,
		traceWindow:   opts.TraceWindow,
		locks:         map[string]*sync.Mutex{},
	}, nil
}

// ActionSet returns the full enumerated action set: built-in routing labels
// plus registered executor names, sorted for stable prompts.
func (e *Engine) ActionSet() []Action {
	actions := []Action{ActionWait, ActionResolveIntervention, ActionError, ActionComplete}
	names := make([]string, 0, len(e.executors))
	for name := range e.executors {
		if isBuiltinAction(Action(name)) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		actions = append(actions, Action(name))
	}
	return actions
}

func isBuiltinAction(a Action) bool {
	switch a {
	case ActionWait, ActionResolveIntervention, ActionError, ActionComplete:
		return true
	}
	return false
}

func (e *Engine) validAction(a Action) bool {
	if isBuiltinAction(a) {
		return true
	}
	_, ok := e.executors[string(a)]
	return ok
}

// caseLock returns the mutex guarding the named case, creating it on first
// use. One lock per case id enforces the single-writer invariant.
func (e *Engine) caseLock(caseID string) *sync.Mutex {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	lock, ok := e.locks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[caseID] = lock
	}
	return lock
}

// Run drives the case's workflow until it reaches a terminal state: completed,
// failed, or awaiting-intervention (soft terminal, resumable). The seed
// message is recorded in the checkpoint trace.
//
// Persistence failures are returned as errors and leave the case at its last
// committed checkpoint. All other failures are absorbed into the state
// machine and reflected in the returned result.
func (e *Engine) Run(ctx context.Context, caseID, seedMessage string) (*RunResult, error) {
	lock := e.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	logger := e.logger.With("case_id", caseID)

	if _, err := e.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}

	checkpoint, err := e.store.LoadCheckpoint(ctx, caseID)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	if checkpoint == nil {
		checkpoint = NewCheckpoint(caseID)
		checkpoint.Trace("workflow started")
	}

	result := &RunResult{RunID: NewRunID(), CaseID: caseID}

	if checkpoint.State == RunStateComplete {
		logger.Info("run requested for already completed case")
		result.State = RunStateComplete
		result.Trace = append([]string(nil), checkpoint.Messages...)
		return result, nil
	}

	resuming := checkpoint.State == RunStateAwaiting
	checkpoint.State = RunStateRunning
	checkpoint.Error = ""
	if seedMessage != "" {
		checkpoint.Trace(seedMessage)
	}
	if resuming {
		checkpoint.Trace("resuming from checkpoint")
		if err := e.appendStatus(ctx, caseID, StatusResumed); err != nil {
			return nil, err
		}
	}
	if err := e.saveCheckpoint(ctx, checkpoint); err != nil {
		return nil, err
	}

	logger.Info("engine run started", "run_id", result.RunID, "resuming", resuming)

	for step := 0; step < e.maxSteps; step++ {
		checkpoint.Steps++
		result.Steps++

		decision, err := e.decide(ctx, checkpoint)
		if err != nil {
			return nil, err
		}

		action, forced := e.guard(checkpoint, decision, logger)
		checkpoint.LastAction = action
		checkpoint.LastReasoning = decision.Reasoning
		checkpoint.Trace(fmt.Sprintf("decision: %s (%s)", action, decision.Reasoning))

		e.callbacks.AfterDecision(ctx, &DecisionEvent{
			CaseID:    caseID,
			Step:      checkpoint.Steps,
			Action:    action,
			Reasoning: decision.Reasoning,
			Forced:    forced,
		})

		switch action {
		case ActionComplete:
			checkpoint.State = RunStateComplete
			checkpoint.Trace("workflow completed")
			if err := e.appendStatus(ctx, caseID, StatusCompleted); err != nil {
				return nil, err
			}
			if err := e.saveCheckpoint(ctx, checkpoint); err != nil {
				return nil, err
			}
			logger.Info("workflow completed", "steps", checkpoint.Steps)
			return e.finish(ctx, result, checkpoint), nil

		case ActionWait:
			if err := e.park(ctx, checkpoint, decision); err != nil {
				return nil, err
			}
			logger.Info("workflow parked awaiting input")
			return e.finish(ctx, result, checkpoint), nil

		case ActionResolveIntervention:
			if _, err := e.store.ResolveInterventions(ctx, caseID); err != nil {
				return nil, NewPersistenceError(err)
			}
			if e.interventions != nil {
				e.interventions.Stop(caseID)
			}
			checkpoint.MarkCompleted(action)
			checkpoint.Trace("interventions resolved, polling stopped")
			if err := e.saveCheckpoint(ctx, checkpoint); err != nil {
				return nil, err
			}

		case ActionError:
			if err := e.handleError(ctx, checkpoint, decision.Reasoning); err != nil {
				return nil, err
			}

		default:
			if err := e.execute(ctx, checkpoint, action, logger); err != nil {
				return nil, err
			}
		}
	}

	// Loop guard: the oracle never reached a terminal action.
	diagnostic := fmt.Sprintf("step ceiling reached after %d iterations, forcing termination", e.maxSteps)
	checkpoint.State = RunStateFailed
	checkpoint.Error = diagnostic
	checkpoint.Trace(diagnostic)
	if err := e.appendStatus(ctx, caseID, StatusFailed); err != nil {
		return nil, err
	}
	if err := e.saveCheckpoint(ctx, checkpoint); err != nil {
		return nil, err
	}
	logger.Warn("loop guard tripped", "max_steps", e.maxSteps)
	result.Diagnostic = diagnostic
	return e.finish(ctx, result, checkpoint), nil
}

// decide builds the decision context from current persisted state and asks
// the oracle. Oracle transport failures and invalid labels degrade to the
// error action rather than aborting the run.
func (e *Engine) decide(ctx context.Context, checkpoint *Checkpoint) (*Decision, error) {
	c, err := e.store.GetCase(ctx, checkpoint.CaseID)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	latest, err := e.store.LatestStatus(ctx, checkpoint.CaseID)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	status := Status("unknown")
	if latest != nil {
		status = latest.Status
	}

	dc := &DecisionContext{
		CaseID:    checkpoint.CaseID,
		Status:    status,
		Facts:     e.facts(c),
		Completed: append([]string(nil), checkpoint.Completed...),
		Trace:     checkpoint.RecentMessages(e.traceWindow),
	}

	decision, err := e.oracle.Decide(ctx, dc)
	if err != nil {
		return &Decision{
			Action:    ActionError,
			Reasoning: fmt.Sprintf("oracle failed: %v", err),
		}, nil
	}
	if decision == nil {
		return &Decision{Action: ActionError, Reasoning: "oracle returned no decision"}, nil
	}
	if !e.validAction(decision.Action) {
		return &Decision{
			Action:    ActionError,
			Reasoning: fmt.Sprintf("oracle chose unknown action %q", decision.Action),
		}, nil
	}
	return decision, nil
}

// guard enforces the anti-repeat rule on the validated decision.
func (e *Engine) guard(checkpoint *Checkpoint, decision *Decision, logger *slog.Logger) (Action, bool) {
	action := decision.Action
	if !checkpoint.IsCompleted(action) || ReentrantActions[action] {
		return action, false
	}
	switch e.repeatPolicy {
	case RepeatTreatAsError:
		logger.Warn("oracle repeated a completed action", "action", action)
		decision.Reasoning = fmt.Sprintf("action %q already completed", action)
		return ActionError, true
	default:
		logger.Info("oracle repeated a completed action, forcing completion", "action", action)
		decision.Reasoning = fmt.Sprintf("action %q already completed, treating workflow as done", action)
		return ActionComplete, true
	}
}

// park hands the case off to the polling manager and records the
// awaiting-intervention soft-terminal state.
func (e *Engine) park(ctx context.Context, checkpoint *Checkpoint, decision *Decision) error {
	caseID := checkpoint.CaseID

	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return NewPersistenceError(err)
	}
	missing := e.missingFields(c)
	if len(missing) == 0 {
		missing = []string{"unspecified"}
	}

	if e.interventions != nil {
		reason := decision.Reasoning
		if reason == "" {
			reason = fmt.Sprintf("missing required input: %v", missing)
		}
		if err := e.interventions.Raise(ctx, caseID, InterventionMissingInput, reason, missing); err != nil {
			return err
		}
	}

	checkpoint.State = RunStateAwaiting
	checkpoint.Trace(fmt.Sprintf("waiting for input: %v", missing))
	if err := e.appendStatus(ctx, caseID, StatusAwaitingInput); err != nil {
		return err
	}
	return e.saveCheckpoint(ctx, checkpoint)
}

// handleError routes to the error-handling executor when one is registered,
// then returns control to the decide loop.
func (e *Engine) handleError(ctx context.Context, checkpoint *Checkpoint, reason string) error {
	caseID := checkpoint.CaseID
	if executor, ok := e.executors[string(ActionError)]; ok {
		if _, err := executor.Execute(ctx, e.store, caseID); err != nil && !IsRecoverable(err) {
			return err
		}
	} else {
		if err := e.appendStatus(ctx, caseID, StatusError); err != nil {
			return err
		}
	}
	checkpoint.Trace(fmt.Sprintf("error handled: %s", reason))
	return e.saveCheckpoint(ctx, checkpoint)
}

// execute invokes the executor bound to the action label and records the
// outcome. Recoverable executor failures feed back into the decide loop.
func (e *Engine) execute(ctx context.Context, checkpoint *Checkpoint, action Action, logger *slog.Logger) error {
	caseID := checkpoint.CaseID
	executor := e.executors[string(action)]

	startTime := time.Now()
	status, execErr := executor.Execute(ctx, e.store, caseID)
	duration := time.Since(startTime)

	e.callbacks.AfterExecutor(ctx, &ExecutorEvent{
		CaseID:    caseID,
		Executor:  executor.Name(),
		Status:    status,
		StartTime: startTime,
		Duration:  duration,
		Error:     execErr,
	})

	if execErr != nil {
		if !IsRecoverable(execErr) {
			checkpoint.Trace(fmt.Sprintf("executor %s aborted: %v", action, execErr))
			// Best-effort checkpoint; the persistence error wins either way.
			_ = e.saveCheckpoint(ctx, checkpoint)
			return execErr
		}
		logger.Warn("executor failed", "executor", executor.Name(), "error", execErr)
		checkpoint.Trace(fmt.Sprintf("executor %s failed: %v", action, execErr))
		if err := e.appendStatus(ctx, caseID, StatusError); err != nil {
			return err
		}
		return e.saveCheckpoint(ctx, checkpoint)
	}

	checkpoint.MarkCompleted(action)
	checkpoint.Trace(fmt.Sprintf("executed %s: %s", action, status))
	logger.Info("executor completed", "executor", executor.Name(), "status", status, "duration", duration)
	return e.saveCheckpoint(ctx, checkpoint)
}

func (e *Engine) appendStatus(ctx context.Context, caseID string, status Status) error {
	if err := e.store.AppendStatus(ctx, caseID, status); err != nil {
		return NewPersistenceError(err)
	}
	return nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	if err := e.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return NewPersistenceError(err)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, result *RunResult, checkpoint *Checkpoint) *RunResult {
	result.State = checkpoint.State
	result.LastAction = checkpoint.LastAction
	result.Reasoning = checkpoint.LastReasoning
	result.Trace = append([]string(nil), checkpoint.Messages...)
	e.callbacks.AfterRun(ctx, result)
	return result
}

// DefaultFacts derives presence and size facts from the case for the oracle.
func DefaultFacts(c *Case) map[string]any {
	return map[string]any{
		"has_raw_transcript":     c.HasTranscript(),
		"raw_transcript_chars":   len(trimmed(c.RawTranscript)),
		"has_cleaned_transcript": trimmed(c.CleanedTranscript) != "",
		"has_summary":            c.HasSummary(),
		"medication_count":       len(c.Medications),
	}
}

// DefaultMissingFields reports the raw transcript as missing until it meets
// the minimum length.
func DefaultMissingFields(c *Case) []string {
	if !c.HasTranscript() {
		return []string{"raw_transcript"}
	}
	return nil
}

package caseflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CaseState is the full observable state of a case: the case record, its
// status history, intervention records, checkpoint trace, and whether a poll
// loop is active.
type CaseState struct {
	Case          *Case                 `json:"case"`
	Status        Status                `json:"status"`
	History       []*StatusEntry        `json:"history"`
	Interventions []*InterventionRecord `json:"interventions"`
	Trace         []string              `json:"trace,omitempty"`
	RunState      RunState              `json:"run_state,omitempty"`
	PollingActive bool                  `json:"polling_active"`
}

// Statistics summarizes the orchestrator's workload.
type Statistics struct {
	Cases                int      `json:"cases"`
	PendingInterventions int      `json:"pending_interventions"`
	ActivePolls          int      `json:"active_polls"`
	PollingCases         []string `json:"polling_cases,omitempty"`
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Store     Store
	Oracle    Oracle
	Executors []Executor
	Logger    *slog.Logger

	// Engine tuning, all optional
	MaxSteps      int
	RepeatPolicy  RepeatPolicy
	Facts         FactsFunc
	MissingFields MissingFieldsFunc
	Callbacks     RunCallbacks

	// Polling tuning, all optional
	PollInterval time.Duration
	MaxPolls     int
}

// Service is the orchestrator's external surface: it wires the engine and
// the polling manager together and exposes the operations a trigger layer
// (an API, a CLI) calls.
type Service struct {
	store   Store
	engine  *Engine
	manager *Manager
	logger  *slog.Logger
}

// NewService wires a Store, an Oracle, and a set of Executors into a running
// orchestrator.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = NewSilentLogger()
	}
	missingFields := opts.MissingFields
	if missingFields == nil {
		missingFields = DefaultMissingFields
	}

	manager, err := NewManager(ManagerOptions{
		Store:  opts.Store,
		Logger: opts.Logger,
		Ready: func(ctx context.Context, caseID string) (bool, error) {
			c, err := opts.Store.GetCase(ctx, caseID)
			if err != nil {
				return false, err
			}
			return len(missingFields(c)) == 0, nil
		},
		Interval: opts.PollInterval,
		MaxPolls: opts.MaxPolls,
	})
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(EngineOptions{
		Store:         opts.Store,
		Oracle:        opts.Oracle,
		Executors:     opts.Executors,
		Interventions: manager,
		Logger:        opts.Logger,
		Callbacks:     opts.Callbacks,
		MaxSteps:      opts.MaxSteps,
		RepeatPolicy:  opts.RepeatPolicy,
		Facts:         opts.Facts,
		MissingFields: missingFields,
	})
	if err != nil {
		return nil, err
	}
	manager.Bind(engine.Run)

	return &Service{
		store:   opts.Store,
		engine:  engine,
		manager: manager,
		logger:  opts.Logger,
	}, nil
}

// Engine returns the underlying workflow engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Manager returns the underlying polling manager.
func (s *Service) Manager() *Manager {
	return s.manager
}

// CreateCase persists a new case and records its created status.
func (s *Service) CreateCase(ctx context.Context, c *Case) error {
	if err := s.store.CreateCase(ctx, c); err != nil {
		return err
	}
	if err := s.store.AppendStatus(ctx, c.ID, StatusCreated); err != nil {
		return NewPersistenceError(err)
	}
	s.logger.Info("case created", "case_id", c.ID, "has_transcript", c.HasTranscript())
	return nil
}

// Run starts or resumes the workflow for a case.
func (s *Service) Run(ctx context.Context, caseID, seedMessage string) (*RunResult, error) {
	if seedMessage == "" {
		seedMessage = "run requested"
	}
	return s.engine.Run(ctx, caseID, seedMessage)
}

// ProvideTranscript supplies the missing raw transcript for a parked case.
// The active poll loop detects the new input within one polling interval and
// resumes the workflow; no explicit resume call is needed.
func (s *Service) ProvideTranscript(ctx context.Context, caseID, transcript string) error {
	err := s.store.UpdateCase(ctx, caseID, func(c *Case) error {
		c.RawTranscript = transcript
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.store.AppendStatus(ctx, caseID, StatusTranscriptProvided); err != nil {
		return NewPersistenceError(err)
	}
	s.logger.Info("transcript provided", "case_id", caseID, "chars", len(transcript))
	return nil
}

// GetCaseState returns the case along with its status history, interventions,
// checkpoint trace, and polling state.
func (s *Service) GetCaseState(ctx context.Context, caseID string) (*CaseState, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.StatusHistory(ctx, caseID)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	interventions, err := s.store.Interventions(ctx, caseID)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	checkpoint, err := s.store.LoadCheckpoint(ctx, caseID)
	if err != nil {
		return nil, NewPersistenceError(err)
	}

	state := &CaseState{
		Case:          c,
		History:       history,
		Interventions: interventions,
		PollingActive: s.manager.Active(caseID),
	}
	if len(history) > 0 {
		state.Status = history[len(history)-1].Status
	}
	if checkpoint != nil {
		state.Trace = checkpoint.Messages
		state.RunState = checkpoint.State
	}
	return state, nil
}

// DeleteCase removes a case. The poll loop is stopped and the checkpoint
// cancelled before the case record is deleted.
func (s *Service) DeleteCase(ctx context.Context, caseID string) error {
	s.manager.Stop(caseID)
	if err := s.store.DeleteCheckpoint(ctx, caseID); err != nil {
		return NewPersistenceError(err)
	}
	if err := s.store.DeleteCase(ctx, caseID); err != nil {
		return err
	}
	s.logger.Info("case deleted", "case_id", caseID)
	return nil
}

// StopPolling cancels the poll loop for a case, if any. Idempotent.
func (s *Service) StopPolling(caseID string) {
	s.manager.Stop(caseID)
}

// Close stops all background poll loops.
func (s *Service) Close() {
	s.manager.StopAll()
}

// Statistics returns counts of cases, pending interventions, and active
// polls.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	cases, err := s.store.CountCases(ctx)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	pending, err := s.store.CountPendingInterventions(ctx)
	if err != nil {
		return nil, NewPersistenceError(err)
	}
	polling := s.manager.ActiveCases()
	return &Statistics{
		Cases:                cases,
		PendingInterventions: pending,
		ActivePolls:          len(polling),
		PollingCases:         polling,
	}, nil
}

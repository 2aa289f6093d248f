package caseflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultPollInterval is the default delay between precondition rechecks.
const DefaultPollInterval = 30 * time.Second

// DefaultMaxPolls is the default ceiling on recheck attempts per intervention
// episode. When reached the loop stops and the intervention stays PENDING for
// manual handling.
const DefaultMaxPolls = 120

// ReadyFunc reports whether the missing precondition for a case is now
// satisfied.
type ReadyFunc func(ctx context.Context, caseID string) (bool, error)

// ResumeFunc re-drives the workflow engine for a case, typically Engine.Run.
type ResumeFunc func(ctx context.Context, caseID, seedMessage string) (*RunResult, error)

// ManagerOptions configures a polling Manager.
type ManagerOptions struct {
	Store    Store
	Ready    ReadyFunc
	Logger   *slog.Logger
	Interval time.Duration
	MaxPolls int
}

// Manager owns the human-intervention lifecycle: it records intervention
// requests, runs one cancellable background poll loop per parked case, and
// re-invokes the engine once the awaited input arrives. A guarded registry
// enforces at most one active loop per case id.
type Manager struct {
	store    Store
	ready    ReadyFunc
	resume   ResumeFunc
	logger   *slog.Logger
	interval time.Duration
	maxPolls int

	mutex  sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new polling manager. Bind must be called with the
// engine's run function before any intervention can be resumed.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Ready == nil {
		return nil, fmt.Errorf("ready check is required")
	}
	if opts.Logger == nil {
		opts.Logger = NewSilentLogger()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = DefaultMaxPolls
	}
	return &Manager{
		store:    opts.Store,
		ready:    opts.Ready,
		logger:   opts.Logger,
		interval: opts.Interval,
		maxPolls: opts.MaxPolls,
		active:   map[string]context.CancelFunc{},
	}, nil
}

// Bind sets the function used to re-drive the engine after an intervention
// resolves. Wired late to break the engine/manager construction cycle.
func (m *Manager) Bind(resume ResumeFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.resume = resume
}

// Raise creates or refreshes a PENDING intervention record for the case and
// arms the periodic recheck. A second Raise while a loop is active for the
// same case is a no-op.
func (m *Manager) Raise(ctx context.Context, caseID, kind, reason string, missingFields []string) error {
	record := &InterventionRecord{
		CaseID:        caseID,
		Kind:          kind,
		Reason:        reason,
		MissingFields: missingFields,
	}
	created, err := m.store.CreateIntervention(ctx, record)
	if err != nil {
		return NewPersistenceError(err)
	}
	if !created {
		m.logger.Debug("intervention already pending", "case_id", caseID)
	}
	if err := m.store.SetPollingActive(ctx, caseID, true); err != nil {
		return NewPersistenceError(err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, running := m.active[caseID]; running {
		m.logger.Debug("polling already active", "case_id", caseID)
		return nil
	}

	// The loop outlives the caller's request context.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.active[caseID] = cancel
	m.wg.Add(1)
	go m.pollLoop(loopCtx, caseID)

	m.logger.Info("polling armed", "case_id", caseID, "interval", m.interval,
		"missing", missingFields)
	return nil
}

// pollLoop is the background recheck task for one case. It wakes every
// interval, checks the precondition, and either re-arms or resolves the
// intervention and resumes the engine. Cancellation is observed at the next
// wakeup.
func (m *Manager) pollLoop(ctx context.Context, caseID string) {
	defer m.wg.Done()
	defer m.clear(caseID)

	logger := m.logger.With("case_id", caseID)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for poll := 1; ; poll++ {
		select {
		case <-ctx.Done():
			logger.Info("polling cancelled")
			return
		case <-ticker.C:
		}

		satisfied, err := m.ready(ctx, caseID)
		if err != nil {
			logger.Error("precondition check failed", "poll", poll, "error", err)
		} else if satisfied {
			logger.Info("input available, resuming workflow", "poll", poll)
			if _, resolveErr := m.store.ResolveInterventions(ctx, caseID); resolveErr != nil {
				logger.Error("failed to resolve interventions", "error", resolveErr)
			} else {
				m.mutex.Lock()
				resume := m.resume
				m.mutex.Unlock()
				if resume != nil {
					if _, err := resume(ctx, caseID, "resume: awaited input detected by poller"); err != nil {
						logger.Error("resume failed", "error", err)
					}
				}
				return
			}
		} else {
			logger.Info("still waiting for input", "poll", poll)
		}

		// The ceiling applies to every wakeup. A check that keeps erroring
		// counts against it the same as one that keeps reporting not-ready,
		// so a dead store cannot pin the goroutine forever.
		if poll >= m.maxPolls {
			logger.Warn("poll ceiling reached, giving up", "max_polls", m.maxPolls)
			if err := m.store.SetPollingActive(ctx, caseID, false); err != nil {
				logger.Error("failed to clear polling flag", "error", err)
			}
			return
		}
	}
}

// clear removes the case from the active registry.
func (m *Manager) clear(caseID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if cancel, ok := m.active[caseID]; ok {
		cancel()
		delete(m.active, caseID)
	}
}

// Stop cancels the poll loop for a case. It is idempotent, safe to call from
// outside the loop, and observable at the loop's next wakeup.
func (m *Manager) Stop(caseID string) {
	m.mutex.Lock()
	cancel, ok := m.active[caseID]
	m.mutex.Unlock()

	if ok {
		cancel()
		m.logger.Info("polling stopped", "case_id", caseID)
	}
}

// StopAll cancels every active poll loop and waits for them to exit.
func (m *Manager) StopAll() {
	m.mutex.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mutex.Unlock()
	m.wg.Wait()
}

// Active reports whether a poll loop is currently running for the case.
func (m *Manager) Active(caseID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, ok := m.active[caseID]
	return ok
}

// ActiveCases returns the ids of all cases with a running poll loop.
func (m *Manager) ActiveCases() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

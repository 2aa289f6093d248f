package caseflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation used for tests, examples,
// and single-process deployments that do not need durability.
type MemoryStore struct {
	mutex         sync.RWMutex
	cases         map[string]*Case
	statusLog     map[string][]*StatusEntry
	checkpoints   map[string]*Checkpoint
	interventions map[string][]*InterventionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:         map[string]*Case{},
		statusLog:     map[string][]*StatusEntry{},
		checkpoints:   map[string]*Checkpoint{},
		interventions: map[string][]*InterventionRecord{},
	}
}

// CreateCase persists a new case.
func (s *MemoryStore) CreateCase(ctx context.Context, c *Case) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c.ID == "" {
		return fmt.Errorf("case id required")
	}
	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %q already exists", c.ID)
	}
	now := time.Now()
	dup := c.Copy()
	dup.CreatedAt = now
	dup.UpdatedAt = now
	s.cases[c.ID] = dup
	return nil
}

// GetCase returns a copy of the case with the given ID.
func (s *MemoryStore) GetCase(ctx context.Context, caseID string) (*Case, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c.Copy(), nil
}

// UpdateCase applies fn to a copy of the case and commits the copy only when
// fn succeeds, giving transaction semantics under the store lock.
func (s *MemoryStore) UpdateCase(ctx context.Context, caseID string, fn func(c *Case) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, ok := s.cases[caseID]
	if !ok {
		return ErrCaseNotFound
	}
	scratch := current.Copy()
	if err := fn(scratch); err != nil {
		return err
	}
	scratch.UpdatedAt = time.Now()
	s.cases[caseID] = scratch
	return nil
}

// DeleteCase removes the case and all associated records.
func (s *MemoryStore) DeleteCase(ctx context.Context, caseID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.cases[caseID]; !ok {
		return ErrCaseNotFound
	}
	delete(s.cases, caseID)
	delete(s.statusLog, caseID)
	delete(s.checkpoints, caseID)
	delete(s.interventions, caseID)
	return nil
}

// CountCases returns the total number of cases.
func (s *MemoryStore) CountCases(ctx context.Context) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.cases), nil
}

// AppendStatus appends one status entry for the case.
func (s *MemoryStore) AppendStatus(ctx context.Context, caseID string, status Status) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.cases[caseID]; !ok {
		return ErrCaseNotFound
	}
	s.statusLog[caseID] = append(s.statusLog[caseID], &StatusEntry{
		CaseID:    caseID,
		Status:    status,
		Timestamp: time.Now(),
	})
	return nil
}

// LatestStatus returns the most recent status entry, or nil when none exist.
func (s *MemoryStore) LatestStatus(ctx context.Context, caseID string) (*StatusEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	log := s.statusLog[caseID]
	if len(log) == 0 {
		return nil, nil
	}
	entry := *log[len(log)-1]
	return &entry, nil
}

// StatusHistory returns all status entries in append order.
func (s *MemoryStore) StatusHistory(ctx context.Context, caseID string) ([]*StatusEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	log := s.statusLog[caseID]
	out := make([]*StatusEntry, 0, len(log))
	for _, entry := range log {
		dup := *entry
		out = append(out, &dup)
	}
	return out, nil
}

// SaveCheckpoint overwrites the checkpoint for the checkpoint's case.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if checkpoint.CaseID == "" {
		return fmt.Errorf("checkpoint case id required")
	}
	dup := checkpoint.Copy()
	dup.CheckpointAt = time.Now()
	s.checkpoints[checkpoint.CaseID] = dup
	return nil
}

// LoadCheckpoint loads the checkpoint for a case, or nil when none exists.
func (s *MemoryStore) LoadCheckpoint(ctx context.Context, caseID string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	checkpoint, ok := s.checkpoints[caseID]
	if !ok {
		return nil, nil
	}
	return checkpoint.Copy(), nil
}

// DeleteCheckpoint removes the checkpoint for a case.
func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, caseID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.checkpoints, caseID)
	return nil
}

// CreateIntervention records a PENDING intervention unless one already
// exists for the case.
func (s *MemoryStore) CreateIntervention(ctx context.Context, record *InterventionRecord) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.cases[record.CaseID]; !ok {
		return false, ErrCaseNotFound
	}
	for _, existing := range s.interventions[record.CaseID] {
		if existing.Status == InterventionPending {
			return false, nil
		}
	}
	dup := *record
	if dup.ID == "" {
		dup.ID = NewInterventionID()
	}
	dup.Status = InterventionPending
	dup.PollingActive = true
	dup.CreatedAt = time.Now()
	dup.MissingFields = append([]string(nil), record.MissingFields...)
	s.interventions[record.CaseID] = append(s.interventions[record.CaseID], &dup)
	return true, nil
}

// ResolveInterventions marks all PENDING interventions RESOLVED.
func (s *MemoryStore) ResolveInterventions(ctx context.Context, caseID string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	resolved := 0
	for _, record := range s.interventions[caseID] {
		if record.Status == InterventionPending {
			record.Status = InterventionResolved
			record.PollingActive = false
			record.ResolvedAt = time.Now()
			resolved++
		}
	}
	return resolved, nil
}

// SetPollingActive updates the polling-active flag on PENDING interventions.
func (s *MemoryStore) SetPollingActive(ctx context.Context, caseID string, active bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, record := range s.interventions[caseID] {
		if record.Status == InterventionPending {
			record.PollingActive = active
		}
	}
	return nil
}

// Interventions returns all intervention records for the case, oldest first.
func (s *MemoryStore) Interventions(ctx context.Context, caseID string) ([]*InterventionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	records := s.interventions[caseID]
	out := make([]*InterventionRecord, 0, len(records))
	for _, record := range records {
		dup := *record
		dup.MissingFields = append([]string(nil), record.MissingFields...)
		out = append(out, &dup)
	}
	return out, nil
}

// CountPendingInterventions returns the number of PENDING interventions
// across all cases.
func (s *MemoryStore) CountPendingInterventions(ctx context.Context) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	count := 0
	for _, records := range s.interventions {
		for _, record := range records {
			if record.Status == InterventionPending {
				count++
			}
		}
	}
	return count, nil
}

package caseflow

import (
	"slices"
	"time"
)

// RunState is the engine-level state recorded in a checkpoint.
type RunState string

const (
	RunStatePending  RunState = "pending"
	RunStateRunning  RunState = "running"
	RunStateAwaiting RunState = "awaiting-intervention"
	RunStateComplete RunState = "completed"
	RunStateFailed   RunState = "failed"
)

// Terminal reports whether the state ends an engine invocation.
// RunStateAwaiting is a soft terminal: the poll loop can resume it.
func (s RunState) Terminal() bool {
	return s == RunStateAwaiting || s == RunStateComplete || s == RunStateFailed
}

// Checkpoint is the persisted engine cursor for one case. There is at most
// one checkpoint per case; the engine overwrites it on every step. The
// completed-action set is monotonically non-decreasing within one run.
type Checkpoint struct {
	CaseID        string    `json:"case_id"`
	State         RunState  `json:"state"`
	Messages      []string  `json:"messages"`
	Completed     []string  `json:"completed_actions"`
	LastAction    Action    `json:"last_action,omitempty"`
	LastReasoning string    `json:"last_reasoning,omitempty"`
	Steps         int       `json:"steps"`
	Error         string    `json:"error,omitempty"`
	StartTime     time.Time `json:"start_time,omitzero"`
	CheckpointAt  time.Time `json:"checkpoint_at"`
}

// NewCheckpoint creates the initial checkpoint for a case.
func NewCheckpoint(caseID string) *Checkpoint {
	return &Checkpoint{
		CaseID:    caseID,
		State:     RunStatePending,
		StartTime: time.Now(),
	}
}

// Trace appends a trace message to the checkpoint.
func (c *Checkpoint) Trace(msg string) {
	c.Messages = append(c.Messages, msg)
}

// RecentMessages returns up to the last n trace messages.
func (c *Checkpoint) RecentMessages(n int) []string {
	if len(c.Messages) <= n {
		return slices.Clone(c.Messages)
	}
	return slices.Clone(c.Messages[len(c.Messages)-n:])
}

// MarkCompleted adds an action label to the completed set if absent.
func (c *Checkpoint) MarkCompleted(action Action) {
	if !c.IsCompleted(action) {
		c.Completed = append(c.Completed, string(action))
	}
}

// IsCompleted reports whether the action label is in the completed set.
func (c *Checkpoint) IsCompleted(action Action) bool {
	return slices.Contains(c.Completed, string(action))
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	dup := *c
	dup.Messages = slices.Clone(c.Messages)
	dup.Completed = slices.Clone(c.Completed)
	return &dup
}

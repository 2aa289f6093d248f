package caseflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPollingFixture(t *testing.T, opts ManagerOptions) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	opts.Store = store
	if opts.Ready == nil {
		opts.Ready = func(ctx context.Context, caseID string) (bool, error) {
			c, err := store.GetCase(ctx, caseID)
			if err != nil {
				return false, err
			}
			return c.HasTranscript(), nil
		}
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Millisecond
	}
	manager, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(manager.StopAll)
	require.NoError(t, store.CreateCase(context.Background(), &Case{ID: "case-1"}))
	return manager, store
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(ManagerOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "store is required")

	_, err = NewManager(ManagerOptions{Store: NewMemoryStore()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ready check is required")
}

func TestManagerRaiseStartsSingleLoop(t *testing.T) {
	ctx := context.Background()
	manager, store := newPollingFixture(t, ManagerOptions{Interval: time.Hour})

	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "transcript missing", []string{"raw_transcript"}))
	require.True(t, manager.Active("case-1"))
	require.Equal(t, []string{"case-1"}, manager.ActiveCases())

	// A second raise while the loop is active changes nothing.
	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "still missing", []string{"raw_transcript"}))
	require.Equal(t, []string{"case-1"}, manager.ActiveCases())

	records, err := store.Interventions(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, InterventionPending, records[0].Status)
	require.True(t, records[0].PollingActive)
}

func TestManagerResumesWhenInputArrives(t *testing.T) {
	ctx := context.Background()
	manager, store := newPollingFixture(t, ManagerOptions{})

	var mutex sync.Mutex
	var resumed []string
	manager.Bind(func(ctx context.Context, caseID, seedMessage string) (*RunResult, error) {
		mutex.Lock()
		defer mutex.Unlock()
		resumed = append(resumed, caseID)
		return &RunResult{CaseID: caseID, State: RunStateComplete}, nil
	})

	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "transcript missing", []string{"raw_transcript"}))

	// Supply the awaited input; the loop notices within one interval.
	err := store.UpdateCase(ctx, "case-1", func(c *Case) error {
		c.RawTranscript = "patient presented with persistent cough and mild fever lasting five days"
		return nil
	})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(resumed) == 1
	})
	waitFor(t, 2*time.Second, func() bool { return !manager.Active("case-1") })

	records, err := store.Interventions(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, InterventionResolved, records[0].Status)
	require.False(t, records[0].PollingActive)
}

func TestManagerPollCeiling(t *testing.T) {
	ctx := context.Background()
	manager, store := newPollingFixture(t, ManagerOptions{MaxPolls: 3})

	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "transcript missing", []string{"raw_transcript"}))

	waitFor(t, 2*time.Second, func() bool { return !manager.Active("case-1") })

	// The loop gave up but the intervention stays PENDING for manual handling.
	records, err := store.Interventions(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, InterventionPending, records[0].Status)
	require.False(t, records[0].PollingActive)
}

func TestManagerPollCeilingAppliesToFailingChecks(t *testing.T) {
	ctx := context.Background()

	var mutex sync.Mutex
	var checks int
	manager, store := newPollingFixture(t, ManagerOptions{
		MaxPolls: 3,
		Ready: func(ctx context.Context, caseID string) (bool, error) {
			mutex.Lock()
			defer mutex.Unlock()
			checks++
			return false, fmt.Errorf("store unavailable")
		},
	})

	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "transcript missing", []string{"raw_transcript"}))

	// A check that keeps erroring counts against the ceiling like any other
	// unsatisfied poll; the loop must not spin past it.
	waitFor(t, 2*time.Second, func() bool { return !manager.Active("case-1") })

	mutex.Lock()
	require.Equal(t, 3, checks)
	mutex.Unlock()

	records, err := store.Interventions(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, InterventionPending, records[0].Status)
	require.False(t, records[0].PollingActive)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	manager, _ := newPollingFixture(t, ManagerOptions{})

	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "transcript missing", nil))
	manager.Stop("case-1")
	manager.Stop("case-1")
	manager.Stop("never-polled")

	waitFor(t, 2*time.Second, func() bool { return !manager.Active("case-1") })
	require.Empty(t, manager.ActiveCases())
}

func TestManagerStopAllWaits(t *testing.T) {
	ctx := context.Background()
	manager, store := newPollingFixture(t, ManagerOptions{Interval: time.Hour})
	require.NoError(t, store.CreateCase(ctx, &Case{ID: "case-2"}))

	require.NoError(t, manager.Raise(ctx, "case-1", InterventionMissingInput, "transcript missing", nil))
	require.NoError(t, manager.Raise(ctx, "case-2", InterventionMissingInput, "transcript missing", nil))
	require.Len(t, manager.ActiveCases(), 2)

	manager.StopAll()
	require.Empty(t, manager.ActiveCases())
}

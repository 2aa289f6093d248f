//go:build integration

package caseflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("caseflow_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestPostgresStoreCaseLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	c := &Case{ID: "case-1", PatientID: "p-1", ClinicianID: "dr-1"}
	require.NoError(t, store.CreateCase(ctx, c))

	got, err := store.GetCase(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, "p-1", got.PatientID)

	_, err = store.GetCase(ctx, "missing")
	require.ErrorIs(t, err, ErrCaseNotFound)

	err = store.UpdateCase(ctx, "case-1", func(c *Case) error {
		c.RawTranscript = "patient presented with persistent cough and mild fever lasting five days"
		return nil
	})
	require.NoError(t, err)

	got, err = store.GetCase(ctx, "case-1")
	require.NoError(t, err)
	require.True(t, got.HasTranscript())

	count, err := store.CountCases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPostgresStoreUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	require.NoError(t, store.CreateCase(ctx, &Case{ID: "case-1"}))

	sentinel := NewPreconditionError("nope")
	err := store.UpdateCase(ctx, "case-1", func(c *Case) error {
		c.RawTranscript = "should not be committed"
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := store.GetCase(ctx, "case-1")
	require.NoError(t, err)
	require.Empty(t, got.RawTranscript)
}

func TestPostgresStoreStatusLog(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	require.NoError(t, store.CreateCase(ctx, &Case{ID: "case-1"}))

	latest, err := store.LatestStatus(ctx, "case-1")
	require.NoError(t, err)
	require.Nil(t, latest)

	require.NoError(t, store.AppendStatus(ctx, "case-1", StatusCreated))
	require.NoError(t, store.AppendStatus(ctx, "case-1", StatusTranscriptProvided))
	require.NoError(t, store.AppendStatus(ctx, "case-1", StatusCleaned))

	latest, err = store.LatestStatus(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, StatusCleaned, latest.Status)

	history, err := store.StatusHistory(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, StatusCreated, history[0].Status)

	require.ErrorIs(t, store.AppendStatus(ctx, "missing", StatusCreated), ErrCaseNotFound)
}

func TestPostgresStoreCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	require.NoError(t, store.CreateCase(ctx, &Case{ID: "case-1"}))

	checkpoint, err := store.LoadCheckpoint(ctx, "case-1")
	require.NoError(t, err)
	require.Nil(t, checkpoint)

	cp := NewCheckpoint("case-1")
	cp.State = RunStateRunning
	cp.Trace("workflow started")
	cp.MarkCompleted("cleanup")
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	cp.State = RunStateAwaiting
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	loaded, err := store.LoadCheckpoint(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, RunStateAwaiting, loaded.State)
	require.True(t, loaded.IsCompleted("cleanup"))
	require.Equal(t, []string{"workflow started"}, loaded.Messages)

	require.NoError(t, store.DeleteCheckpoint(ctx, "case-1"))
	loaded, err = store.LoadCheckpoint(ctx, "case-1")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestPostgresStoreInterventions(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	require.NoError(t, store.CreateCase(ctx, &Case{ID: "case-1"}))

	created, err := store.CreateIntervention(ctx, &InterventionRecord{
		CaseID:        "case-1",
		Kind:          InterventionMissingInput,
		Reason:        "transcript missing",
		MissingFields: []string{"raw_transcript"},
	})
	require.NoError(t, err)
	require.True(t, created)

	// A second pending intervention for the same case is refused.
	created, err = store.CreateIntervention(ctx, &InterventionRecord{
		CaseID: "case-1",
		Kind:   InterventionMissingInput,
		Reason: "duplicate",
	})
	require.NoError(t, err)
	require.False(t, created)

	pending, err := store.CountPendingInterventions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	require.NoError(t, store.SetPollingActive(ctx, "case-1", false))
	records, err := store.Interventions(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.False(t, records[0].PollingActive)

	resolved, err := store.ResolveInterventions(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	records, err = store.Interventions(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, InterventionResolved, records[0].Status)
	require.False(t, records[0].ResolvedAt.IsZero())

	// Resolution reopens the slot for a new pending record.
	created, err = store.CreateIntervention(ctx, &InterventionRecord{
		CaseID: "case-1",
		Kind:   InterventionMissingInput,
		Reason: "second round",
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPostgresStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresStore(t)

	require.NoError(t, store.CreateCase(ctx, &Case{ID: "case-1"}))
	require.NoError(t, store.AppendStatus(ctx, "case-1", StatusCreated))
	require.NoError(t, store.SaveCheckpoint(ctx, NewCheckpoint("case-1")))
	_, err := store.CreateIntervention(ctx, &InterventionRecord{
		CaseID: "case-1",
		Kind:   InterventionMissingInput,
		Reason: "transcript missing",
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteCase(ctx, "case-1"))
	require.ErrorIs(t, store.DeleteCase(ctx, "case-1"), ErrCaseNotFound)

	history, err := store.StatusHistory(ctx, "case-1")
	require.NoError(t, err)
	require.Empty(t, history)

	pending, err := store.CountPendingInterventions(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

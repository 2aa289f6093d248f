package caseflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaseHasTranscript(t *testing.T) {
	require.False(t, (&Case{}).HasTranscript())
	require.False(t, (&Case{RawTranscript: "too short"}).HasTranscript())
	require.False(t, (&Case{RawTranscript: strings.Repeat(" ", 100)}).HasTranscript())
	require.True(t, (&Case{RawTranscript: strings.Repeat("a", MinTranscriptChars)}).HasTranscript())
}

func TestCaseHasSummary(t *testing.T) {
	require.False(t, (&Case{}).HasSummary())
	require.False(t, (&Case{Summary: &Summary{}}).HasSummary())
	require.False(t, (&Case{Summary: &Summary{History: []string{"h"}}}).HasSummary())
	require.True(t, (&Case{Summary: &Summary{
		History:   []string{"h"},
		Diagnosis: []string{"d"},
	}}).HasSummary())
}

func TestCaseCopyIsDeep(t *testing.T) {
	original := &Case{
		ID:          "case-1",
		Summary:     &Summary{History: []string{"h"}, Diagnosis: []string{"d"}},
		Medications: []Medication{{Name: "Paracetamol"}},
	}
	dup := original.Copy()
	dup.Summary.History[0] = "changed"
	dup.Medications[0].Name = "changed"

	require.Equal(t, "h", original.Summary.History[0])
	require.Equal(t, "Paracetamol", original.Medications[0].Name)
}

func TestCheckpointCompletedSet(t *testing.T) {
	cp := NewCheckpoint("case-1")
	require.Equal(t, RunStatePending, cp.State)
	require.False(t, cp.IsCompleted("cleanup"))

	cp.MarkCompleted("cleanup")
	cp.MarkCompleted("cleanup")
	require.True(t, cp.IsCompleted("cleanup"))
	require.Len(t, cp.Completed, 1)
}

func TestCheckpointRecentMessages(t *testing.T) {
	cp := NewCheckpoint("case-1")
	for i := 0; i < 5; i++ {
		cp.Trace("msg")
	}
	require.Len(t, cp.RecentMessages(3), 3)
	require.Len(t, cp.RecentMessages(10), 5)
}

func TestRunStateTerminal(t *testing.T) {
	require.False(t, RunStatePending.Terminal())
	require.False(t, RunStateRunning.Terminal())
	require.True(t, RunStateAwaiting.Terminal())
	require.True(t, RunStateComplete.Terminal())
	require.True(t, RunStateFailed.Terminal())
}

func TestIDPrefixes(t *testing.T) {
	require.True(t, strings.HasPrefix(NewInterventionID(), "intv_"))
	require.True(t, strings.HasPrefix(NewRunID(), "run_"))
	require.NotEqual(t, NewRunID(), NewRunID())
}

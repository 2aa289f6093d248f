package caseflow

import (
	"strings"
	"time"
)

// Case is the unit of work tracked end-to-end by the orchestrator. The input
// fields are supplied at creation; the derived fields are populated by
// executors and must only be mutated inside a Store.UpdateCase scope.
type Case struct {
	ID          string    `json:"id" yaml:"id"`
	PatientID   string    `json:"patient_id" yaml:"patient_id"`
	ClinicianID string    `json:"clinician_id" yaml:"clinician_id"`
	Specialty   string    `json:"specialty,omitempty" yaml:"specialty,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`

	// Inputs
	RawTranscript string `json:"raw_transcript,omitempty"`

	// Derived fields
	CleanedTranscript string       `json:"cleaned_transcript,omitempty"`
	Summary           *Summary     `json:"summary,omitempty"`
	Medications       []Medication `json:"medications,omitempty"`
}

// Summary is the structured discharge summary derived from a cleaned
// transcript.
type Summary struct {
	ChiefComplaint string   `json:"chief_complaint,omitempty"`
	History        []string `json:"history,omitempty"`
	Diagnosis      []string `json:"diagnosis,omitempty"`
	Investigations []string `json:"investigations,omitempty"`
	ExamFindings   string   `json:"exam_findings,omitempty"`
	FollowUp       string   `json:"follow_up_instructions,omitempty"`
}

// Medication is a single prescribed medication extracted from a transcript.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose"`
	Frequency string `json:"frequency"`
}

// MinTranscriptChars is the minimum raw transcript length for the transcript
// to be considered usable. Shorter values are treated as missing input.
const MinTranscriptChars = 50

// HasTranscript reports whether the case has a usable raw transcript.
func (c *Case) HasTranscript() bool {
	return c != nil && len(trimmed(c.RawTranscript)) >= MinTranscriptChars
}

// HasSummary reports whether the derived summary has been generated.
func (c *Case) HasSummary() bool {
	return c != nil && c.Summary != nil &&
		len(c.Summary.History) > 0 && len(c.Summary.Diagnosis) > 0
}

// Copy returns a deep copy of the case.
func (c *Case) Copy() *Case {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Summary != nil {
		s := *c.Summary
		s.History = append([]string(nil), c.Summary.History...)
		s.Diagnosis = append([]string(nil), c.Summary.Diagnosis...)
		s.Investigations = append([]string(nil), c.Summary.Investigations...)
		dup.Summary = &s
	}
	dup.Medications = append([]Medication(nil), c.Medications...)
	return &dup
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}


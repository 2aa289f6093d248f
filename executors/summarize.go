package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/caseflow"
)

const summarizePrompt = `You are a medical discharge summary assistant.

From the following cleaned transcript, produce a SINGLE STRICT JSON object
with ALL of these fields:

- chief_complaint: string
- history: array of strings (each item can be a sentence)
- exam_findings: string
- diagnosis: array of strings
- investigations: array of strings (or empty array if none)
- medications: array of objects with keys: name, dose, frequency
- follow_up_instructions: string

Rules:
- DO NOT leave any field empty.
- If something is not explicitly stated, infer a reasonable, concise entry,
  or write "Not clearly specified in the transcript".
- Return STRICT VALID JSON ONLY. No markdown, no comments, no extra text.

Transcript:
%s`

// SummarizeExecutor extracts the structured discharge summary from the
// cleaned transcript using the chat model. The model's output is normalized
// leniently: string-or-list fields and partially filled medication objects
// are all accepted.
type SummarizeExecutor struct {
	client caseflow.ChatClient
}

// NewSummarizeExecutor creates a new summarize executor.
func NewSummarizeExecutor(client caseflow.ChatClient) *SummarizeExecutor {
	return &SummarizeExecutor{client: client}
}

func (e *SummarizeExecutor) Name() string {
	return "summarize"
}

// Execute generates and persists the summary and medication list.
func (e *SummarizeExecutor) Execute(ctx context.Context, store caseflow.Store, caseID string) (caseflow.Status, error) {
	if e.client == nil {
		return "", caseflow.NewPreconditionError("no chat client configured for summary generation", "chat_client")
	}
	c, err := store.GetCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	cleaned := trim(c.CleanedTranscript)
	if cleaned == "" {
		return "", caseflow.NewPreconditionError("cleaned transcript is missing", "cleaned_transcript")
	}

	// The model call happens outside the transaction scope; only the parsed
	// result is written inside it.
	response, err := e.client.Complete(ctx, fmt.Sprintf(summarizePrompt, cleaned))
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	summary, medications, err := parseSummaryResponse(response, cleaned)
	if err != nil {
		return "", err
	}

	err = store.UpdateCase(ctx, caseID, func(c *caseflow.Case) error {
		c.Summary = summary
		c.Medications = medications
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := store.AppendStatus(ctx, caseID, caseflow.StatusSummaryGenerated); err != nil {
		return "", caseflow.NewPersistenceError(err)
	}
	return caseflow.StatusSummaryGenerated, nil
}

func parseSummaryResponse(response, transcript string) (*caseflow.Summary, []caseflow.Medication, error) {
	raw, err := caseflow.ExtractJSONObject(response)
	if err != nil {
		return nil, nil, fmt.Errorf("model did not return JSON: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}

	summary := &caseflow.Summary{
		ChiefComplaint: trim(stringify(fields["chief_complaint"])),
		History:        normalizeStrings(fields["history"]),
		Diagnosis:      normalizeStrings(fields["diagnosis"]),
		Investigations: normalizeStrings(fields["investigations"]),
		ExamFindings:   trim(stringify(fields["exam_findings"])),
	}
	if len(summary.History) == 0 {
		snippet := transcript
		if len(snippet) > 120 {
			snippet = snippet[:120] + "..."
		}
		summary.History = []string{"Not clearly specified in the transcript. Transcript snippet: " + snippet}
	}
	if len(summary.Diagnosis) == 0 {
		summary.Diagnosis = []string{"Not clearly specified in the transcript."}
	}
	if summary.ExamFindings == "" {
		summary.ExamFindings = "Not clearly documented in the transcript."
	}

	followUp := fields["follow_up_instructions"]
	if followUp == nil {
		followUp = fields["followup_instructions"]
	}
	summary.FollowUp = trim(stringify(followUp))
	if summary.FollowUp == "" {
		summary.FollowUp = "No specific follow-up instructions documented; advise routine follow-up as clinically indicated."
	}

	return summary, normalizeMedications(fields["medications"]), nil
}

func normalizeMedications(value any) []caseflow.Medication {
	var medications []caseflow.Medication
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			switch m := item.(type) {
			case map[string]any:
				medications = append(medications, caseflow.Medication{
					Name:      defaulted(trim(stringify(m["name"]))),
					Dose:      defaulted(trim(stringify(m["dose"]))),
					Frequency: defaulted(trim(stringify(m["frequency"]))),
				})
			case string:
				if name := trim(m); name != "" {
					medications = append(medications, caseflow.Medication{
						Name: name, Dose: "Not specified", Frequency: "Not specified",
					})
				}
			}
		}
	case string:
		if name := trim(v); name != "" {
			medications = append(medications, caseflow.Medication{
				Name: name, Dose: "Not specified", Frequency: "Not specified",
			})
		}
	}
	return medications
}

func defaulted(s string) string {
	if s == "" {
		return "Not specified"
	}
	return s
}

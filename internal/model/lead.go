package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// LeadInput holds the caller-supplied identifying fields for a lead.
type LeadInput struct {
	Company string `json:"company"`
	Contact string `json:"contact,omitempty"`
}

// Empty reports whether the input carries no identity at all.
func (in LeadInput) Empty() bool {
	return strings.TrimSpace(in.Company) == "" && strings.TrimSpace(in.Contact) == ""
}

var leadKeyFolder = cases.Fold()

// LeadID derives a stable identifier from the input identity so repeated
// submissions of the same lead map to the same record. The key is the
// case-folded, whitespace-trimmed company|contact pair.
func LeadID(in LeadInput) string {
	key := leadKeyFolder.String(strings.TrimSpace(in.Company)) + "|" +
		leadKeyFolder.String(strings.TrimSpace(in.Contact))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// Lead is the enrichment subject and its accumulated stage results.
// Result fields are append-only: once written they are never replaced.
type Lead struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	RawInput    LeadInput       `json:"raw_input"`
	Mined       json.RawMessage `json:"mined,omitempty"`
	Validated   json.RawMessage `json:"validated,omitempty"`
	Synthesized json.RawMessage `json:"synthesized,omitempty"`
	Grade       string          `json:"grade,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StageResult returns the stored result document for a stage, or nil when
// the stage has not completed.
func (l *Lead) StageResult(stage Stage) json.RawMessage {
	switch stage {
	case StageMining:
		return l.Mined
	case StageValidation:
		return l.Validated
	case StageSynthesis:
		return l.Synthesized
	default:
		return nil
	}
}

// HasResult reports whether a stage's result is already present.
func (l *Lead) HasResult(stage Stage) bool {
	return len(l.StageResult(stage)) > 0
}

// MinedResult is the discovery stage output: external buying signals.
type MinedResult struct {
	Company string   `json:"company"`
	Signals []string `json:"signals"`
}

// ValidatedResult is the validation stage output: competitive checks and
// tech stack inference.
type ValidatedResult struct {
	Company   string   `json:"company"`
	TechStack []string `json:"tech_stack"`
	Risks     []string `json:"risks"`
}

// SynthesizedResult combines mined signals and validation into a fit
// score and an outreach wedge.
type SynthesizedResult struct {
	Company   string   `json:"company"`
	FitScore  int      `json:"fit_score"`
	Wedge     string   `json:"wedge"`
	TechStack []string `json:"tech_stack"`
	Signals   []string `json:"signals"`
}

// GradeFor converts a fit score into the letter grade surfaced to
// outreach prioritization.
func GradeFor(fitScore int) string {
	switch {
	case fitScore >= 80:
		return "A"
	case fitScore >= 60:
		return "B"
	case fitScore >= 40:
		return "C"
	default:
		return "D"
	}
}

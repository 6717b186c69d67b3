package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadID_Stable(t *testing.T) {
	a := LeadID(LeadInput{Company: "Acme Corp", Contact: "jo@acme.test"})
	b := LeadID(LeadInput{Company: "Acme Corp", Contact: "jo@acme.test"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestLeadID_CaseAndWhitespaceInsensitive(t *testing.T) {
	base := LeadID(LeadInput{Company: "Acme Corp", Contact: "jo@acme.test"})
	assert.Equal(t, base, LeadID(LeadInput{Company: "ACME CORP", Contact: "JO@ACME.TEST"}))
	assert.Equal(t, base, LeadID(LeadInput{Company: "  Acme Corp  ", Contact: " jo@acme.test "}))
}

func TestLeadID_DistinguishesInputs(t *testing.T) {
	a := LeadID(LeadInput{Company: "Acme Corp"})
	b := LeadID(LeadInput{Company: "Acme Corp", Contact: "jo@acme.test"})
	c := LeadID(LeadInput{Company: "Globex"})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestLeadInputEmpty(t *testing.T) {
	assert.True(t, LeadInput{}.Empty())
	assert.True(t, LeadInput{Company: "   "}.Empty())
	assert.False(t, LeadInput{Company: "Acme Corp"}.Empty())
	assert.False(t, LeadInput{Contact: "jo@acme.test"}.Empty())
}

func TestLeadStageResults(t *testing.T) {
	lead := &Lead{}
	assert.False(t, lead.HasResult(StageMining))
	assert.Nil(t, lead.StageResult(StageSynthesis))

	doc, err := json.Marshal(MinedResult{Company: "Acme Corp", Signals: []string{"sig"}})
	require.NoError(t, err)
	lead.Mined = doc

	assert.True(t, lead.HasResult(StageMining))
	assert.False(t, lead.HasResult(StageValidation))
	assert.JSONEq(t, string(doc), string(lead.StageResult(StageMining)))
	assert.Nil(t, lead.StageResult(Stage("bogus")))
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "A"},
		{80, "A"},
		{79, "B"},
		{60, "B"},
		{59, "C"},
		{40, "C"},
		{39, "D"},
		{0, "D"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFor(tt.score), "score %d", tt.score)
	}
}

func TestStagesOrderAndCompleteStatus(t *testing.T) {
	stages := Stages()
	require.Equal(t, []Stage{StageMining, StageValidation, StageSynthesis}, stages)

	assert.Equal(t, JobStatusMiningComplete, StageMining.CompleteStatus())
	assert.Equal(t, JobStatusValidationComplete, StageValidation.CompleteStatus())
	assert.Equal(t, JobStatusSynthesisComplete, StageSynthesis.CompleteStatus())
	assert.Equal(t, JobStatus(""), Stage("bogus").CompleteStatus())
}

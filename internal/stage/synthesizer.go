package stage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/resilience"
)

// ProviderLLM identifies the model provider the synthesizer calls.
const ProviderLLM = "llm"

// LLMClient generates a short completion; satisfied by llm.Client. A nil
// client keeps the synthesizer on its heuristic wedge.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer combines mined signals and validation into a fit score and
// an outreach wedge.
type Synthesizer struct {
	llm LLMClient
}

// NewSynthesizer creates the synthesis stage. llmClient may be nil.
func NewSynthesizer(llmClient LLMClient) *Synthesizer {
	return &Synthesizer{llm: llmClient}
}

func (s *Synthesizer) Name() model.Stage {
	return model.StageSynthesis
}

func (s *Synthesizer) Run(ctx context.Context, lead *model.Lead, lim Limiter) (any, error) {
	var mined model.MinedResult
	if err := json.Unmarshal(lead.Mined, &mined); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrap(err, "synthesis: decode mined result"), "malformed_result")
	}
	var validated model.ValidatedResult
	if err := json.Unmarshal(lead.Validated, &validated); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrap(err, "synthesis: decode validated result"), "malformed_result")
	}

	if err := lim.Acquire(ProviderLLM); err != nil {
		return nil, resilience.NewTransientError(err, 429)
	}

	company := companyName(lead)
	riskPenalty := len(validated.Risks) * 5
	baseScore := 70
	if len(mined.Signals) > 0 {
		baseScore = 90
	}
	score := baseScore - riskPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	wedge := company + " can trim tooling costs with your bundled pricing."
	if strings.Contains(strings.ToLower(strings.Join(mined.Signals, " ")), "cost") {
		wedge = company + " faces cost pressure; lead with ROI and consolidation."
	}
	wedge = s.refineWedge(ctx, company, wedge, mined.Signals)

	return &model.SynthesizedResult{
		Company:   company,
		FitScore:  score,
		Wedge:     wedge,
		TechStack: validated.TechStack,
		Signals:   mined.Signals,
	}, nil
}

// refineWedge asks the model provider for a sharper wedge line when a
// client is configured. Any failure falls back to the heuristic wedge;
// synthesis never fails on wedge polish.
func (s *Synthesizer) refineWedge(ctx context.Context, company, wedge string, signals []string) string {
	if s.llm == nil {
		return wedge
	}

	prompt := "Write one outreach wedge sentence for " + company +
		" given these signals: " + strings.Join(signals, "; ") +
		". Draft: " + wedge
	refined, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		zap.L().Debug("synthesis: wedge refinement failed, keeping heuristic",
			zap.String("company", company),
			zap.Error(err),
		)
		return wedge
	}
	refined = strings.TrimSpace(refined)
	if refined == "" || strings.HasPrefix(refined, "[stubbed]") {
		return wedge
	}
	return refined
}

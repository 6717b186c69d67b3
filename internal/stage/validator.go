package stage

import (
	"context"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/resilience"
)

// ProviderEnrichment identifies the firmographic/tech-stack provider.
const ProviderEnrichment = "enrichment"

// Validator performs lightweight competitive checks and tech stack
// inference on a lead.
type Validator struct{}

// NewValidator creates the validation stage.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Name() model.Stage {
	return model.StageValidation
}

func (v *Validator) Run(ctx context.Context, lead *model.Lead, lim Limiter) (any, error) {
	if err := lim.Acquire(ProviderEnrichment); err != nil {
		return nil, resilience.NewTransientError(err, 429)
	}

	return &model.ValidatedResult{
		Company:   companyName(lead),
		TechStack: []string{"AWS", "Salesforce"},
		Risks:     []string{"Unknown budget owner"},
	}, nil
}

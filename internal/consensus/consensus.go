package consensus

import (
	"errors"
	"fmt"
	"math"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// ErrInsufficientResponses means fewer than the required number of agents
// produced a usable opinion. This is fatal to the request; the pipeline
// never retries it automatically.
var ErrInsufficientResponses = errors.New("insufficient valid agent responses")

// Engine reduces valid agent responses to one final valuation.
type Engine struct {
	// MinValidResponses is the precondition for computing consensus.
	// Defaults to 2.
	MinValidResponses int
	// ConfidenceFloor is the minimum final confidence reported for a
	// processed request. Confidence 1 is reserved as the on-ledger
	// rejection sentinel, so the floor must be at least 2.
	ConfidenceFloor int
}

// maxRelativeDispersion is the relative standard deviation at which the
// consensus score bottoms out at 0.
const maxRelativeDispersion = 0.5

// Reduce computes the confidence-weighted consensus over valid responses.
// Every valid response contributes; no outlier trimming is applied, so
// the result is reproducible from the archived evidence alone.
func (e Engine) Reduce(valid []domain.AgentResponse) (domain.ConsensusResult, error) {
	min := e.MinValidResponses
	if min < 2 {
		min = 2
	}
	if len(valid) < min {
		return domain.ConsensusResult{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientResponses, len(valid), min)
	}
	for _, r := range valid {
		if !r.Valid() {
			return domain.ConsensusResult{}, fmt.Errorf("failed response from %s passed to consensus", r.Agent)
		}
	}

	var (
		weightedSum float64
		weightSum   float64
		rawSum      float64
		confSum     int
		lo          = valid[0].Valuation
		hi          = valid[0].Valuation
	)
	for _, r := range valid {
		weightedSum += r.Valuation * float64(r.Confidence)
		weightSum += float64(r.Confidence)
		rawSum += r.Valuation
		confSum += r.Confidence
		if r.Valuation < lo {
			lo = r.Valuation
		}
		if r.Valuation > hi {
			hi = r.Valuation
		}
	}

	n := float64(len(valid))
	mean := rawSum / n
	finalValuation := mean
	if weightSum > 0 {
		finalValuation = weightedSum / weightSum
	}

	var varianceSum float64
	for _, r := range valid {
		d := r.Valuation - mean
		varianceSum += d * d
	}
	stddev := math.Sqrt(varianceSum / n)

	finalConfidence := int(math.Round(float64(confSum) / n))
	floor := e.ConfidenceFloor
	if floor < 2 {
		floor = 2
	}
	if finalConfidence < floor {
		finalConfidence = floor
	}

	return domain.ConsensusResult{
		FinalValuation:  finalValuation,
		FinalConfidence: finalConfidence,
		ConsensusScore:  score(stddev, finalValuation),
		Statistics: domain.ConsensusStatistics{
			Mean:              mean,
			StandardDeviation: stddev,
			Min:               lo,
			Max:               hi,
		},
	}, nil
}

// score maps relative dispersion onto [0,100]: exact agreement scores
// 100, and the score falls linearly to 0 as the standard deviation
// approaches half the consensus valuation.
func score(stddev, valuation float64) int {
	if stddev == 0 {
		return 100
	}
	if valuation <= 0 {
		return 0
	}
	d := stddev / valuation
	if d >= maxRelativeDispersion {
		return 0
	}
	s := int(math.Round(100 * (1 - d/maxRelativeDispersion)))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

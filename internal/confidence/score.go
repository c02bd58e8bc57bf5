package confidence

import (
	"fmt"
	"math"

	"github.com/adverant/nexus/checkscan-worker/internal/model"
)

// NeutralConfidence is used whenever a score cannot be computed
const NeutralConfidence = 0.5

// Score is the outcome of a confidence computation. Degraded is non-nil
// when the model fell back to NeutralConfidence; Value is then 0.5 and the
// caller can tell a defaulted score from a computed one.
type Score struct {
	Value    float64
	Degraded *ScoringDegraded
}

// ScoringDegraded explains why a score was defaulted
type ScoringDegraded struct {
	Reason string
}

func (d *ScoringDegraded) Error() string {
	return "scoring degraded: " + d.Reason
}

// IsDegraded reports whether the score was defaulted
func (s Score) IsDegraded() bool { return s.Degraded != nil }

func computed(v float64) Score {
	return Score{Value: model.Clamp(v)}
}

func degraded(format string, args ...interface{}) Score {
	return Score{Value: NeutralConfidence, Degraded: &ScoringDegraded{Reason: fmt.Sprintf(format, args...)}}
}

// guard turns a panic inside a scoring function into a degraded score
func guard(s *Score) {
	if r := recover(); r != nil {
		*s = degraded("panic: %v", r)
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package confidence

import (
	"regexp"

	"github.com/adverant/nexus/checkscan-worker/internal/model"
)

var (
	mixedCaseInWord = regexp.MustCompile(`[a-z][A-Z]`)
	whitespaceRun   = regexp.MustCompile(`\s{2,}`)
	confusableGlyph = regexp.MustCompile(`[Il1O0]`)
)

// HandwritingAnalyzer decides whether a value looks handwritten
type HandwritingAnalyzer struct {
	lowConfidence float64
	manualCutoff  float64
}

// NewHandwritingAnalyzer creates an analyzer using cfg's medium threshold
// as the handwriting cut-off
func NewHandwritingAnalyzer(cfg AIConfig) *HandwritingAnalyzer {
	return &HandwritingAnalyzer{
		lowConfidence: cfg.MediumThreshold,
		manualCutoff:  cfg.ManualFieldCutoff,
	}
}

// Analyze classifies text. It is handwritten when the confidence is below
// the cut-off or at least two pattern indicators match.
func (h *HandwritingAnalyzer) Analyze(text string, confidence float64) model.HandwritingAnalysis {
	indicators := 0
	for _, re := range []*regexp.Regexp{mixedCaseInWord, whitespaceRun, confusableGlyph} {
		if re.MatchString(text) {
			indicators++
		}
	}
	handwritten := confidence < h.lowConfidence || indicators >= 2

	legibility := model.LegibilityPoor
	switch {
	case confidence > 0.8:
		legibility = model.LegibilityClear
	case confidence > 0.6:
		legibility = model.LegibilityModerate
	}

	approach := model.ApproachEnhanced
	switch {
	case !handwritten || legibility == model.LegibilityClear:
		approach = model.ApproachStandard
	case legibility == model.LegibilityPoor || confidence < 0.5:
		approach = model.ApproachManualReview
	}

	return model.HandwritingAnalysis{
		IsHandwritten:     handwritten,
		Confidence:        model.Clamp(confidence),
		Legibility:        legibility,
		SuggestedApproach: approach,
	}
}

// SuggestManualFields lists the fields a reviewer should check: every
// field when the analysis asks for manual review, otherwise the fields
// below the cut-off.
func (h *HandwritingAnalyzer) SuggestManualFields(fields []model.FieldConfidence, analysis model.HandwritingAnalysis) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if analysis.SuggestedApproach == model.ApproachManualReview || f.Confidence < h.manualCutoff {
			out = append(out, f.Name)
		}
	}
	return out
}

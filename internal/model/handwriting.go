package model

// Legibility grades how readable an extracted value is
type Legibility string

const (
	LegibilityClear    Legibility = "clear"
	LegibilityModerate Legibility = "moderate"
	LegibilityPoor     Legibility = "poor"
)

// Approach is the extraction strategy recommended for a value
type Approach string

const (
	ApproachStandard     Approach = "standard"
	ApproachEnhanced     Approach = "enhanced"
	ApproachManualReview Approach = "manual_review"
)

// HandwritingAnalysis classifies a value as handwritten or printed.
// It only lives while the AI confidence model scores a field.
type HandwritingAnalysis struct {
	IsHandwritten     bool       `json:"isHandwritten"`
	Confidence        float64    `json:"confidence"`
	Legibility        Legibility `json:"legibility"`
	SuggestedApproach Approach   `json:"suggestedApproach"`
}

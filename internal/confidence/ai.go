package confidence

import (
	"github.com/adverant/nexus/checkscan-worker/internal/model"
)

// Level buckets a confidence for routing and reporting
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// AIWeights are the factor weights of the AI model
type AIWeights struct {
	TextDetection float64 `yaml:"text_detection"`
	BoundingBox   float64 `yaml:"bounding_box"`
	TextLength    float64 `yaml:"text_length"`
	Language      float64 `yaml:"language"`
}

// ContextBoosts are the additive boosts of AdjustByContext
type ContextBoosts struct {
	MultipleDetections float64 `yaml:"multiple_detections"`
	ExpectedFormat     float64 `yaml:"expected_format"`
	CrossValidated     float64 `yaml:"cross_validated"`
}

// AIConfig holds the AI model heuristics
type AIConfig struct {
	Weights           AIWeights     `yaml:"weights"`
	Boosts            ContextBoosts `yaml:"boosts"`
	FullLengthChars   int           `yaml:"full_length_chars"`
	HandwritingBoost  float64       `yaml:"handwriting_boost"`
	HighThreshold     float64       `yaml:"high_threshold"`
	MediumThreshold   float64       `yaml:"medium_threshold"`
	ManualFieldCutoff float64       `yaml:"manual_field_cutoff"`
}

// DefaultAIConfig returns the production AI heuristics
func DefaultAIConfig() AIConfig {
	return AIConfig{
		Weights: AIWeights{
			TextDetection: 0.50,
			BoundingBox:   0.20,
			TextLength:    0.15,
			Language:      0.15,
		},
		Boosts: ContextBoosts{
			MultipleDetections: 0.05,
			ExpectedFormat:     0.08,
			CrossValidated:     0.07,
		},
		FullLengthChars:   50,
		HandwritingBoost:  1.15,
		HighThreshold:     0.85,
		MediumThreshold:   0.65,
		ManualFieldCutoff: 0.65,
	}
}

// AIFactors are the inputs of the AI model for one detected value
type AIFactors struct {
	TextDetectionConfidence float64
	BoundingBoxQuality      float64
	TextLength              int
	LanguageDetected        bool
}

// DetectionContext describes corroborating evidence for a value
type DetectionContext struct {
	HasMultipleDetections bool
	MatchesExpectedFormat bool
	CrossValidated        bool
}

// AIModel scores values detected by the vision engine
type AIModel struct {
	cfg         AIConfig
	handwriting *HandwritingAnalyzer
}

// NewAIModel creates an AI confidence model
func NewAIModel(cfg AIConfig) *AIModel {
	return &AIModel{cfg: cfg, handwriting: NewHandwritingAnalyzer(cfg)}
}

// Handwriting exposes the analyzer sharing this model's thresholds
func (m *AIModel) Handwriting() *HandwritingAnalyzer { return m.handwriting }

// Score is the weighted sum of the detection factors. The length term is
// min(len/FullLengthChars, 1); the language term is 1 when a language was
// detected and 0.5 otherwise.
func (m *AIModel) Score(f AIFactors) (s Score) {
	defer guard(&s)

	if !finite(f.TextDetectionConfidence, f.BoundingBoxQuality) {
		return degraded("detection factors are not finite")
	}
	if f.TextLength < 0 {
		return degraded("negative text length %d", f.TextLength)
	}

	full := m.cfg.FullLengthChars
	if full <= 0 {
		full = 50
	}
	lengthTerm := float64(f.TextLength) / float64(full)
	if lengthTerm > 1 {
		lengthTerm = 1
	}
	languageTerm := 0.5
	if f.LanguageDetected {
		languageTerm = 1
	}

	w := m.cfg.Weights
	return computed(f.TextDetectionConfidence*w.TextDetection +
		f.BoundingBoxQuality*w.BoundingBox +
		lengthTerm*w.TextLength +
		languageTerm*w.Language)
}

// AdjustByContext adds the boosts earned by the value's context
func (m *AIModel) AdjustByContext(base float64, c DetectionContext) float64 {
	b := m.cfg.Boosts
	adjusted := base
	if c.HasMultipleDetections {
		adjusted += b.MultipleDetections
	}
	if c.MatchesExpectedFormat {
		adjusted += b.ExpectedFormat
	}
	if c.CrossValidated {
		adjusted += b.CrossValidated
	}
	return model.Clamp(adjusted)
}

// ClassifyLevel buckets a confidence into high, medium or low
func (m *AIModel) ClassifyLevel(confidence float64) Level {
	switch {
	case confidence >= m.cfg.HighThreshold:
		return LevelHigh
	case confidence >= m.cfg.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ApplyHandwritingBoost raises the confidence of handwritten values, where
// the vision engine outperforms OCR
func (m *AIModel) ApplyHandwritingBoost(confidence float64, isHandwritten bool) float64 {
	if !isHandwritten {
		return confidence
	}
	return model.Clamp(confidence * m.cfg.HandwritingBoost)
}

// ScoreField runs the full AI scoring chain for one value: factor score,
// context boosts, then the handwriting adjustment based on the analysis
// of text at the boosted confidence.
func (m *AIModel) ScoreField(text string, f AIFactors, c DetectionContext) (Score, model.HandwritingAnalysis) {
	base := m.Score(f)
	adjusted := m.AdjustByContext(base.Value, c)
	analysis := m.handwriting.Analyze(text, adjusted)
	return Score{
		Value:    m.ApplyHandwritingBoost(adjusted, analysis.IsHandwritten),
		Degraded: base.Degraded,
	}, analysis
}

/**
 * OCR Confidence Model
 *
 * Calibrates the raw Tesseract confidence of an extracted value against
 * text-quality heuristics: value length, noise glyphs and the word-level
 * confidences of the tokens that make up the value.
 */

package confidence

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/checkscan-worker/internal/model"
)

// Word is one OCR-reported word with its engine confidence (0-100)
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OCRConfig holds the OCR model heuristics
type OCRConfig struct {
	// NoiseCharacters are glyphs unlikely to appear on a check
	NoiseCharacters string  `yaml:"noise_characters"`
	NoisePenalty    float64 `yaml:"noise_penalty"`
	NoiseFloor      float64 `yaml:"noise_floor"`
	// RegionReliability scales scores per field kind; missing kinds use 1.0
	RegionReliability map[string]float64 `yaml:"region_reliability"`
}

// DefaultOCRConfig returns the production OCR heuristics
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		NoiseCharacters: "~^`|\\{}[]<>¢£¥§¶¤¦¨¬¯°±²³´µ·¸¹º¼½¾¿×÷",
		NoisePenalty:    0.10,
		NoiseFloor:      0.50,
		RegionReliability: map[string]float64{
			"micr":   0.95,
			"amount": 0.90,
			"date":   0.90,
			"payee":  0.85,
		},
	}
}

// OCRModel scores values read by the deterministic OCR engine
type OCRModel struct {
	cfg OCRConfig
}

// NewOCRModel creates an OCR confidence model
func NewOCRModel(cfg OCRConfig) *OCRModel {
	return &OCRModel{cfg: cfg}
}

// Score calibrates engineConfidence (0-100) for extractedText. The running
// score is engineConfidence/100 scaled by the length and noise factors; the
// result is its average with the word-confidence factor. Malformed input
// yields a degraded neutral score instead of an error.
func (m *OCRModel) Score(engineConfidence float64, extractedText string, words []Word) (s Score) {
	defer guard(&s)

	if !finite(engineConfidence) {
		return degraded("engine confidence is not finite")
	}
	if !utf8.ValidString(extractedText) {
		return degraded("extracted text is not valid UTF-8")
	}
	for _, w := range words {
		if !finite(w.Confidence) {
			return degraded("word %q has a non-finite confidence", w.Text)
		}
	}

	running := engineConfidence / 100
	running *= lengthFactor(utf8.RuneCountInString(extractedText))
	running *= m.noiseFactor(extractedText)

	return computed((running + wordFactor(extractedText, words)) / 2)
}

// lengthFactor penalises very short values and long runs that give the
// engine more room to drift
func lengthFactor(n int) float64 {
	switch {
	case n < 3:
		return 0.70
	case n < 5:
		return 0.85
	case n <= 50:
		return 1.00
	case n <= 100:
		return 0.95
	default:
		return 0.90
	}
}

func (m *OCRModel) noiseFactor(text string) float64 {
	if m.cfg.NoiseCharacters == "" {
		return 1
	}
	count := 0
	for _, r := range text {
		if strings.ContainsRune(m.cfg.NoiseCharacters, r) {
			count++
		}
	}
	f := 1 - float64(count)*m.cfg.NoisePenalty
	if f < m.cfg.NoiseFloor {
		return m.cfg.NoiseFloor
	}
	return f
}

// wordFactor averages, over the whitespace tokens of text, the mean
// confidence of every OCR word that contains or is contained in the token
// (case-insensitive). Tokens without a match are skipped; no match at all
// gives NeutralConfidence.
func wordFactor(text string, words []Word) float64 {
	var sum float64
	matched := 0
	for _, token := range strings.Fields(strings.ToLower(text)) {
		var tokenSum float64
		hits := 0
		for _, w := range words {
			wt := strings.ToLower(strings.TrimSpace(w.Text))
			if wt == "" {
				continue
			}
			if strings.Contains(token, wt) || strings.Contains(wt, token) {
				tokenSum += model.Clamp(w.Confidence / 100)
				hits++
			}
		}
		if hits > 0 {
			sum += tokenSum / float64(hits)
			matched++
		}
	}
	if matched == 0 {
		return NeutralConfidence
	}
	return sum / float64(matched)
}

// AdjustByRegion applies the reliability factor of a field kind
// ("micr", "amount", "date", "payee"; anything else is 1.0)
func (m *OCRModel) AdjustByRegion(confidence float64, kind string) float64 {
	factor, ok := m.cfg.RegionReliability[kind]
	if !ok {
		factor = 1
	}
	return model.Clamp(confidence * factor)
}

// Combine merges confidences from several OCR passes over one field with a
// rank-weighted average: sorted descending, the i-th value weighs 1/(i+1).
func Combine(confidences []float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	sorted := make([]float64, 0, len(confidences))
	for _, c := range confidences {
		sorted = append(sorted, model.Clamp(c))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var sum, weights float64
	for i, c := range sorted {
		w := 1 / float64(i+1)
		sum += c * w
		weights += w
	}
	return model.Clamp(sum / weights)
}

/**
 * Check data model shared by the extraction engines, fusion and validation.
 *
 * Every object here is created fresh per check-processing invocation and
 * handed to the caller once fusion and validation are done.
 */

package model

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Source identifies which extraction engine produced a field value
type Source string

const (
	SourceOCR    Source = "ocr"
	SourceAI     Source = "ai"
	SourceHybrid Source = "hybrid" // reserved for values edited during manual review
)

// CheckField is a single extracted value with its calibrated confidence
type CheckField[T any] struct {
	Value      T       `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// NewField builds a field with the confidence clamped to [0,1]
func NewField[T any](value T, confidence float64, source Source) CheckField[T] {
	return CheckField[T]{Value: value, Confidence: Clamp(confidence), Source: source}
}

// MICRData holds the three sub-fields of the magnetic-ink line
type MICRData struct {
	Routing CheckField[string] `json:"routing"`
	Account CheckField[string] `json:"account"`
	Serial  CheckField[string] `json:"serial"`
}

// MeanConfidence is the arithmetic mean of the routing/account/serial confidences
func (m MICRData) MeanConfidence() float64 {
	return (m.Routing.Confidence + m.Account.Confidence + m.Serial.Confidence) / 3
}

// Fields is the per-engine bundle of extracted values. The OCR and AI
// engines both produce one; fusion reduces the pair to an ExtractedCheck.
type Fields struct {
	Payee       CheckField[string]              `json:"payee"`
	Amount      CheckField[decimal.NullDecimal] `json:"amount"`
	CheckDate   CheckField[string]              `json:"checkDate"`
	CheckNumber CheckField[string]              `json:"checkNumber"`
	Bank        CheckField[string]              `json:"bank"`
	MICR        MICRData                        `json:"micr"`
}

// PlaceholderFields returns a zero-confidence bundle tagged with source.
// It stands in for an engine that failed or timed out.
func PlaceholderFields(source Source) Fields {
	return Fields{
		Payee:       CheckField[string]{Source: source},
		Amount:      CheckField[decimal.NullDecimal]{Source: source},
		CheckDate:   CheckField[string]{Source: source},
		CheckNumber: CheckField[string]{Source: source},
		Bank:        CheckField[string]{Source: source},
		MICR: MICRData{
			Routing: CheckField[string]{Source: source},
			Account: CheckField[string]{Source: source},
			Serial:  CheckField[string]{Source: source},
		},
	}
}

// FieldConfidence pairs a field name with its confidence
type FieldConfidence struct {
	Name       string
	Confidence float64
}

// Confidences lists every field confidence in a fixed order
func (f Fields) Confidences() []FieldConfidence {
	return []FieldConfidence{
		{"payee", f.Payee.Confidence},
		{"amount", f.Amount.Confidence},
		{"checkDate", f.CheckDate.Confidence},
		{"checkNumber", f.CheckNumber.Confidence},
		{"bank", f.Bank.Confidence},
		{"micr.routing", f.MICR.Routing.Confidence},
		{"micr.account", f.MICR.Account.Confidence},
		{"micr.serial", f.MICR.Serial.Confidence},
	}
}

// SummaryWeights are the fixed per-field weights of the confidence summary
type SummaryWeights struct {
	Amount      float64 `yaml:"amount"`
	Payee       float64 `yaml:"payee"`
	Date        float64 `yaml:"date"`
	MICR        float64 `yaml:"micr"`
	CheckNumber float64 `yaml:"check_number"`
	Bank        float64 `yaml:"bank"`
}

// DefaultSummaryWeights returns the production weight set
func DefaultSummaryWeights() SummaryWeights {
	return SummaryWeights{
		Amount:      0.30,
		Payee:       0.20,
		Date:        0.10,
		MICR:        0.20,
		CheckNumber: 0.10,
		Bank:        0.10,
	}
}

// ExtractedCheck is the fused result handed to persistence. The summary is
// derived from the current field confidences on every read, so edits to
// the embedded fields are always reflected.
type ExtractedCheck struct {
	Fields
	weights SummaryWeights
}

// NewExtractedCheck wraps fused fields with the weights of their summary
func NewExtractedCheck(fields Fields, weights SummaryWeights) *ExtractedCheck {
	return &ExtractedCheck{Fields: fields, weights: weights}
}

// ConfidenceSummary is a weighted sum of the field confidences (MICR
// contributes the mean of its three parts), rounded to two decimals.
func (c *ExtractedCheck) ConfidenceSummary() float64 {
	w := c.weights
	sum := c.Amount.Confidence*w.Amount +
		c.Payee.Confidence*w.Payee +
		c.CheckDate.Confidence*w.Date +
		c.MICR.MeanConfidence()*w.MICR +
		c.CheckNumber.Confidence*w.CheckNumber +
		c.Bank.Confidence*w.Bank
	return math.Round(Clamp(sum)*100) / 100
}

// MarshalJSON flattens the fields and adds the summary
func (c *ExtractedCheck) MarshalJSON() ([]byte, error) {
	type fields Fields
	return json.Marshal(struct {
		fields
		ConfidenceSummary float64 `json:"confidenceSummary"`
	}{fields(c.Fields), c.ConfidenceSummary()})
}

// ValidationResult is derived from an ExtractedCheck. Errors block approval,
// warnings do not.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Clamp limits v to [0,1]; NaN maps to 0
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

/**
 * Hybrid Fusion Engine
 *
 * Reconciles the OCR and AI extraction bundles field by field. Every field,
 * including each MICR sub-field, goes through the same selection policy;
 * the winning field keeps its engine's source tag and confidence.
 */

package fusion

import (
	"fmt"

	"github.com/adverant/nexus/checkscan-worker/internal/model"
)

// Policy holds the thresholds of the per-field selection rule
type Policy struct {
	// BothHighThreshold: when both engines reach it, the AI value wins
	BothHighThreshold float64 `yaml:"both_high_threshold"`
	// Margin an engine must lead by to win outright
	Margin float64 `yaml:"margin"`
	// TieBreak decides exact confidence ties
	TieBreak model.Source `yaml:"tie_break"`
}

// DefaultPolicy returns the production selection policy. Exact ties go to
// OCR.
func DefaultPolicy() Policy {
	return Policy{
		BothHighThreshold: 0.90,
		Margin:            0.10,
		TieBreak:          model.SourceOCR,
	}
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if p.TieBreak != model.SourceOCR && p.TieBreak != model.SourceAI {
		return fmt.Errorf("fusion tie-break must be %q or %q, got %q", model.SourceOCR, model.SourceAI, p.TieBreak)
	}
	if p.Margin < 0 || p.Margin > 1 {
		return fmt.Errorf("fusion margin must be within [0,1], got %v", p.Margin)
	}
	if p.BothHighThreshold < 0 || p.BothHighThreshold > 1 {
		return fmt.Errorf("fusion high threshold must be within [0,1], got %v", p.BothHighThreshold)
	}
	return nil
}

// Decision names the rule that selected a field
type Decision string

const (
	DecisionBothHigh Decision = "both_high"
	DecisionAILeads  Decision = "ai_leads"
	DecisionOCRLeads Decision = "ocr_leads"
	DecisionHigher   Decision = "higher"
	DecisionTie      Decision = "tie"
)

// Choose applies the selection rule to a pair of confidences and returns
// the winning source with the rule that decided it
func (p Policy) Choose(ocrConf, aiConf float64) (model.Source, Decision) {
	switch {
	case ocrConf >= p.BothHighThreshold && aiConf >= p.BothHighThreshold:
		return model.SourceAI, DecisionBothHigh
	case aiConf-ocrConf > p.Margin:
		return model.SourceAI, DecisionAILeads
	case ocrConf-aiConf > p.Margin:
		return model.SourceOCR, DecisionOCRLeads
	case aiConf > ocrConf:
		return model.SourceAI, DecisionHigher
	case ocrConf > aiConf:
		return model.SourceOCR, DecisionHigher
	default:
		tie := p.TieBreak
		if tie != model.SourceAI {
			tie = model.SourceOCR
		}
		return tie, DecisionTie
	}
}

// SelectBest picks one of two candidates for the same field. The result is
// a function of the two confidences only, so it is deterministic.
func SelectBest[T any](p Policy, ocrField, aiField model.CheckField[T]) model.CheckField[T] {
	if src, _ := p.Choose(ocrField.Confidence, aiField.Confidence); src == model.SourceAI {
		return aiField
	}
	return ocrField
}

// FieldChoice records which engine won a field
type FieldChoice struct {
	Field    string       `json:"field"`
	Source   model.Source `json:"source"`
	Decision Decision     `json:"decision"`
}

// Engine fuses engine outputs into an ExtractedCheck
type Engine struct {
	policy  Policy
	weights model.SummaryWeights
}

// NewEngine creates a fusion engine
func NewEngine(policy Policy, weights model.SummaryWeights) *Engine {
	return &Engine{policy: policy, weights: weights}
}

// Policy returns the engine's selection policy
func (e *Engine) Policy() Policy { return e.policy }

// Fuse selects every field independently and computes the summary
func (e *Engine) Fuse(ocr, ai model.Fields) *model.ExtractedCheck {
	check, _ := e.FuseWithTrace(ocr, ai)
	return check
}

// FuseWithTrace is Fuse plus the per-field choices, in the order of
// model.Fields.Confidences
func (e *Engine) FuseWithTrace(ocr, ai model.Fields) (*model.ExtractedCheck, []FieldChoice) {
	trace := make([]FieldChoice, 0, 8)
	note := func(name string, ocrConf, aiConf float64) {
		src, d := e.policy.Choose(ocrConf, aiConf)
		trace = append(trace, FieldChoice{Field: name, Source: src, Decision: d})
	}

	note("payee", ocr.Payee.Confidence, ai.Payee.Confidence)
	note("amount", ocr.Amount.Confidence, ai.Amount.Confidence)
	note("checkDate", ocr.CheckDate.Confidence, ai.CheckDate.Confidence)
	note("checkNumber", ocr.CheckNumber.Confidence, ai.CheckNumber.Confidence)
	note("bank", ocr.Bank.Confidence, ai.Bank.Confidence)
	note("micr.routing", ocr.MICR.Routing.Confidence, ai.MICR.Routing.Confidence)
	note("micr.account", ocr.MICR.Account.Confidence, ai.MICR.Account.Confidence)
	note("micr.serial", ocr.MICR.Serial.Confidence, ai.MICR.Serial.Confidence)

	fused := model.Fields{
		Payee:       SelectBest(e.policy, ocr.Payee, ai.Payee),
		Amount:      SelectBest(e.policy, ocr.Amount, ai.Amount),
		CheckDate:   SelectBest(e.policy, ocr.CheckDate, ai.CheckDate),
		CheckNumber: SelectBest(e.policy, ocr.CheckNumber, ai.CheckNumber),
		Bank:        SelectBest(e.policy, ocr.Bank, ai.Bank),
		MICR: model.MICRData{
			Routing: SelectBest(e.policy, ocr.MICR.Routing, ai.MICR.Routing),
			Account: SelectBest(e.policy, ocr.MICR.Account, ai.MICR.Account),
			Serial:  SelectBest(e.policy, ocr.MICR.Serial, ai.MICR.Serial),
		},
	}
	return model.NewExtractedCheck(fused, e.weights), trace
}

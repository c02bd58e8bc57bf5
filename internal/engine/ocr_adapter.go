package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
)

const (
	digitWhitelist  = "0123456789"
	amountWhitelist = "0123456789.,$"
)

// ocrTarget maps a check field to the region it is read from
type ocrTarget struct {
	field      string
	region     string
	kind       string
	singleLine bool
	whitelist  string
}

var ocrTargets = []ocrTarget{
	{field: "payee", region: region.PayeeRegion, kind: "payee"},
	{field: "amount", region: region.AmountRegion, kind: "amount", singleLine: true, whitelist: amountWhitelist},
	{field: "checkDate", region: region.DateRegion, kind: "date", singleLine: true},
	{field: "checkNumber", region: region.CheckNumberRegion, kind: "checkNumber", singleLine: true, whitelist: digitWhitelist},
	{field: "bank", region: region.TopSection, kind: "bank"},
	{field: "micr", region: region.MICRRegion, kind: "micr", singleLine: true, whitelist: digitWhitelist + " "},
}

// OCRAdapter reads each field from its enhanced region crop with the OCR
// engine. Digit fields get a second whitelisted pass; when both passes
// agree their confidences are combined.
type OCRAdapter struct {
	engine OCREngine
	model  *confidence.OCRModel
	logger *logging.Logger
}

// NewOCRAdapter creates an OCR adapter
func NewOCRAdapter(engine OCREngine, m *confidence.OCRModel) *OCRAdapter {
	return &OCRAdapter{
		engine: engine,
		model:  m,
		logger: logging.NewLogger("OCRAdapter"),
	}
}

// Source implements Adapter
func (a *OCRAdapter) Source() model.Source { return model.SourceOCR }

// reading is one scored pass over a region
type reading struct {
	text  string
	score confidence.Score
}

// Extract implements Adapter. A region the engine cannot read leaves its
// field as a zero-confidence placeholder; the call fails only if no region
// could be read at all or ctx is done.
func (a *OCRAdapter) Extract(ctx context.Context, in *Input) (*Candidates, error) {
	out := &Candidates{
		Fields:      model.PlaceholderFields(model.SourceOCR),
		Handwriting: map[string]model.HandwritingAnalysis{},
	}

	attempted, read := 0, 0
	for _, t := range ocrTargets {
		buf, ok := in.Regions[t.region]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempted++

		first, err := a.pass(ctx, buf, OCROptions{SingleLine: t.singleLine})
		if err != nil {
			a.logger.Warn("OCR pass failed", "jobId", in.JobID, "region", t.region, "error", err)
			out.Failures = append(out.Failures, fmt.Errorf("region %s: %w", t.region, err))
			continue
		}
		read++

		var second *reading
		if t.whitelist != "" {
			second, err = a.pass(ctx, buf, OCROptions{SingleLine: t.singleLine, Whitelist: t.whitelist})
			if err != nil {
				a.logger.Debug("Whitelisted OCR pass failed", "jobId", in.JobID, "region", t.region, "error", err)
				second = nil
			}
		}

		if d := a.assign(out, t, first, second); d != nil {
			out.Degraded = append(out.Degraded, DegradedField{Field: t.field, Reason: d.Reason})
		}
	}

	if attempted > 0 && read == 0 {
		return nil, fmt.Errorf("ocr engine could not read any region: %w", errors.Join(out.Failures...))
	}
	return out, nil
}

func (a *OCRAdapter) pass(ctx context.Context, buf []byte, opts OCROptions) (*reading, error) {
	page, err := a.engine.Recognize(ctx, buf, opts)
	if err != nil {
		return nil, err
	}
	return &reading{text: page.Text, score: a.model.Score(page.Confidence, page.Text, page.Words)}, nil
}

// assign parses the target's field out of the readings and stores it with
// its region-adjusted confidence. A non-nil return means the score was
// defaulted.
func (a *OCRAdapter) assign(out *Candidates, t ocrTarget, first, second *reading) *confidence.ScoringDegraded {
	switch t.field {
	case "payee":
		if v, ok := ParsePayee(first.text); ok {
			out.Fields.Payee = model.NewField(v, a.adjust(first.score.Value, t.kind), model.SourceOCR)
		}
	case "checkDate":
		if v, ok := ParseDate(first.text); ok {
			out.Fields.CheckDate = model.NewField(v, a.adjust(first.score.Value, t.kind), model.SourceOCR)
		}
	case "bank":
		if v, ok := ParseBank(first.text); ok {
			out.Fields.Bank = model.NewField(v, a.adjust(first.score.Value, t.kind), model.SourceOCR)
		}
	case "amount":
		v, ok := ParseAmount(first.text)
		if !ok {
			if second == nil {
				break
			}
			if v, ok = ParseAmount(second.text); !ok {
				break
			}
			out.Fields.Amount = model.NewField(v, a.adjust(second.score.Value, t.kind), model.SourceOCR)
			break
		}
		conf := first.score.Value
		if second != nil {
			if v2, ok := ParseAmount(second.text); ok && v2.Decimal.Equal(v.Decimal) {
				conf = confidence.Combine([]float64{first.score.Value, second.score.Value})
			}
		}
		out.Fields.Amount = model.NewField(v, a.adjust(conf, t.kind), model.SourceOCR)
	case "checkNumber":
		v, conf, ok := agree(ParseCheckNumber, first, second)
		if ok {
			out.Fields.CheckNumber = model.NewField(v, a.adjust(conf, t.kind), model.SourceOCR)
		}
	case "micr":
		line, conf, ok := agreeMICR(first, second)
		if !ok {
			break
		}
		c := a.adjust(conf, t.kind)
		if line.Routing != "" {
			out.Fields.MICR.Routing = model.NewField(line.Routing, c, model.SourceOCR)
		}
		if line.Account != "" {
			out.Fields.MICR.Account = model.NewField(line.Account, c, model.SourceOCR)
		}
		if line.Serial != "" {
			out.Fields.MICR.Serial = model.NewField(line.Serial, c, model.SourceOCR)
		}
	}
	return first.score.Degraded
}

func (a *OCRAdapter) adjust(conf float64, kind string) float64 {
	return a.model.AdjustByRegion(conf, kind)
}

// agree parses both readings and combines their confidences when the two
// passes produced the same value. A value only the second pass could parse
// keeps the second pass's confidence.
func agree(parse func(string) (string, bool), first, second *reading) (string, float64, bool) {
	v1, ok1 := parse(first.text)
	if second == nil {
		return v1, first.score.Value, ok1
	}
	v2, ok2 := parse(second.text)
	switch {
	case ok1 && ok2 && v1 == v2:
		return v1, confidence.Combine([]float64{first.score.Value, second.score.Value}), true
	case ok1:
		return v1, first.score.Value, true
	case ok2:
		return v2, second.score.Value, true
	default:
		return "", 0, false
	}
}

func agreeMICR(first, second *reading) (MICRLine, float64, bool) {
	l1, ok1 := ParseMICR(first.text)
	if second == nil {
		return l1, first.score.Value, ok1
	}
	l2, ok2 := ParseMICR(second.text)
	switch {
	case ok1 && ok2 && l1 == l2:
		return l1, confidence.Combine([]float64{first.score.Value, second.score.Value}), true
	case ok1:
		return l1, first.score.Value, true
	case ok2:
		return l2, second.score.Value, true
	default:
		return MICRLine{}, 0, false
	}
}

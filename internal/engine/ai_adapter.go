package engine

import (
	"context"
	"errors"
	"image"
	"regexp"
	"strings"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
	"github.com/adverant/nexus/checkscan-worker/internal/validation"
)

// fieldOrder matches model.Fields.Confidences
var fieldOrder = []string{
	"payee", "amount", "checkDate", "checkNumber", "bank",
	"micr.routing", "micr.account", "micr.serial",
}

var fieldAliases = map[string]string{
	"payee":        "payee",
	"pay_to":       "payee",
	"amount":       "amount",
	"courtesy":     "amount",
	"date":         "checkDate",
	"checkdate":    "checkDate",
	"check_date":   "checkDate",
	"checknumber":  "checkNumber",
	"check_number": "checkNumber",
	"bank":         "bank",
	"bank_name":    "bank",
	"micr":         "micr",
	"routing":      "micr.routing",
	"micr.routing": "micr.routing",
	"account":      "micr.account",
	"micr.account": "micr.account",
	"serial":       "micr.serial",
	"micr.serial":  "micr.serial",
}

var fieldRegions = map[string]string{
	"payee":        region.PayeeRegion,
	"amount":       region.AmountRegion,
	"checkDate":    region.DateRegion,
	"checkNumber":  region.CheckNumberRegion,
	"bank":         region.TopSection,
	"micr.routing": region.MICRRegion,
	"micr.account": region.MICRRegion,
	"micr.serial":  region.MICRRegion,
}

var expectedFormats = map[string]*regexp.Regexp{
	"payee":        regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 .,'&/-]+$`),
	"amount":       regexp.MustCompile(`^\$?\s*(\d{1,3}(,\d{3})+|\d+)(\.\d{2})?$`),
	"checkNumber":  regexp.MustCompile(`^\d{3,8}$`),
	"micr.routing": regexp.MustCompile(`^\d{9}$`),
	"micr.account": regexp.MustCompile(`^\d{4,17}$`),
	"micr.serial":  regexp.MustCompile(`^\d{1,8}$`),
}

var nonDigit = regexp.MustCompile(`\D`)

// AIAdapter sends the full check image to the vision engine once and
// scores every returned detection with the AI confidence model
type AIAdapter struct {
	engine VisionEngine
	model  *confidence.AIModel
	rules  validation.Rules
	logger *logging.Logger
}

// NewAIAdapter creates an AI adapter. rules supplies the routing checksum
// used to cross-validate MICR detections.
func NewAIAdapter(engine VisionEngine, m *confidence.AIModel, rules validation.Rules) *AIAdapter {
	return &AIAdapter{
		engine: engine,
		model:  m,
		rules:  rules,
		logger: logging.NewLogger("AIAdapter"),
	}
}

// Source implements Adapter
func (a *AIAdapter) Source() model.Source { return model.SourceAI }

// Extract implements Adapter. Engine failures are returned unchanged so the
// caller can tell a timeout from a rejected request.
func (a *AIAdapter) Extract(ctx context.Context, in *Input) (*Candidates, error) {
	res, err := a.engine.Detect(WithJobID(ctx, in.JobID), in.Image)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("vision engine returned no result")
	}

	groups := groupDetections(res.Detections)
	values := make(map[string]string, len(groups))
	best := make(map[string]Detection, len(groups))
	for name, dets := range groups {
		top := dets[0]
		for _, d := range dets[1:] {
			if d.Confidence > top.Confidence {
				top = d
			}
		}
		best[name] = top
		values[name] = normalizeValue(name, top.Text)
	}

	out := &Candidates{
		Fields:      model.PlaceholderFields(model.SourceAI),
		Handwriting: map[string]model.HandwritingAnalysis{},
	}
	for _, name := range fieldOrder {
		det, ok := best[name]
		if !ok || values[name] == "" {
			continue
		}

		factors := confidence.AIFactors{
			TextDetectionConfidence: det.Confidence,
			BoundingBoxQuality:      boxQuality(det.Box, in.ROIs, fieldRegions[name]),
			TextLength:              len([]rune(strings.TrimSpace(det.Text))),
			LanguageDetected:        det.Language != "",
		}
		dc := confidence.DetectionContext{
			HasMultipleDetections: agreeing(name, groups[name], values[name]) >= 2,
			MatchesExpectedFormat: matchesFormat(name, strings.TrimSpace(det.Text)),
			CrossValidated:        a.crossValidated(name, values),
		}

		score, analysis := a.model.ScoreField(det.Text, factors, dc)
		if score.IsDegraded() {
			out.Degraded = append(out.Degraded, DegradedField{Field: name, Reason: score.Degraded.Reason})
			a.logger.Debug("AI score defaulted", "jobId", in.JobID, "field", name, "reason", score.Degraded.Reason)
		}
		out.Handwriting[name] = analysis
		a.set(&out.Fields, name, values[name], score.Value)
	}

	if severe, ok := mostSevere(out.Handwriting); ok {
		out.ManualReview = a.model.Handwriting().SuggestManualFields(out.Fields.Confidences(), severe)
	}

	a.logger.Debug("AI extraction scored",
		"jobId", in.JobID,
		"model", res.ModelUsed,
		"detections", len(res.Detections),
		"fields", len(out.Handwriting))
	return out, nil
}

func (a *AIAdapter) set(f *model.Fields, name, value string, conf float64) {
	switch name {
	case "payee":
		f.Payee = model.NewField(value, conf, model.SourceAI)
	case "amount":
		if amt, ok := ParseAmount(value); ok {
			f.Amount = model.NewField(amt, conf, model.SourceAI)
		}
	case "checkDate":
		f.CheckDate = model.NewField(value, conf, model.SourceAI)
	case "checkNumber":
		f.CheckNumber = model.NewField(value, conf, model.SourceAI)
	case "bank":
		f.Bank = model.NewField(value, conf, model.SourceAI)
	case "micr.routing":
		f.MICR.Routing = model.NewField(value, conf, model.SourceAI)
	case "micr.account":
		f.MICR.Account = model.NewField(value, conf, model.SourceAI)
	case "micr.serial":
		f.MICR.Serial = model.NewField(value, conf, model.SourceAI)
	}
}

// crossValidated reports whether another field corroborates name: a
// routing number passing its checksum, or a check number equal to the MICR
// serial
func (a *AIAdapter) crossValidated(name string, values map[string]string) bool {
	switch name {
	case "micr.routing":
		return validation.ValidRoutingNumber(values[name], a.rules.ABAWeights)
	case "checkNumber", "micr.serial":
		n, s := strings.TrimLeft(values["checkNumber"], "0"), strings.TrimLeft(values["micr.serial"], "0")
		return n != "" && n == s
	default:
		return false
	}
}

// groupDetections buckets detections by canonical field name, splitting an
// unsplit MICR line into its three sub-fields
func groupDetections(dets []Detection) map[string][]Detection {
	groups := map[string][]Detection{}
	for _, d := range dets {
		name, ok := fieldAliases[strings.ToLower(strings.TrimSpace(d.Field))]
		if !ok {
			continue
		}
		if name != "micr" {
			groups[name] = append(groups[name], d)
			continue
		}
		line, ok := ParseMICR(d.Text)
		if !ok {
			continue
		}
		for sub, text := range map[string]string{
			"micr.routing": line.Routing,
			"micr.account": line.Account,
			"micr.serial":  line.Serial,
		} {
			if text == "" {
				continue
			}
			part := d
			part.Field, part.Text = sub, text
			groups[sub] = append(groups[sub], part)
		}
	}
	return groups
}

func normalizeValue(name, text string) string {
	text = strings.TrimSpace(text)
	switch name {
	case "amount":
		if amt, ok := ParseAmount(text); ok {
			return amt.Decimal.StringFixed(2)
		}
		return ""
	case "checkDate":
		v, _ := ParseDate(text)
		return v
	case "checkNumber", "micr.routing", "micr.account", "micr.serial":
		return nonDigit.ReplaceAllString(text, "")
	default:
		return strings.Join(strings.Fields(text), " ")
	}
}

func agreeing(name string, dets []Detection, value string) int {
	n := 0
	for _, d := range dets {
		if normalizeValue(name, d.Text) == value {
			n++
		}
	}
	return n
}

func matchesFormat(name, text string) bool {
	if name == "checkDate" {
		_, ok := validation.ParseCheckDate(text)
		return ok
	}
	if name == "bank" {
		return bankKeywords.MatchString(text)
	}
	re, ok := expectedFormats[name]
	return ok && re.MatchString(text)
}

// boxQuality is the fraction of the detection box lying inside the ROI the
// field is expected in. Without a usable box or ROI it is 0.
func boxQuality(box BoundingBox, rois []region.ROI, regionName string) float64 {
	r := box.Rect()
	area := r.Dx() * r.Dy()
	if area <= 0 {
		return 0
	}
	roi, ok := region.Lookup(rois, regionName)
	if !ok {
		return 0
	}
	inside := r.Intersect(image.Rect(roi.X, roi.Y, roi.X+roi.Width, roi.Y+roi.Height))
	return float64(inside.Dx()*inside.Dy()) / float64(area)
}

var approachRank = map[model.Approach]int{
	model.ApproachStandard:     0,
	model.ApproachEnhanced:     1,
	model.ApproachManualReview: 2,
}

// mostSevere returns the analysis recommending the heaviest approach, lowest
// confidence first on ties
func mostSevere(analyses map[string]model.HandwritingAnalysis) (model.HandwritingAnalysis, bool) {
	var worst model.HandwritingAnalysis
	found := false
	for _, name := range fieldOrder {
		h, ok := analyses[name]
		if !ok {
			continue
		}
		if !found ||
			approachRank[h.SuggestedApproach] > approachRank[worst.SuggestedApproach] ||
			(h.SuggestedApproach == worst.SuggestedApproach && h.Confidence < worst.Confidence) {
			worst, found = h, true
		}
	}
	return worst, found
}

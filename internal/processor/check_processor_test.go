package processor

import (
	"context"
	"errors"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/engine"
	apperrors "github.com/adverant/nexus/checkscan-worker/internal/errors"
	"github.com/adverant/nexus/checkscan-worker/internal/fusion"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
	"github.com/adverant/nexus/checkscan-worker/internal/validation"
)

type fakeAdapter struct {
	source model.Source
	fields model.Fields
	err    error
	block  bool
	panics bool
	// sleep delays the result without watching ctx
	sleep    time.Duration
	degraded []engine.DegradedField

	// started is closed when Extract begins; peer is waited on before
	// returning so both adapters must be in flight at once
	started chan struct{}
	peer    chan struct{}

	mu   sync.Mutex
	seen *engine.Input
}

func (f *fakeAdapter) Source() model.Source { return f.source }

func (f *fakeAdapter) Extract(ctx context.Context, in *engine.Input) (*engine.Candidates, error) {
	f.mu.Lock()
	f.seen = in
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.peer != nil {
		select {
		case <-f.peer:
		case <-time.After(2 * time.Second):
			return nil, errors.New("peer adapter never started")
		}
	}
	if f.panics {
		panic("adapter bug")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Candidates{Fields: f.fields, Degraded: f.degraded}, nil
}

func checkPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := region.EncodePNG(imaging.New(w, h, color.NRGBA{R: 250, G: 250, B: 250, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func fieldsFrom(src model.Source, conf float64, amountConf float64) model.Fields {
	f := model.Fields{
		Payee:       model.NewField("ACME SUPPLY", conf, src),
		Amount:      model.NewField(decimal.NewNullDecimal(decimal.RequireFromString("1250.00")), amountConf, src),
		CheckDate:   model.NewField(time.Now().AddDate(0, 0, -2).Format("01/02/2006"), conf, src),
		CheckNumber: model.NewField("1001", conf, src),
		Bank:        model.NewField("FIRST NATIONAL BANK", conf, src),
		MICR: model.MICRData{
			Routing: model.NewField("021000021", conf, src),
			Account: model.NewField("123456789", conf, src),
			Serial:  model.NewField("1001", conf, src),
		},
	}
	return f
}

func newTestProcessor(t *testing.T, ocr, ai engine.Adapter, strategy region.Strategy, timeout time.Duration) *CheckProcessor {
	t.Helper()
	p, err := NewCheckProcessor(&ProcessorConfig{
		Segmenter:     region.NewSegmenter(region.DefaultLayout(), strategy),
		OCR:           ocr,
		AI:            ai,
		Fusion:        fusion.NewEngine(fusion.DefaultPolicy(), model.DefaultSummaryWeights()),
		Validator:     validation.NewValidator(validation.DefaultRules()),
		Levels:        confidence.NewAIModel(confidence.DefaultAIConfig()),
		EngineTimeout: timeout,
		MaxImageSize:  1 << 22,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessCheckImageEndToEnd(t *testing.T) {
	ocrStarted, aiStarted := make(chan struct{}), make(chan struct{})
	ocr := &fakeAdapter{source: model.SourceOCR, fields: fieldsFrom(model.SourceOCR, 0.70, 0.95), started: ocrStarted, peer: aiStarted}
	ai := &fakeAdapter{source: model.SourceAI, fields: fieldsFrom(model.SourceAI, 0.92, 0.80), started: aiStarted, peer: ocrStarted}
	p := newTestProcessor(t, ocr, ai, region.CollectErrors, time.Second)

	res, err := p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-1", Image: checkPNG(t, 1000, 400)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Check.Amount.Source != model.SourceOCR || res.Check.Amount.Confidence != 0.95 {
		t.Errorf("amount should come from ocr at 0.95, got %s at %v", res.Check.Amount.Source, res.Check.Amount.Confidence)
	}
	if res.Check.Payee.Source != model.SourceAI {
		t.Errorf("payee should come from ai, got %s", res.Check.Payee.Source)
	}
	if !res.Validation.IsValid {
		t.Errorf("expected valid check, got %+v", res.Validation)
	}
	if len(res.Diagnostics.FieldChoices) != 8 || len(res.Diagnostics.EngineFailures) != 0 {
		t.Errorf("unexpected diagnostics %+v", res.Diagnostics)
	}
	// 0.95*0.30 + 0.92*0.70 = 0.929
	if res.Check.ConfidenceSummary() != 0.93 || res.Route() != RouteAutoApprove {
		t.Errorf("summary %v route %s", res.Check.ConfidenceSummary(), res.Route())
	}

	in := ocr.seen
	micr, ok := region.Lookup(in.ROIs, region.MICRRegion)
	if !ok || micr != (region.ROI{Name: region.MICRRegion, X: 0, Y: 352, Width: 1000, Height: 48}) {
		t.Errorf("decoded bounds should drive the ROIs, got %+v", micr)
	}
	if len(in.Regions) != 10 || len(in.Regions[region.MICRRegion]) == 0 {
		t.Errorf("expected every region encoded, got %d", len(in.Regions))
	}
}

func TestProcessCheckImageDegradesFailedEngine(t *testing.T) {
	ocr := &fakeAdapter{source: model.SourceOCR, fields: fieldsFrom(model.SourceOCR, 0.88, 0.88)}

	tests := []struct {
		name string
		ai   *fakeAdapter
		code apperrors.ErrorCode
	}{
		{"error", &fakeAdapter{source: model.SourceAI, err: errors.New("503 from vision")}, apperrors.ErrorAIEngineFailed},
		{"timeout", &fakeAdapter{source: model.SourceAI, block: true}, apperrors.ErrorEngineTimeout},
		{"panic", &fakeAdapter{source: model.SourceAI, panics: true}, apperrors.ErrorAIEngineFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, ocr, tt.ai, region.CollectErrors, 30*time.Millisecond)
			res, err := p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-2", Image: checkPNG(t, 600, 240)})
			if err != nil {
				t.Fatalf("engine failure must not fail the pipeline: %v", err)
			}
			failures := res.Diagnostics.EngineFailures
			if len(failures) != 1 || failures[0].Engine != model.SourceAI || failures[0].Code != tt.code {
				t.Fatalf("expected one %s failure, got %+v", tt.code, failures)
			}
			for _, c := range res.Diagnostics.FieldChoices {
				if c.Source != model.SourceOCR {
					t.Errorf("%s should fall back to ocr, got %s", c.Field, c.Source)
				}
			}
			if res.Check.Payee.Value != "ACME SUPPLY" || res.Check.Payee.Confidence != 0.88 {
				t.Errorf("payee: %+v", res.Check.Payee)
			}
		})
	}
}

func TestProcessCheckImageAbandonsUnresponsiveEngine(t *testing.T) {
	ocr := &fakeAdapter{source: model.SourceOCR, fields: fieldsFrom(model.SourceOCR, 0.80, 0.80)}
	ai := &fakeAdapter{source: model.SourceAI, fields: fieldsFrom(model.SourceAI, 0.99, 0.99), sleep: 600 * time.Millisecond}
	p := newTestProcessor(t, ocr, ai, region.CollectErrors, 30*time.Millisecond)

	start := time.Now()
	res, err := p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-9", Image: checkPNG(t, 600, 240)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if took := time.Since(start); took >= 500*time.Millisecond {
		t.Errorf("pipeline waited %v for an engine past its deadline", took)
	}
	failures := res.Diagnostics.EngineFailures
	if len(failures) != 1 || failures[0].Engine != model.SourceAI || failures[0].Code != apperrors.ErrorEngineTimeout {
		t.Fatalf("expected one ENGINE_TIMEOUT for ai, got %+v", failures)
	}
	if res.Check.Payee.Source != model.SourceOCR || res.Route() != RouteManualReview {
		t.Errorf("late ai result must be dropped, got payee from %s routed %s", res.Check.Payee.Source, res.Route())
	}
}

func TestProcessCheckImageRecordsDegradedScores(t *testing.T) {
	ocr := &fakeAdapter{source: model.SourceOCR, fields: fieldsFrom(model.SourceOCR, 0.80, 0.80)}
	ai := &fakeAdapter{
		source:   model.SourceAI,
		fields:   fieldsFrom(model.SourceAI, 0.5, 0.5),
		degraded: []engine.DegradedField{{Field: "amount", Reason: "non-finite factor"}},
	}
	p := newTestProcessor(t, ocr, ai, region.CollectErrors, time.Second)

	res, err := p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-10", Image: checkPNG(t, 600, 240)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := res.Diagnostics.DegradedScores
	if len(got) != 1 || got[0].Engine != model.SourceAI || got[0].Field != "amount" || got[0].Code != apperrors.ErrorScoringDegraded {
		t.Fatalf("unexpected degraded scores %+v", got)
	}
	if !strings.Contains(got[0].Message, "non-finite factor") {
		t.Errorf("reason missing from %q", got[0].Message)
	}
}

func TestProcessCheckImageBothEnginesFail(t *testing.T) {
	ocr := &fakeAdapter{source: model.SourceOCR, err: errors.New("tesseract missing")}
	ai := &fakeAdapter{source: model.SourceAI, err: errors.New("vision down")}
	p := newTestProcessor(t, ocr, ai, region.CollectErrors, time.Second)

	res, err := p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-3", Image: checkPNG(t, 600, 240)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Diagnostics.EngineFailures) != 2 {
		t.Fatalf("expected both failures recorded, got %+v", res.Diagnostics.EngineFailures)
	}
	if res.Check.ConfidenceSummary() != 0 || res.Validation.IsValid || res.Route() != RouteManualReview {
		t.Errorf("expected an empty check routed to review, got %+v", res)
	}
	if res.Diagnostics.ConfidenceLevel != confidence.LevelLow {
		t.Errorf("expected low level, got %s", res.Diagnostics.ConfidenceLevel)
	}
}

func TestProcessCheckImageRejectsBadInput(t *testing.T) {
	ok := &fakeAdapter{source: model.SourceOCR}
	p := newTestProcessor(t, ok, &fakeAdapter{source: model.SourceAI}, region.CollectErrors, time.Second)

	_, err := p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-4", Image: []byte("not an image")})
	if !apperrors.HasCode(err, apperrors.ErrorInvalidImage) {
		t.Fatalf("expected INVALID_IMAGE, got %v", err)
	}

	_, err = p.ProcessCheckImage(context.Background(), &CheckRequest{JobID: "job-4", Image: make([]byte, 1<<23)})
	if !apperrors.HasCode(err, apperrors.ErrorInvalidImage) {
		t.Fatalf("expected size rejection, got %v", err)
	}
}

func TestProcessCheckImageRegionStrategies(t *testing.T) {
	// declared dimensions twice the real image push the lower regions out
	req := &CheckRequest{JobID: "job-5", Image: checkPNG(t, 500, 200), Width: 1000, Height: 400}

	abort := newTestProcessor(t, &fakeAdapter{source: model.SourceOCR}, &fakeAdapter{source: model.SourceAI}, region.AbortOnFirst, time.Second)
	if _, err := abort.ProcessCheckImage(context.Background(), req); !apperrors.HasCode(err, apperrors.ErrorRegionExtraction) {
		t.Fatalf("expected REGION_EXTRACTION_FAILED, got %v", err)
	}

	ocr := &fakeAdapter{source: model.SourceOCR, fields: fieldsFrom(model.SourceOCR, 0.8, 0.8)}
	collect := newTestProcessor(t, ocr, &fakeAdapter{source: model.SourceAI}, region.CollectErrors, time.Second)
	res, err := collect.ProcessCheckImage(context.Background(), req)
	if err != nil {
		t.Fatalf("collect strategy should continue: %v", err)
	}
	if len(res.Diagnostics.RegionErrors) == 0 {
		t.Error("expected region errors in diagnostics")
	}
	if _, ok := ocr.seen.Regions[region.MICRRegion]; ok {
		t.Error("micr region lies outside the image and should be missing")
	}
	if _, ok := ocr.seen.Regions[region.TopSection]; !ok {
		t.Error("top section should still be extracted")
	}
}

func TestProcessCheckImageHonoursCancellation(t *testing.T) {
	ocr := &fakeAdapter{source: model.SourceOCR, block: true}
	ai := &fakeAdapter{source: model.SourceAI, block: true}
	p := newTestProcessor(t, ocr, ai, region.CollectErrors, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.ProcessCheckImage(ctx, &CheckRequest{JobID: "job-6", Image: checkPNG(t, 300, 120)})
	if !apperrors.HasCode(err, apperrors.ErrorProcessingTimeout) {
		t.Fatalf("expected PROCESSING_TIMEOUT, got %v", err)
	}
}

func TestRevalidateAfterEdit(t *testing.T) {
	p := newTestProcessor(t, &fakeAdapter{source: model.SourceOCR}, &fakeAdapter{source: model.SourceAI}, region.CollectErrors, time.Second)
	check := p.Fuse(fieldsFrom(model.SourceOCR, 0.9, 0.9), model.PlaceholderFields(model.SourceAI))
	check.MICR.Routing = model.NewField("123456789", 1, model.SourceHybrid)
	if res := p.Revalidate(check); res.IsValid {
		t.Fatalf("edited routing number should fail its checksum: %+v", res)
	}

	// 0.9*0.8 + (1+0.9+0.9)/3*0.2 = 0.9067
	if got := check.ConfidenceSummary(); got != 0.91 {
		t.Errorf("summary should follow the edit, got %v", got)
	}
}

/**
 * Check Processor for the CheckScan Worker
 *
 * Orchestrates one check image through the extraction pipeline:
 * - Region segmentation and per-region enhancement (parallel)
 * - OCR and AI extraction, issued concurrently and joined
 * - Field-by-field fusion and the confidence summary
 * - Business rule validation
 *
 * An engine that fails or times out contributes zero-confidence
 * placeholders instead of blocking the check.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/engine"
	apperrors "github.com/adverant/nexus/checkscan-worker/internal/errors"
	"github.com/adverant/nexus/checkscan-worker/internal/fusion"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
	"github.com/adverant/nexus/checkscan-worker/internal/validation"
)

// Route is the downstream handling a processed check should get
type Route string

const (
	RouteAutoApprove  Route = "auto_approve"
	RouteManualReview Route = "manual_review"
)

// CheckProcessorInterface defines the interface for check processing
type CheckProcessorInterface interface {
	ProcessCheckImage(ctx context.Context, req *CheckRequest) (*Result, error)
}

// ProcessorConfig holds the pipeline components
type ProcessorConfig struct {
	Segmenter *region.Segmenter
	OCR       engine.Adapter
	AI        engine.Adapter
	Fusion    *fusion.Engine
	Validator *validation.Validator
	// Levels classifies the confidence summary
	Levels *confidence.AIModel

	// EngineTimeout bounds each extraction call
	EngineTimeout time.Duration
	MaxImageSize  int64
}

// CheckRequest is one check image to process
type CheckRequest struct {
	JobID string
	Image []byte
	// Width and Height are the image dimensions; zero means use the decoded
	// image bounds
	Width  int
	Height int
}

// EngineFailure describes an engine whose output was replaced by
// placeholders
type EngineFailure struct {
	Engine  model.Source        `json:"engine"`
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// DegradedScore is a field whose confidence fell back to the neutral
// default
type DegradedScore struct {
	Engine  model.Source        `json:"engine"`
	Field   string              `json:"field"`
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// Diagnostics explains how a result was produced
type Diagnostics struct {
	RegionErrors         []string                             `json:"regionErrors,omitempty"`
	EnhancementFallbacks []string                             `json:"enhancementFallbacks,omitempty"`
	EngineFailures       []EngineFailure                      `json:"engineFailures,omitempty"`
	DegradedScores       []DegradedScore                      `json:"degradedScores,omitempty"`
	FieldChoices         []fusion.FieldChoice                 `json:"fieldChoices"`
	Handwriting          map[string]model.HandwritingAnalysis `json:"handwriting,omitempty"`
	ManualReviewFields   []string                             `json:"manualReviewFields,omitempty"`
	ConfidenceLevel      confidence.Level                     `json:"confidenceLevel"`
	OCRDurationMs        int64                                `json:"ocrDurationMs"`
	AIDurationMs         int64                                `json:"aiDurationMs"`
	TotalDurationMs      int64                                `json:"totalDurationMs"`
}

// Result is the output of one pipeline run
type Result struct {
	Check       *model.ExtractedCheck  `json:"check"`
	Validation  model.ValidationResult `json:"validation"`
	Diagnostics Diagnostics            `json:"diagnostics"`
}

// Route sends a check to auto-approval only when its summary is high and
// no business rule failed
func (r *Result) Route() Route {
	if r.Validation.IsValid && r.Diagnostics.ConfidenceLevel == confidence.LevelHigh {
		return RouteAutoApprove
	}
	return RouteManualReview
}

// CheckProcessor runs the extraction pipeline
type CheckProcessor struct {
	config *ProcessorConfig
	logger *logging.Logger
}

// NewCheckProcessor creates a new check processor
func NewCheckProcessor(cfg *ProcessorConfig) (*CheckProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Segmenter == nil || cfg.Fusion == nil || cfg.Validator == nil || cfg.Levels == nil {
		return nil, fmt.Errorf("segmenter, fusion, validator and level classifier are required")
	}
	if cfg.OCR == nil || cfg.AI == nil {
		return nil, fmt.Errorf("both extraction adapters are required")
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = 45 * time.Second
	}
	return &CheckProcessor{config: cfg, logger: logging.NewLogger("CheckProcessor")}, nil
}

// ProcessCheckImage runs the full pipeline over one check image. It only
// fails for an undecodable image, an aborted region extraction or an
// expired ctx; engine failures degrade the result instead.
func (p *CheckProcessor) ProcessCheckImage(ctx context.Context, req *CheckRequest) (*Result, error) {
	start := time.Now()
	log := p.logger.With("jobId", req.JobID)
	log.Info("Starting check processing pipeline", "imageSize", len(req.Image))

	// Step 1: Decode
	if p.config.MaxImageSize > 0 && int64(len(req.Image)) > p.config.MaxImageSize {
		return nil, apperrors.NewInvalidImageError(req.JobID,
			fmt.Errorf("image is %d bytes, limit is %d", len(req.Image), p.config.MaxImageSize))
	}
	img, err := imaging.Decode(bytes.NewReader(req.Image), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewInvalidImageError(req.JobID, err)
	}
	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
	}

	diag := Diagnostics{}

	// Step 2: Segment and enhance
	rois := p.config.Segmenter.DefineRegions(width, height)
	crops, err := p.config.Segmenter.ExtractRegions(img, rois)
	if err != nil {
		if crops == nil {
			return nil, apperrors.NewRegionExtractionError(req.JobID, err)
		}
		diag.RegionErrors = splitErrors(err)
		log.Warn("Some regions could not be extracted", "failed", len(diag.RegionErrors))
	}

	regions, fallbacks, err := p.enhanceRegions(ctx, crops)
	if err != nil {
		return nil, p.contextError(req.JobID, start, err)
	}
	diag.EnhancementFallbacks = fallbacks
	log.Debug("Regions prepared", "regions", len(regions), "fallbacks", len(fallbacks))

	// Step 3: Extract with both engines concurrently
	input := &engine.Input{JobID: req.JobID, Image: req.Image, Regions: regions, ROIs: rois}
	var (
		ocrOut, aiOut   *engine.Candidates
		ocrErr, aiErr   error
		ocrTook, aiTook time.Duration
		g               errgroup.Group
	)
	g.Go(func() error {
		ocrOut, ocrTook, ocrErr = p.runEngine(ctx, p.config.OCR, input)
		return nil
	})
	g.Go(func() error {
		aiOut, aiTook, aiErr = p.runEngine(ctx, p.config.AI, input)
		return nil
	})
	_ = g.Wait()
	diag.OCRDurationMs, diag.AIDurationMs = ocrTook.Milliseconds(), aiTook.Milliseconds()

	if err := ctx.Err(); err != nil {
		return nil, p.contextError(req.JobID, start, err)
	}

	ocrFields := p.settle(req.JobID, model.SourceOCR, ocrOut, ocrErr, &diag)
	aiFields := p.settle(req.JobID, model.SourceAI, aiOut, aiErr, &diag)

	// Step 4: Fuse and validate
	check, choices := p.config.Fusion.FuseWithTrace(ocrFields, aiFields)
	validationResult := p.config.Validator.Validate(check)

	diag.FieldChoices = choices
	diag.ConfidenceLevel = p.config.Levels.ClassifyLevel(check.ConfidenceSummary())
	diag.TotalDurationMs = time.Since(start).Milliseconds()

	result := &Result{Check: check, Validation: validationResult, Diagnostics: diag}
	log.Info("Check processing complete",
		"confidenceSummary", check.ConfidenceSummary(),
		"level", diag.ConfidenceLevel,
		"valid", validationResult.IsValid,
		"errors", len(validationResult.Errors),
		"warnings", len(validationResult.Warnings),
		"engineFailures", len(diag.EngineFailures),
		"route", result.Route(),
		"durationMs", diag.TotalDurationMs)
	return result, nil
}

// Fuse exposes the fusion step for callers re-running part of the pipeline
func (p *CheckProcessor) Fuse(ocr, ai model.Fields) *model.ExtractedCheck {
	return p.config.Fusion.Fuse(ocr, ai)
}

// Revalidate runs validation alone, e.g. after a manual edit
func (p *CheckProcessor) Revalidate(check *model.ExtractedCheck) model.ValidationResult {
	return p.config.Validator.Validate(check)
}

// enhanceRegions enhances and encodes every crop in parallel. Crops are
// independent, so the only shared state is the output map.
func (p *CheckProcessor) enhanceRegions(ctx context.Context, crops map[string]*image.NRGBA) (map[string][]byte, []string, error) {
	var mu sync.Mutex
	var fallbacks []string
	out := make(map[string][]byte, len(crops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for name, crop := range crops {
		name, crop := name, crop
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			enhanced, degraded := p.config.Segmenter.Enhance(crop, name)
			encoded, err := region.EncodePNG(enhanced)
			if err != nil {
				// the raw crop still beats no region at all
				encoded, err = region.EncodePNG(crop)
				degraded = true
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				out[name] = encoded
			}
			if degraded {
				fallbacks = append(fallbacks, name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Strings(fallbacks)
	return out, fallbacks, nil
}

type engineResult struct {
	out *engine.Candidates
	err error
}

// runEngine calls one adapter under the engine timeout. The adapter runs
// on its own goroutine so one that ignores ctx (a single Tesseract pass
// cannot be interrupted) still gives up its slot at the deadline; its late
// result is dropped. A panic inside the adapter is reported as an error.
func (p *CheckProcessor) runEngine(ctx context.Context, a engine.Adapter, in *engine.Input) (*engine.Candidates, time.Duration, error) {
	ectx, cancel := context.WithTimeout(ctx, p.config.EngineTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan engineResult, 1)
	go func() {
		var res engineResult
		defer func() {
			if r := recover(); r != nil {
				res = engineResult{err: fmt.Errorf("%s adapter panicked: %v", a.Source(), r)}
			}
			done <- res
		}()
		res.out, res.err = a.Extract(ectx, in)
	}()

	select {
	case res := <-done:
		if res.err == nil && res.out == nil {
			res.err = fmt.Errorf("%s adapter returned no candidates", a.Source())
		}
		return res.out, time.Since(start), res.err
	case <-ectx.Done():
		p.logger.Warn("Extraction engine did not return before its deadline",
			"jobId", in.JobID,
			"engine", a.Source(),
			"timeout", p.config.EngineTimeout)
		return nil, time.Since(start), ectx.Err()
	}
}

// settle turns an engine outcome into fields for fusion, recording
// diagnostics. A failed engine yields zero-confidence placeholders.
func (p *CheckProcessor) settle(jobID string, src model.Source, out *engine.Candidates, err error, diag *Diagnostics) model.Fields {
	if err != nil {
		perr := apperrors.NewEngineFailedError(jobID, string(src), err)
		p.logger.Warn("Extraction engine failed, degrading to placeholders",
			"jobId", jobID,
			"engine", src,
			"code", perr.Code,
			"error", err)
		diag.EngineFailures = append(diag.EngineFailures, EngineFailure{Engine: src, Code: perr.Code, Message: err.Error()})
		return model.PlaceholderFields(src)
	}

	for _, d := range out.Degraded {
		perr := apperrors.NewScoringDegradedError(d.Field, d.Reason)
		diag.DegradedScores = append(diag.DegradedScores, DegradedScore{Engine: src, Field: d.Field, Code: perr.Code, Message: perr.Message})
	}
	for _, f := range out.Failures {
		diag.RegionErrors = append(diag.RegionErrors, fmt.Sprintf("%s: %v", src, f))
	}
	if len(out.Handwriting) > 0 {
		if diag.Handwriting == nil {
			diag.Handwriting = map[string]model.HandwritingAnalysis{}
		}
		for name, h := range out.Handwriting {
			diag.Handwriting[name] = h
		}
	}
	diag.ManualReviewFields = append(diag.ManualReviewFields, out.ManualReview...)
	return out.Fields
}

func (p *CheckProcessor) contextError(jobID string, start time.Time, err error) error {
	if apperrors.IsTimeout(err) {
		return apperrors.NewProcessingTimeoutError(jobID, time.Since(start), err)
	}
	return err
}

// splitErrors flattens an errors.Join result into messages
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		msgs := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

/**
 * Extraction engine bindings and adapters
 *
 * The pipeline talks to two black-box engines: a deterministic OCR engine
 * (Tesseract) and a vision/AI engine reached over HTTP. Each is wrapped in
 * an Adapter that turns raw engine output into scored check fields, so
 * fusion only ever sees model.Fields.
 */

package engine

import (
	"context"
	"image"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
)

// OCROptions tune a single OCR pass
type OCROptions struct {
	// Whitelist restricts recognized characters; empty allows all
	Whitelist string
	// SingleLine treats the image as one text line
	SingleLine bool
}

// OCRPage is the OCR engine's reading of one image buffer
type OCRPage struct {
	Text string
	// Confidence is the page-level engine confidence (0-100)
	Confidence float64
	Words      []confidence.Word
}

// OCREngine is the OCR engine binding
type OCREngine interface {
	Recognize(ctx context.Context, img []byte, opts OCROptions) (*OCRPage, error)
}

// BoundingBox locates a detection in full-image pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Detection is one field value found by the vision engine
type Detection struct {
	// Field is a field name as listed by model.Fields.Confidences, or
	// "micr" for an unsplit MICR line
	Field string `json:"field"`
	Text  string `json:"text"`
	// Confidence is the raw engine confidence (0-1)
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"boundingBox"`
	Language   string      `json:"language,omitempty"`
}

// VisionResult is the vision engine's output for one check image
type VisionResult struct {
	Detections []Detection
	ModelUsed  string
}

type jobIDKey struct{}

// WithJobID tags ctx with the check job an engine call belongs to
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFrom returns the job ID set by WithJobID, or ""
func JobIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// VisionEngine is the vision/AI engine binding. Failures and timeouts are
// returned as errors, never as an empty result.
type VisionEngine interface {
	Detect(ctx context.Context, img []byte) (*VisionResult, error)
}

// Input is everything an adapter may read for one check
type Input struct {
	JobID string
	// Image is the full check image as received
	Image []byte
	// Regions holds the enhanced PNG crops keyed by region name
	Regions map[string][]byte
	ROIs    []region.ROI
}

// DegradedField is a field scored with the neutral default
type DegradedField struct {
	Field  string
	Reason string
}

// Candidates is an adapter's scored reading of a check
type Candidates struct {
	Fields model.Fields
	// Degraded lists the fields whose confidence was defaulted
	Degraded []DegradedField
	// Handwriting holds the analyses made while scoring, by field name
	Handwriting map[string]model.HandwritingAnalysis
	// ManualReview lists fields a reviewer should check
	ManualReview []string
	// Failures are per-region engine failures that did not sink the pass
	Failures []error
}

// Adapter extracts scored field candidates with one engine
type Adapter interface {
	Source() model.Source
	Extract(ctx context.Context, in *Input) (*Candidates, error)
}

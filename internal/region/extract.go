package region

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/checkscan-worker/internal/logging"
)

// Strategy decides what happens when one region cannot be cropped
type Strategy string

const (
	// AbortOnFirst fails the whole batch on the first bad region
	AbortOnFirst Strategy = "abort"
	// CollectErrors crops every valid region and reports the bad ones
	CollectErrors Strategy = "continue"
)

// RegionExtractionError reports a region that is empty after clipping
type RegionExtractionError struct {
	Region string
	Rect   image.Rectangle
}

func (e *RegionExtractionError) Error() string {
	return fmt.Sprintf("region %s has no area after clipping (%v)", e.Region, e.Rect)
}

// Segmenter crops and enhances the regions of a check image
type Segmenter struct {
	layout   Layout
	strategy Strategy
	logger   *logging.Logger
}

// NewSegmenter creates a segmenter. An empty strategy means CollectErrors.
func NewSegmenter(layout Layout, strategy Strategy) *Segmenter {
	if strategy == "" {
		strategy = CollectErrors
	}
	return &Segmenter{
		layout:   layout,
		strategy: strategy,
		logger:   logging.NewLogger("RegionSegmenter"),
	}
}

// DefineRegions returns the ROI catalogue for an image of the given size
func (s *Segmenter) DefineRegions(imageWidth, imageHeight int) []ROI {
	return s.layout.DefineRegions(imageWidth, imageHeight)
}

// ExtractRegions crops every ROI out of img. Each rectangle is clipped to
// the image bounds first; a region left without area yields a
// RegionExtractionError. With AbortOnFirst the first failure is returned
// alone and no crops are returned; with CollectErrors the valid crops are
// returned together with the joined failures.
func (s *Segmenter) ExtractRegions(img image.Image, rois []ROI) (map[string]*image.NRGBA, error) {
	out := make(map[string]*image.NRGBA, len(rois))
	var errs []error
	for _, roi := range rois {
		crop, err := cropROI(img, roi)
		if err != nil {
			if s.strategy == AbortOnFirst {
				return nil, err
			}
			s.logger.Warn("Skipping region", "region", roi.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		out[roi.Name] = crop
	}
	return out, errors.Join(errs...)
}

func cropROI(img image.Image, roi ROI) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	x0 := max(roi.X, 0)
	y0 := max(roi.Y, 0)
	x1 := min(roi.X+roi.Width, w)
	y1 := min(roi.Y+roi.Height, h)

	rect := image.Rect(x0, y0, x1, y1)
	if x1-x0 <= 0 || y1-y0 <= 0 {
		return nil, &RegionExtractionError{Region: roi.Name, Rect: image.Rectangle{Min: image.Pt(x0, y0), Max: image.Pt(x1, y1)}}
	}
	return imaging.Crop(img, rect.Add(b.Min)), nil
}

// EncodePNG serialises a region buffer for the extraction engines
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode region: %w", err)
	}
	return buf.Bytes(), nil
}

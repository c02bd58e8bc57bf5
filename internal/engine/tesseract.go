/**
 * Tesseract OCR engine binding
 *
 * Local, offline OCR over region crops. Each call gets its own gosseract
 * client so concurrent checks never share Tesseract state.
 */

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
)

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
	// DataPath overrides TESSDATA_PREFIX when set
	DataPath string
}

// TesseractEngine implements OCREngine with gosseract
type TesseractEngine struct {
	language string
	dataPath string
}

// NewTesseractEngine creates a Tesseract engine binding
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &TesseractEngine{language: cfg.Language, dataPath: cfg.DataPath}
}

// Version reports the linked Tesseract version
func (t *TesseractEngine) Version() string {
	client := gosseract.NewClient()
	defer client.Close()
	return client.Version()
}

// Recognize implements OCREngine. Tesseract cannot be interrupted mid-pass,
// so ctx is only checked before and after recognition.
func (t *TesseractEngine) Recognize(ctx context.Context, img []byte, opts OCROptions) (*OCRPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.dataPath != "" {
		client.TessdataPrefix = t.dataPath
	}
	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	mode := gosseract.PSM_SINGLE_BLOCK
	if opts.SingleLine {
		mode = gosseract.PSM_SINGLE_LINE
	}
	if err := client.SetPageSegMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract word boxes failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page := &OCRPage{Text: strings.TrimSpace(text), Words: make([]confidence.Word, 0, len(boxes))}
	var sum float64
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		page.Words = append(page.Words, confidence.Word{Text: b.Word, Confidence: b.Confidence})
		sum += b.Confidence
	}
	if len(page.Words) > 0 {
		page.Confidence = sum / float64(len(page.Words))
	}
	return page, nil
}

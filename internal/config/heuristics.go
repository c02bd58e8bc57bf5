package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adverant/nexus/checkscan-worker/internal/confidence"
	"github.com/adverant/nexus/checkscan-worker/internal/fusion"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/region"
	"github.com/adverant/nexus/checkscan-worker/internal/validation"
)

// Heuristics gathers every tunable table of the pipeline. Components take
// their part of it through their constructors.
type Heuristics struct {
	Layout     region.Layout        `yaml:"layout"`
	OCR        confidence.OCRConfig `yaml:"ocr"`
	AI         confidence.AIConfig  `yaml:"ai"`
	Fusion     fusion.Policy        `yaml:"fusion"`
	Summary    model.SummaryWeights `yaml:"summary_weights"`
	Validation validation.Rules     `yaml:"validation"`
}

// DefaultHeuristics returns the production heuristics
func DefaultHeuristics() Heuristics {
	return Heuristics{
		Layout:     region.DefaultLayout(),
		OCR:        confidence.DefaultOCRConfig(),
		AI:         confidence.DefaultAIConfig(),
		Fusion:     fusion.DefaultPolicy(),
		Summary:    model.DefaultSummaryWeights(),
		Validation: validation.DefaultRules(),
	}
}

// LoadHeuristics reads a YAML file over the defaults. Keys missing from
// the file keep their default value; an empty path yields the defaults.
func LoadHeuristics(path string) (Heuristics, error) {
	h := DefaultHeuristics()
	if path == "" {
		return h, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("failed to read heuristics file: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("failed to parse heuristics file %s: %w", path, err)
	}
	if err := h.Validate(); err != nil {
		return h, fmt.Errorf("invalid heuristics in %s: %w", path, err)
	}
	return h, nil
}

// ApplyOverrides lets environment settings win over the heuristics file
func (c *Config) ApplyOverrides(h *Heuristics) {
	if c.FusionTieBreak != "" {
		h.Fusion.TieBreak = model.Source(c.FusionTieBreak)
	}
}

// RegionStrategy maps REGION_FAILURE_POLICY to a segmenter strategy
func (c *Config) RegionStrategy() region.Strategy {
	if c.RegionFailurePolicy == "abort" {
		return region.AbortOnFirst
	}
	return region.CollectErrors
}

// Validate checks the heuristics are internally consistent
func (h Heuristics) Validate() error {
	if len(h.Layout.Regions) == 0 {
		return fmt.Errorf("layout defines no regions")
	}
	for _, s := range h.Layout.Regions {
		if s.Name == "" {
			return fmt.Errorf("layout region without a name")
		}
		if s.X < 0 || s.Y < 0 || s.Width <= 0 || s.Height <= 0 || s.X+s.Width > 1+1e-9 || s.Y+s.Height > 1+1e-9 {
			return fmt.Errorf("layout region %s is outside the unit square", s.Name)
		}
	}

	if err := h.Fusion.Validate(); err != nil {
		return err
	}

	w := h.Summary
	for _, v := range []float64{w.Amount, w.Payee, w.Date, w.MICR, w.CheckNumber, w.Bank} {
		if v < 0 {
			return fmt.Errorf("summary weights must not be negative")
		}
	}
	if sum := w.Amount + w.Payee + w.Date + w.MICR + w.CheckNumber + w.Bank; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("summary weights must sum to 1, got %.4f", sum)
	}

	if h.Validation.StaleDays <= 0 {
		return fmt.Errorf("validation stale_days must be positive")
	}
	if !h.Validation.MaxAmount.IsPositive() {
		return fmt.Errorf("validation max_amount must be positive")
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/checkscan-worker/internal/errors"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
	"github.com/adverant/nexus/checkscan-worker/internal/processor"
	"github.com/adverant/nexus/checkscan-worker/internal/storage"
)

// ResultStore persists job status and extraction results
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	SaveResult(ctx context.Context, checkID, userID string, res *processor.Result) (string, error)
}

// JobOutcome summarises a finished job for status tracking
type JobOutcome struct {
	CheckID           string  `json:"checkId"`
	ExtractionID      string  `json:"extractionId"`
	ConfidenceSummary float64 `json:"confidenceSummary"`
	ConfidenceLevel   string  `json:"confidenceLevel"`
	IsValid           bool    `json:"isValid"`
	Route             string  `json:"route"`
	EngineFailures    int     `json:"engineFailures"`
	ProcessingTimeMs  int64   `json:"processingTime"`
}

// Retryable reports whether a failed job may succeed on another attempt.
// An undecodable image or region layout fails the same way every time.
func Retryable(err error) bool {
	return !apperrors.HasCode(err, apperrors.ErrorInvalidImage) &&
		!apperrors.HasCode(err, apperrors.ErrorRegionExtraction)
}

// Runner executes one check job: status bookkeeping, the pipeline under
// the processing timeout, and persistence. Both queue backends share it.
type Runner struct {
	processor processor.CheckProcessorInterface
	store     ResultStore
	timeout   time.Duration
	logger    *logging.Logger
}

// NewRunner creates a job runner. timeoutMs <= 0 selects two minutes.
func NewRunner(p processor.CheckProcessorInterface, store ResultStore, timeoutMs int64) (*Runner, error) {
	if p == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	timeout := 120 * time.Second
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &Runner{processor: p, store: store, timeout: timeout, logger: logging.NewLogger("JobRunner")}, nil
}

// Run processes one job. The returned error is a ProcessingError when the
// pipeline or persistence failed; the job row is marked failed first.
func (r *Runner) Run(ctx context.Context, job *CheckJobPayload) (*JobOutcome, error) {
	if err := job.Validate(); err != nil {
		return nil, apperrors.NewInvalidImageError(job.CheckID, err)
	}

	log := r.logger.With("checkId", job.CheckID)
	startTime := time.Now()

	if err := r.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		CheckID: job.CheckID,
		Status:  "processing",
		Metadata: map[string]interface{}{
			"filename": job.Filename,
			"userId":   job.UserID,
			"fileSize": len(job.FileBuffer),
		},
	}); err != nil {
		// the upload service may still be creating the row
		log.Warn("Could not mark job as processing", "error", err)
	}

	log.Info("Processing check", "filename", job.Filename, "size", len(job.FileBuffer), "timeout", r.timeout)

	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.processor.ProcessCheckImage(processCtx, job.Request())
	duration := time.Since(startTime)
	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && !apperrors.HasCode(err, apperrors.ErrorProcessingTimeout) {
			err = apperrors.NewProcessingTimeoutError(job.CheckID, r.timeout, err)
		}
		log.Error("Check processing failed", "durationMs", duration.Milliseconds(), "error", err)
		r.markFailed(ctx, job.CheckID, duration, err)
		return nil, err
	}

	extractionID, err := r.store.SaveResult(ctx, job.CheckID, job.UserID, result)
	if err != nil {
		serr := apperrors.NewStorageFailedError(job.CheckID, err)
		log.Error("Failed to store extraction", "error", err)
		r.markFailed(ctx, job.CheckID, duration, serr)
		return nil, serr
	}

	outcome := &JobOutcome{
		CheckID:           job.CheckID,
		ExtractionID:      extractionID,
		ConfidenceSummary: result.Check.ConfidenceSummary(),
		ConfidenceLevel:   string(result.Diagnostics.ConfidenceLevel),
		IsValid:           result.Validation.IsValid,
		Route:             string(result.Route()),
		EngineFailures:    len(result.Diagnostics.EngineFailures),
		ProcessingTimeMs:  duration.Milliseconds(),
	}

	if err := r.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		CheckID:           job.CheckID,
		Status:            "completed",
		ConfidenceSummary: outcome.ConfidenceSummary,
		ProcessingTimeMs:  outcome.ProcessingTimeMs,
		ExtractionID:      extractionID,
		Route:             outcome.Route,
		Metadata: map[string]interface{}{
			"confidenceLevel": outcome.ConfidenceLevel,
			"isValid":         outcome.IsValid,
			"engineFailures":  outcome.EngineFailures,
		},
	}); err != nil {
		log.Warn("Failed to update status to completed", "error", err)
	}

	log.Info("Check processed",
		"summary", outcome.ConfidenceSummary,
		"route", outcome.Route,
		"extractionId", extractionID,
		"durationMs", outcome.ProcessingTimeMs)
	return outcome, nil
}

func (r *Runner) markFailed(ctx context.Context, checkID string, duration time.Duration, err error) {
	update := &storage.JobUpdate{
		CheckID:          checkID,
		Status:           "failed",
		ProcessingTimeMs: duration.Milliseconds(),
		ErrorMessage:     err.Error(),
	}
	if pe, ok := err.(*apperrors.ProcessingError); ok {
		update.ErrorCode = string(pe.Code)
		update.Metadata = pe.ToMap()
	}
	if uerr := r.store.UpdateJobStatus(ctx, update); uerr != nil {
		r.logger.Warn("Failed to update status to failed", "checkId", checkID, "error", uerr)
	}
}

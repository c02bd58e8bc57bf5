package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the check extraction worker
 *
 * Engine failures and degraded scoring are recoverable and end up as
 * diagnostics; region geometry failures are returned to the caller.
 * Business-rule failures are never errors, they live in ValidationResult.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorInvalidImage      ErrorCode = "INVALID_IMAGE"
	ErrorRegionExtraction  ErrorCode = "REGION_EXTRACTION_FAILED"
	ErrorScoringDegraded   ErrorCode = "SCORING_DEGRADED"

	// Engine errors
	ErrorOCREngineFailed ErrorCode = "OCR_ENGINE_FAILED"
	ErrorAIEngineFailed  ErrorCode = "AI_ENGINE_FAILED"
	ErrorEngineTimeout   ErrorCode = "ENGINE_TIMEOUT"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewInvalidImageError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidImage,
		Message:   "Check image could not be decoded",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRegionExtractionError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRegionExtraction,
		Message:   "Check regions could not be extracted",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewEngineFailedError classifies an extraction engine failure. A context
// deadline in the cause chain is reported as ENGINE_TIMEOUT.
func NewEngineFailedError(jobID string, engine string, cause error) *ProcessingError {
	code := ErrorOCREngineFailed
	if engine == "ai" {
		code = ErrorAIEngineFailed
	}
	if IsTimeout(cause) {
		code = ErrorEngineTimeout
	}
	return &ProcessingError{
		Code:      code,
		Message:   fmt.Sprintf("Extraction engine failed: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewScoringDegradedError(field string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorScoringDegraded,
		Message:   fmt.Sprintf("Confidence for %s defaulted: %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store extraction results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDatabaseFailedError(operation string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDatabaseFailed,
		Message:   fmt.Sprintf("Database operation failed: %s", operation),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// IsTimeout reports whether err was caused by a deadline or an engine
// timeout error
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if stderrors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return HasCode(err, ErrorEngineTimeout)
}

// HasCode reports whether any ProcessingError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	for err != nil {
		if stderrors.As(err, &pe) {
			if pe.Code == code {
				return true
			}
			err = pe.Cause
			continue
		}
		return false
	}
	return false
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

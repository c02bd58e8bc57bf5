/**
 * PostgreSQL Client for the CheckScan Worker
 *
 * Handles job status tracking and check extraction persistence for the
 * dashboard. The worker only writes; review and export live elsewhere.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	apperrors "github.com/adverant/nexus/checkscan-worker/internal/errors"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	CheckID           string
	Status            string
	ConfidenceSummary float64
	ProcessingTimeMs  int64
	ExtractionID      string
	ErrorCode         string
	ErrorMessage      string
	Route             string
	Metadata          map[string]interface{}
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0] so it fits the NUMERIC(5,4) columns
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 || math.IsNaN(confidence) {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// jobSummary is the summary column value for an update. Only a completed
// job carries a summary; 0.00 from a check neither engine could read is a
// real value and is stored as such.
func jobSummary(update *JobUpdate) sql.NullFloat64 {
	if update.Status != "completed" {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: sanitizeConfidence(update.ConfidenceSummary), Valid: true}
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := &PostgresClient{db: db}
	if err := client.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return client, nil
}

// UpdateJobStatus upserts the processing job row. The upload service may
// not have created it yet, so the first update inserts it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.CheckID == "" {
		return fmt.Errorf("check ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	summary := jobSummary(update)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	var filename, userID string
	if update.Metadata != nil {
		if fn, ok := update.Metadata["filename"].(string); ok {
			filename = fn
		}
		if uid, ok := update.Metadata["userId"].(string); ok {
			userID = uid
		}
	}

	query := `
		INSERT INTO checkscan.processing_jobs (
			check_id, user_id, filename,
			status, confidence_summary, processing_time_ms, extraction_id,
			error_code, error_message, route, metadata,
			created_at, updated_at
		) VALUES (
			$1, COALESCE(NULLIF($11, ''), 'anonymous'), COALESCE(NULLIF($10, ''), 'unknown'),
			$2, $3::NUMERIC(5,4), NULLIF($4, 0),
			CASE WHEN $5 = '' THEN NULL ELSE $5::uuid END,
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (check_id) DO UPDATE SET
			status = EXCLUDED.status,
			confidence_summary = COALESCE(EXCLUDED.confidence_summary, checkscan.processing_jobs.confidence_summary),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, checkscan.processing_jobs.processing_time_ms),
			extraction_id = COALESCE(EXCLUDED.extraction_id, checkscan.processing_jobs.extraction_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			route = COALESCE(EXCLUDED.route, checkscan.processing_jobs.route),
			metadata = checkscan.processing_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING check_id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.CheckID,          // $1
		update.Status,           // $2
		summary,                 // $3
		update.ProcessingTimeMs, // $4
		update.ExtractionID,     // $5
		update.ErrorCode,        // $6
		update.ErrorMessage,     // $7
		update.Route,            // $8
		metadataJSON,            // $9
		filename,                // $10
		userID,                  // $11
	).Scan(&returnedID)
	if err != nil {
		return fmt.Errorf("failed to update job status (check=%s, status=%s, summary=%.4f): %w",
			update.CheckID, update.Status, summary.Float64, err)
	}

	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseFailedError("ping", err)
	}
	return nil
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

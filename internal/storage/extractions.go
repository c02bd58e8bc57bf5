package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/adverant/nexus/checkscan-worker/internal/processor"
)

// ExtractionRecord is one row of checkscan.check_extractions
type ExtractionRecord struct {
	ID      string
	CheckID string
	UserID  string

	Payee                 string
	PayeeConfidence       float64
	Amount                decimal.NullDecimal
	AmountConfidence      float64
	CheckDate             string
	DateConfidence        float64
	CheckNumber           string
	CheckNumberConfidence float64
	BankName              string
	BankConfidence        float64
	RoutingNumber         string
	AccountNumber         string
	MICRSerial            string
	MICRConfidence        float64

	// FieldSources maps each field to the engine it was taken from
	FieldSources map[string]string

	ConfidenceSummary  float64
	ConfidenceLevel    string
	IsValid            bool
	ValidationErrors   []string
	ValidationWarnings []string
	Route              string
	Diagnostics        json.RawMessage
	CreatedAt          time.Time
}

// NewExtractionRecord flattens a pipeline result into a row. A fresh ID is
// assigned; SaveExtraction keeps the existing one on re-processing.
func NewExtractionRecord(checkID, userID string, res *processor.Result) (*ExtractionRecord, error) {
	if checkID == "" {
		return nil, fmt.Errorf("check ID is required")
	}
	if res == nil || res.Check == nil {
		return nil, fmt.Errorf("result is required")
	}

	diagnostics, err := json.Marshal(res.Diagnostics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal diagnostics: %w", err)
	}

	c := res.Check
	sources := make(map[string]string, len(res.Diagnostics.FieldChoices))
	for _, choice := range res.Diagnostics.FieldChoices {
		sources[choice.Field] = string(choice.Source)
	}

	return &ExtractionRecord{
		ID:                    uuid.New().String(),
		CheckID:               checkID,
		UserID:                userID,
		Payee:                 c.Payee.Value,
		PayeeConfidence:       sanitizeConfidence(c.Payee.Confidence),
		Amount:                c.Amount.Value,
		AmountConfidence:      sanitizeConfidence(c.Amount.Confidence),
		CheckDate:             c.CheckDate.Value,
		DateConfidence:        sanitizeConfidence(c.CheckDate.Confidence),
		CheckNumber:           c.CheckNumber.Value,
		CheckNumberConfidence: sanitizeConfidence(c.CheckNumber.Confidence),
		BankName:              c.Bank.Value,
		BankConfidence:        sanitizeConfidence(c.Bank.Confidence),
		RoutingNumber:         c.MICR.Routing.Value,
		AccountNumber:         c.MICR.Account.Value,
		MICRSerial:            c.MICR.Serial.Value,
		MICRConfidence:        sanitizeConfidence(c.MICR.MeanConfidence()),
		FieldSources:          sources,
		ConfidenceSummary:     sanitizeConfidence(c.ConfidenceSummary()),
		ConfidenceLevel:       string(res.Diagnostics.ConfidenceLevel),
		IsValid:               res.Validation.IsValid,
		ValidationErrors:      nonNil(res.Validation.Errors),
		ValidationWarnings:    nonNil(res.Validation.Warnings),
		Route:                 string(res.Route()),
		Diagnostics:           sanitizeJSONForPostgres(diagnostics),
	}, nil
}

// SaveResult builds and stores the record for a pipeline result
func (p *PostgresClient) SaveResult(ctx context.Context, checkID, userID string, res *processor.Result) (string, error) {
	rec, err := NewExtractionRecord(checkID, userID, res)
	if err != nil {
		return "", err
	}
	return p.SaveExtraction(ctx, rec)
}

// SaveExtraction upserts the extraction for a check and returns the row ID
func (p *PostgresClient) SaveExtraction(ctx context.Context, rec *ExtractionRecord) (string, error) {
	if rec.CheckID == "" {
		return "", fmt.Errorf("check ID is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	sources, err := json.Marshal(rec.FieldSources)
	if err != nil {
		return "", fmt.Errorf("failed to marshal field sources: %w", err)
	}
	diagnostics := rec.Diagnostics
	if len(diagnostics) == 0 {
		diagnostics = json.RawMessage("{}")
	}

	query := `
		INSERT INTO checkscan.check_extractions (
			id, check_id, user_id,
			payee, payee_confidence, amount, amount_confidence,
			check_date, date_confidence, check_number, check_number_confidence,
			bank_name, bank_confidence,
			routing_number, account_number, micr_serial, micr_confidence,
			field_sources, confidence_summary, confidence_level,
			is_valid, validation_errors, validation_warnings, route,
			diagnostics, created_at
		) VALUES (
			$1::uuid, $2, COALESCE(NULLIF($3, ''), 'anonymous'),
			NULLIF($4, ''), $5::NUMERIC(5,4), $6, $7::NUMERIC(5,4),
			NULLIF($8, ''), $9::NUMERIC(5,4), NULLIF($10, ''), $11::NUMERIC(5,4),
			NULLIF($12, ''), $13::NUMERIC(5,4),
			NULLIF($14, ''), NULLIF($15, ''), NULLIF($16, ''), $17::NUMERIC(5,4),
			$18::jsonb, $19::NUMERIC(5,4), $20,
			$21, $22, $23, $24,
			$25::jsonb, NOW()
		)
		ON CONFLICT (check_id) DO UPDATE SET
			payee = EXCLUDED.payee,
			payee_confidence = EXCLUDED.payee_confidence,
			amount = EXCLUDED.amount,
			amount_confidence = EXCLUDED.amount_confidence,
			check_date = EXCLUDED.check_date,
			date_confidence = EXCLUDED.date_confidence,
			check_number = EXCLUDED.check_number,
			check_number_confidence = EXCLUDED.check_number_confidence,
			bank_name = EXCLUDED.bank_name,
			bank_confidence = EXCLUDED.bank_confidence,
			routing_number = EXCLUDED.routing_number,
			account_number = EXCLUDED.account_number,
			micr_serial = EXCLUDED.micr_serial,
			micr_confidence = EXCLUDED.micr_confidence,
			field_sources = EXCLUDED.field_sources,
			confidence_summary = EXCLUDED.confidence_summary,
			confidence_level = EXCLUDED.confidence_level,
			is_valid = EXCLUDED.is_valid,
			validation_errors = EXCLUDED.validation_errors,
			validation_warnings = EXCLUDED.validation_warnings,
			route = EXCLUDED.route,
			diagnostics = EXCLUDED.diagnostics,
			updated_at = NOW()
		RETURNING id, created_at
	`

	var id string
	err = p.db.QueryRowContext(
		ctx,
		query,
		rec.ID, rec.CheckID, rec.UserID,
		rec.Payee, sanitizeConfidence(rec.PayeeConfidence), rec.Amount, sanitizeConfidence(rec.AmountConfidence),
		rec.CheckDate, sanitizeConfidence(rec.DateConfidence), rec.CheckNumber, sanitizeConfidence(rec.CheckNumberConfidence),
		rec.BankName, sanitizeConfidence(rec.BankConfidence),
		rec.RoutingNumber, rec.AccountNumber, rec.MICRSerial, sanitizeConfidence(rec.MICRConfidence),
		sources, sanitizeConfidence(rec.ConfidenceSummary), rec.ConfidenceLevel,
		rec.IsValid, pq.Array(nonNil(rec.ValidationErrors)), pq.Array(nonNil(rec.ValidationWarnings)), rec.Route,
		[]byte(diagnostics),
	).Scan(&id, &rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to store check extraction (check=%s): %w", rec.CheckID, err)
	}

	rec.ID = id
	return id, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips escapes JSONB rejects: \u0000 is removed,
// other control characters become a space. OCR text of a smudged check can
// carry both.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}

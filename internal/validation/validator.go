/**
 * Business Rule Validator
 *
 * Applies the check business rules to a fused check. Every rule runs; the
 * outcome is data (errors block approval, warnings flag for review) and a
 * failing rule never aborts the others.
 */

package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/shopspring/decimal"
)

// Rules holds the validator thresholds
type Rules struct {
	MaxAmount  decimal.Decimal `yaml:"max_amount"`
	StaleDays  int             `yaml:"stale_days"`
	ABAWeights [8]int          `yaml:"aba_weights"`
}

// DefaultRules returns the production business rules
func DefaultRules() Rules {
	return Rules{
		MaxAmount:  decimal.NewFromInt(50000),
		StaleDays:  180,
		ABAWeights: [8]int{3, 7, 1, 3, 7, 1, 3, 7},
	}
}

// DateLayouts are the check date formats accepted by the validator, tried
// in order
var DateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"01-02-2006",
	"01/02/06",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Validator evaluates business rules against fused checks
type Validator struct {
	rules Rules
	// Now is the reference time for date rules
	Now func() time.Time
}

// NewValidator creates a validator using the wall clock
func NewValidator(rules Rules) *Validator {
	return &Validator{rules: rules, Now: time.Now}
}

// Validate runs every rule and accumulates the results. IsValid is true
// iff no rule produced an error.
func (v *Validator) Validate(check *model.ExtractedCheck) model.ValidationResult {
	r := &result{errors: []string{}, warnings: []string{}}
	if check == nil {
		r.fail("Check is required")
		return r.done()
	}

	v.checkPayee(r, check.Payee)
	v.checkAmount(r, check.Amount)
	v.checkDate(r, check.CheckDate)
	v.checkRouting(r, check.MICR.Routing)
	v.checkAccount(r, check.MICR.Account)

	return r.done()
}

type result struct {
	errors   []string
	warnings []string
}

func (r *result) fail(msg string) { r.errors = append(r.errors, msg) }
func (r *result) warn(msg string) { r.warnings = append(r.warnings, msg) }
func (r *result) done() model.ValidationResult {
	return model.ValidationResult{IsValid: len(r.errors) == 0, Errors: r.errors, Warnings: r.warnings}
}

func (v *Validator) checkPayee(r *result, f model.CheckField[string]) {
	if strings.TrimSpace(f.Value) == "" {
		r.fail("Payee is required")
	}
}

func (v *Validator) checkAmount(r *result, f model.CheckField[decimal.NullDecimal]) {
	if !f.Value.Valid {
		r.fail("Amount is required")
		return
	}
	amount := f.Value.Decimal
	if !amount.IsPositive() {
		r.fail("Amount must be greater than zero")
		return
	}
	if amount.GreaterThan(v.rules.MaxAmount) {
		r.warn(fmt.Sprintf("High-value check: amount %s exceeds %s and requires review", amount.StringFixed(2), v.rules.MaxAmount.StringFixed(2)))
	}
}

func (v *Validator) checkDate(r *result, f model.CheckField[string]) {
	raw := strings.TrimSpace(f.Value)
	if raw == "" {
		r.fail("Check date is required")
		return
	}
	date, ok := ParseCheckDate(raw)
	if !ok {
		r.fail("Invalid date format")
		return
	}

	now := v.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case date.After(today):
		r.warn("Check date is in the future")
	case today.Sub(date) > time.Duration(v.rules.StaleDays)*24*time.Hour:
		r.warn(fmt.Sprintf("Check has a stale date (older than %d days)", v.rules.StaleDays))
	}
}

func (v *Validator) checkRouting(r *result, f model.CheckField[string]) {
	routing := strings.TrimSpace(f.Value)
	if routing == "" {
		r.fail("Routing number is required")
		return
	}
	if !ValidRoutingNumber(routing, v.rules.ABAWeights) {
		r.fail("Invalid routing number checksum")
	}
}

func (v *Validator) checkAccount(r *result, f model.CheckField[string]) {
	if strings.TrimSpace(f.Value) == "" {
		r.fail("Account number is required")
	}
}

// ParseCheckDate parses s with the first matching layout in DateLayouts.
// The result is midnight UTC of the parsed calendar day.
func ParseCheckDate(s string) (time.Time, bool) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidRoutingNumber reports whether routing is nine digits whose last
// digit matches the ABA weighted checksum of the first eight
func ValidRoutingNumber(routing string, weights [8]int) bool {
	if len(routing) != 9 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		c := routing[i]
		if c < '0' || c > '9' {
			return false
		}
		if i < 8 {
			sum += int(c-'0') * weights[i]
		}
	}
	expected := (sum+9)/10*10 - sum
	return int(routing[8]-'0') == expected
}

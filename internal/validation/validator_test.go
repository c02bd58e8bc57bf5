package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, time.March, 15, 14, 30, 0, 0, time.UTC)

func newTestValidator() *Validator {
	v := NewValidator(DefaultRules())
	v.Now = func() time.Time { return fixedNow }
	return v
}

func validCheck(amount string, date time.Time) *model.ExtractedCheck {
	f := model.Fields{
		Payee:       model.NewField("ACME CORP", 0.9, model.SourceOCR),
		Amount:      model.NewField(decimal.NewNullDecimal(decimal.RequireFromString(amount)), 0.9, model.SourceOCR),
		CheckDate:   model.NewField(date.Format("01/02/2006"), 0.9, model.SourceOCR),
		CheckNumber: model.NewField("1001", 0.9, model.SourceOCR),
		Bank:        model.NewField("FIRST NATIONAL", 0.9, model.SourceAI),
		MICR: model.MICRData{
			Routing: model.NewField("021000021", 0.9, model.SourceOCR),
			Account: model.NewField("123456789", 0.9, model.SourceOCR),
			Serial:  model.NewField("1001", 0.9, model.SourceOCR),
		},
	}
	return model.NewExtractedCheck(f, model.DefaultSummaryWeights())
}

func contains(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidRoutingNumber(t *testing.T) {
	w := DefaultRules().ABAWeights
	tests := map[string]bool{
		"021000021":  true,
		"011000015":  true,
		"123456789":  false,
		"02100002a":  false,
		"02100002":   false,
		"0210000210": false,
		"":           false,
	}
	for routing, want := range tests {
		if got := ValidRoutingNumber(routing, w); got != want {
			t.Errorf("ValidRoutingNumber(%q) = %v, want %v", routing, got, want)
		}
	}
}

func TestValidateCleanCheck(t *testing.T) {
	res := newTestValidator().Validate(validCheck("1250.00", fixedNow.AddDate(0, 0, -3)))
	if !res.IsValid || len(res.Errors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("expected clean result, got %+v", res)
	}
}

func TestValidateDates(t *testing.T) {
	v := newTestValidator()

	stale := v.Validate(validCheck("100", fixedNow.AddDate(0, 0, -200)))
	if !contains(stale.Warnings, "stale date") || !stale.IsValid {
		t.Errorf("200 days old: expected stale warning on a valid check, got %+v", stale)
	}

	future := v.Validate(validCheck("100", fixedNow.AddDate(0, 0, 1)))
	if !contains(future.Warnings, "Check date is in the future") || !future.IsValid {
		t.Errorf("tomorrow: expected future warning only, got %+v", future)
	}

	check := validCheck("100", fixedNow)
	check.CheckDate.Value = "sometime soon"
	bad := v.Validate(check)
	if bad.IsValid || !contains(bad.Errors, "Invalid date format") {
		t.Errorf("expected invalid date error, got %+v", bad)
	}

	for _, s := range []string{"3/1/2026", "2026-03-01", "03-01-2026", "03/01/26", "March 1, 2026", "Mar 1, 2026"} {
		if _, ok := ParseCheckDate(s); !ok {
			t.Errorf("layout for %q not accepted", s)
		}
	}
}

func TestValidateAmounts(t *testing.T) {
	v := newTestValidator()
	date := fixedNow.AddDate(0, 0, -1)

	zero := v.Validate(validCheck("0", date))
	if zero.IsValid || !contains(zero.Errors, "Amount must be greater than zero") {
		t.Errorf("zero amount: got %+v", zero)
	}

	negative := v.Validate(validCheck("-5", date))
	if negative.IsValid {
		t.Errorf("negative amount should be an error, got %+v", negative)
	}

	high := v.Validate(validCheck("75000", date))
	if !high.IsValid || len(high.Errors) != 0 || !contains(high.Warnings, "High-value") {
		t.Errorf("75000: expected warning only, got %+v", high)
	}

	check := validCheck("1", date)
	check.Amount = model.CheckField[decimal.NullDecimal]{Source: model.SourceOCR}
	missing := v.Validate(check)
	if !contains(missing.Errors, "Amount is required") || contains(missing.Errors, "greater than zero") {
		t.Errorf("missing amount: got %+v", missing)
	}
}

func TestValidateAccumulatesEveryRule(t *testing.T) {
	check := model.NewExtractedCheck(model.PlaceholderFields(model.SourceOCR), model.DefaultSummaryWeights())
	res := newTestValidator().Validate(check)

	want := []string{
		"Payee is required",
		"Amount is required",
		"Check date is required",
		"Routing number is required",
		"Account number is required",
	}
	if res.IsValid || len(res.Errors) != len(want) {
		t.Fatalf("expected %d errors, got %+v", len(want), res)
	}
	for i, msg := range want {
		if res.Errors[i] != msg {
			t.Errorf("error %d: expected %q, got %q", i, msg, res.Errors[i])
		}
	}
}

func TestValidateBadRouting(t *testing.T) {
	check := validCheck("10", fixedNow)
	check.MICR.Routing.Value = "123456789"
	res := newTestValidator().Validate(check)
	if res.IsValid || !contains(res.Errors, "Invalid routing number checksum") {
		t.Fatalf("expected checksum error, got %+v", res)
	}

	check.MICR.Routing.Value = "12345"
	res = newTestValidator().Validate(check)
	if !contains(res.Errors, "Invalid routing number checksum") {
		t.Fatalf("short routing should fail checksum, got %+v", res)
	}
}

func TestValidateNilCheck(t *testing.T) {
	if res := newTestValidator().Validate(nil); res.IsValid {
		t.Fatal("nil check should not validate")
	}
}

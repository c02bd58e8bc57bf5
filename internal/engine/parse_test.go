package engine

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		text   string
		expect string
		ok     bool
	}{
		{"$1,250.00", "1250", true},
		{"$ 75000", "75000", true},
		{"Memo 12 ... $45.10", "45.1", true},
		{"1250.55", "1250.55", true},
		{"no digits here", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.text)
		if ok != tt.ok {
			t.Errorf("ParseAmount(%q) ok=%v, want %v", tt.text, ok, tt.ok)
			continue
		}
		if ok && got.Decimal.String() != tt.expect {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.text, got.Decimal.String(), tt.expect)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct{ text, want string }{
		{"DATE 3/15/2026", "03/15/2026"},
		{"2026-03-15", "03/15/2026"},
		{"Date: March 15 2026", "03/15/2026"},
		{"sept. 4, 2025", "09/04/2025"},
		{"13/45/2026", "13/45/2026"},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.text)
		if !ok || got != tt.want {
			t.Errorf("ParseDate(%q) = %q,%v want %q", tt.text, got, ok, tt.want)
		}
	}
	if _, ok := ParseDate("whenever"); ok {
		t.Error("expected no date")
	}
}

func TestParsePayee(t *testing.T) {
	tests := []struct{ text, want string }{
		{"PAY TO THE ORDER OF John Smith $ 1,250.00", "John Smith"},
		{"Pay to the order of:\nACME   Supply Co.", "ACME Supply Co."},
		{"  Jane Doe  ", "Jane Doe"},
	}
	for _, tt := range tests {
		if got, ok := ParsePayee(tt.text); !ok || got != tt.want {
			t.Errorf("ParsePayee(%q) = %q,%v want %q", tt.text, got, ok, tt.want)
		}
	}
}

func TestParseCheckNumberAndBank(t *testing.T) {
	if n, ok := ParseCheckNumber("No. 1001"); !ok || n != "1001" {
		t.Errorf("check number: %q %v", n, ok)
	}
	if _, ok := ParseCheckNumber("12"); ok {
		t.Error("two digits is not a check number")
	}
	if b, ok := ParseBank("John Smith\n123 Main St\nFIRST NATIONAL  BANK"); !ok || b != "FIRST NATIONAL BANK" {
		t.Errorf("bank: %q %v", b, ok)
	}
}

func TestParseMICR(t *testing.T) {
	tests := []struct {
		text string
		want MICRLine
	}{
		{"A021000021A 123456789C 1001", MICRLine{Routing: "021000021", Account: "123456789", Serial: "1001"}},
		{"⑈001234⑈ ⑆011000015⑆ 9876543210⑈", MICRLine{Routing: "011000015", Account: "9876543210", Serial: "001234"}},
		{"021000021 55512", MICRLine{Routing: "021000021", Account: "55512"}},
	}
	for _, tt := range tests {
		got, ok := ParseMICR(tt.text)
		if !ok || got != tt.want {
			t.Errorf("ParseMICR(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
	if _, ok := ParseMICR("no digits"); ok {
		t.Error("expected no MICR line")
	}
}

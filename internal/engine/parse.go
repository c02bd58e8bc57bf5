package engine

import (
	"regexp"
	"strings"

	"github.com/adverant/nexus/checkscan-worker/internal/validation"
	"github.com/shopspring/decimal"
)

var (
	amountPattern      = regexp.MustCompile(`(\$)?\s*((?:\d{1,3}(?:,\d{3})+)|\d+)(?:\.(\d{2}))?`)
	numericDatePattern = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	isoDatePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	namedDatePattern   = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	digitRun           = regexp.MustCompile(`\d+`)
	checkNumberPattern = regexp.MustCompile(`\b\d{3,8}\b`)
	payeePrefix        = regexp.MustCompile(`(?i)^.*?pay\s+to\s+the\s+order\s+of[:\s]*`)
	bankKeywords       = regexp.MustCompile(`(?i)\b(bank|credit\s+union|trust|savings|financial|bancorp)\b`)
)

// ParseAmount finds the monetary amount in text. A "$"-prefixed figure or
// one with cents wins over a bare integer.
func ParseAmount(text string) (decimal.NullDecimal, bool) {
	matches := amountPattern.FindAllStringSubmatch(text, -1)
	best, bestRank := "", -1
	for _, m := range matches {
		rank := 0
		if m[1] != "" {
			rank += 2
		}
		if m[3] != "" {
			rank++
		}
		if rank > bestRank {
			best = strings.ReplaceAll(m[2], ",", "")
			if m[3] != "" {
				best += "." + m[3]
			}
			bestRank = rank
		}
	}
	if best == "" {
		return decimal.NullDecimal{}, false
	}
	d, err := decimal.NewFromString(best)
	if err != nil {
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(d), true
}

// ParseDate finds a check date in text. Dates the validator understands are
// normalized to MM/DD/YYYY; other date-shaped strings are returned as read.
func ParseDate(text string) (string, bool) {
	var raw string
	switch {
	case isoDatePattern.MatchString(text):
		raw = isoDatePattern.FindString(text)
	case numericDatePattern.MatchString(text):
		raw = numericDatePattern.FindString(text)
	case namedDatePattern.MatchString(text):
		m := namedDatePattern.FindStringSubmatch(text)
		month := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
		raw = month + " " + m[2] + ", " + m[3]
	default:
		return "", false
	}
	if t, ok := validation.ParseCheckDate(raw); ok {
		return t.Format("01/02/2006"), true
	}
	return raw, true
}

// ParsePayee extracts the payee name, dropping the "pay to the order of"
// caption and any trailing amount
func ParsePayee(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = payeePrefix.ReplaceAllString(line, "")
		if i := strings.Index(line, "$"); i >= 0 {
			line = line[:i]
		}
		name := strings.Join(strings.Fields(line), " ")
		name = strings.Trim(name, ":-_*")
		if len([]rune(name)) >= 2 {
			return name, true
		}
	}
	return "", false
}

// ParseCheckNumber returns the first 3 to 8 digit run
func ParseCheckNumber(text string) (string, bool) {
	n := checkNumberPattern.FindString(text)
	return n, n != ""
}

// ParseBank returns the first line naming a financial institution
func ParseBank(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		if bankKeywords.MatchString(line) {
			return strings.Join(strings.Fields(line), " "), true
		}
	}
	return "", false
}

// MICRLine is a parsed magnetic-ink line
type MICRLine struct {
	Routing string
	Account string
	Serial  string
}

// ParseMICR splits the digit groups of a MICR line. The routing number is
// the first nine-digit group; of the remaining groups the longest is the
// account and the shortest the serial.
func ParseMICR(text string) (MICRLine, bool) {
	runs := digitRun.FindAllString(text, -1)
	var line MICRLine
	others := make([]string, 0, len(runs))
	for _, r := range runs {
		if line.Routing == "" && len(r) == 9 {
			line.Routing = r
			continue
		}
		others = append(others, r)
	}

	switch len(others) {
	case 0:
	case 1:
		line.Account = others[0]
	default:
		longest, shortest := 0, len(others)-1
		for i, r := range others {
			if len(r) > len(others[longest]) {
				longest = i
			}
			if len(r) < len(others[shortest]) {
				shortest = i
			}
		}
		line.Account = others[longest]
		line.Serial = others[shortest]
	}
	return line, line.Routing != "" || line.Account != ""
}

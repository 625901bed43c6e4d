package parser

import (
	"regexp"
	"sort"
	"strings"
)

// parseField tries each pattern in order and returns the first capture
// group of the first one that matches.
func parseField(text string, patterns []string) string {
	for _, pat := range patterns {
		re := regexp.MustCompile(`(?im)` + pat)
		if m := re.FindStringSubmatch(text); m != nil && len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var (
	invoiceNumberPatterns = []string{
		`Invoice\s*#\s*:?\s*([A-Za-z0-9][\w\-]*\d[\w\-]*)`,
		`Invoice\s+Number\s*:?\s*([A-Za-z0-9][\w\-]*\d[\w\-]*)`,
		`^([A-Z]-\d{5,})$`,
	}
	invoiceDatePatterns = []string{
		`Invoice\s+Date\s*:?\s*(\d{1,2}/\d{1,2}/\d{2,4})`,
		`(?:^|\n)\s*Date\s*:\s*(\d{4}-\d{2}-\d{2})`,
		`(?:^|\n)\s*Date\s*:\s*(\d{1,2}/\d{1,2}/\d{2,4})`,
		`^(?!.*(?:Due|Ship|Order|P\.O\.|PO)\s+Date).*\bDate\s+(\d{1,2}/\d{1,2}/\d{2,4})`,
	}
	dueDatePatterns = []string{
		`Due\s+Date\s*:?\s*(\d{1,2}/\d{1,2}/\d{2,4})`,
	}
	termsPatterns = []string{
		`Terms\s*:\s*(Net\s*\d+\w*(?:\s+Prox)?)`,
		`Terms\s+(NET\s*\d+)`,
		`Terms\s*:\s*(N\d+)`,
		`Terms\s*:\s*(Due\s+(?:on|Upon)\s+Receipt)`,
		`(?:Payment\s+)?Terms\s*:\s*(Credit\s+Card[^\n]*)`,
	}
	poNumberPatterns = []string{
		`PO\s*#\s*:?\s*(\d+)`,
		`P\.O\.\s+Number\s+(\d+)`,
	}
	subtotalPatterns = []string{
		`Sub\s*-?\s*total\s*:?\s*\$?([\d,]+\.?\d*)`,
	}
	shippingCostPatterns = []string{
		`Shipping\s+Cost\s*\([^)]+\)\s*\$?([\d,]+\.?\d*)`,
		`^Drop\s+Ship\s+\d+\.?\d*\s+\d+\.?\d*\s+[\d,]+\.?\d{2}\s+([\d,]+\.?\d{2})\s*$`,
		`Drop\s+Ship\s+\$?([\d,]+\.?\d*)`,
		`FREIGHT\s+OUT\s+\$?([\d,]+\.?\d*)`,
		`Freight\s+\$?([\d,]+\.?\d*)`,
	}
	totalFallbackPatterns = []string{
		`(?:Total\s+USD|Total\s+Amount|Invoice\s+Total|Grand\s+Total|Total\s+Due|^Total)\s*:?\s*\$?([\d,]+\.?\d*)`,
		`(?:^|\n)\s*Total\s+\$?([\d,]+\.?\d*)`,
		`Amount\s+Due\s*:?\s*\$?([\d,]+\.?\d*)`,
		`Balance\s+Due\s+\$?([\d,]+\.?\d*)`,
	}
)

// pairFields holds header fields recovered from label-then-value line
// pairs, where a row of column labels is followed by a row of values.
type pairFields struct {
	InvoiceNumber string
	Date          string
	DueDate       string
	Terms         string
	PONumber      string
}

var (
	dateValueRe     = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})\s+\S+`)
	dualDateValueRe = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}\s+\d{1,2}/\d{1,2}/\d{2,4}\s+\S+`)
	numFirstRe      = regexp.MustCompile(`^\d+\s+\S+`)
	numOnlyRe       = regexp.MustCompile(`^\d+\b`)
	numPairRe       = regexp.MustCompile(`^\d+\s+\d+`)
)

// labelValuePairs extracts header fields laid out as a line of column
// labels followed by a line of values:
//
//	Date Ship Via Tracking Terms
//	2026-01-29 UPS 1Z8E37A90395308892 NET30
func labelValuePairs(text string) pairFields {
	var f pairFields
	lines := strings.Split(text, "\n")

	next := func(i int, re *regexp.Regexp) []string {
		for j := i + 1; j <= i+3 && j < len(lines); j++ {
			cand := strings.TrimSpace(lines[j])
			if cand == "" {
				continue
			}
			if re.MatchString(cand) {
				return strings.Fields(cand)
			}
		}
		return nil
	}

	for i, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case matchLabel(line, `^Date\s+Invoice\s*#`):
			if parts := next(i, dateValueRe); len(parts) >= 2 {
				setIfEmpty(&f.Date, parts[0])
				setIfEmpty(&f.InvoiceNumber, parts[1])
			}
		case matchLabel(line, `^Invoice\s+Date\s+Due\s+Date`):
			if parts := next(i, dualDateValueRe); len(parts) >= 4 {
				setIfEmpty(&f.Date, parts[0])
				setIfEmpty(&f.DueDate, parts[1])
				setIfEmpty(&f.InvoiceNumber, parts[len(parts)-1])
			}
		case matchLabel(line, `^PO\s+Date\s+PO\s*#`):
			if parts := next(i, dateValueRe); len(parts) >= 2 {
				setIfEmpty(&f.PONumber, parts[1])
			}
		case matchLabel(line, `^P\.?O\.?\s+No\.?\s+Terms`):
			if parts := next(i, numFirstRe); len(parts) >= 2 {
				setIfEmpty(&f.PONumber, parts[0])
				setIfEmpty(&f.Terms, parts[1])
			}
		case matchLabel(line, `^P\.?O\.?\s+Number\s+Terms`):
			if parts := next(i, numOnlyRe); len(parts) >= 1 {
				setIfEmpty(&f.PONumber, parts[0])
			}
		case matchLabel(line, `^Date\s+Ship\s+Via`):
			if parts := next(i, dateValueRe); len(parts) >= 1 {
				setIfEmpty(&f.Date, parts[0])
				if len(parts) >= 4 {
					setIfEmpty(&f.Terms, parts[len(parts)-1])
				}
			}
		case matchLabel(line, `^Purchase\s+Order\s+Number`):
			if parts := next(i, numOnlyRe); len(parts) >= 1 {
				setIfEmpty(&f.PONumber, parts[0])
			}
		case matchLabel(line, `^Customer\s+PO#`):
			if parts := next(i, numOnlyRe); len(parts) >= 1 {
				setIfEmpty(&f.PONumber, parts[0])
			}
		case matchLabel(line, `^SO\s+No\.?\s+Customer\s+PO`):
			if parts := next(i, numPairRe); len(parts) >= 2 {
				setIfEmpty(&f.InvoiceNumber, parts[0])
				setIfEmpty(&f.PONumber, parts[1])
			}
		}
	}
	return f
}

func matchLabel(line, pattern string) bool {
	return regexp.MustCompile(`(?i)` + pattern).MatchString(line)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

var (
	strongTotalRe = regexp.MustCompile(`(?i)\b(?:total\s+due|invoice\s+total|grand\s+total|total\s+amount|total\s+usd|amount\s+due|balance\s+due)\b`)
	weakTotalRe   = regexp.MustCompile(`(?i)\bsub\s*-?\s*total\b|\bsubtotal\b`)
	anyTotalRe    = regexp.MustCompile(`(?i)\btotal\b`)
	lineAmountRe  = regexp.MustCompile(`\$?\s*(\(?-?[\d,]+\.\d{2}\)?)`)
)

var totalExcludeWords = []string{
	"tax", "sales tax", "shipping", "freight", "handling",
	"discount", "surcharge", "deposit",
}

type totalCandidate struct {
	value     float64
	lineIndex int
	lookahead int
}

// extractTotal finds the invoice total. Lines labeled total due, grand
// total and the like are strong candidates; subtotal lines are weak ones
// used only when nothing stronger carries an amount. Among candidates of
// equal strength the largest amount wins.
func extractTotal(text string) float64 {
	var strong, weak []totalCandidate
	lines := strings.Split(text, "\n")

	for idx, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		strength := ""
		switch {
		case strongTotalRe.MatchString(lower):
			strength = "strong"
		case weakTotalRe.MatchString(lower):
			strength = "weak"
		case anyTotalRe.MatchString(lower):
			excluded := false
			for _, w := range totalExcludeWords {
				if strings.Contains(lower, w) {
					excluded = true
					break
				}
			}
			if !excluded {
				strength = "strong"
			}
		}
		if strength == "" {
			continue
		}

		amounts := lineAmounts(line)
		lookahead := 0
		if len(amounts) == 0 {
			// amount may sit on one of the next two lines
			for j := idx + 1; j <= idx+2 && j < len(lines); j++ {
				next := strings.TrimSpace(lines[j])
				if next == "" {
					continue
				}
				amounts = lineAmounts(next)
				if len(amounts) > 0 {
					lookahead = j - idx
					break
				}
			}
		}
		for _, v := range amounts {
			c := totalCandidate{value: v, lineIndex: idx, lookahead: lookahead}
			if strength == "strong" {
				strong = append(strong, c)
			} else {
				weak = append(weak, c)
			}
		}
	}

	if v, ok := pickTotal(strong); ok {
		return v
	}
	if v, ok := pickTotal(weak); ok {
		return v
	}
	return unknownAmount()
}

func pickTotal(candidates []totalCandidate) (float64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.value != b.value {
			return a.value > b.value
		}
		if a.lineIndex != b.lineIndex {
			return a.lineIndex > b.lineIndex
		}
		return a.lookahead < b.lookahead
	})
	return candidates[0].value, true
}

func lineAmounts(line string) []float64 {
	var out []float64
	for _, m := range lineAmountRe.FindAllStringSubmatch(line, -1) {
		v := ParseAmount(m[1])
		if Known(v) {
			out = append(out, v)
		}
	}
	return out
}

package parser

import (
	"encoding/csv"
	"os"
	"regexp"
	"strings"
)

// VendorTable maps the many spellings a vendor uses on paper to one
// canonical name. Loaded from an optional CSV with columns vendor,aliases
// (aliases separated by | or ;); a missing file just means no normalization.
type VendorTable struct {
	names     []string
	aliases   []string
	canonical map[string]string
}

func LoadVendorTable(path string) (*VendorTable, error) {
	t := &VendorTable{canonical: map[string]string{}}
	if path == "" {
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		name := strings.TrimSpace(row[0])
		if i == 0 && strings.EqualFold(name, "vendor") {
			continue
		}
		t.names = append(t.names, name)
		t.canonical[vendorKey(name)] = name
		if len(row) > 1 {
			for _, alias := range splitAliases(row[1]) {
				if vendorKey(alias) == vendorKey(name) {
					continue
				}
				t.aliases = append(t.aliases, alias)
				if _, ok := t.canonical[vendorKey(alias)]; !ok {
					t.canonical[vendorKey(alias)] = name
				}
			}
		}
	}
	return t, nil
}

// Normalize maps a detected name to its canonical form, or returns it
// unchanged when unknown.
func (t *VendorTable) Normalize(name string) string {
	if name == "" {
		return name
	}
	if canonical, ok := t.canonical[vendorKey(name)]; ok {
		return canonical
	}
	return name
}

// Aliases returns the alternative spellings recorded for a canonical name.
func (t *VendorTable) Aliases(name string) []string {
	key := vendorKey(t.Normalize(name))
	var out []string
	for _, alias := range t.aliases {
		if vendorKey(t.Normalize(alias)) == key {
			out = append(out, alias)
		}
	}
	return out
}

// findInText scans for any known vendor name appearing in the text,
// preferring the longest match, tie-broken by earliest occurrence.
func (t *VendorTable) findInText(text string) string {
	lower := strings.ToLower(text)
	best := ""
	bestPos := -1
	for _, list := range [][]string{t.names, t.aliases} {
		for _, name := range list {
			pos := strings.Index(lower, strings.ToLower(name))
			if pos < 0 {
				continue
			}
			if len(name) > len(best) || (len(name) == len(best) && pos < bestPos) {
				best = name
				bestPos = pos
			}
		}
		if best != "" {
			return t.Normalize(best)
		}
	}
	return ""
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

func vendorKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "&", "and")
	return nonAlnumRe.ReplaceAllString(s, "")
}

func splitAliases(value string) []string {
	var out []string
	for _, part := range regexp.MustCompile(`[|;]`).Split(value, -1) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Words that disqualify a letterhead line from being a vendor name.
var nonVendorWords = []string{
	"invoice", "sales order", "credit memo", "statement", "receipt",
	"bill to", "ship to", "sold to", "page", "remittance",
	"terms and conditions", "powered by", "www.", "http",
}

var companySuffixRe = regexp.MustCompile(`(?i)\b(Inc\.?|LLC|Corp\.?|Ltd\.?|Co\.?|Enterprises|Service|Engineering|Distribution|Distributing|Performance|Fabrication)\b`)

var (
	remitToRe     = regexp.MustCompile(`(?i)(?:Remit|Pay)\s+To\s*:\s*([A-Za-z][A-Za-z0-9 &\-.,]+?)(?:\n|\d)`)
	paymentAddrRe = regexp.MustCompile(`(?i)Payment\s+Address\s*:\s*\n?\s*([A-Za-z][A-Za-z0-9 &\-.,]+?)(?:\n|$)`)
	thankYouRe    = regexp.MustCompile(`(?i)Thank\s+you\s+for\s+choosing\s+([A-Za-z][A-Za-z0-9 &\-]+?)(?:\.|\n|$)`)
	billToPosRe   = regexp.MustCompile(`(?i)(?:Bill|Sold|Ship)\s+To`)
)

// validVendorName filters out field labels, separators and other text that
// merely looks name-shaped.
func validVendorName(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 || len(s) > 80 {
		return false
	}
	if !regexp.MustCompile(`[A-Za-z]`).MatchString(s) {
		return false
	}
	if regexp.MustCompile(`(?i)_{3,}|Credit Card|Type:|Authorize|Please Enter`).MatchString(s) {
		return false
	}
	lower := strings.ToLower(s)
	for _, w := range nonVendorWords {
		if lower == w {
			return false
		}
	}
	return true
}

// detectVendor finds the company that issued the invoice (who gets paid),
// not the customer it is billed to. Strategies run highest-confidence first.
func (p *Parser) detectVendor(text string) string {
	if m := remitToRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimRight(strings.TrimSpace(m[1]), ",."); validVendorName(v) {
			return v
		}
	}
	if m := paymentAddrRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimRight(strings.TrimSpace(m[1]), ",."); validVendorName(v) {
			return v
		}
	}
	if v := p.vendors.findInText(text); v != "" {
		return v
	}
	if v := vendorFromLetterhead(text); v != "" {
		return v
	}
	if m := thankYouRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); validVendorName(v) {
			return v
		}
	}
	return ""
}

// vendorFromLetterhead scans the first lines before the Bill To / Ship To
// section for something that reads like a company name, skipping addresses,
// phone numbers, dates and field labels.
func vendorFromLetterhead(text string) string {
	header := text
	if loc := billToPosRe.FindStringIndex(text); loc != nil {
		header = text[:loc[0]]
	} else if len(header) > 500 {
		header = header[:500]
	}

	lines := strings.Split(header, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 3 {
			continue
		}
		lower := strings.ToLower(line)
		hasSuffix := companySuffixRe.MatchString(line)

		skip := false
		for _, w := range nonVendorWords {
			if strings.Contains(lower, w) && !hasSuffix {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if regexp.MustCompile(`(?i)^(Invoice|Date|PO|P\.O\.|Terms|Page|Customer|Phone|Fax|Tel|Tax|Ship|Due)\b`).MatchString(line) {
			continue
		}
		// street address
		if regexp.MustCompile(`(?i)^\d+\s+.*(Ave|Avenue|St|Street|Rd|Road|Blvd|Dr|Drive|Way|Ln|Lane|Ct|Court|Ste|Suite)\b`).MatchString(line) {
			continue
		}
		// city/state/zip
		if regexp.MustCompile(`[A-Z]{2}\s+\d{5}`).MatchString(line) {
			continue
		}
		// phone numbers
		if regexp.MustCompile(`^\W*[\d()\-.\s]{7,}$`).MatchString(line) || regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.]\d{4}`).MatchString(line) {
			continue
		}
		if strings.ContainsAny(line, "@") || strings.Contains(lower, ".com") {
			continue
		}
		if regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`).MatchString(line) || regexp.MustCompile(`^[A-Z]?-?\d+$`).MatchString(line) {
			continue
		}

		if hasSuffix {
			clean := regexp.MustCompile(`(?i)\s+(?:Date|Invoice|Page)\s*:?\s*\S*.*$`).ReplaceAllString(line, "")
			clean = strings.TrimSpace(clean)
			if validVendorName(clean) {
				return clean
			}
		}

		words := strings.Fields(line)
		if len(words) >= 2 {
			capitalized := true
			for _, w := range words {
				r := rune(w[0])
				if r >= 'a' && r <= 'z' {
					capitalized = false
					break
				}
			}
			if capitalized && validVendorName(line) {
				return line
			}
		}
	}
	return ""
}

var vendorAddrRe = regexp.MustCompile(`(?i)(\d+\s+[A-Za-z][A-Za-z0-9 .]+(?:Ave|Avenue|St|Street|Rd|Road|Blvd|Dr|Drive|Way|Ln|Lane|Ct|Court|Ste|Suite)[A-Za-z0-9 .,]*\n\s*[A-Za-z]+[\w ,]+\d{5})`)

// vendorAddress looks for a street-plus-city pair in the letterhead area.
func vendorAddress(text string) string {
	header := text
	if loc := billToPosRe.FindStringIndex(text); loc != nil {
		header = text[:loc[0]]
	} else if len(header) > 500 {
		header = header[:500]
	}
	if m := vendorAddrRe.FindStringSubmatch(header); m != nil {
		return strings.Join(strings.Fields(strings.ReplaceAll(m[1], "\n", ", ")), " ")
	}
	return ""
}

var filenameVendorRe = regexp.MustCompile(`(?i)from_([A-Za-z0-9_\-]+)`)

// vendorFromFilename infers the vendor from a "from_<vendor>" filename
// pattern when the document text never names one.
func vendorFromFilename(filename string) string {
	m := filenameVendorRe.FindStringSubmatch(filename)
	if m == nil {
		return ""
	}
	raw := regexp.MustCompile(`_[0-9]+$`).ReplaceAllString(m[1], "")
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(raw))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	v := strings.Join(words, " ")
	if validVendorName(v) {
		return v
	}
	return ""
}

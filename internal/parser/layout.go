package parser

import (
	"regexp"
	"strings"
)

// A layout recognizes one family of line-item table shapes by its header
// row and knows how to read rows laid out that way. Detection runs in
// order; the first layout whose header matches the document handles it,
// with genericLayout as the catch-all.
type layout interface {
	// Detect reports whether this layout's header appears in the text.
	Detect(text string) bool
	// Items reads the line items. An empty slice means the layout
	// matched but found no usable rows, letting the next layout try.
	Items(text string) []LineItem
}

func tableLayouts() []layout {
	return []layout{
		qtyFirstLayout{},
		numberedLayout{},
		unitColumnLayout{},
		genericLayout{},
	}
}

// Keywords that mark a row as shipping rather than product.
var freightKeywords = []string{
	"freight", "shipping", "drop ship", "drop-ship", "drop ship fee",
	"freight out", "outbound freight",
}

// Rows matching these are charges, not products, and are dropped.
var nonProductKeywords = []string{
	"l.c.", "lc", "d.n.a.", "dna",
	"handling", "surcharge",
}

func isFreightItem(it *LineItem) bool {
	combined := strings.ToLower(it.SKU + " " + it.Description)
	for _, k := range freightKeywords {
		if strings.Contains(combined, k) {
			return true
		}
	}
	return false
}

func isNonProductRow(it *LineItem) bool {
	combined := strings.ToLower(it.SKU + " " + it.Description)
	for _, k := range nonProductKeywords {
		if len(k) <= 2 {
			if regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b`).MatchString(combined) {
				return true
			}
		} else if strings.Contains(combined, k) {
			return true
		}
	}
	return false
}

func keepItem(items []LineItem, it LineItem) []LineItem {
	it.Freight = isFreightItem(&it)
	if !it.Freight && isNonProductRow(&it) {
		return items
	}
	return append(items, it)
}

var rowStopRe = regexp.MustCompile(`(?i)^(Subtotal|Sub\s*-?\s*total|Total\b|Taxes?\b|Paid\b|Balance\b|Amount\s+Subject|Thank\s+you|Page\b|I\s+HEREBY|RECEIVED)`)

// linesAfterHeader returns the trimmed lines between the header match and
// the totals section.
func linesAfterHeader(text string, headerRe *regexp.Regexp) []string {
	loc := headerRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	var out []string
	for _, raw := range strings.Split(text[loc[1]:], "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if rowStopRe.MatchString(line) {
			break
		}
		out = append(out, line)
	}
	return out
}

// qtyFirstLayout handles tables whose rows begin with the quantity:
//
//	Quantity Item RGA Serial # Unit Total
//	1 5326058SE RA054795 1,695.00 1,695.00
var qtyFirstHeaderRe = regexp.MustCompile(`(?i)Quantity\s+Item\s+RGA\s+Serial\s*#\s+Unit\s+Total`)

type qtyFirstLayout struct{}

func (qtyFirstLayout) Detect(text string) bool { return qtyFirstHeaderRe.MatchString(text) }

var (
	qtyFirstRowRe    = regexp.MustCompile(`^(\d+)\s+(\S+)\s+(.*)$`)
	priceTokenRe     = regexp.MustCompile(`\$?[\d,]+\.\d{2}`)
	serialPrefixRe   = regexp.MustCompile(`(?i)^(?:RA|RGA|SN|SER|SERIAL)\d+\s*`)
	trailingSpacesRe = regexp.MustCompile(`\s{2,}`)
)

func (qtyFirstLayout) Items(text string) []LineItem {
	var items []LineItem
	for _, line := range linesAfterHeader(text, qtyFirstHeaderRe) {
		m := qtyFirstRowRe.FindStringSubmatch(line)
		if m == nil {
			// continuation of the previous item's description
			if len(items) > 0 {
				last := &items[len(items)-1]
				last.Description = strings.TrimSpace(last.Description + " " + line)
			}
			continue
		}
		qty, sku, rest := m[1], m[2], m[3]
		prices := priceTokenRe.FindAllString(rest, -1)

		it := LineItem{
			SKU:      sku,
			Quantity: ParseAmount(qty),
			Units:    "Each",
		}
		switch {
		case len(prices) >= 2:
			it.UnitPrice = ParseAmount(prices[len(prices)-2])
			it.Amount = ParseAmount(prices[len(prices)-1])
		case len(prices) == 1:
			it.UnitPrice = ParseAmount(prices[0])
			if qty == "0" {
				it.Amount = unknownAmount()
			} else {
				it.Amount = it.UnitPrice
			}
		default:
			it.UnitPrice = unknownAmount()
			it.Amount = unknownAmount()
		}
		desc := serialPrefixRe.ReplaceAllString(strings.TrimSpace(priceTokenRe.ReplaceAllString(rest, "")), "")
		it.Description = strings.TrimSpace(trailingSpacesRe.ReplaceAllString(desc, " "))
		it.Freight = isFreightItem(&it)
		items = append(items, it)
	}
	return items
}

// numberedLayout handles tables whose rows begin with a line number:
//
//	ITEM DESCRIPTION QUANTITY PRICE EXT.
//	1 CORE-6.0E-HPOP Remanufactured pump 1 225.00 225.00
//
// Some renderings double every character in a token; those are collapsed
// before matching.
var numberedHeaderRe = regexp.MustCompile(`(?i)ITEM\s+DESCRIPTION\s+QUANTITY\s+PRICE\s+EXT\.?`)

type numberedLayout struct{}

func (numberedLayout) Detect(text string) bool { return numberedHeaderRe.MatchString(text) }

var numberedRowRe = regexp.MustCompile(`^(\d+)\s+(\S+)\s+(.+?)\s+(\d+\.?\d*)\s+(\d+\.?\d*)\s+(\d+\.?\d*)$`)

var numberedSkipRe = regexp.MustCompile(`(?i)^(LINE|NO\.?|SN:|CORE\s+TRACKING#|Tracking\s+No)`)

func (numberedLayout) Items(text string) []LineItem {
	lines := linesAfterHeader(text, numberedHeaderRe)
	var items []LineItem
	for i := 0; i < len(lines); i++ {
		line := dedupeLine(lines[i])
		if numberedSkipRe.MatchString(line) {
			continue
		}
		m := numberedRowRe.FindStringSubmatch(line)
		if m == nil {
			if len(items) > 0 {
				last := &items[len(items)-1]
				last.Description = strings.TrimSpace(last.Description + " " + line)
			}
			continue
		}
		it := LineItem{
			SKU:         m[2],
			Description: strings.TrimSpace(m[3]),
			Units:       "Each",
			Quantity:    ParseAmount(m[4]),
			UnitPrice:   ParseAmount(m[5]),
			Amount:      ParseAmount(m[6]),
		}
		// SKU split across lines (e.g. "CORE-6.0E-" then "HPOP")
		if i+1 < len(lines) {
			next := dedupeLine(lines[i+1])
			if !numberedSkipRe.MatchString(next) && regexp.MustCompile(`^[A-Za-z0-9\-]+$`).MatchString(next) {
				if strings.HasSuffix(it.SKU, "-") || isAlpha(next) {
					it.SKU += next
					i++
				}
			}
		}
		items = keepItem(items, it)
	}
	return items
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return s != ""
}

// dedupeToken collapses tokens whose characters are doubled, an artifact
// of some PDF text layers ("112233" for "123").
func dedupeToken(tok string) string {
	if len(tok) < 4 || len(tok)%2 != 0 {
		return tok
	}
	pairs := 0
	total := len(tok) / 2
	for i := 0; i < len(tok); i += 2 {
		if tok[i] == tok[i+1] {
			pairs++
		}
	}
	if float64(pairs)/float64(total) < 0.6 {
		return tok
	}
	var b strings.Builder
	for i := 0; i < len(tok); i += 2 {
		b.WriteByte(tok[i])
	}
	return b.String()
}

func dedupeLine(line string) string {
	fields := strings.Fields(line)
	for i, tok := range fields {
		fields[i] = dedupeToken(tok)
	}
	return strings.Join(fields, " ")
}

// unitColumnLayout handles tables with a unit-of-measure column where the
// description follows on later lines:
//
//	Item/Description U/M Ordered Shipped Unit Price Total Price
//	ABC-123 Each 2 2 54.00 108.00
//	Widget bracket kit
var unitColumnHeaderRe = regexp.MustCompile(`(?i)Item/Description\s+.*?Total\s+Price`)

type unitColumnLayout struct{}

func (unitColumnLayout) Detect(text string) bool { return unitColumnHeaderRe.MatchString(text) }

var (
	unitColumnRowRe = regexp.MustCompile(`(?i)^(\S+)\s+(Each|EA|EACH|Unit|Piece|PC|PCS)\s+(\d+\.?\d*)\s+(\d+\.?\d*)\s+([\d,]+\.?\d{2})\s+([\d,]+\.?\d{2})$`)
	dropShipRowRe   = regexp.MustCompile(`(?i)^Drop\s+Ship\s+(\d+\.?\d*)\s+(\d+\.?\d*)\s+([\d,]+\.?\d{2})\s+([\d,]+\.?\d{2})$`)
	summaryLineRe   = regexp.MustCompile(`(?i)(Subtotal|Total|Amount Subject|Amount Exempt|Total Sales Tax)`)
)

func (unitColumnLayout) Items(text string) []LineItem {
	loc := unitColumnHeaderRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	var lines []string
	for _, raw := range strings.Split(text[loc[1]:], "\n") {
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}

	var items []LineItem
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if summaryLineRe.MatchString(line) {
			continue
		}

		if m := unitColumnRowRe.FindStringSubmatch(line); m != nil {
			units := m[2]
			if l := strings.ToLower(units); l == "each" || l == "ea" {
				units = "Each"
			}
			it := LineItem{
				SKU:       m[1],
				Units:     units,
				Quantity:  ParseAmount(m[4]),
				UnitPrice: ParseAmount(m[5]),
				Amount:    ParseAmount(m[6]),
			}
			// description occupies the following lines up to the next row
			var desc []string
			j := i + 1
			for ; j < len(lines); j++ {
				next := lines[j]
				if unitColumnRowRe.MatchString(next) || dropShipRowRe.MatchString(next) || summaryLineRe.MatchString(next) {
					break
				}
				desc = append(desc, next)
			}
			it.Description = strings.TrimSpace(strings.Join(desc, " "))
			items = keepItem(items, it)
			i = j - 1
			continue
		}

		if m := dropShipRowRe.FindStringSubmatch(line); m != nil {
			it := LineItem{
				SKU:         "Drop Ship",
				Units:       "Each",
				Description: "Drop Ship",
				Quantity:    ParseAmount(m[2]),
				UnitPrice:   ParseAmount(m[3]),
				Amount:      ParseAmount(m[4]),
				Freight:     true,
			}
			if i+1 < len(lines) && regexp.MustCompile(`(?i)^Drop\s+Ship\s+Fee`).MatchString(lines[i+1]) {
				it.Description = lines[i+1]
				i++
			}
			items = append(items, it)
		}
	}
	return items
}

// genericLayout is the fallback for any table it can find a header for,
// reading rows that end in unit price plus amount and merging wrapped
// description lines.
var genericHeaderRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(LINE\s+NO\.\s+ITEM\s+.*?(?:PRICE|EXT\.))\s*\n`),
	regexp.MustCompile(`(?i)(Item\s+Code\s+.*?Amount)\s*\n`),
	regexp.MustCompile(`(?i)((?:Part\s+Number|Item|SKU|Product|Qty)\s+.*?(?:Amount|Total|Price|Ext\.))\s*\n`),
}

var genericEndRe = regexp.MustCompile(`(?im)(?:^|\n)\s*(?:Subtotal|Sub\s*-?\s*total|Total\s+\$|Shipping\s+Cost|Tax\s+\d|I\s+HEREBY|Amount\s+Subject)`)

type genericLayout struct{}

func (genericLayout) Detect(text string) bool { return true }

var (
	freightLineRe    = regexp.MustCompile(`(?i)^(Drop\s+Ship|Freight(?:\s+Out)?)\b`)
	headerWordLineRe = regexp.MustCompile(`(?i)^(item|sku|qty|description|subtotal|total)\s*$`)
	priceTailRe      = regexp.MustCompile(`\$?\d[\d,]*\.\d{2}\s*$`)
	twoPriceRowRe    = regexp.MustCompile(`^(.+?)\s+\$?([\d,]+\.?\d{2})\s+\$?([\d,]+\.?\d{2})\s*$`)
	contStopRe       = regexp.MustCompile(`(?i)^(Tracking\b|Subtotal\b|Total\b|Taxes?\b|Paid\b|Balance\b|Amount\b|Thank\s+you|Page\b|Ship\b|Bill\b|\*)|SHIPPING\s+ACT`)
)

func (genericLayout) Items(text string) []LineItem {
	section := genericSection(text)
	if section == "" {
		return genericPriceScan(text)
	}
	items := parseRowSection(section)
	if len(items) == 0 {
		items = genericPriceScan(text)
	}
	return items
}

func genericSection(text string) string {
	for _, re := range genericHeaderRes {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		rest := text[loc[1]:]
		if end := genericEndRe.FindStringIndex(rest); end != nil {
			return rest[:end[0]]
		}
		if len(rest) > 2000 {
			rest = rest[:2000]
		}
		return rest
	}
	return ""
}

func parseRowSection(section string) []LineItem {
	var items []LineItem
	var lastItem *LineItem
	accumulated := ""

	for _, raw := range strings.Split(strings.TrimSpace(section), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if freightLineRe.MatchString(line) {
			items = append(items, freightRow(line))
			accumulated = ""
			continue
		}
		if headerWordLineRe.MatchString(line) {
			continue
		}
		// wrapped description continues the previous item
		if lastItem != nil && !priceTailRe.MatchString(line) {
			if contStopRe.MatchString(line) {
				continue
			}
			lastItem.Description = strings.TrimSpace(lastItem.Description + " " + line)
			continue
		}

		if accumulated != "" {
			accumulated += " " + line
		} else {
			accumulated = line
		}

		m := twoPriceRowRe.FindStringSubmatch(accumulated)
		if m == nil {
			continue
		}
		it := parseRowContent(m[1], ParseAmount(m[2]), ParseAmount(m[3]))
		if it != nil {
			it.Freight = isFreightItem(it)
			if it.Freight || !isNonProductRow(it) {
				items = append(items, *it)
				lastItem = &items[len(items)-1]
			}
		}
		accumulated = ""
	}
	return items
}

func freightRow(line string) LineItem {
	prices := regexp.MustCompile(`[\d,]+\.\d{2}`).FindAllString(line, -1)
	it := LineItem{
		SKU:         "Freight",
		Units:       "Each",
		Quantity:    1,
		Description: line,
		Freight:     true,
		UnitPrice:   unknownAmount(),
		Amount:      unknownAmount(),
	}
	if regexp.MustCompile(`(?i)Drop\s+Ship`).MatchString(line) {
		it.SKU = "Drop Ship"
		it.Description = "Drop Ship"
	}
	if len(prices) > 0 {
		it.UnitPrice = ParseAmount(prices[len(prices)-1])
		it.Amount = it.UnitPrice
	}
	if m := regexp.MustCompile(`(?i)(?:Drop\s+Ship|Freight(?:\s+Out)?)\s+\$?[\d,]+\.\d{2}\s+(\d+)`).FindStringSubmatch(line); m != nil {
		it.Quantity = ParseAmount(m[1])
	}
	return it
}

var (
	rowSkuQtyBackRe = regexp.MustCompile(`(?i)^(\S+)\s+(\d+)\s+\d+\s*(?:Each|EA|Piece|pc|pcs|units?)?$`)
	rowSkuQtyUnitRe = regexp.MustCompile(`(?i)^(\S+)\s+(\d+)\s+(?:\d+\s+)?(?:Each|EA|Piece|pc|pcs|units?)\s+(.+)$`)
	rowLineSkuRe    = regexp.MustCompile(`^(\d+)\s+(\S+)\s+(.+?)\s+(\d+\.?\d*)$`)
	rowQtySkuDescRe = regexp.MustCompile(`^(\d+)\s+(\S+)\s+(.+)$`)
	rowSkuQtyDescRe = regexp.MustCompile(`^(\S+)\s+(\d+)\s+(.{3,})$`)
)

// parseRowContent reads the part of a row before the trailing prices,
// trying the known orderings of SKU, quantity, units and description.
func parseRowContent(content string, unitPrice, amount float64) *LineItem {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) < 3 {
		return nil
	}

	if m := rowSkuQtyBackRe.FindStringSubmatch(content); m != nil {
		return &LineItem{SKU: m[1], Quantity: ParseAmount(m[2]), Units: "Each", UnitPrice: unitPrice, Amount: amount}
	}
	if m := rowSkuQtyUnitRe.FindStringSubmatch(content); m != nil {
		return &LineItem{SKU: m[1], Quantity: ParseAmount(m[2]), Units: "Each", Description: strings.TrimSpace(m[3]), UnitPrice: unitPrice, Amount: amount}
	}
	if !priceTokenRe.MatchString(content) {
		if m := rowLineSkuRe.FindStringSubmatch(content); m != nil {
			return &LineItem{SKU: m[2], Quantity: ParseAmount(m[4]), Units: "Each", Description: strings.TrimSpace(m[3]), UnitPrice: unitPrice, Amount: amount}
		}
	}
	if m := rowQtySkuDescRe.FindStringSubmatch(content); m != nil {
		desc := serialPrefixRe.ReplaceAllString(strings.TrimSpace(m[3]), "")
		if priceTokenRe.MatchString(desc) {
			desc = strings.TrimSpace(priceTokenRe.ReplaceAllString(desc, ""))
			desc = regexp.MustCompile(`\s+\d+(\.\d+)?%?\s*$`).ReplaceAllString(desc, "")
			desc = trailingSpacesRe.ReplaceAllString(desc, " ")
		}
		if len(desc) >= 3 {
			return &LineItem{SKU: m[2], Quantity: ParseAmount(m[1]), Units: "Each", Description: desc, UnitPrice: unitPrice, Amount: amount}
		}
	}
	if m := rowSkuQtyDescRe.FindStringSubmatch(content); m != nil {
		return &LineItem{SKU: m[1], Quantity: ParseAmount(m[2]), Units: "Each", Description: strings.TrimSpace(m[3]), UnitPrice: unitPrice, Amount: amount}
	}
	if len(content) >= 5 {
		return &LineItem{Quantity: 1, Units: "Each", Description: content, UnitPrice: unitPrice, Amount: amount}
	}
	return nil
}

// genericPriceScan is the last resort: any line ending in two decimal
// amounts before the totals section is treated as a row.
func genericPriceScan(text string) []LineItem {
	search := text
	if end := regexp.MustCompile(`(?i)(Subtotal|Sub\s*-?\s*total|Total\s+\$)`).FindStringIndex(text); end != nil {
		search = text[:end[0]]
	}

	var items []LineItem
	re := regexp.MustCompile(`(?m)^(.{5,200}?)\s+\$?([\d,]+\.?\d{2})\s+\$?([\d,]+\.?\d{2})\s*$`)
	for _, m := range re.FindAllStringSubmatch(search, -1) {
		content := strings.TrimSpace(m[1])
		if regexp.MustCompile(`(?i)^(item|sku|qty|description|price|amount)`).MatchString(content) {
			continue
		}
		it := parseRowContent(content, ParseAmount(m[2]), ParseAmount(m[3]))
		if it != nil {
			it.Freight = isFreightItem(it)
			if it.Freight || !isNonProductRow(it) {
				items = append(items, *it)
			}
		}
	}
	return items
}

// Package parser turns extracted invoice text into structured records
// using layered rules: header field regexes, label-value line pairs,
// vendor detection strategies and table-shape specific row readers.
package parser

import (
	"regexp"
	"strings"

	"github.com/mdelaney/billfetch/internal/extract"
)

type Parser struct {
	vendors   *VendorTable
	tolerance float64
	layouts   []layout
}

// New builds a parser. tolerance bounds the allowed gap between a row's
// stated amount and quantity times unit price before the row is flagged.
func New(vendors *VendorTable, tolerance float64) *Parser {
	if vendors == nil {
		vendors = &VendorTable{canonical: map[string]string{}}
	}
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Parser{
		vendors:   vendors,
		tolerance: tolerance,
		layouts:   tableLayouts(),
	}
}

// Parse reads one document's text into an invoice record. It returns a
// ParseFailure only when the text yields no invoice number, no vendor and
// no line items; partial records are returned as-is so the caller can
// decide what to do with them.
func (p *Parser) Parse(doc *extract.ExtractedText, sourceFile string) (*InvoiceRecord, error) {
	text := doc.Text()
	pairs := labelValuePairs(text)

	rec := &InvoiceRecord{
		SourceFile:     sourceFile,
		ShippingAmount: unknownAmount(),
		Total:          unknownAmount(),
	}

	rec.InvoiceNumber = parseField(text, invoiceNumberPatterns)
	if rec.InvoiceNumber == "" {
		rec.InvoiceNumber = pairs.InvoiceNumber
	}

	rec.Vendor = p.vendors.Normalize(p.detectVendor(text))
	if rec.Vendor == "" {
		rec.Vendor = p.vendors.Normalize(vendorFromFilename(sourceFile))
	}
	rec.VendorAddress = vendorAddress(text)
	rec.Customer = customerName(text)

	rec.InvoiceDate = parseField(text, invoiceDatePatterns)
	if rec.InvoiceDate == "" {
		rec.InvoiceDate = pairs.Date
	}
	rec.DueDate = parseField(text, dueDatePatterns)
	if rec.DueDate == "" {
		rec.DueDate = pairs.DueDate
	}
	rec.Terms = parseField(text, termsPatterns)
	if rec.Terms == "" {
		rec.Terms = pairs.Terms
	}
	rec.PONumber = parseField(text, poNumberPatterns)
	if rec.PONumber == "" {
		rec.PONumber = pairs.PONumber
	}

	for _, l := range p.layouts {
		if !l.Detect(text) {
			continue
		}
		if items := l.Items(text); len(items) > 0 {
			rec.Items = items
			break
		}
	}
	rec.NoItemsWarning = len(rec.Items) == 0
	flagAmountMismatches(rec.Items, p.tolerance)

	rec.ShippingAmount = ParseAmount(parseField(text, shippingCostPatterns))
	if !Known(rec.ShippingAmount) {
		// freight rows double as the shipping charge
		for _, it := range rec.Items {
			if it.Freight && Known(it.Amount) {
				rec.ShippingAmount = it.Amount
				rec.ShippingDesc = it.Description
				if rec.ShippingDesc == "" {
					rec.ShippingDesc = it.SKU
				}
				break
			}
		}
	} else if regexp.MustCompile(`(?i)Drop\s+Ship`).MatchString(text) {
		rec.ShippingDesc = "Drop Ship"
	}

	rec.Total = extractTotal(text)
	if !Known(rec.Total) {
		rec.Total = ParseAmount(parseField(text, totalFallbackPatterns))
	}

	if rec.InvoiceNumber == "" && rec.Vendor == "" && len(rec.Items) == 0 {
		return nil, &ParseFailure{Reason: "no invoice number, vendor or line items found"}
	}
	return rec, nil
}

var customerBlockRe = regexp.MustCompile(`(?i)(?:Bill|Sold)\s+To\s*:?\s*\n\s*([A-Za-z][A-Za-z0-9 &\-.,']+)`)

// customerName reads the first line of the Bill To / Sold To block.
func customerName(text string) string {
	m := customerBlockRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	if validVendorName(name) {
		return name
	}
	return ""
}

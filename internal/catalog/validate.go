package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mdelaney/billfetch/internal/parser"
)

// Tolerances for numeric comparisons against the catalog. Quantities must
// agree to the unit; prices and amounts allow a cent of rounding slack
// either way.
const (
	qtyTolerance    = 0.01
	priceTolerance  = 0.02
	amountTolerance = 0.02
)

type ValidationResult struct {
	Passed       bool
	FailedFields []string
}

var alnumOnlyRe = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "&", "and")
	return alnumOnlyRe.ReplaceAllString(s, "")
}

func vendorsMatch(invoiceVendor, catalogVendor string) bool {
	a := normalizeKey(invoiceVendor)
	b := normalizeKey(catalogVendor)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

var leadingLettersRe = regexp.MustCompile(`^[a-z]+`)

// normalizeSKU strips separators for comparison. Some vendors prefix their
// catalog SKUs with letters the invoice omits; those prefixes are dropped.
func normalizeSKU(sku, vendorName string) string {
	s := alnumOnlyRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(sku)), "")
	if strings.Contains(normalizeKey(vendorName), "nolimit") {
		s = leadingLettersRe.ReplaceAllString(s, "")
	}
	return s
}

func skusMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func normalizePONumber(value string) string {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := strings.TrimLeft(digits.String(), "0")
	if s == "" && digits.Len() > 0 {
		return "0"
	}
	return s
}

// Labels that name charges rather than catalog products; rows carrying
// them have nothing to look up.
var nonSKULabels = map[string]bool{
	"core":     true,
	"ere":      true,
	"discount": true,
	"dropship": true,
	"shipping": true,
	"freight":  true,
}

func isNonSKULabel(s string) bool {
	key := normalizeKey(s)
	if key == "" {
		return false
	}
	return nonSKULabels[key]
}

// Validate compares a parsed invoice against the purchase order. Freight
// rows and non-SKU charges are skipped; every product row must find its
// SKU on the order and agree on quantity, unit price and amount within
// tolerance. A nil or item-less order fails everything.
func Validate(rec *parser.InvoiceRecord, po *PurchaseOrder, vendorAliases []string) ValidationResult {
	var failed []string

	if po == nil {
		return ValidationResult{Passed: false, FailedFields: []string{"PO not found"}}
	}

	if rec.Vendor != "" {
		candidates := append([]string{rec.Vendor}, vendorAliases...)
		ok := false
		for _, candidate := range candidates {
			if vendorsMatch(candidate, po.Vendor.Name) {
				ok = true
				break
			}
		}
		if !ok {
			failed = append(failed, "Vendor")
		}
	}

	for i := range rec.Items {
		it := &rec.Items[i]
		if it.Freight {
			continue
		}
		sku := strings.TrimSpace(it.SKU)
		if sku == "" || isNonSKULabel(sku) {
			continue
		}
		failed = append(failed, validateItem(it, po, rec.Vendor)...)
	}

	return ValidationResult{Passed: len(failed) == 0, FailedFields: failed}
}

func validateItem(it *parser.LineItem, po *PurchaseOrder, vendor string) []string {
	invNorm := normalizeSKU(it.SKU, vendor)

	var match *POLineItem
	for i := range po.LineItems.Rows {
		row := &po.LineItems.Rows[i]
		if skusMatch(invNorm, normalizeSKU(row.Product.SKU, vendor)) {
			match = row
			break
		}
	}
	if match == nil {
		return []string{fmt.Sprintf("SKU %s (not found)", it.SKU)}
	}

	var failed []string
	if qty, err := match.Quantity.Float64(); err == nil && parser.Known(it.Quantity) {
		if diff := it.Quantity - qty; diff > qtyTolerance || diff < -qtyTolerance {
			failed = append(failed, fmt.Sprintf("Qty for SKU %s (invoice:%v vs PO:%v)", it.SKU, it.Quantity, qty))
		}
	}
	if price, err := match.Price.Float64(); err == nil && parser.Known(it.UnitPrice) {
		if diff := it.UnitPrice - price; diff > priceTolerance || diff < -priceTolerance {
			failed = append(failed, fmt.Sprintf("Price for SKU %s (invoice:%v vs PO:%v)", it.SKU, it.UnitPrice, price))
		}
	}
	if total, err := match.TotalPrice.Float64(); err == nil && parser.Known(it.Amount) {
		if diff := it.Amount - total; diff > amountTolerance || diff < -amountTolerance {
			failed = append(failed, fmt.Sprintf("Amount for SKU %s (invoice:%v vs PO:%v)", it.SKU, it.Amount, total))
		}
	}
	return failed
}

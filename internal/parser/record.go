package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ValidationStatus tracks whether a record has been checked against its
// purchase order yet.
type ValidationStatus string

const (
	ValidationUnset ValidationStatus = ""
	ValidationPass  ValidationStatus = "pass"
	ValidationFail  ValidationStatus = "fail"
)

// LineItem is one product/service entry on an invoice. Numeric fields that
// could not be parsed are NaN, never zero, so "unknown" and "free" stay
// distinguishable.
type LineItem struct {
	SKU            string
	Description    string
	Units          string
	Quantity       float64
	UnitPrice      float64
	Amount         float64
	Freight        bool
	AmountMismatch bool
}

// InvoiceRecord is the structured result of parsing one invoice document.
type InvoiceRecord struct {
	Vendor         string
	VendorAddress  string
	Customer       string
	InvoiceNumber  string
	InvoiceDate    string
	DueDate        string
	Terms          string
	PONumber       string
	Items          []LineItem
	ShippingAmount float64
	ShippingDesc   string
	Total          float64
	SourceFile     string
	NoItemsWarning bool

	Validation   ValidationStatus
	FailedFields []string
}

// SinkWorthy reports whether the record carries enough data to persist.
// Records missing an invoice number or all line items are dropped upstream
// with a logged reason.
func (r *InvoiceRecord) SinkWorthy() bool {
	return r.InvoiceNumber != "" && len(r.Items) > 0
}

// ParseFailure means no field extractor recognized the document layout. The
// document is skipped and the batch continues.
type ParseFailure struct {
	Reason string
}

func (e *ParseFailure) Error() string { return fmt.Sprintf("parse failure: %s", e.Reason) }

var amountRe = regexp.MustCompile(`^\(?\$?\s*-?[0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]+)?\)?$|^\(?\$?\s*-?[0-9]+(?:\.[0-9]+)?\)?$`)

// ParseAmount converts a currency string to a number, tolerating dollar
// signs, thousands separators and parenthesized negatives. Unparseable input
// yields NaN rather than an error; a missing number degrades the field, not
// the record.
func ParseAmount(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" || !amountRe.MatchString(s) {
		return math.NaN()
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	if negative {
		return -value
	}
	return value
}

// Known reports whether a numeric field was actually parsed.
func Known(v float64) bool {
	return !math.IsNaN(v)
}

// unknownAmount is the value of a numeric field that never appeared in
// the document.
func unknownAmount() float64 {
	return math.NaN()
}

// flagAmountMismatches marks items whose stated amount disagrees with
// quantity x unit price beyond tolerance. Mismatches are flagged, not
// corrected.
func flagAmountMismatches(items []LineItem, tolerance float64) {
	for i := range items {
		it := &items[i]
		if !Known(it.Quantity) || !Known(it.UnitPrice) || !Known(it.Amount) {
			continue
		}
		expected := it.Quantity * it.UnitPrice
		if math.Abs(expected-it.Amount) > tolerance+1e-9 {
			it.AmountMismatch = true
		}
	}
}

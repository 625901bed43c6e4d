package parser

import (
	"math"
	"testing"

	"github.com/mdelaney/billfetch/internal/extract"
)

func doc(text string) *extract.ExtractedText {
	return &extract.ExtractedText{Pages: []string{text}, Method: extract.MethodText}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"1,695.00", 1695.00},
		{"$54.00", 54.00},
		{" 12.5 ", 12.5},
		{"(30.00)", -30.00},
		{"", math.NaN()},
		{"N/A", math.NaN()},
	}
	for _, tt := range tests {
		got := ParseAmount(tt.raw)
		if math.IsNaN(tt.want) {
			if !math.IsNaN(got) {
				t.Errorf("ParseAmount(%q) = %v, want NaN", tt.raw, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAmountMismatchTolerance(t *testing.T) {
	items := []LineItem{
		{Quantity: 2, UnitPrice: 15.00, Amount: 30.00},
		{Quantity: 2, UnitPrice: 15.00, Amount: 30.01},
		{Quantity: 2, UnitPrice: 15.00, Amount: 30.02},
	}
	flagAmountMismatches(items, 0.01)
	if items[0].AmountMismatch {
		t.Error("exact amount flagged as mismatch")
	}
	if items[1].AmountMismatch {
		t.Error("amount within tolerance flagged as mismatch")
	}
	if !items[2].AmountMismatch {
		t.Error("amount beyond tolerance not flagged")
	}
}

func TestDetectVendorRemitTo(t *testing.T) {
	p := New(nil, 0.01)
	text := "Invoice #12345\nRemit To: Acme Engineering Inc.\n500 Main St\n"
	if got := p.detectVendor(text); got != "Acme Engineering Inc" {
		t.Errorf("detectVendor = %q, want %q", got, "Acme Engineering Inc")
	}
}

func TestDetectVendorLetterhead(t *testing.T) {
	p := New(nil, 0.01)
	text := "Precision Diesel Corp.\n1200 Industry Way\nSpokane, WA 99201\n(509) 555-0100\nBill To:\nDiesel Power Products\n"
	if got := p.detectVendor(text); got != "Precision Diesel Corp." {
		t.Errorf("detectVendor = %q, want %q", got, "Precision Diesel Corp.")
	}
}

func TestVendorTableNormalize(t *testing.T) {
	table := &VendorTable{canonical: map[string]string{}}
	table.names = []string{"S&B Filters"}
	table.canonical[vendorKey("S&B Filters")] = "S&B Filters"
	table.aliases = []string{"S & B"}
	table.canonical[vendorKey("S & B")] = "S&B Filters"

	if got := table.Normalize("s and b filters"); got != "S&B Filters" {
		t.Errorf("Normalize = %q, want canonical name", got)
	}
	if got := table.findInText("invoice from S & B for parts"); got != "S&B Filters" {
		t.Errorf("findInText = %q, want canonical name", got)
	}
}

func TestVendorFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"invoice_from_acme_diesel_1234.pdf", "Acme Diesel"},
		{"from_industrial-injection.pdf", "Industrial Injection"},
		{"receipt.pdf", ""},
	}
	for _, tt := range tests {
		if got := vendorFromFilename(tt.filename); got != tt.want {
			t.Errorf("vendorFromFilename(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestLabelValuePairs(t *testing.T) {
	text := "Invoice Date Due Date Customer # Invoice #\n1/27/26 2/10/26 10525 383366-00\n" +
		"PO Date PO # Placed By Page #\n1/27/26 0037305 J Smith 1\n"
	f := labelValuePairs(text)
	if f.Date != "1/27/26" {
		t.Errorf("Date = %q", f.Date)
	}
	if f.DueDate != "2/10/26" {
		t.Errorf("DueDate = %q", f.DueDate)
	}
	if f.InvoiceNumber != "383366-00" {
		t.Errorf("InvoiceNumber = %q", f.InvoiceNumber)
	}
	if f.PONumber != "0037305" {
		t.Errorf("PONumber = %q", f.PONumber)
	}
}

func TestExtractTotalPrefersStrong(t *testing.T) {
	text := "Subtotal 100.00\nSales Tax 8.00\nTotal Due 108.00\n"
	if got := extractTotal(text); got != 108.00 {
		t.Errorf("extractTotal = %v, want 108.00", got)
	}
}

func TestExtractTotalFallsBackToSubtotal(t *testing.T) {
	text := "Line item 50.00\nSubtotal 50.00\n"
	if got := extractTotal(text); got != 50.00 {
		t.Errorf("extractTotal = %v, want 50.00", got)
	}
}

func TestQtyFirstLayout(t *testing.T) {
	text := "Quantity Item RGA Serial # Unit Total\n" +
		"1 5326058SE RA054795 1,695.00 1,695.00\n" +
		"Remanufactured injector set\n" +
		"Subtotal 1,695.00\n"
	items := qtyFirstLayout{}.Items(text)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.SKU != "5326058SE" || it.Quantity != 1 || it.UnitPrice != 1695.00 || it.Amount != 1695.00 {
		t.Errorf("unexpected item: %+v", it)
	}
	if it.Description != "Remanufactured injector set" {
		t.Errorf("Description = %q", it.Description)
	}
}

func TestNumberedLayout(t *testing.T) {
	text := "ITEM DESCRIPTION QUANTITY PRICE EXT.\n" +
		"1 CORE-6.0E- Remanufactured pump core 1 225.00 225.00\n" +
		"HPOP\n" +
		"Subtotal 225.00\n"
	items := numberedLayout{}.Items(text)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].SKU != "CORE-6.0E-HPOP" {
		t.Errorf("SKU = %q, want continuation merged", items[0].SKU)
	}
}

func TestUnitColumnLayout(t *testing.T) {
	text := "Item/Description U/M Ordered Shipped Unit Price Total Price\n" +
		"ABC-123 Each 2 2 54.00 108.00\n" +
		"Widget bracket kit\n" +
		"DROP SHIP 1 1 12.00 12.00\n" +
		"Subtotal 120.00\n"
	items := unitColumnLayout{}.Items(text)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].SKU != "ABC-123" || items[0].Description != "Widget bracket kit" {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if !items[1].Freight {
		t.Error("drop ship row not marked freight")
	}
}

func TestGenericLayoutMergesWrappedRows(t *testing.T) {
	text := "Part Number Qty Description Price Amount\n" +
		"XYZ-9 2 Each Exhaust clamp 10.00 20.00\n" +
		"stainless steel\n" +
		"Subtotal 20.00\n"
	items := genericLayout{}.Items(text)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Description != "Exhaust clamp stainless steel" {
		t.Errorf("Description = %q", items[0].Description)
	}
}

func TestParseFullInvoice(t *testing.T) {
	text := "Acme Diesel Inc.\n100 Shop Rd\nSpokane, WA 99201\n" +
		"Bill To:\nDiesel Power Products\n" +
		"Invoice #: INV-1001\nInvoice Date: 1/26/2026\nDue Date: 2/25/2026\n" +
		"Terms: Net 30\nPO #: 0037993\n" +
		"Part Number Qty Description Price Amount\n" +
		"TURBO-5 1 Each Turbocharger assembly 850.00 850.00\n" +
		"Freight $25.00\n" +
		"Subtotal 850.00\nTotal Due 875.00\n"

	rec, err := New(nil, 0.01).Parse(doc(text), "invoice.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.InvoiceNumber != "INV-1001" {
		t.Errorf("InvoiceNumber = %q", rec.InvoiceNumber)
	}
	if rec.Vendor != "Acme Diesel Inc." {
		t.Errorf("Vendor = %q", rec.Vendor)
	}
	if rec.PONumber != "0037993" {
		t.Errorf("PONumber = %q", rec.PONumber)
	}
	if rec.Terms != "Net 30" {
		t.Errorf("Terms = %q", rec.Terms)
	}
	if len(rec.Items) == 0 {
		t.Fatal("no line items parsed")
	}
	if rec.Items[0].SKU != "TURBO-5" {
		t.Errorf("first item SKU = %q", rec.Items[0].SKU)
	}
	if rec.ShippingAmount != 25.00 {
		t.Errorf("ShippingAmount = %v", rec.ShippingAmount)
	}
	if rec.Total != 875.00 {
		t.Errorf("Total = %v", rec.Total)
	}
	if !rec.SinkWorthy() {
		t.Error("complete record reported not sink worthy")
	}
}

func TestParseFailureOnJunk(t *testing.T) {
	_, err := New(nil, 0.01).Parse(doc("nothing useful here\njust noise\n"), "noise.pdf")
	if err == nil {
		t.Fatal("expected ParseFailure")
	}
	if _, ok := err.(*ParseFailure); !ok {
		t.Fatalf("got %T, want *ParseFailure", err)
	}
}

package sink

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/mdelaney/billfetch/internal/parser"
)

func sampleRecord() *parser.InvoiceRecord {
	return &parser.InvoiceRecord{
		InvoiceNumber: "INV-1001",
		Vendor:        "Acme Diesel Inc.",
		VendorAddress: "100 Shop Rd, Spokane, WA 99201",
		Customer:      "Diesel Power Products",
		InvoiceDate:   "1/26/2026",
		DueDate:       "2/25/2026",
		Terms:         "Net 30",
		PONumber:      "0037993",
		Items: []parser.LineItem{
			{SKU: "TURBO-5", Description: "Turbocharger assembly", Units: "Each", Quantity: 1, UnitPrice: 850.00, Amount: 850.00},
			{SKU: "CLAMP-2", Description: "Exhaust clamp", Units: "Each", Quantity: 2, UnitPrice: 10.00, Amount: 20.00},
		},
		ShippingAmount: 25.00,
		ShippingDesc:   "Freight",
		Total:          895.00,
		SourceFile:     "invoices/invoice.pdf",
	}
}

func TestAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bills.xlsx")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Append(sampleRecord())
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	rec := reloaded.FindByInvoiceNumber("INV-1001")
	if rec == nil {
		t.Fatal("record not found after reload")
	}
	if rec.Vendor != "Acme Diesel Inc." {
		t.Errorf("Vendor = %q", rec.Vendor)
	}
	if len(rec.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(rec.Items))
	}
	if rec.Items[1].SKU != "CLAMP-2" || rec.Items[1].Quantity != 2 {
		t.Errorf("unexpected second item: %+v", rec.Items[1])
	}
	if rec.ShippingAmount != 25.00 {
		t.Errorf("ShippingAmount = %v", rec.ShippingAmount)
	}
	if rec.Total != 895.00 {
		t.Errorf("Total = %v", rec.Total)
	}
}

func TestAppendUpserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bills.xlsx")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.Append(sampleRecord())
	updated := sampleRecord()
	updated.Items = updated.Items[:1]
	updated.Total = 875.00
	s.Append(updated)

	if n := len(s.Records()); n != 1 {
		t.Fatalf("got %d records after upsert, want 1", n)
	}
	rec := s.FindByInvoiceNumber("INV-1001")
	if len(rec.Items) != 1 {
		t.Errorf("got %d items, want replacement's 1", len(rec.Items))
	}
	if rec.Total != 875.00 {
		t.Errorf("Total = %v, want replacement's total", rec.Total)
	}
}

func TestUpdateValidationSurvivesFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bills.xlsx")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Append(sampleRecord())

	if ok := s.UpdateValidation("INV-1001", parser.ValidationFail, []string{"Qty for SKU TURBO-5"}); !ok {
		t.Fatal("UpdateValidation reported record missing")
	}
	if ok := s.UpdateValidation("INV-9999", parser.ValidationPass, nil); ok {
		t.Error("UpdateValidation succeeded for unknown invoice")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	rec := reloaded.FindByInvoiceNumber("INV-1001")
	if rec.Validation != parser.ValidationFail {
		t.Errorf("Validation = %v, want fail", rec.Validation)
	}
	if len(rec.FailedFields) != 1 || rec.FailedFields[0] != "Qty for SKU TURBO-5" {
		t.Errorf("FailedFields = %v", rec.FailedFields)
	}
}

func TestNumberCell(t *testing.T) {
	if got := numberCell(math.NaN()); got != nil {
		t.Errorf("numberCell(NaN) = %v, want nil", got)
	}
	if got := numberCell(2); got != int64(2) {
		t.Errorf("numberCell(2) = %v (%T), want int64 2", got, got)
	}
	if got := numberCell(2.5); got != 2.5 {
		t.Errorf("numberCell(2.5) = %v", got)
	}
}

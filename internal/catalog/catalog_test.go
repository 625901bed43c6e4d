package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mdelaney/billfetch/internal/parser"
)

func testPO() *PurchaseOrder {
	po := &PurchaseOrder{
		ID:     "po-1",
		Label:  "0036788",
		Vendor: Vendor{Name: "Acme Diesel Inc."},
	}
	po.LineItems.Rows = []POLineItem{
		{Product: Product{SKU: "A1"}, Quantity: "5", Price: "10.00", TotalPrice: "50.00"},
		{Product: Product{SKU: "B-2"}, Quantity: "1", Price: "99.99", TotalPrice: "99.99"},
	}
	return po
}

func TestValidatePasses(t *testing.T) {
	rec := &parser.InvoiceRecord{
		Vendor: "Acme Diesel",
		Items: []parser.LineItem{
			{SKU: "A1", Quantity: 5, UnitPrice: 10.00, Amount: 50.00},
			{SKU: "B2", Quantity: 1, UnitPrice: 100.00, Amount: 100.00},
			{SKU: "Freight", Description: "Freight", Freight: true, Quantity: 1, UnitPrice: 25, Amount: 25},
		},
	}
	res := Validate(rec, testPO(), nil)
	if !res.Passed {
		t.Fatalf("validation failed: %v", res.FailedFields)
	}
}

func TestValidateQtyMismatch(t *testing.T) {
	rec := &parser.InvoiceRecord{
		Vendor: "Acme Diesel",
		Items: []parser.LineItem{
			{SKU: "A1", Quantity: 4, UnitPrice: 10.00, Amount: 40.00},
		},
	}
	res := Validate(rec, testPO(), nil)
	if res.Passed {
		t.Fatal("expected validation failure")
	}
	foundQty := false
	for _, f := range res.FailedFields {
		if strings.HasPrefix(f, "Qty for SKU A1") {
			foundQty = true
		}
	}
	if !foundQty {
		t.Errorf("Qty mismatch not reported: %v", res.FailedFields)
	}
}

func TestValidateUnknownSKU(t *testing.T) {
	rec := &parser.InvoiceRecord{
		Items: []parser.LineItem{
			{SKU: "ZZZ-404", Quantity: 1, UnitPrice: 5, Amount: 5},
		},
	}
	res := Validate(rec, testPO(), nil)
	if res.Passed {
		t.Fatal("expected validation failure")
	}
	if len(res.FailedFields) != 1 || !strings.Contains(res.FailedFields[0], "not found") {
		t.Errorf("FailedFields = %v", res.FailedFields)
	}
}

func TestValidateVendorAlias(t *testing.T) {
	rec := &parser.InvoiceRecord{
		Vendor: "Completely Different Name",
		Items:  []parser.LineItem{{SKU: "A1", Quantity: 5, UnitPrice: 10, Amount: 50}},
	}
	res := Validate(rec, testPO(), []string{"Acme Diesel"})
	if !res.Passed {
		t.Fatalf("alias did not satisfy vendor check: %v", res.FailedFields)
	}
}

func TestValidateNilPO(t *testing.T) {
	res := Validate(&parser.InvoiceRecord{}, nil, nil)
	if res.Passed || len(res.FailedFields) != 1 || res.FailedFields[0] != "PO not found" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestNormalizeSKU(t *testing.T) {
	tests := []struct {
		sku, vendor, want string
	}{
		{"AB-123", "", "ab123"},
		{"ab 123", "", "ab123"},
		{"NL12345", "No Limit Fabrication", "12345"},
		{"NL12345", "Acme", "nl12345"},
	}
	for _, tt := range tests {
		if got := normalizeSKU(tt.sku, tt.vendor); got != tt.want {
			t.Errorf("normalizeSKU(%q, %q) = %q, want %q", tt.sku, tt.vendor, got, tt.want)
		}
	}
}

func TestCleanAndNormalizePONumber(t *testing.T) {
	if got := CleanPONumber(" PO0036788 "); got != "0036788" {
		t.Errorf("CleanPONumber = %q", got)
	}
	if got := CleanPONumber("PO# 37-307"); got != "37-307" {
		t.Errorf("CleanPONumber = %q", got)
	}
	// stray quotes must never reach the query body
	if got := CleanPONumber(`37"307`); got != "37307" {
		t.Errorf("CleanPONumber = %q", got)
	}
	if got := normalizePONumber("0037307"); got != "37307" {
		t.Errorf("normalizePONumber = %q", got)
	}
	if got := normalizePONumber("000"); got != "0" {
		t.Errorf("normalizePONumber(000) = %q", got)
	}
}

func TestClientSearchPO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/login":
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		case "/api/query":
			var req struct {
				Query string `json:"query"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if !strings.Contains(req.Query, "fulltext_search") {
				t.Errorf("unexpected query: %s", req.Query)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"purchaseOrder": map[string]interface{}{
						"grid": map[string]interface{}{
							"rows": []map[string]interface{}{
								{"id": "po-9", "label": "37307", "vendor": map[string]string{"name": "Acme"}},
							},
						},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "user@example.com", "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login: %v", err)
	}
	// leading zeros on the invoice side still match the catalog label
	row, err := c.SearchPO(ctx, "PO0037307")
	if err != nil {
		t.Fatalf("SearchPO: %v", err)
	}
	if row.ID != "po-9" {
		t.Errorf("row.ID = %q", row.ID)
	}

	if _, err := c.SearchPO(ctx, "999999"); err == nil {
		t.Fatal("expected NotFoundError")
	} else if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("got %T, want *NotFoundError", err)
	}
}

func TestQueryRequiresLogin(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:0", "u", "p")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.SearchPOCandidates(context.Background(), "123")
	if err == nil {
		t.Fatal("expected error before login")
	}
	if _, ok := err.(*ServiceError); !ok {
		t.Fatalf("got %T, want *ServiceError", err)
	}
}

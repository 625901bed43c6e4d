// Package sink persists parsed invoices to a QuickBooks bill-import
// spreadsheet. Records are held in memory keyed by invoice number and the
// whole workbook is rewritten on Flush, so re-running over the same
// mailbox updates rows instead of duplicating them.
package sink

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/mdelaney/billfetch/internal/parser"
)

const sheetName = "Bills"

var columns = []string{
	"Bill No.", "*Vendor", "Mailing Address", "Terms", "*Bill Date",
	"Due Date", "Location", "Memo", "Type", "Category/Account",
	"Product/Service", "SKU", "Qty", "Rate", "Description", "Amount",
	"Billable", "Customer/Project", "Tax Rate", "Class",
	"Validation", "Failed Fields",
}

const (
	categoryPurchases = "Purchases"
	categoryFreight   = "Freight and shipping costs"
	typeCategory      = "Category Details"
	typeItem          = "Item Details"
)

type Sink struct {
	mu      sync.Mutex
	path    string
	records []*parser.InvoiceRecord
	index   map[string]int
}

// Open loads the workbook at path if it exists, rebuilding the record set
// from its rows, or starts empty.
func Open(path string) (*Sink, error) {
	s := &Sink{path: path, index: map[string]int{}}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		// workbook exists but has no Bills sheet; start fresh
		return s, nil
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		s.loadRow(row)
	}
	return s, nil
}

func cell(row []string, col int) string {
	if col < len(row) {
		return strings.TrimSpace(row[col])
	}
	return ""
}

// loadRow reconstructs records from the row shapes Flush writes: a row
// with a bill number starts a new invoice, item rows carry line items,
// and the freight and total rows restore shipping and total fields.
func (s *Sink) loadRow(row []string) {
	billNo := cell(row, 0)
	if billNo != "" {
		rec := &parser.InvoiceRecord{
			InvoiceNumber:  billNo,
			Vendor:         cell(row, 1),
			VendorAddress:  cell(row, 2),
			Terms:          cell(row, 3),
			InvoiceDate:    cell(row, 4),
			DueDate:        cell(row, 5),
			PONumber:       cell(row, 7),
			Customer:       cell(row, 17),
			ShippingAmount: math.NaN(),
			Total:          math.NaN(),
		}
		switch cell(row, 20) {
		case "Yes":
			rec.Validation = parser.ValidationPass
		case "No":
			rec.Validation = parser.ValidationFail
		}
		if ff := cell(row, 21); ff != "" {
			rec.FailedFields = strings.Split(ff, "; ")
		}
		s.index[billNo] = len(s.records)
		s.records = append(s.records, rec)
	}
	if len(s.records) == 0 {
		return
	}
	rec := s.records[len(s.records)-1]

	rowType := cell(row, 8)
	product := cell(row, 10)
	switch {
	case rowType == typeItem:
		it := parser.LineItem{
			SKU:         cell(row, 11),
			Description: cell(row, 14),
			Units:       "Each",
			Quantity:    parser.ParseAmount(cell(row, 12)),
			UnitPrice:   parser.ParseAmount(cell(row, 13)),
			Amount:      math.NaN(),
			Freight:     cell(row, 9) == categoryFreight,
		}
		if parser.Known(it.Quantity) && parser.Known(it.UnitPrice) {
			it.Amount = it.Quantity * it.UnitPrice
		}
		rec.Items = append(rec.Items, it)
	case product == "Total Amount":
		rec.Total = parser.ParseAmount(cell(row, 15))
	case rowType == typeCategory && cell(row, 9) == categoryFreight:
		rec.ShippingAmount = parser.ParseAmount(cell(row, 13))
		rec.ShippingDesc = cell(row, 14)
	}
}

// Append stores a record, replacing any earlier record with the same
// invoice number.
func (s *Sink) Append(rec *parser.InvoiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[rec.InvoiceNumber]; ok {
		s.records[i] = rec
		return
	}
	s.index[rec.InvoiceNumber] = len(s.records)
	s.records = append(s.records, rec)
}

func (s *Sink) FindByInvoiceNumber(invoiceNumber string) *parser.InvoiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[invoiceNumber]; ok {
		return s.records[i]
	}
	return nil
}

// Records returns the stored records in insertion order.
func (s *Sink) Records() []*parser.InvoiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*parser.InvoiceRecord, len(s.records))
	copy(out, s.records)
	return out
}

// UpdateValidation sets the validation outcome for an invoice.
func (s *Sink) UpdateValidation(invoiceNumber string, status parser.ValidationStatus, failedFields []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[invoiceNumber]
	if !ok {
		return false
	}
	s.records[i].Validation = status
	s.records[i].FailedFields = failedFields
	return true
}

// Flush rewrites the whole workbook from the in-memory records.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	altStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"EAEAEA"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating row style: %w", err)
	}

	for col, header := range columns {
		name, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheetName, name, header)
		f.SetCellStyle(sheetName, name, name, headerStyle)
	}
	widths := []float64{12, 12, 25, 10, 12, 12, 12, 15, 14, 18, 18, 15, 6, 10, 40, 12, 10, 18, 10, 12, 18, 40}
	for col, w := range widths {
		letter, _ := excelize.ColumnNumberToName(col + 1)
		f.SetColWidth(sheetName, letter, letter, w)
	}

	rowNum := 2
	for i, rec := range s.records {
		styleID := 0
		if i%2 == 1 {
			styleID = altStyle
		}
		rowNum = writeInvoice(f, rec, rowNum, styleID)
	}

	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("saving spreadsheet %s: %w", s.path, err)
	}
	return nil
}

func writeInvoice(f *excelize.File, rec *parser.InvoiceRecord, rowNum, styleID int) int {
	writeRow := func(values []interface{}) {
		for col, v := range values {
			if v == nil {
				continue
			}
			name, _ := excelize.CoordinatesToCellName(col+1, rowNum)
			f.SetCellValue(sheetName, name, v)
		}
		if styleID != 0 {
			first, _ := excelize.CoordinatesToCellName(1, rowNum)
			last, _ := excelize.CoordinatesToCellName(len(columns), rowNum)
			f.SetCellStyle(sheetName, first, last, styleID)
		}
		rowNum++
	}

	validation := ""
	switch rec.Validation {
	case parser.ValidationPass:
		validation = "Yes"
	case parser.ValidationFail:
		validation = "No"
	}

	var first parser.LineItem
	hasItems := len(rec.Items) > 0
	if hasItems {
		first = rec.Items[0]
	}
	firstType := typeCategory
	firstCategory := ""
	var firstQty, firstRate interface{}
	firstDesc := ""
	if hasItems {
		firstType = typeItem
		firstCategory = itemCategory(&first)
		firstQty = numberCell(first.Quantity)
		firstRate = numberCell(first.UnitPrice)
		firstDesc = itemDescription(&first)
	}
	headerRow := rowNum
	writeRow([]interface{}{
		rec.InvoiceNumber, rec.Vendor, rec.VendorAddress, rec.Terms,
		rec.InvoiceDate, rec.DueDate, "", rec.PONumber,
		firstType, firstCategory,
		productService(&first, hasItems), first.SKU,
		firstQty, firstRate,
		firstDesc, nil,
		"", rec.Customer, "", "",
		validation, strings.Join(rec.FailedFields, "; "),
	})
	if rec.SourceFile != "" {
		name, _ := excelize.CoordinatesToCellName(1, headerRow)
		f.SetCellHyperLink(sheetName, name, rec.SourceFile, "External")
	}

	for i := 1; i < len(rec.Items); i++ {
		it := rec.Items[i]
		writeRow([]interface{}{
			"", "", "", "", "", "", "", "",
			typeItem, itemCategory(&it),
			productService(&it, true), it.SKU,
			numberCell(it.Quantity), numberCell(it.UnitPrice),
			itemDescription(&it), nil,
			"", "", "", "", "", "",
		})
	}

	hasFreightItem := false
	for _, it := range rec.Items {
		if it.Freight {
			hasFreightItem = true
			break
		}
	}
	if !hasFreightItem {
		rate := 0.0
		if parser.Known(rec.ShippingAmount) && rec.ShippingAmount > 0 {
			rate = rec.ShippingAmount
		}
		desc := rec.ShippingDesc
		if desc == "" {
			desc = "Shipping"
		}
		writeRow([]interface{}{
			"", "", "", "", "", "", "", "",
			typeCategory, categoryFreight,
			shippingLabel(desc), "",
			nil, rate, desc, nil,
			"", "", "", "", "", "",
		})
	}

	if parser.Known(rec.Total) {
		writeRow([]interface{}{
			"", "", "", "", "", "", "", "",
			typeCategory, "",
			"Total Amount", "",
			nil, nil, "", rec.Total,
			"", "", "", "", "", "",
		})
	}

	return rowNum
}

// numberCell renders a parsed numeric as a spreadsheet value, leaving the
// cell empty when the value is unknown.
func numberCell(v float64) interface{} {
	if !parser.Known(v) {
		return nil
	}
	if v == math.Trunc(v) {
		return int64(v)
	}
	return v
}

func isDiscount(it *parser.LineItem) bool {
	combined := strings.ToLower(it.SKU + " " + it.Description)
	return strings.Contains(combined, "discount")
}

func isCore(it *parser.LineItem) bool {
	sku := strings.ToLower(it.SKU)
	return sku == "core" || strings.HasPrefix(sku, "core ") || strings.HasPrefix(sku, "core-") ||
		strings.HasPrefix(strings.ToLower(it.Description), "core ")
}

func isEnvFee(it *parser.LineItem) bool {
	sku := strings.ToLower(strings.TrimSpace(it.SKU))
	return sku == "e.r.e." || sku == "ere" ||
		strings.Contains(strings.ToLower(it.Description), "environmental regulation expense")
}

func itemCategory(it *parser.LineItem) string {
	if it.Freight {
		return categoryFreight
	}
	return categoryPurchases
}

func productService(it *parser.LineItem, hasItem bool) string {
	if !hasItem {
		return ""
	}
	switch {
	case isDiscount(it):
		return "Discount"
	case isCore(it):
		return "Core"
	case isEnvFee(it):
		return "E.R.E."
	case it.Freight:
		label := it.Description
		if label == "" {
			label = it.SKU
		}
		return shippingLabel(label)
	}
	return "Inventory Item (Sellable Item)"
}

func shippingLabel(text string) string {
	s := strings.ToLower(text)
	switch {
	case strings.Contains(s, "drop ship") || strings.Contains(s, "dropship"):
		return "Drop Ship"
	case strings.Contains(s, "freight") || strings.Contains(s, "frieght"):
		return "Freight"
	}
	return "Shipping"
}

func itemDescription(it *parser.LineItem) string {
	switch {
	case isCore(it):
		code := strings.TrimSpace(it.SKU)
		desc := strings.TrimSpace(it.Description)
		if code != "" && desc != "" {
			if strings.Contains(strings.ToLower(desc), strings.ToLower(code)) {
				return desc
			}
			return code + " " + desc
		}
		if code != "" {
			return code
		}
		return desc
	case isDiscount(it):
		return ""
	case it.Freight:
		if d := strings.TrimSpace(it.Description); d != "" {
			return d
		}
		return strings.TrimSpace(it.SKU)
	}
	return it.Description
}

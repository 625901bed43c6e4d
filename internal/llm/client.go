// Package llm is the fallback extractor: when rule-based parsing cannot
// make sense of a document, the raw text is handed to a language model
// with a structured-output schema matching the invoice record.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/mdelaney/billfetch/internal/parser"
)

type Client struct {
	client *openai.Client
}

type invoiceData struct {
	IsInvoice     bool          `json:"is_invoice"`
	Vendor        string        `json:"vendor,omitempty"`
	VendorAddress string        `json:"vendor_address,omitempty"`
	Customer      string        `json:"customer,omitempty"`
	InvoiceNumber string        `json:"invoice_number,omitempty"`
	InvoiceDate   string        `json:"invoice_date,omitempty"`
	DueDate       string        `json:"due_date,omitempty"`
	Terms         string        `json:"terms,omitempty"`
	PONumber      string        `json:"po_number,omitempty"`
	Items         []invoiceItem `json:"items,omitempty"`
	ShippingCost  float64       `json:"shipping_cost,omitempty"`
	TotalAmount   float64       `json:"total_amount,omitempty"`
}

type invoiceItem struct {
	SKU         string  `json:"sku"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
	IsFreight   bool    `json:"is_freight"`
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
	}
}

const systemMsg = `You are an invoice processing assistant. First determine if the text is an invoice.
If it is, extract the vendor (the company that issued the invoice and gets paid, not the customer
it is billed to), the invoice number, dates, payment terms, purchase order number, every line item
with its SKU, quantity, unit price and line amount, any shipping or freight charge, and the total.
Mark shipping, freight and drop ship rows with is_freight. Leave fields you cannot find empty.
Only include the additional fields if is_invoice is true.`

// ExtractInvoice asks the model to read one document's text into a
// structured record. A document the model judges not to be an invoice
// comes back as a ParseFailure, same as the rule parser.
func (c *Client) ExtractInvoice(ctx context.Context, text, sourceFile string) (*parser.InvoiceRecord, error) {
	schema, err := jsonschema.GenerateSchemaForType(invoiceData{})
	if err != nil {
		return nil, fmt.Errorf("generating schema: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: openai.GPT4oMini,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemMsg,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: "Invoice text:\n" + text,
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "invoice_schema",
					Schema: schema,
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	var data invoiceData
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &data); err != nil {
		return nil, fmt.Errorf("parsing model response: %w", err)
	}
	if !data.IsInvoice {
		return nil, &parser.ParseFailure{Reason: "model judged document not an invoice"}
	}
	return toRecord(&data, sourceFile), nil
}

func toRecord(data *invoiceData, sourceFile string) *parser.InvoiceRecord {
	rec := &parser.InvoiceRecord{
		Vendor:         data.Vendor,
		VendorAddress:  data.VendorAddress,
		Customer:       data.Customer,
		InvoiceNumber:  data.InvoiceNumber,
		InvoiceDate:    data.InvoiceDate,
		DueDate:        data.DueDate,
		Terms:          data.Terms,
		PONumber:       data.PONumber,
		ShippingAmount: zeroToUnknown(data.ShippingCost),
		Total:          zeroToUnknown(data.TotalAmount),
		SourceFile:     sourceFile,
	}
	for _, it := range data.Items {
		rec.Items = append(rec.Items, parser.LineItem{
			SKU:         it.SKU,
			Description: it.Description,
			Units:       "Each",
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      it.Amount,
			Freight:     it.IsFreight,
		})
	}
	rec.NoItemsWarning = len(rec.Items) == 0
	return rec
}

// The schema cannot distinguish absent from zero, so zero means unknown.
func zeroToUnknown(v float64) float64 {
	if v == 0 {
		return math.NaN()
	}
	return v
}

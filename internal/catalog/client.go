// Package catalog talks to the purchase-order catalog's GraphQL API and
// validates parsed invoices against the orders it returns.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"strings"
	"time"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	password   string
	loggedIn   bool
}

// ServiceError covers transport and query failures. Validation treats any
// ServiceError as "validation service unavailable" rather than a field
// mismatch.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string { return fmt.Sprintf("catalog %s: %v", e.Op, e.Err) }
func (e *ServiceError) Unwrap() error { return e.Err }

// NotFoundError means the catalog answered but has no matching order.
type NotFoundError struct {
	PONumber string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("PO %s not found", e.PONumber) }

type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	SKU  string `json:"sku"`
}

type POLineItem struct {
	ID         string      `json:"id"`
	Product    Product     `json:"product"`
	Quantity   json.Number `json:"quantity"`
	Price      json.Number `json:"price"`
	TotalPrice json.Number `json:"total_price"`
}

// POSummary is a search grid row.
type POSummary struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Vendor     Vendor      `json:"vendor"`
	TotalPrice json.Number `json:"total_price"`
	ItemsCount json.Number `json:"items_count"`
}

// PurchaseOrder is the detail view including line items.
type PurchaseOrder struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Vendor     Vendor      `json:"vendor"`
	TotalPrice json.Number `json:"total_price"`
	LineItems  struct {
		TotalSize int          `json:"totalSize"`
		Rows      []POLineItem `json:"rows"`
	} `json:"lineItems"`
}

func NewClient(baseURL, email, password string) (*Client, error) {
	// the API authenticates the session with cookies after login
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Second * 60, Jar: jar},
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		password:   password,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return c.httpClient.Do(req)
}

// Login authenticates and establishes the session. Queries before a
// successful login fail.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.postJSON(ctx, "/api/users/login", map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return &ServiceError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return &ServiceError{Op: "login", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &ServiceError{Op: "login", Err: err}
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "login failed"
		}
		return &ServiceError{Op: "login", Err: fmt.Errorf("%s", msg)}
	}
	c.loggedIn = true
	return nil
}

// query runs one GraphQL query and decodes the data payload into out.
func (c *Client) query(ctx context.Context, query string, out interface{}) error {
	if !c.loggedIn {
		return &ServiceError{Op: "query", Err: fmt.Errorf("not logged in")}
	}
	resp, err := c.postJSON(ctx, "/api/query", map[string]string{"query": query})
	if err != nil {
		return &ServiceError{Op: "query", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return &ServiceError{Op: "query", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &ServiceError{Op: "query", Err: err}
	}
	if len(envelope.Errors) > 0 {
		return &ServiceError{Op: "query", Err: fmt.Errorf("%s", envelope.Errors[0].Message)}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &ServiceError{Op: "query", Err: err}
	}
	return nil
}

// SearchPOCandidates runs a full-text search for orders whose label
// resembles the PO number.
func (c *Client) SearchPOCandidates(ctx context.Context, poNumber string) ([]POSummary, error) {
	poNumber = CleanPONumber(poNumber)
	if poNumber == "" {
		return nil, &NotFoundError{PONumber: poNumber}
	}
	q := fmt.Sprintf(`
	query V1Queries {
	  purchaseOrder {
	    grid(
	      filter: {fulltext_search: "%%%s%%"}
	      limit: {size: 10, page: 1}
	    ) {
	      totalSize
	      rows {
	        id
	        label
	        vendor { name id }
	        total_price
	        items_count
	      }
	    }
	  }
	}`, poNumber)

	var data struct {
		PurchaseOrder struct {
			Grid struct {
				Rows []POSummary `json:"rows"`
			} `json:"grid"`
		} `json:"purchaseOrder"`
	}
	if err := c.query(ctx, q, &data); err != nil {
		return nil, err
	}
	return data.PurchaseOrder.Grid.Rows, nil
}

// SearchPO finds the order whose label matches the PO number, exactly or
// after stripping leading zeros.
func (c *Client) SearchPO(ctx context.Context, poNumber string) (*POSummary, error) {
	poNumber = CleanPONumber(poNumber)
	rows, err := c.SearchPOCandidates(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	if row := matchRow(rows, poNumber); row != nil {
		return row, nil
	}
	return nil, &NotFoundError{PONumber: poNumber}
}

func matchRow(rows []POSummary, poNumber string) *POSummary {
	for i := range rows {
		if rows[i].Label == poNumber {
			return &rows[i]
		}
	}
	if norm := normalizePONumber(poNumber); norm != "" {
		for i := range rows {
			if normalizePONumber(rows[i].Label) == norm {
				return &rows[i]
			}
		}
	}
	return nil
}

// PODetails fetches one order with its line items.
func (c *Client) PODetails(ctx context.Context, poID string) (*PurchaseOrder, error) {
	poID = poLabelChars.ReplaceAllString(poID, "")
	q := fmt.Sprintf(`
	query V1Queries {
	  purchaseOrder {
	    details(id: "%s") {
	      id
	      label
	      total_price
	      vendor { name id }
	      lineItems(sort: {}, limit: {size: 100, page: 1}) {
	        totalSize
	        rows {
	          id
	          product { id name sku }
	          quantity
	          price
	          total_price
	        }
	      }
	    }
	  }
	}`, poID)

	var data struct {
		PurchaseOrder struct {
			Details *PurchaseOrder `json:"details"`
		} `json:"purchaseOrder"`
	}
	if err := c.query(ctx, q, &data); err != nil {
		return nil, err
	}
	if data.PurchaseOrder.Details == nil {
		return nil, &NotFoundError{PONumber: poID}
	}
	return data.PurchaseOrder.Details, nil
}

// BestPO resolves a PO number to full order details, using vendor and SKU
// hints to pick between candidates when the label alone is ambiguous.
func (c *Client) BestPO(ctx context.Context, poNumber, invoiceVendor string, invoiceSKUs, vendorAliases []string) (*PurchaseOrder, error) {
	poNumber = CleanPONumber(poNumber)
	rows, err := c.SearchPOCandidates(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{PONumber: poNumber}
	}

	if row := matchRow(rows, poNumber); row != nil {
		return c.PODetails(ctx, row.ID)
	}

	// a vendor hint that singles out one candidate decides it
	if invoiceVendor != "" {
		var matches []POSummary
		for _, row := range rows {
			if vendorsMatch(invoiceVendor, row.Vendor.Name) {
				matches = append(matches, row)
			}
		}
		if len(matches) == 0 {
			for _, row := range rows {
				for _, alias := range vendorAliases {
					if vendorsMatch(alias, row.Vendor.Name) {
						matches = append(matches, row)
						break
					}
				}
			}
		}
		if len(matches) == 1 {
			return c.PODetails(ctx, matches[0].ID)
		}
	}

	// score remaining candidates by SKU overlap
	var skuNorms []string
	seen := map[string]bool{}
	for _, sku := range invoiceSKUs {
		if norm := normalizeSKU(sku, invoiceVendor); norm != "" && !seen[norm] {
			seen[norm] = true
			skuNorms = append(skuNorms, norm)
		}
	}
	if len(skuNorms) > 0 {
		var best *PurchaseOrder
		bestScore := 0
		var lastErr error
		for _, row := range rows {
			details, err := c.PODetails(ctx, row.ID)
			if err != nil {
				lastErr = err
				continue
			}
			vendorMatch := vendorsMatch(invoiceVendor, details.Vendor.Name)
			if !vendorMatch {
				for _, alias := range vendorAliases {
					if vendorsMatch(alias, details.Vendor.Name) {
						vendorMatch = true
						break
					}
				}
			}
			skuMatches := 0
			for _, item := range details.LineItems.Rows {
				norm := normalizeSKU(item.Product.SKU, invoiceVendor)
				for _, inv := range skuNorms {
					if skusMatch(inv, norm) {
						skuMatches++
						break
					}
				}
			}
			score := skuMatches * 100
			if vendorMatch {
				score += 10
			}
			if score > bestScore {
				bestScore = score
				best = details
			}
		}
		if best != nil && bestScore > 0 {
			return best, nil
		}
		if lastErr != nil {
			return nil, lastErr
		}
	}

	return nil, &NotFoundError{PONumber: poNumber}
}

// poLabelChars is the alphabet order labels and ids are made of. Anything
// outside it is stripped before the value is embedded in a query.
var poLabelChars = regexp.MustCompile(`[^A-Za-z0-9-]`)

// CleanPONumber strips a leading "PO" prefix and any character that cannot
// appear in an order label.
func CleanPONumber(poNumber string) string {
	poNumber = strings.TrimSpace(poNumber)
	if len(poNumber) >= 2 && strings.EqualFold(poNumber[:2], "PO") {
		poNumber = poNumber[2:]
	}
	return poLabelChars.ReplaceAllString(poNumber, "")
}

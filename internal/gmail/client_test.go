package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name string
		part *gmail.MessagePart
		want bool
	}{
		{"mime type", &gmail.MessagePart{MimeType: "application/pdf"}, true},
		{"mime type uppercase", &gmail.MessagePart{MimeType: "APPLICATION/PDF"}, true},
		{"octet stream with pdf name", &gmail.MessagePart{MimeType: "application/octet-stream", Filename: "Invoice_1234.PDF"}, true},
		{"image attachment", &gmail.MessagePart{MimeType: "image/png", Filename: "logo.png"}, false},
		{"no filename no mime", &gmail.MessagePart{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPDF(tt.part); got != tt.want {
				t.Errorf("isPDF() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollectPartsWalksNested(t *testing.T) {
	root := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
				{MimeType: "text/plain"},
				{MimeType: "text/html"},
			}},
			{MimeType: "application/pdf", Filename: "bill.pdf"},
		},
	}
	parts := collectParts(root)
	if len(parts) != 5 {
		t.Fatalf("got %d parts, want 5", len(parts))
	}
	var pdfs int
	for _, p := range parts {
		if isPDF(p) {
			pdfs++
		}
	}
	if pdfs != 1 {
		t.Errorf("got %d pdf parts, want 1", pdfs)
	}
	if collectParts(nil) != nil {
		t.Error("nil part should yield no parts")
	}
}

func TestClassify(t *testing.T) {
	var authErr *AuthError
	var transient *TransientError

	if err := classify(&googleapi.Error{Code: 401}); !errors.As(err, &authErr) {
		t.Errorf("401 classified as %T", err)
	}
	if err := classify(&googleapi.Error{Code: 403}); !errors.As(err, &authErr) {
		t.Errorf("403 classified as %T", err)
	}
	if err := classify(&googleapi.Error{Code: 429}); !errors.As(err, &transient) {
		t.Errorf("429 classified as %T", err)
	}
	if err := classify(&googleapi.Error{Code: 503}); !errors.As(err, &transient) {
		t.Errorf("503 classified as %T", err)
	}
	if err := classify(&googleapi.Error{Code: 404}); errors.As(err, &authErr) || errors.As(err, &transient) {
		t.Errorf("404 should pass through, got %T", err)
	}
	if err := classify(errors.New("connection reset")); !errors.As(err, &transient) {
		t.Errorf("plain error classified as %T", err)
	}
	if classify(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestSearchQueryExcludesProcessed(t *testing.T) {
	got := searchQuery("has:attachment filename:pdf", "invoice-processed")
	want := "has:attachment filename:pdf -label:invoice-processed"
	if got != want {
		t.Errorf("searchQuery() = %q, want %q", got, want)
	}
}

func TestFetchDoesNotReyieldLabeledMessages(t *testing.T) {
	var listQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/messages") {
			listQueries = append(listQueries, r.URL.Query().Get("q"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messages": []}`)
	}))
	defer srv.Close()

	svc, err := gmail.NewService(context.Background(),
		option.WithoutAuthentication(), option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	c := &Client{service: svc, processedLabel: "invoice-processed", processedLabelID: "L1"}

	atts, err := c.Fetch(context.Background(), "has:attachment filename:pdf")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(atts) != 0 {
		t.Errorf("got %d attachments, want 0", len(atts))
	}
	if len(listQueries) != 1 {
		t.Fatalf("list called %d times, want 1", len(listQueries))
	}
	if !strings.Contains(listQueries[0], "-label:invoice-processed") {
		t.Errorf("list query %q does not exclude the processed label", listQueries[0])
	}
}

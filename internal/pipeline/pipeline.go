// Package pipeline orchestrates the two flows: run (fetch, extract,
// parse, sink) and validate (check sunk records against the PO catalog).
// Only one flow is active at a time; progress is reported on an event
// channel and cancellation is honored between items.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mdelaney/billfetch/config"
	"github.com/mdelaney/billfetch/internal/catalog"
	"github.com/mdelaney/billfetch/internal/extract"
	"github.com/mdelaney/billfetch/internal/gmail"
	"github.com/mdelaney/billfetch/internal/parser"
	"github.com/mdelaney/billfetch/internal/sink"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Event is one progress update. Err is set on per-item failures that the
// run survives.
type Event struct {
	RunID   string
	Message string
	Item    string
	Err     error
}

type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]gmail.Attachment, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) (extract.ExtractedText, error)
}

// Fallback reads documents the rule parser gave up on.
type Fallback interface {
	ExtractInvoice(ctx context.Context, text, sourceFile string) (*parser.InvoiceRecord, error)
}

type Catalog interface {
	Login(ctx context.Context) error
	BestPO(ctx context.Context, poNumber, vendor string, skus, aliases []string) (*catalog.PurchaseOrder, error)
}

type Pipeline struct {
	cfg      *config.Config
	fetcher  Fetcher
	extract  Extractor
	parser   *parser.Parser
	vendors  *parser.VendorTable
	fallback Fallback
	catalog  Catalog

	state  atomic.Int32
	events chan Event
}

func New(cfg *config.Config, fetcher Fetcher, ex Extractor, p *parser.Parser, vendors *parser.VendorTable) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		extract: ex,
		parser:  p,
		vendors: vendors,
		events:  make(chan Event, 64),
	}
}

// SetFallback installs the model-based extractor used when rule parsing
// fails. Optional.
func (p *Pipeline) SetFallback(f Fallback) { p.fallback = f }

// SetCatalog installs the PO catalog client used by Validate.
func (p *Pipeline) SetCatalog(c Catalog) { p.catalog = c }

// Events returns the progress channel. Events are dropped, not blocked
// on, when no one is listening.
func (p *Pipeline) Events() <-chan Event { return p.events }

func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// begin flips idle to running, enforcing one flow at a time.
func (p *Pipeline) begin() error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("pipeline busy, current state %s", p.State())
	}
	return nil
}

func (p *Pipeline) finish(err error) {
	if err != nil && isFatal(err) {
		p.state.Store(int32(StateError))
		return
	}
	p.state.Store(int32(StateDone))
}

// Reset returns a finished pipeline to idle so another flow can start.
func (p *Pipeline) Reset() {
	s := p.State()
	if s == StateDone || s == StateError {
		p.state.Store(int32(StateIdle))
	}
}

func isFatal(err error) bool {
	var authErr *gmail.AuthError
	return errors.As(err, &authErr) || errors.Is(err, gmail.ErrAuthRequired)
}

// retryTransient retries fn on TransientError with exponential backoff.
// Other errors return immediately.
func retryTransient(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := baseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var transient *gmail.TransientError
		if !errors.As(err, &transient) {
			return err
		}
		if i == attempts-1 {
			break
		}
		log.Printf("Transient error (attempt %d/%d), retrying in %v: %v", i+1, attempts, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Run executes the fetch flow: every unprocessed matching message's PDF
// attachments are saved, extracted, parsed and sunk. Messages are labeled
// processed whether or not their documents parsed, so they are never
// retried forever. Per-document failures skip the document; only an
// authorization failure aborts the run.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if err := p.begin(); err != nil {
		return err
	}
	runID := uuid.New().String()
	defer func() { p.finish(err) }()

	p.emit(Event{RunID: runID, Message: "run started"})
	log.Printf("Run %s: fetching messages matching %q", runID, p.cfg.Gmail.SearchQuery)

	var attachments []gmail.Attachment
	err = retryTransient(ctx, p.cfg.App.RetryAttempts, p.cfg.App.RetryBaseDelay, func() error {
		var fetchErr error
		attachments, fetchErr = p.fetcher.Fetch(ctx, p.cfg.Gmail.SearchQuery)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("fetching attachments: %w", err)
	}
	if len(attachments) == 0 {
		log.Println("No new invoice attachments found")
		p.emit(Event{RunID: runID, Message: "no new attachments"})
		return nil
	}
	log.Printf("Found %d attachment(s)", len(attachments))

	if err := os.MkdirAll(p.cfg.Output.InvoicesDir, 0o755); err != nil {
		return fmt.Errorf("creating invoices dir: %w", err)
	}
	out, err := sink.Open(p.cfg.Output.SpreadsheetFile)
	if err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}

	// A message is labeled only after its last attachment in the batch,
	// so a stop between two attachments of one message leaves that
	// message unlabeled and its remainder fetchable next run.
	lastAttachment := make(map[string]int, len(attachments))
	for i, att := range attachments {
		lastAttachment[att.MessageID] = i
	}

	for i, att := range attachments {
		select {
		case <-ctx.Done():
			p.state.Store(int32(StateStopping))
			log.Printf("Run %s: stop requested, flushing %s", runID, p.cfg.Output.SpreadsheetFile)
			if flushErr := out.Flush(); flushErr != nil {
				return flushErr
			}
			return nil
		default:
		}

		if itemErr := p.processAttachment(ctx, out, &att); itemErr != nil {
			if isFatal(itemErr) {
				return itemErr
			}
			log.Printf("Skipping %s: %v", att.Filename, itemErr)
			p.emit(Event{RunID: runID, Item: att.Filename, Err: itemErr})
		} else {
			p.emit(Event{RunID: runID, Item: att.Filename, Message: "processed"})
		}

		// label even when the message's documents failed, so broken
		// invoices are not retried forever
		if lastAttachment[att.MessageID] == i {
			if markErr := p.fetcher.MarkProcessed(ctx, att.MessageID); markErr != nil {
				log.Printf("Failed to label message %s: %v", att.MessageID, markErr)
			}
		}
	}

	if err := out.Flush(); err != nil {
		return fmt.Errorf("flushing sink: %w", err)
	}
	log.Printf("Run %s: wrote %s", runID, p.cfg.Output.SpreadsheetFile)
	p.emit(Event{RunID: runID, Message: "run complete"})
	return nil
}

func (p *Pipeline) processAttachment(ctx context.Context, out *sink.Sink, att *gmail.Attachment) error {
	path := filepath.Join(p.cfg.Output.InvoicesDir, safeFilename(att.Filename))
	if err := os.WriteFile(path, att.Data, 0o644); err != nil {
		return fmt.Errorf("saving attachment: %w", err)
	}

	doc, err := p.extract.Extract(ctx, att.Data)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", att.Filename, err)
	}
	log.Printf("Extracted %s via %s (%d pages)", att.Filename, doc.Method, len(doc.Pages))

	rec, err := p.parser.Parse(&doc, path)
	if err != nil {
		var failure *parser.ParseFailure
		if errors.As(err, &failure) && p.fallback != nil {
			log.Printf("Rule parsing failed for %s, trying model fallback", att.Filename)
			rec, err = p.fallback.ExtractInvoice(ctx, doc.Text(), path)
		}
		if err != nil {
			return fmt.Errorf("parsing %s: %w", att.Filename, err)
		}
	}

	if !rec.SinkWorthy() {
		return fmt.Errorf("parsing %s: record incomplete (invoice number %q, %d items)",
			att.Filename, rec.InvoiceNumber, len(rec.Items))
	}
	if rec.NoItemsWarning {
		log.Printf("Warning: %s has no line items", att.Filename)
	}
	out.Append(rec)
	log.Printf("Parsed invoice %s from %s (%d items)", rec.InvoiceNumber, rec.Vendor, len(rec.Items))
	return nil
}

// Validate executes the validation flow over already-sunk records. A
// record without a PO number is skipped; a catalog outage marks the
// record failed with a service reason instead of guessing.
func (p *Pipeline) Validate(ctx context.Context) (err error) {
	if err := p.begin(); err != nil {
		return err
	}
	runID := uuid.New().String()
	defer func() { p.finish(err) }()

	if p.catalog == nil {
		return fmt.Errorf("no catalog client configured")
	}

	out, err := sink.Open(p.cfg.Output.SpreadsheetFile)
	if err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}
	records := out.Records()
	if len(records) == 0 {
		log.Println("Nothing to validate")
		return nil
	}

	if err := p.catalog.Login(ctx); err != nil {
		return fmt.Errorf("catalog login: %w", err)
	}
	log.Printf("Validation %s: checking %d record(s)", runID, len(records))

	for _, rec := range records {
		select {
		case <-ctx.Done():
			p.state.Store(int32(StateStopping))
			return out.Flush()
		default:
		}
		if rec.PONumber == "" {
			log.Printf("Invoice %s has no PO number, skipping validation", rec.InvoiceNumber)
			continue
		}

		res := p.validateRecord(ctx, rec)
		status := parser.ValidationPass
		if !res.Passed {
			status = parser.ValidationFail
		}
		out.UpdateValidation(rec.InvoiceNumber, status, res.FailedFields)
		if res.Passed {
			log.Printf("Invoice %s validated against PO %s", rec.InvoiceNumber, rec.PONumber)
		} else {
			log.Printf("Invoice %s failed validation: %v", rec.InvoiceNumber, res.FailedFields)
		}
		p.emit(Event{RunID: runID, Item: rec.InvoiceNumber, Message: fmt.Sprintf("validated: %v", res.Passed)})
	}

	if err := out.Flush(); err != nil {
		return fmt.Errorf("flushing sink: %w", err)
	}
	p.emit(Event{RunID: runID, Message: "validation complete"})
	return nil
}

func (p *Pipeline) validateRecord(ctx context.Context, rec *parser.InvoiceRecord) catalog.ValidationResult {
	var skus []string
	for _, it := range rec.Items {
		if it.SKU != "" {
			skus = append(skus, it.SKU)
		}
	}
	var aliases []string
	if p.vendors != nil {
		aliases = p.vendors.Aliases(rec.Vendor)
	}

	po, err := p.catalog.BestPO(ctx, rec.PONumber, rec.Vendor, skus, aliases)
	if err != nil {
		var notFound *catalog.NotFoundError
		if errors.As(err, &notFound) {
			return catalog.ValidationResult{Passed: false, FailedFields: []string{"PO not found"}}
		}
		log.Printf("Catalog error for PO %s: %v", rec.PONumber, err)
		return catalog.ValidationResult{Passed: false, FailedFields: []string{"validation service unavailable"}}
	}
	return catalog.Validate(rec, po, aliases)
}

var unsafePathRe = []string{"/", "\\", ".."}

func safeFilename(name string) string {
	base := filepath.Base(name)
	for _, s := range unsafePathRe {
		if base == "" || base == "." || base == s {
			return "attachment.pdf"
		}
	}
	return base
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Method records which strategy produced the text for a document.
type Method string

const (
	MethodText Method = "text"
	MethodOCR  Method = "ocr"
)

// ExtractedText holds one text block per input page, in original page order.
type ExtractedText struct {
	Pages  []string
	Method Method
}

// Text returns the concatenated page text.
func (e ExtractedText) Text() string {
	return strings.Join(e.Pages, "\n")
}

// ExtractionError means the byte stream is not a readable document. It is
// reported per attachment and never aborts the batch.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

type Config struct {
	PdftoppmPath     string // binary name or absolute path; if empty -> "pdftoppm"
	DPI              int    // rasterization DPI for scanned pages, default 300
	DensityThreshold int    // min characters per page before OCR kicks in
}

type Extractor struct {
	cfg    Config
	runner Runner
	engine Engine
}

func NewExtractor(cfg Config, engine Engine) *Extractor {
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.DensityThreshold <= 0 {
		cfg.DensityThreshold = 50
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, engine: engine}
}

// Extract pulls the text layer from every page and falls back to OCR for
// pages whose text density is below the threshold. Sparse text-layer output
// is replaced in place by the OCR result so page order is preserved.
func (x *Extractor) Extract(ctx context.Context, data []byte) (ExtractedText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ExtractedText{}, &ExtractionError{Err: fmt.Errorf("opening pdf: %w", err)}
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return ExtractedText{}, &ExtractionError{Err: fmt.Errorf("document has no pages")}
	}

	pages := make([]string, numPages)
	var sparse []int
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			sparse = append(sparse, i)
			continue
		}
		text := pageText(page)
		pages[i-1] = text
		if len(strings.TrimSpace(text)) < x.cfg.DensityThreshold {
			sparse = append(sparse, i)
		}
	}

	method := MethodText
	if len(sparse) > 0 && x.engine != nil {
		images, err := x.renderPages(ctx, data, sparse)
		if err != nil {
			log.Printf("Rasterizing pages %v for OCR failed: %v", sparse, err)
		}
		for _, pageNum := range sparse {
			img, ok := images[pageNum]
			if !ok {
				continue
			}
			text, err := x.engine.Recognize(ctx, img)
			if err != nil {
				log.Printf("OCR failed on page %d: %v", pageNum, err)
				continue
			}
			pages[pageNum-1] = strings.TrimSpace(text)
			method = MethodOCR
		}
	}

	if joined := strings.TrimSpace(strings.Join(pages, "")); joined == "" {
		return ExtractedText{}, &ExtractionError{Err: fmt.Errorf("no text could be extracted")}
	}

	return ExtractedText{Pages: pages, Method: method}, nil
}

// pageText reads the page's text runs grouped by row so columnar invoices
// keep their line structure.
func pageText(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, row := range rows {
		for i, word := range row.Content {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(word.S)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderPages rasterizes the requested pages with pdftoppm and returns the
// PNG bytes keyed by 1-based page number.
func (x *Extractor) renderPages(ctx context.Context, data []byte, pageNums []int) (map[int][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "billfetch-ocr-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(src, data, 0600); err != nil {
		return nil, err
	}

	images := make(map[int][]byte, len(pageNums))
	sorted := append([]int(nil), pageNums...)
	sort.Ints(sorted)
	for _, pageNum := range sorted {
		prefix := filepath.Join(tmpDir, fmt.Sprintf("page-%d", pageNum))
		_, errb, err := x.runner.Run(ctx, x.cfg.PdftoppmPath,
			"-f", fmt.Sprint(pageNum), "-l", fmt.Sprint(pageNum),
			"-r", fmt.Sprint(x.cfg.DPI), "-png", src, prefix)
		if err != nil {
			return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(errb)))
		}
		matches, _ := filepath.Glob(prefix + "-*.png")
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		img, err := os.ReadFile(matches[0])
		if err != nil {
			return nil, err
		}
		images[pageNum] = img
	}
	return images, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mdelaney/billfetch/config"
	"github.com/mdelaney/billfetch/internal/catalog"
	"github.com/mdelaney/billfetch/internal/extract"
	"github.com/mdelaney/billfetch/internal/gmail"
	"github.com/mdelaney/billfetch/internal/llm"
	"github.com/mdelaney/billfetch/internal/parser"
	"github.com/mdelaney/billfetch/internal/pipeline"
)

func main() {
	log.Println("[github.com/mdelaney/billfetch]")

	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	switch command {
	case "run":
		runPipeline(ctx, cfg)
	case "validate":
		runValidation(ctx, cfg)
	case "open-output":
		openPath(cfg.Output.SpreadsheetFile)
	case "open-invoices":
		openPath(cfg.Output.InvoicesDir)
	default:
		fmt.Fprintf(os.Stderr, "usage: billfetch [run|validate|open-output|open-invoices]\n")
		os.Exit(2)
	}
}

func runPipeline(ctx context.Context, cfg *config.Config) {
	log.Println("Starting invoice run...")

	gmailClient, err := initializeGmail(ctx, cfg)
	if err != nil {
		log.Fatalf("Gmail initialization failed: %v", err)
	}

	p := newPipeline(cfg, gmailClient)
	if cfg.OpenAI.APIKey != "" {
		p.SetFallback(llm.NewClient(cfg.OpenAI.APIKey))
	}

	stop := make(chan struct{})
	go printEvents(p.Events(), stop)
	err = p.Run(ctx)
	close(stop)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Run failed: %v", err)
	}
	log.Println("Done.")
}

func runValidation(ctx context.Context, cfg *config.Config) {
	log.Println("Starting PO validation...")

	if cfg.Catalog.Email == "" || cfg.Catalog.Password == "" {
		log.Fatal("Catalog credentials are not configured")
	}
	catalogClient, err := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Email, cfg.Catalog.Password)
	if err != nil {
		log.Fatalf("Catalog initialization failed: %v", err)
	}

	p := newPipeline(cfg, nil)
	p.SetCatalog(catalogClient)

	stop := make(chan struct{})
	go printEvents(p.Events(), stop)
	err = p.Validate(ctx)
	close(stop)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Validation failed: %v", err)
	}
	log.Println("Done.")
}

// printEvents renders progress on stdout while a flow runs. After stop is
// closed it drains whatever the flow buffered before finishing.
func printEvents(events <-chan pipeline.Event, stop <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			printEvent(ev)
		case <-stop:
			for {
				select {
				case ev := <-events:
					printEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func printEvent(ev pipeline.Event) {
	switch {
	case ev.Err != nil && ev.Item != "":
		fmt.Printf("  ! %s: %v\n", ev.Item, ev.Err)
	case ev.Item != "":
		fmt.Printf("  - %s: %s\n", ev.Item, ev.Message)
	default:
		fmt.Printf("%s\n", ev.Message)
	}
}

func newPipeline(cfg *config.Config, gmailClient *gmail.Client) *pipeline.Pipeline {
	vendors, err := parser.LoadVendorTable(cfg.Parser.VendorsFile)
	if err != nil {
		log.Fatalf("Loading vendor table: %v", err)
	}

	var engine extract.Engine
	if cfg.OCR.Language != "" {
		engine = extract.NewTesseractEngine(cfg.OCR.Language)
	}
	extractor := extract.NewExtractor(extract.Config{
		PdftoppmPath:     cfg.OCR.PdftoppmPath,
		DPI:              cfg.OCR.DPI,
		DensityThreshold: cfg.OCR.DensityThreshold,
	}, engine)

	return pipeline.New(cfg, gmailClient, extractor, parser.New(vendors, cfg.Parser.AmountTolerance), vendors)
}

func initializeGmail(ctx context.Context, cfg *config.Config) (*gmail.Client, error) {
	client, err := gmail.Setup(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, cfg.Gmail.ProcessedLabel)
	if errors.Is(err, gmail.ErrAuthRequired) {
		log.Println("No cached Gmail token, starting browser authorization...")
		if err := gmail.Authorize(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile); err != nil {
			return nil, fmt.Errorf("authorization failed: %w", err)
		}
		return gmail.Setup(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, cfg.Gmail.ProcessedLabel)
	}
	return client, err
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Stop requested, finishing current item...")
		cancel()
	}()
}

func openPath(path string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		log.Fatalf("Opening %s: %v", path, err)
	}
}

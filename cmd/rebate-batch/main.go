package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mushrhyme/rebate/constants"
	"github.com/mushrhyme/rebate/internal/common"
	"github.com/mushrhyme/rebate/internal/export"
	"github.com/mushrhyme/rebate/internal/extract/vision"
	"github.com/mushrhyme/rebate/internal/orchestrator"
	"github.com/mushrhyme/rebate/internal/pdf"
	"github.com/mushrhyme/rebate/internal/registry"
	repo "github.com/mushrhyme/rebate/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem   = flag.Bool("inmem", false, "use in-memory SQLite database")
		dir     = flag.String("dir", "", "directory to process PDFs from (required)")
		out     = flag.String("out", "", "output XLSX file path (optional; skips export when empty)")
		workers = flag.Int("workers", 0, "concurrent extraction workers (default from env)")
		dpi     = flag.Int("dpi", 0, "render resolution (default from env)")
		source  = flag.String("source", "batch", "registry source tag for submitted jobs")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()
	if *workers <= 0 {
		*workers = cfg.Pipeline.Workers
	}
	if *dpi <= 0 {
		*dpi = cfg.Pipeline.DPI
	}
	if cfg.LLM.APIKey == "" {
		printError("Error: OPENAI_API_KEY is required for extraction\n")
		os.Exit(1)
	}

	// Database
	var gdb *gorm.DB
	if *inmem {
		var err error
		gdb, err = repo.OpenLite(":memory:", logger)
		if err != nil {
			logger.Error("failed to open sqlite database", "error", err)
			os.Exit(1)
		}
	} else {
		db, pool, err := repo.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer repo.Close(pool, logger)
		gdb = db
	}
	if err := repo.Migrate(gdb); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	store := repo.NewVersionedStore(gdb, logger)
	reg := registry.New(cfg.Registry.Path, logger)

	// Reclaim ghost entries before admitting new work.
	if reclaimed, err := reg.Sweep(ctx, cfg.Registry.StaleAfter, store); err != nil {
		logger.Error("registry sweep failed", "error", err)
		os.Exit(1)
	} else if len(reclaimed) > 0 {
		logger.Info("registry sweep reclaimed entries", "documents", reclaimed)
	}

	// Extraction pipeline
	raster := pdf.NewFitzRasterizer(logger)
	extractor := vision.NewClient(vision.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, raster, logger)

	processor := orchestrator.NewProcessor(logger, reg, store, extractor, *source)

	// Discover PDFs
	var items []orchestrator.BatchItem
	err := filepath.WalkDir(*dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		// A live processing entry means another run owns this document.
		if rec, ok, err := reg.Get(name); err != nil {
			return err
		} else if ok && rec.Status == constants.JobStatusProcessing &&
			time.Since(rec.LastUpdated) <= cfg.Registry.StaleAfter {
			logger.Warn("skipping document already processing", "document", name)
			return nil
		}

		items = append(items, orchestrator.BatchItem{Document: name, Path: path, DPI: *dpi})
		return nil
	})
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Println("No PDFs to process.")
		return
	}
	logger.Info("starting batch", "documents", len(items), "workers", *workers, "dpi", *dpi)

	succeeded := 0
	failed := 0
	totalPages := 0
	results := processor.ProcessBatch(ctx, items, *workers, func(res orchestrator.Result) {
		if res.Success {
			succeeded++
			totalPages += res.Pages
			fmt.Printf("✔ %s (%d pages, %.1fs)\n", res.Document, res.Pages, res.Elapsed.Seconds())
		} else {
			failed++
			fmt.Printf("✘ %s: %s\n", res.Document, res.Err)
		}
	})

	if *out != "" && succeeded > 0 {
		exportService := export.NewService(store, logger)
		xlsxBytes, err := exportService.ExportLatestXLSX(ctx, "")
		if err != nil {
			logger.Error("failed to export results", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
			logger.Error("failed to write output file", "error", err)
			os.Exit(1)
		}
		logger.Info("export written", "path", *out, "bytes", len(xlsxBytes))
	}

	fmt.Printf("Batch complete!\n")
	fmt.Printf("- Documents: %d\n", len(results))
	fmt.Printf("- Succeeded: %d\n", succeeded)
	fmt.Printf("- Failed: %d\n", failed)
	fmt.Printf("- Pages: %d\n", totalPages)
	if failed > 0 {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mushrhyme/rebate/internal/common"
	"github.com/mushrhyme/rebate/internal/registry"
	repo "github.com/mushrhyme/rebate/internal/repository"
)

func main() {
	var (
		staleAfter = flag.Duration("stale-after", 0, "liveness threshold (default from env)")
		noDB       = flag.Bool("no-db", false, "skip the store check for completed entries")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()
	if *staleAfter <= 0 {
		*staleAfter = cfg.Registry.StaleAfter
	}

	var probe registry.StoreProbe
	if !*noDB {
		gdb, pool, err := repo.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer repo.Close(pool, logger)
		probe = repo.NewVersionedStore(gdb, logger)
	}

	reg := registry.New(cfg.Registry.Path, logger)
	start := time.Now()
	reclaimed, err := reg.Sweep(ctx, *staleAfter, probe)
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}

	logger.Info("sweep complete",
		"reclaimed", len(reclaimed),
		"stale_after", staleAfter.String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	for _, name := range reclaimed {
		fmt.Printf("reclaimed: %s\n", name)
	}
}

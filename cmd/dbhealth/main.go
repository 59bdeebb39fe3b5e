package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mushrhyme/rebate/internal/common"
	repo "github.com/mushrhyme/rebate/internal/repository"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	gdb, pool, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer pool.Close()

	if err := repo.HealthCheck(ctx, pool, 1*time.Second); err != nil {
		log.Fatalf("DB health: FAIL (%v)", err)
	}
	log.Println("DB health: OK")

	store := repo.NewVersionedStore(gdb, logger)
	docs, err := store.DistinctDocuments(ctx, true)
	if err != nil {
		log.Fatalf("listing documents: %v", err)
	}

	log.Printf("documents with a latest session: %d", len(docs))
	for _, d := range docs {
		log.Printf("- %s", d)
	}
}

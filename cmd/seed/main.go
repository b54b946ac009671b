package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/pscheid92/facerate/internal/adapter/backend"
	"github.com/pscheid92/facerate/internal/adapter/imagestore"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/config"
	"github.com/pscheid92/facerate/internal/platform/logging"
)

const seedBatchSize = 500

func main() {
	var (
		imagesDir = flag.String("images", "", "Images directory (defaults to IMAGES_DIR)")
		dryRun    = flag.Bool("dry-run", false, "Dry run mode (list images, don't write to the store)")
		verbose   = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	cfg, err := config.LoadStore()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Configure logging
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, cfg.LogFormat)

	if *imagesDir == "" {
		*imagesDir = cfg.ImagesDir
	}

	images, err := imagestore.Open(*imagesDir)
	if err != nil {
		log.Fatalf("Failed to open images directory: %v", err)
	}
	defer func() { _ = images.Close() }()

	ctx := context.Background()
	filenames, err := images.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list images: %v", err)
	}
	slog.Info("Found images", "dir", *imagesDir, "count", len(filenames))

	if *dryRun {
		for _, f := range filenames {
			slog.Debug("Would seed", "filename", f)
		}
		slog.Info("Dry run complete", "would_seed", len(filenames))
		return
	}

	b, err := backend.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("Failed to open ratings store: %v", err)
	}
	defer func() { _ = b.Close() }()

	seeder, ok := b.Seeder()
	if !ok {
		slog.Error("Store backend cannot be seeded; add a filename column to the sheet instead", "backend", b.Name)
		os.Exit(1)
	}

	added, err := seed(ctx, seeder, filenames)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	slog.Info("Seeding complete", "backend", b.Name, "images", len(filenames), "added", added, "already_present", len(filenames)-added)
}

// seed appends filenames in batches and returns how many rows were added.
func seed(ctx context.Context, seeder domain.Seeder, filenames []string) (int, error) {
	start := time.Now()
	added := 0

	for offset := 0; offset < len(filenames); offset += seedBatchSize {
		end := min(offset+seedBatchSize, len(filenames))
		n, err := seeder.Seed(ctx, filenames[offset:end])
		if err != nil {
			return added, fmt.Errorf("batch at %d: %w", offset, err)
		}
		added += n
		slog.Debug("Seeded batch", "offset", offset, "size", end-offset, "added", n)
	}

	slog.Info("Seed finished", "duration", time.Since(start).String())
	return added, nil
}

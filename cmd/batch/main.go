// Command batch runs the recommendation pipeline over a directory of MP3
// files and writes one JSON document keyed by filename, the same document
// the offline evaluation tooling consumes. Per-file failures are recorded
// in place; the run only fails outright when the artifacts cannot load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/resona-audio/resona/internal/adapters/artifacts"
	"github.com/resona-audio/resona/internal/adapters/extractor"
	"github.com/resona-audio/resona/internal/adapters/sqlite"
	"github.com/resona-audio/resona/internal/core/services"
	"github.com/resona-audio/resona/internal/worker"
)

func main() {
	var (
		dir          = flag.String("dir", "test", "directory of .mp3 files to process")
		out          = flag.String("out", "predictions_cluster_top10.json", "output document path")
		artifactsDir = flag.String("artifacts", "artifacts", "artifacts directory")
		metadataDB   = flag.String("db", "resona.db", "metadata sqlite database")
		extractorURL = flag.String("extractor", "", "feature extractor sidecar URL")
		workers      = flag.Int("workers", runtime.NumCPU(), "concurrent workers")
		topK         = flag.Int("k", 10, "recommendations per file")
	)
	flag.Parse()

	files, err := filepath.Glob(filepath.Join(*dir, "*.mp3"))
	if err != nil {
		log.Fatalf("FATAL: bad directory pattern: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("FATAL: no .mp3 files found in %s", *dir)
	}

	ctx := context.Background()
	cfg := services.DefaultConfig()
	cfg.TopK = *topK

	source := artifacts.NewFileSource(*artifactsDir, cfg.Layout)
	tracks, centroids, err := source.Load(ctx)
	if err != nil {
		log.Fatalf("FATAL: failed to load artifacts: %v", err)
	}
	snap, err := services.NewSnapshot(tracks, centroids)
	if err != nil {
		log.Fatalf("FATAL: failed to build snapshot: %v", err)
	}

	projector, err := artifacts.LoadPCA(*artifactsDir, cfg.Layout)
	if err != nil {
		log.Fatalf("FATAL: failed to load PCA artifact: %v", err)
	}

	store, err := sqlite.NewAdapter(*metadataDB)
	if err != nil {
		log.Fatalf("FATAL: failed to open metadata database: %v", err)
	}
	defer store.Close()

	svc := services.NewRecommender(
		services.NewSnapshotHolder(snap),
		store,
		extractor.NewClient(*extractorURL),
		projector,
		cfg,
	)

	log.Printf("processing %d files with %d workers", len(files), *workers)
	start := time.Now()

	pool := worker.NewPool(svc, len(files), 5*time.Minute)
	pool.Start(*workers)
	for _, f := range files {
		pool.Submit(worker.Job{QueryID: filepath.Base(f), AudioPath: f})
	}
	pool.Stop()

	results := pool.Results()
	failed := 0
	for _, entry := range results {
		if entry.Error != "" {
			failed++
		}
	}

	doc, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		log.Fatalf("FATAL: failed to encode results: %v", err)
	}
	if err := os.WriteFile(*out, doc, 0o644); err != nil {
		log.Fatalf("FATAL: failed to write %s: %v", *out, err)
	}

	log.Printf("wrote %s: %d files, %d failed, took %s", *out, len(results), failed, time.Since(start).Round(time.Millisecond))
	counters := svc.Counters()
	log.Printf("counters: %d queries, %d fallbacks, %d metadata gaps", counters.Queries, counters.Fallbacks, counters.MetadataGaps)
	if failed == len(results) {
		// os.Exit would skip the deferred store close.
		store.Close()
		os.Exit(1)
	}
}

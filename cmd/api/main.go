package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/resona-audio/resona/internal/adapters/artifacts"
	"github.com/resona-audio/resona/internal/adapters/extractor"
	"github.com/resona-audio/resona/internal/adapters/rest"
	"github.com/resona-audio/resona/internal/adapters/sqlite"
	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/services"
)

func main() {
	// 1. Configuration (Environment Variables)
	// Crash early if the artifacts are unusable; a recommender without a
	// catalog has nothing to serve.
	artifactsDir := envOr("ARTIFACTS_DIR", "artifacts")
	metadataDB := envOr("METADATA_DB", "resona.db")
	extractorURL := os.Getenv("EXTRACTOR_URL")
	addr := envOr("ADDR", ":8080")

	cfg := engineConfigFromEnv()

	ctx := context.Background()

	// Optional: pull artifacts from S3-compatible storage first.
	if endpoint := os.Getenv("ARTIFACTS_S3_ENDPOINT"); endpoint != "" {
		if err := fetchArtifacts(ctx, endpoint, artifactsDir); err != nil {
			log.Fatalf("FATAL: failed to fetch artifacts: %v", err)
		}
	}

	// 2. Initialize "Driven" Adapters (The Tools)
	source := artifacts.NewFileSource(artifactsDir, cfg.Layout)
	tracks, centroids, err := source.Load(ctx)
	if err != nil {
		log.Fatalf("FATAL: failed to load artifacts: %v", err)
	}
	snap, err := services.NewSnapshot(tracks, centroids)
	if err != nil {
		log.Fatalf("FATAL: failed to build snapshot: %v", err)
	}
	log.Printf("loaded catalog: %d tracks, %d centroids", snap.Len(), len(snap.Centroids()))

	projector, err := artifacts.LoadPCA(artifactsDir, cfg.Layout)
	if err != nil {
		log.Fatalf("FATAL: failed to load PCA artifact: %v", err)
	}

	store, err := sqlite.NewAdapter(metadataDB)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	defer store.Close()

	if path := os.Getenv("METADATA_JSON"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("FATAL: failed to open metadata document: %v", err)
		}
		n, err := store.ImportJSON(ctx, f)
		f.Close()
		if err != nil {
			log.Fatalf("FATAL: metadata import failed: %v", err)
		}
		log.Printf("imported %d metadata records", n)
	}

	sidecar := extractor.NewClient(extractorURL)

	// 3. Initialize Core Logic (The Driver)
	holder := services.NewSnapshotHolder(snap)
	svc := services.NewRecommender(holder, store, sidecar, projector, cfg)

	// 4. Initialize "Driving" Adapter (The Interface)
	rps := envFloat("RATE_RPS", 5)
	burst := envInt("RATE_BURST", 10)
	handler := rest.NewHandler(svc, rps, burst)

	// 5. Start the Server
	log.Println("------------------------------------------------")
	log.Printf("🎶 Resona API is running on http://localhost%s", addr)
	log.Println("------------------------------------------------")

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal(err)
		}
	case <-sigCtx.Done():
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
}

func engineConfigFromEnv() services.Config {
	cfg := services.DefaultConfig()
	if k := envInt("TOP_K", 0); k > 0 {
		cfg.TopK = k
	}
	switch os.Getenv("RANK_METRIC") {
	case "euclidean":
		cfg.Metric = services.MetricEuclidean
	case "", "cosine":
		// default
	default:
		log.Fatalf("FATAL: unknown RANK_METRIC %q", os.Getenv("RANK_METRIC"))
	}
	if os.Getenv("RANK_NORMALIZE") == "1" {
		cfg.Normalize = true
	}
	switch os.Getenv("FALLBACK_POLICY") {
	case "unassigned-only":
		cfg.Fallback = services.FallbackUnassignedOnly
	case "", "always":
		// default
	default:
		log.Fatalf("FATAL: unknown FALLBACK_POLICY %q", os.Getenv("FALLBACK_POLICY"))
	}
	cfg.Layout = domain.DefaultLayout
	return cfg
}

func fetchArtifacts(ctx context.Context, endpoint, dir string) error {
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			os.Getenv("ARTIFACTS_S3_ACCESS_KEY"),
			os.Getenv("ARTIFACTS_S3_SECRET_KEY"),
			"",
		),
		Secure: os.Getenv("ARTIFACTS_S3_INSECURE") != "1",
	})
	if err != nil {
		return err
	}

	store := artifacts.NewObjectStore(client,
		os.Getenv("ARTIFACTS_S3_BUCKET"),
		os.Getenv("ARTIFACTS_S3_PREFIX"),
	)
	return store.FetchAll(ctx, dir, artifacts.ClustersFile, artifacts.CatalogFile, artifacts.PCAFile)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

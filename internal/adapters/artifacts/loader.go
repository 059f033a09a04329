// Package artifacts loads the pre-trained model artifacts: cluster
// centroids, the reduced-feature catalog, and the PCA projection. Artifacts
// are plain JSON files, optionally gzip-compressed, produced by the offline
// training pipeline.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/ports"
)

const (
	// ClustersFile holds the fitted centroids, keyed by cluster id.
	ClustersFile = "clusters.json"
	// CatalogFile holds per-track reduced feature vectors and cluster ids.
	CatalogFile = "features_reduced.json"
	// PCAFile holds the fitted PCA mean and component matrix.
	PCAFile = "pca.json"
)

// FileSource loads catalog and centroid artifacts from a directory.
type FileSource struct {
	dir    string
	layout domain.VectorLayout
}

// compile-time interface assertion
var _ ports.ArtifactSource = (*FileSource)(nil)

// NewFileSource creates a loader rooted at dir. The layout is used to
// validate every stored vector at load time instead of at each query.
func NewFileSource(dir string, layout domain.VectorLayout) *FileSource {
	return &FileSource{dir: dir, layout: layout}
}

type clustersDoc struct {
	Centroids map[string][]float32 `json:"centroids"`
}

type catalogEntry struct {
	Features []float32 `json:"features"`
	Cluster  *int      `json:"cluster"`
}

// Load reads the centroid and catalog artifacts concurrently and validates
// dimensions against the configured layout.
func (s *FileSource) Load(ctx context.Context) ([]domain.Track, []domain.Centroid, error) {
	var (
		tracks    []domain.Track
		centroids []domain.Centroid
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		centroids, err = s.loadCentroids()
		return err
	})
	g.Go(func() error {
		var err error
		tracks, err = s.loadCatalog()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return tracks, centroids, nil
}

func (s *FileSource) loadCentroids() ([]domain.Centroid, error) {
	r, err := openArtifact(filepath.Join(s.dir, ClustersFile))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var doc clustersDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("artifacts: decode %s: %w", ClustersFile, err)
	}

	want := s.layout.Total()
	centroids := make([]domain.Centroid, 0, len(doc.Centroids))
	for key, vec := range doc.Centroids {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("artifacts: bad cluster id %q in %s: %w", key, ClustersFile, err)
		}
		if len(vec) != want {
			return nil, domain.DimensionMismatchError{Block: "centroid " + key, Got: len(vec), Want: want}
		}
		centroids = append(centroids, domain.Centroid{Cluster: id, Vector: vec})
	}
	sort.Slice(centroids, func(i, j int) bool { return centroids[i].Cluster < centroids[j].Cluster })
	return centroids, nil
}

func (s *FileSource) loadCatalog() ([]domain.Track, error) {
	r, err := openArtifact(filepath.Join(s.dir, CatalogFile))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var doc map[string]catalogEntry
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("artifacts: decode %s: %w", CatalogFile, err)
	}

	// Map iteration order is random; catalog insertion order must be
	// reproducible because it is the ranking tie-break.
	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	want := s.layout.Total()
	tracks := make([]domain.Track, 0, len(doc))
	skipped := 0
	for _, id := range ids {
		entry := doc[id]
		if len(entry.Features) == 0 {
			// A track the feature pipeline never finished cannot be ranked.
			skipped++
			continue
		}
		if len(entry.Features) != want {
			return nil, domain.DimensionMismatchError{Block: "track " + id, Got: len(entry.Features), Want: want}
		}
		cluster := domain.Unassigned
		if entry.Cluster != nil {
			cluster = *entry.Cluster
		}
		tracks = append(tracks, domain.Track{ID: id, Vector: entry.Features, Cluster: cluster})
	}
	if skipped > 0 {
		log.Printf("WARN artifacts: skipped %d catalog entries without features", skipped)
	}
	return tracks, nil
}

// openArtifact opens path, or path.gz when the plain file is absent.
// Gzipped artifacts are decompressed transparently.
func openArtifact(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		gz, gzErr := os.Open(path + ".gz")
		if gzErr != nil {
			return nil, fmt.Errorf("artifacts: open %s: %w", path, err)
		}
		zr, gzErr := gzip.NewReader(gz)
		if gzErr != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("artifacts: gunzip %s.gz: %w", path, gzErr)
		}
		return &gzipReadCloser{zr: zr, f: gz}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: open %s: %w", path, err)
	}
	return f, nil
}

type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.zr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	if err := g.zr.Close(); err != nil {
		_ = g.f.Close()
		return err
	}
	return g.f.Close()
}

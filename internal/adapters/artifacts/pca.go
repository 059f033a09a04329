package artifacts

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/ports"
)

// PCAProjector reduces a full deep embedding to the catalog's embedding
// block using a pre-fitted PCA: out[i] = dot(components[i], x - mean).
type PCAProjector struct {
	mean       []float32
	components [][]float32 // one row per output dimension
}

// compile-time interface assertion
var _ ports.EmbeddingProjector = (*PCAProjector)(nil)

type pcaDoc struct {
	Mean       []float32   `json:"mean"`
	Components [][]float32 `json:"components"`
}

// LoadPCA reads the PCA artifact from dir and validates its shape against
// the layout's embedding block.
func LoadPCA(dir string, layout domain.VectorLayout) (*PCAProjector, error) {
	r, err := openArtifact(filepath.Join(dir, PCAFile))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var doc pcaDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("artifacts: decode %s: %w", PCAFile, err)
	}

	if len(doc.Components) != layout.Embedding {
		return nil, domain.DimensionMismatchError{Block: "pca components", Got: len(doc.Components), Want: layout.Embedding}
	}
	for i, row := range doc.Components {
		if len(row) != len(doc.Mean) {
			return nil, fmt.Errorf("artifacts: pca component %d has %d dims, mean has %d", i, len(row), len(doc.Mean))
		}
	}

	return &PCAProjector{mean: doc.Mean, components: doc.Components}, nil
}

// NewPCAProjector builds a projector from in-memory parameters. Used by
// tests and by callers that fetch artifacts through other channels.
func NewPCAProjector(mean []float32, components [][]float32) *PCAProjector {
	return &PCAProjector{mean: mean, components: components}
}

// Project maps the embedding into the reduced space.
func (p *PCAProjector) Project(embedding []float32) ([]float32, error) {
	if len(embedding) != len(p.mean) {
		return nil, domain.DimensionMismatchError{Block: "raw embedding", Got: len(embedding), Want: len(p.mean)}
	}

	centered := make([]float64, len(embedding))
	for i := range embedding {
		centered[i] = float64(embedding[i]) - float64(p.mean[i])
	}

	out := make([]float32, len(p.components))
	for i, row := range p.components {
		var sum float64
		for j, w := range row {
			sum += float64(w) * centered[j]
		}
		out[i] = float32(sum)
	}
	return out, nil
}

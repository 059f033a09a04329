package ports

// EmbeddingProjector reduces a full deep embedding to the fixed-size block
// used in catalog vectors. Backed by a pre-fitted PCA artifact; fitting is
// out of scope here.
type EmbeddingProjector interface {
	Project(embedding []float32) ([]float32, error)
}

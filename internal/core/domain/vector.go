package domain

import "math"

// FeatureVector is the fixed-length numeric representation of a track.
// Sub-blocks are concatenated in the order defined by VectorLayout; the
// whole catalog and every query share one layout.
type FeatureVector []float32

// VectorLayout fixes the length of each sub-block. Concatenation order is
// Traditional, Embedding, Instrument, Scalars, the order the catalog
// vectors were built with. Changing it corrupts every distance downstream.
type VectorLayout struct {
	Traditional int // signal statistics (MFCC, chroma, spectral)
	Embedding   int // PCA-reduced deep embedding
	Instrument  int // top instrument confidence scores
	Scalars     int // encoded metadata: duration, year, language index
}

// DefaultLayout is layout v1: 50 + 64 + 1 + 3 = 118.
var DefaultLayout = VectorLayout{
	Traditional: 50,
	Embedding:   64,
	Instrument:  1,
	Scalars:     3,
}

// Total is the fixed vector length for this layout.
func (l VectorLayout) Total() int {
	return l.Traditional + l.Embedding + l.Instrument + l.Scalars
}

// SubFeatures holds the raw blocks produced by the extractor collaborators
// before composition. Values are not validated: a partially failed
// extractor may leave NaNs or zeros, which the ranker tolerates.
type SubFeatures struct {
	Traditional []float32
	Embedding   []float32
	Instrument  []float32
	Scalars     []float32
}

// RawFeatures is what the extractor produces for one audio file: the
// traditional signal-statistics block, the full deep embedding (before PCA
// reduction), instrument confidence scores, and the decoded duration.
type RawFeatures struct {
	Traditional []float32
	Embedding   []float32
	Instrument  []float32
	Duration    float64
}

// Compose concatenates the sub-feature blocks into a single FeatureVector.
// Each block must match the layout exactly; a mismatch here would silently
// corrupt every downstream distance, so Compose fails fast with a
// DimensionMismatchError instead.
func Compose(layout VectorLayout, sub SubFeatures) (FeatureVector, error) {
	if len(sub.Traditional) != layout.Traditional {
		return nil, DimensionMismatchError{Block: "traditional", Got: len(sub.Traditional), Want: layout.Traditional}
	}
	if len(sub.Embedding) != layout.Embedding {
		return nil, DimensionMismatchError{Block: "embedding", Got: len(sub.Embedding), Want: layout.Embedding}
	}
	if len(sub.Instrument) != layout.Instrument {
		return nil, DimensionMismatchError{Block: "instrument", Got: len(sub.Instrument), Want: layout.Instrument}
	}
	if len(sub.Scalars) != layout.Scalars {
		return nil, DimensionMismatchError{Block: "scalars", Got: len(sub.Scalars), Want: layout.Scalars}
	}

	v := make(FeatureVector, 0, layout.Total())
	v = append(v, sub.Traditional...)
	v = append(v, sub.Embedding...)
	v = append(v, sub.Instrument...)
	v = append(v, sub.Scalars...)
	return v, nil
}

// EuclideanDistance is the straight-line distance between two vectors of
// equal length. This is the metric the centroids were fit with.
func EuclideanDistance(a, b FeatureVector) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns dot(a,b) / (||a||·||b||). A zero-norm vector or
// a NaN anywhere yields NaN; callers treat NaN as minimal similarity.
func CosineSimilarity(a, b FeatureVector) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize returns a unit-length copy of v. Zero vectors come back
// unchanged.
func Normalize(v FeatureVector) FeatureVector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) {
		return v
	}
	out := make(FeatureVector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

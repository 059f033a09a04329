package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a lookup missed (track or metadata).
var ErrNotFound = errors.New("domain: not found")

// ErrNoCandidates signals an empty candidate pool. It is a control signal,
// not a failure: the engine reacts by falling back to whole-catalog ranking.
var ErrNoCandidates = errors.New("domain: no candidates")

// ErrDimensionMismatch indicates sub-feature blocks that do not sum to the
// configured vector length.
var ErrDimensionMismatch = errors.New("domain: dimension mismatch")

// DimensionMismatchError carries the offending block and sizes.
type DimensionMismatchError struct {
	Block string
	Got   int
	Want  int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("domain: dimension mismatch in %s block: got %d, want %d", e.Block, e.Got, e.Want)
}

func (e DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Unassigned is the cluster id of a track (or query) with no cluster.
const Unassigned = -1

// Method records which candidate pool produced a result.
type Method string

const (
	MethodCluster    Method = "cluster"
	MethodSimilarity Method = "similarity"
)

// Metadata is the descriptive record for a catalog track.
type Metadata struct {
	SongID   string  `json:"song_id"`
	Title    string  `json:"title"`
	Album    string  `json:"album"`
	Year     string  `json:"year"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	PermaURL string  `json:"perma_url"`
	ImageURL string  `json:"image_url"`
}

// Track is a catalog entry: identifier, feature vector, and the cluster id
// assigned by the offline clustering fit. Cluster is read-only here.
type Track struct {
	ID      string
	Vector  FeatureVector
	Cluster int
}

// Centroid is the mean feature vector of one cluster.
type Centroid struct {
	Cluster int
	Vector  FeatureVector
}

// ScoredTrack is one ranked recommendation. Meta is nil when the metadata
// store has no entry for the track (a metadata gap, non-fatal).
type ScoredTrack struct {
	TrackID string
	Score   float64
	Meta    *Metadata
}

// RecommendationResult is the per-query output record.
type RecommendationResult struct {
	QueryID         string
	ClusterID       *int
	TotalCandidates int
	Method          Method
	Recommendations []ScoredTrack
}

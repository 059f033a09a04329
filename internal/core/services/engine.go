package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/ports"
)

// Metric selects the ranking score.
type Metric string

const (
	// MetricCosine scores candidates by cosine similarity.
	MetricCosine Metric = "cosine"
	// MetricEuclidean scores candidates by 1/(1+d) over Euclidean distance.
	MetricEuclidean Metric = "euclidean"
)

// FallbackPolicy selects which conditions trigger whole-catalog ranking.
type FallbackPolicy string

const (
	// FallbackAlways falls back on an unassigned query and on an
	// assigned-but-empty cluster alike.
	FallbackAlways FallbackPolicy = "always"
	// FallbackUnassignedOnly falls back only when assignment itself
	// failed; an empty cluster returns an empty cluster-mode result.
	FallbackUnassignedOnly FallbackPolicy = "unassigned-only"
)

// Config is the engine's tuning surface.
type Config struct {
	TopK      int
	Metric    Metric
	Normalize bool // L2-normalize vectors before scoring
	Fallback  FallbackPolicy
	Layout    domain.VectorLayout
}

// DefaultConfig returns the defaults: top 10, cosine, no normalization,
// layout v1.
func DefaultConfig() Config {
	return Config{
		TopK:     10,
		Metric:   MetricCosine,
		Fallback: FallbackAlways,
		Layout:   domain.DefaultLayout,
	}
}

// Counters accumulate quality signals across queries. Fallbacks and
// metadata gaps are not errors, but they are never silent either.
type Counters struct {
	queries      atomic.Uint64
	fallbacks    atomic.Uint64
	metadataGaps atomic.Uint64
	failures     atomic.Uint64
}

// CounterValues is a point-in-time read of the counters.
type CounterValues struct {
	Queries      uint64 `json:"queries"`
	Fallbacks    uint64 `json:"fallbacks"`
	MetadataGaps uint64 `json:"metadata_gaps"`
	Failures     uint64 `json:"failures"`
}

// Recommender is the core engine: compose, assign, retrieve, rank,
// assemble. It holds no mutable state besides counters; snapshots, metadata
// and artifacts are read-only inputs, so concurrent queries need no
// coordination.
type Recommender struct {
	snaps     *SnapshotHolder
	meta      ports.MetadataStore
	extractor ports.FeatureExtractor
	projector ports.EmbeddingProjector
	cfg       Config
	counters  Counters
}

// NewRecommender constructs the engine. extractor and projector may be nil
// when callers only submit pre-composed vectors.
func NewRecommender(snaps *SnapshotHolder, meta ports.MetadataStore, extractor ports.FeatureExtractor, projector ports.EmbeddingProjector, cfg Config) *Recommender {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackAlways
	}
	if cfg.Layout.Total() == 0 {
		cfg.Layout = domain.DefaultLayout
	}
	return &Recommender{
		snaps:     snaps,
		meta:      meta,
		extractor: extractor,
		projector: projector,
		cfg:       cfg,
	}
}

// Counters returns a point-in-time read of the engine counters.
func (r *Recommender) Counters() CounterValues {
	return CounterValues{
		Queries:      r.counters.queries.Load(),
		Fallbacks:    r.counters.fallbacks.Load(),
		MetadataGaps: r.counters.metadataGaps.Load(),
		Failures:     r.counters.failures.Load(),
	}
}

// Layout returns the vector layout the engine expects.
func (r *Recommender) Layout() domain.VectorLayout {
	return r.cfg.Layout
}

// RecommendFile runs the full pipeline for an audio file: extract raw
// features, project the embedding, compose the query vector, then
// recommend. The extractor call is the only slow step; the caller's context
// deadline covers the whole pipeline.
func (r *Recommender) RecommendFile(ctx context.Context, queryID, audioPath string) (domain.RecommendationResult, error) {
	if r.extractor == nil || r.projector == nil {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, errors.New("engine: no extractor configured")
	}

	raw, err := r.extractor.Extract(ctx, audioPath)
	if err != nil {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, fmt.Errorf("engine: %w", err)
	}

	reduced, err := r.projector.Project(raw.Embedding)
	if err != nil {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, fmt.Errorf("engine: %w", err)
	}

	vec, err := domain.Compose(r.cfg.Layout, domain.SubFeatures{
		Traditional: raw.Traditional,
		Embedding:   reduced,
		Instrument:  raw.Instrument,
		Scalars:     domain.EncodeScalars(raw.Duration, "", ""),
	})
	if err != nil {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, err
	}

	return r.Recommend(ctx, queryID, vec)
}

// Recommend runs assignment, retrieval, ranking and assembly for an
// already-composed query vector.
func (r *Recommender) Recommend(ctx context.Context, queryID string, vec domain.FeatureVector) (domain.RecommendationResult, error) {
	snap := r.snaps.Current()
	if snap == nil {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, errors.New("engine: no snapshot loaded")
	}
	if len(vec) != r.cfg.Layout.Total() {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, domain.DimensionMismatchError{Block: "vector", Got: len(vec), Want: r.cfg.Layout.Total()}
	}
	// Artifacts built with a different layout must fail fast, not panic
	// inside the distance loop.
	if d := snap.Dim(); d != -1 && d != r.cfg.Layout.Total() {
		r.counters.failures.Add(1)
		return domain.RecommendationResult{}, domain.DimensionMismatchError{Block: "snapshot", Got: d, Want: r.cfg.Layout.Total()}
	}
	r.counters.queries.Add(1)

	cluster := assignCluster(vec, snap.Centroids())

	pool, err := retrieve(snap, cluster)
	method := domain.MethodCluster
	if err != nil {
		if r.cfg.Fallback == FallbackUnassignedOnly && cluster != domain.Unassigned {
			// Policy keeps the empty cluster-mode result instead of
			// widening to the whole catalog.
			pool = nil
		} else {
			// Control signal, not a failure: rank the whole catalog
			// instead.
			r.counters.fallbacks.Add(1)
			method = domain.MethodSimilarity
			pool = allOrdinals(snap)
		}
	}

	ranked, poolSize := r.rank(vec, snap, pool, queryID)

	result := r.assemble(ctx, queryID, cluster, method, ranked)
	result.TotalCandidates = poolSize
	return result, nil
}

// assignCluster maps the query vector to its nearest centroid by Euclidean
// distance, the metric the centroids were fit with. Centroids arrive sorted
// ascending by cluster id and the comparison is strict, so distance ties
// resolve to the lowest id. No centroids means unassigned.
func assignCluster(vec domain.FeatureVector, centroids []domain.Centroid) int {
	assigned := domain.Unassigned
	minDist := math.Inf(1)
	for _, c := range centroids {
		d := domain.EuclideanDistance(vec, c.Vector)
		if d < minDist {
			minDist = d
			assigned = c.Cluster
		}
	}
	return assigned
}

// retrieve returns the ordinals of the cluster's current members, or
// domain.ErrNoCandidates when the cluster is unassigned or empty.
func retrieve(snap *Snapshot, cluster int) ([]int, error) {
	if cluster == domain.Unassigned {
		return nil, domain.ErrNoCandidates
	}
	members := snap.ClusterMembers(cluster)
	if len(members) == 0 {
		return nil, domain.ErrNoCandidates
	}
	return members, nil
}

func allOrdinals(snap *Snapshot) []int {
	out := make([]int, snap.Len())
	for i := range out {
		out[i] = i
	}
	return out
}

type scored struct {
	ordinal int
	score   float64
}

// rank scores the pool against the query vector, excludes the query track
// itself, and returns every candidate in descending score. Ties keep
// catalog insertion order (the pool arrives ordered and the sort is
// stable), so identical inputs always produce identical output. Truncation
// to K happens in assemble, after dedup, so dropped duplicates backfill
// from the ranking. Returns the ranked list and the pool size after
// self-exclusion.
func (r *Recommender) rank(vec domain.FeatureVector, snap *Snapshot, pool []int, selfID string) ([]domain.ScoredTrack, int) {
	q := vec
	if r.cfg.Normalize {
		q = domain.Normalize(q)
	}

	floor := 0.0
	if r.cfg.Metric == MetricCosine {
		floor = -1.0
	}

	candidates := make([]scored, 0, len(pool))
	for _, ord := range pool {
		t := snap.Track(ord)
		if t.ID == selfID {
			continue
		}
		tv := t.Vector
		if r.cfg.Normalize {
			tv = domain.Normalize(tv)
		}
		var score float64
		switch r.cfg.Metric {
		case MetricEuclidean:
			score = 1.0 / (1.0 + domain.EuclideanDistance(q, tv))
		default:
			score = domain.CosineSimilarity(q, tv)
		}
		// A NaN anywhere in either vector poisons the score; rank it last
		// instead of letting it float unpredictably.
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = floor
		}
		candidates = append(candidates, scored{ordinal: ord, score: score})
	}

	poolSize := len(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := make([]domain.ScoredTrack, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.ScoredTrack{TrackID: snap.Track(c.ordinal).ID, Score: c.score})
	}
	return out, poolSize
}

// assemble joins ranked ids against the metadata store and collects the
// top K. A missing entry is a counted gap, never a failure: the
// recommendation ships with nil metadata. Duplicate perma URLs are skipped
// so mirrored catalog entries do not crowd the list, and the next ranked
// candidate takes the slot.
func (r *Recommender) assemble(ctx context.Context, queryID string, cluster int, method domain.Method, ranked []domain.ScoredTrack) domain.RecommendationResult {
	result := domain.RecommendationResult{
		QueryID: queryID,
		Method:  method,
	}
	if cluster != domain.Unassigned {
		c := cluster
		result.ClusterID = &c
	}

	seenURLs := make(map[string]struct{}, r.cfg.TopK)
	for _, st := range ranked {
		if len(result.Recommendations) == r.cfg.TopK {
			break
		}
		if r.meta != nil {
			meta, err := r.meta.Lookup(ctx, st.TrackID)
			switch {
			case err == nil:
				if meta.PermaURL != "" {
					if _, dup := seenURLs[meta.PermaURL]; dup {
						continue
					}
					seenURLs[meta.PermaURL] = struct{}{}
				}
				m := meta
				st.Meta = &m
			case errors.Is(err, domain.ErrNotFound):
				r.counters.metadataGaps.Add(1)
			default:
				// Store errors beyond a plain miss still only cost metadata.
				r.counters.metadataGaps.Add(1)
			}
		}
		result.Recommendations = append(result.Recommendations, st)
	}
	return result
}

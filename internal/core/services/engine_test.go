package services

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/resona-audio/resona/internal/core/domain"
)

// testLayout keeps vectors short: 2 + 2 + 1 + 1 = 6 dims.
var testLayout = domain.VectorLayout{Traditional: 2, Embedding: 2, Instrument: 1, Scalars: 1}

func vec(x, y float32) domain.FeatureVector {
	return domain.FeatureVector{x, y, 0, 0, 0, 0}
}

type stubMeta struct {
	entries map[string]domain.Metadata
}

func (s *stubMeta) Lookup(ctx context.Context, songID string) (domain.Metadata, error) {
	if m, ok := s.entries[songID]; ok {
		return m, nil
	}
	return domain.Metadata{}, domain.ErrNotFound
}

func newTestEngine(t *testing.T, tracks []domain.Track, centroids []domain.Centroid, meta *stubMeta, cfg Config) *Recommender {
	t.Helper()
	snap, err := NewSnapshot(tracks, centroids)
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	cfg.Layout = testLayout
	return NewRecommender(NewSnapshotHolder(snap), meta, nil, nil, cfg)
}

func recIDs(res domain.RecommendationResult) []string {
	ids := make([]string, 0, len(res.Recommendations))
	for _, r := range res.Recommendations {
		ids = append(ids, r.TrackID)
	}
	return ids
}

func TestAssignCluster(t *testing.T) {
	tests := []struct {
		name      string
		centroids []domain.Centroid
		query     domain.FeatureVector
		want      int
	}{
		{
			name: "nearest centroid wins",
			centroids: []domain.Centroid{
				{Cluster: 0, Vector: vec(0, 0)},
				{Cluster: 1, Vector: vec(10, 0)},
			},
			query: vec(9, 0),
			want:  1,
		},
		{
			name: "equidistant ties resolve to lowest id",
			centroids: []domain.Centroid{
				{Cluster: 3, Vector: vec(-1, 0)},
				{Cluster: 7, Vector: vec(1, 0)},
			},
			query: vec(0, 0),
			want:  3,
		},
		{
			name:      "no centroids means unassigned",
			centroids: nil,
			query:     vec(1, 1),
			want:      domain.Unassigned,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap, err := NewSnapshot(nil, tc.centroids)
			if err != nil {
				t.Fatalf("build snapshot: %v", err)
			}
			got := assignCluster(tc.query, snap.Centroids())
			if got != tc.want {
				t.Fatalf("expected cluster %d, got %d", tc.want, got)
			}
			// Same inputs must keep producing the same assignment.
			if again := assignCluster(tc.query, snap.Centroids()); again != got {
				t.Fatalf("assignment not deterministic: %d then %d", got, again)
			}
		})
	}
}

func TestRecommend_ClusterMode(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.5, 0.5), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(0.8, 0.2)}}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Method != domain.MethodCluster {
		t.Fatalf("expected cluster method, got %s", res.Method)
	}
	if res.ClusterID == nil || *res.ClusterID != 0 {
		t.Fatalf("expected cluster id 0, got %v", res.ClusterID)
	}
	if got := recIDs(res); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("expected [B C], got %v", got)
	}
	if res.TotalCandidates != 2 {
		t.Fatalf("expected 2 candidates after self-exclusion, got %d", res.TotalCandidates)
	}
	for _, r := range res.Recommendations {
		if r.TrackID == "A" {
			t.Fatal("query track leaked into its own recommendations")
		}
	}
}

func TestRecommend_FallbackOnEmptyCluster(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.5, 0.5), Cluster: 0},
	}
	// Cluster 5 exists in the centroid set but has no current members.
	centroids := []domain.Centroid{
		{Cluster: 0, Vector: vec(1, 0)},
		{Cluster: 5, Vector: vec(0, 10)},
	}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "query-x", vec(0, 9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Method != domain.MethodSimilarity {
		t.Fatalf("expected similarity method, got %s", res.Method)
	}
	if res.ClusterID == nil || *res.ClusterID != 5 {
		t.Fatalf("expected assigned cluster id 5 to survive fallback, got %v", res.ClusterID)
	}
	if res.TotalCandidates != 3 {
		t.Fatalf("expected whole catalog as pool, got %d", res.TotalCandidates)
	}
	if eng.Counters().Fallbacks != 1 {
		t.Fatalf("expected 1 counted fallback, got %d", eng.Counters().Fallbacks)
	}
}

func TestRecommend_FallbackPolicyUnassignedOnly(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
	}
	centroids := []domain.Centroid{
		{Cluster: 0, Vector: vec(1, 0)},
		{Cluster: 5, Vector: vec(0, 10)},
	}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10, Fallback: FallbackUnassignedOnly})

	res, err := eng.Recommend(context.Background(), "q", vec(0, 9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != domain.MethodCluster {
		t.Fatalf("expected empty cluster-mode result, got %s", res.Method)
	}
	if len(res.Recommendations) != 0 {
		t.Fatalf("expected no recommendations, got %v", recIDs(res))
	}
	if res.TotalCandidates != 0 {
		t.Fatalf("expected 0 candidates, got %d", res.TotalCandidates)
	}
	if eng.Counters().Fallbacks != 0 {
		t.Fatalf("policy must suppress the fallback, counted %d", eng.Counters().Fallbacks)
	}
}

func TestRecommend_NoCentroids(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: domain.Unassigned},
		{ID: "B", Vector: vec(0, 1), Cluster: domain.Unassigned},
	}
	eng := newTestEngine(t, tracks, nil, &stubMeta{}, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "q", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ClusterID != nil {
		t.Fatalf("expected null cluster id, got %v", *res.ClusterID)
	}
	if res.Method != domain.MethodSimilarity {
		t.Fatalf("expected similarity method, got %s", res.Method)
	}
	if len(res.Recommendations) != 2 {
		t.Fatalf("expected both tracks, got %v", recIDs(res))
	}
}

func TestRecommend_SelfExclusionInFallback(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: domain.Unassigned},
		{ID: "B", Vector: vec(0.5, 0.5), Cluster: domain.Unassigned},
	}
	eng := newTestEngine(t, tracks, nil, &stubMeta{}, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := recIDs(res); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("expected only [B], got %v", got)
	}
}

func TestRecommend_TopKTruncation(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.8, 0.2), Cluster: 0},
		{ID: "D", Vector: vec(0.7, 0.3), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}

	t.Run("truncates to K", func(t *testing.T) {
		eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 2})
		res, err := eng.Recommend(context.Background(), "q", vec(1, 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Recommendations) != 2 {
			t.Fatalf("expected 2 recommendations, got %d", len(res.Recommendations))
		}
		// Truncation must not hide the true pool size.
		if res.TotalCandidates != 4 {
			t.Fatalf("expected 4 candidates, got %d", res.TotalCandidates)
		}
	})

	t.Run("keeps everything when fewer than K", func(t *testing.T) {
		eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10})
		res, err := eng.Recommend(context.Background(), "q", vec(1, 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Recommendations) != 4 {
			t.Fatalf("expected all 4 recommendations, got %d", len(res.Recommendations))
		}
	})
}

func TestRecommend_MetadataGap(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.5, 0.5), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	meta := &stubMeta{entries: map[string]domain.Metadata{
		"B": {SongID: "B", Title: "Song B", PermaURL: "https://songs.test/b"},
	}}
	eng := newTestEngine(t, tracks, centroids, meta, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Recommendations) != 2 {
		t.Fatalf("gap must not drop the recommendation, got %v", recIDs(res))
	}
	byID := map[string]domain.ScoredTrack{}
	for _, r := range res.Recommendations {
		byID[r.TrackID] = r
	}
	if byID["B"].Meta == nil || byID["B"].Meta.Title != "Song B" {
		t.Fatalf("expected metadata for B, got %+v", byID["B"].Meta)
	}
	if byID["C"].Meta != nil {
		t.Fatalf("expected nil metadata for C, got %+v", byID["C"].Meta)
	}
	if res.TotalCandidates != 2 {
		t.Fatalf("metadata gap must not change total candidates, got %d", res.TotalCandidates)
	}
	if eng.Counters().MetadataGaps != 1 {
		t.Fatalf("expected 1 counted gap, got %d", eng.Counters().MetadataGaps)
	}
}

func TestRecommend_DuplicatePermaURL(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.5, 0.5), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	meta := &stubMeta{entries: map[string]domain.Metadata{
		"B": {SongID: "B", PermaURL: "https://songs.test/same"},
		"C": {SongID: "C", PermaURL: "https://songs.test/same"},
	}}
	eng := newTestEngine(t, tracks, centroids, meta, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := recIDs(res); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("expected the mirrored entry dropped, got %v", got)
	}
}

func TestRecommend_DuplicatePermaURLBackfillsToK(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.8, 0.2), Cluster: 0},
		{ID: "D", Vector: vec(0.7, 0.3), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	// B and C are mirrored; with K=2 the dropped C must not shrink the
	// output while D is still available.
	meta := &stubMeta{entries: map[string]domain.Metadata{
		"B": {SongID: "B", PermaURL: "https://songs.test/same"},
		"C": {SongID: "C", PermaURL: "https://songs.test/same"},
		"D": {SongID: "D", PermaURL: "https://songs.test/d"},
	}}
	eng := newTestEngine(t, tracks, centroids, meta, Config{TopK: 2})

	res, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := recIDs(res); !reflect.DeepEqual(got, []string{"B", "D"}) {
		t.Fatalf("expected the next ranked track to backfill, got %v", got)
	}
	if res.TotalCandidates != 3 {
		t.Fatalf("expected 3 candidates, got %d", res.TotalCandidates)
	}
}

func TestRecommend_DimensionMismatch(t *testing.T) {
	tracks := []domain.Track{{ID: "A", Vector: vec(1, 0), Cluster: 0}}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10})

	_, err := eng.Recommend(context.Background(), "q", domain.FeatureVector{1, 2, 3})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if eng.Counters().Failures != 1 {
		t.Fatalf("expected 1 counted failure, got %d", eng.Counters().Failures)
	}
}

func TestRecommend_SnapshotLayoutMismatch(t *testing.T) {
	// Artifacts three wide, engine layout six wide. The query itself is
	// well formed, so the snapshot check is what has to catch this.
	tracks := []domain.Track{{ID: "A", Vector: domain.FeatureVector{1, 0, 0}, Cluster: 0}}
	centroids := []domain.Centroid{{Cluster: 0, Vector: domain.FeatureVector{1, 0, 0}}}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10})

	_, err := eng.Recommend(context.Background(), "q", vec(1, 0))
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if eng.Counters().Failures != 1 {
		t.Fatalf("expected 1 counted failure, got %d", eng.Counters().Failures)
	}
}

func TestRecommend_NaNVectorRankedLast(t *testing.T) {
	nan := float32(math.NaN())
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "broken", Vector: domain.FeatureVector{nan, nan, 0, 0, 0, 0}, Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10})

	res, err := eng.Recommend(context.Background(), "q", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := recIDs(res)
	if got[len(got)-1] != "broken" {
		t.Fatalf("expected the NaN vector ranked last, got %v", got)
	}
	for _, r := range res.Recommendations {
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			t.Fatalf("non-finite score leaked into output: %v", r.Score)
		}
	}
}

func TestRecommend_Idempotent(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "B", Vector: vec(0.9, 0.1), Cluster: 0},
		{ID: "C", Vector: vec(0.9, 0.1), Cluster: 0}, // exact tie with B
		{ID: "D", Vector: vec(0.5, 0.5), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 3})

	first, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different output:\n%+v\n%+v", first, second)
	}
	// Tied scores keep catalog insertion order.
	if got := recIDs(first); !reflect.DeepEqual(got, []string{"B", "C", "D"}) {
		t.Fatalf("expected [B C D], got %v", got)
	}
}

func TestRecommend_EuclideanMetric(t *testing.T) {
	tracks := []domain.Track{
		{ID: "A", Vector: vec(1, 0), Cluster: 0},
		{ID: "far", Vector: vec(100, 0), Cluster: 0},
		{ID: "near", Vector: vec(2, 0), Cluster: 0},
	}
	centroids := []domain.Centroid{{Cluster: 0, Vector: vec(1, 0)}}
	eng := newTestEngine(t, tracks, centroids, &stubMeta{}, Config{TopK: 10, Metric: MetricEuclidean})

	res, err := eng.Recommend(context.Background(), "A", vec(1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := recIDs(res); !reflect.DeepEqual(got, []string{"near", "far"}) {
		t.Fatalf("expected [near far], got %v", got)
	}
	// 1/(1+d) keeps scores in (0, 1].
	for _, r := range res.Recommendations {
		if r.Score <= 0 || r.Score > 1 {
			t.Fatalf("score out of range for %s: %v", r.TrackID, r.Score)
		}
	}
}

package services

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/resona-audio/resona/internal/core/domain"
)

// Snapshot is an immutable view of the catalog and centroid artifacts.
// Queries read a single snapshot end to end, so a hot reload can never tear
// catalog and centroids apart. Build a new one and swap it via
// SnapshotHolder; never mutate in place.
type Snapshot struct {
	tracks    []domain.Track
	byID      map[string]int
	clusters  map[int]*roaring.Bitmap
	centroids []domain.Centroid // ascending by cluster id
	dim       int               // uniform vector length, -1 when empty
}

// NewSnapshot indexes the artifacts: tracks keep their catalog insertion
// order (ranking tie-break depends on it), cluster membership becomes a
// roaring bitmap over track ordinals, centroids are sorted by cluster id so
// assignment ties resolve to the lowest id.
func NewSnapshot(tracks []domain.Track, centroids []domain.Centroid) (*Snapshot, error) {
	s := &Snapshot{
		tracks:    make([]domain.Track, len(tracks)),
		byID:      make(map[string]int, len(tracks)),
		clusters:  make(map[int]*roaring.Bitmap),
		centroids: make([]domain.Centroid, len(centroids)),
	}
	copy(s.tracks, tracks)
	copy(s.centroids, centroids)

	dim := -1
	for i, t := range s.tracks {
		if _, dup := s.byID[t.ID]; dup {
			return nil, fmt.Errorf("snapshot: duplicate track id %q", t.ID)
		}
		s.byID[t.ID] = i
		if dim == -1 {
			dim = len(t.Vector)
		} else if len(t.Vector) != dim {
			return nil, domain.DimensionMismatchError{Block: "catalog", Got: len(t.Vector), Want: dim}
		}
		if t.Cluster != domain.Unassigned {
			bm, ok := s.clusters[t.Cluster]
			if !ok {
				bm = roaring.New()
				s.clusters[t.Cluster] = bm
			}
			bm.Add(uint32(i))
		}
	}

	for _, c := range s.centroids {
		if dim == -1 {
			dim = len(c.Vector)
		} else if len(c.Vector) != dim {
			return nil, domain.DimensionMismatchError{Block: "centroid", Got: len(c.Vector), Want: dim}
		}
	}
	sort.Slice(s.centroids, func(i, j int) bool {
		return s.centroids[i].Cluster < s.centroids[j].Cluster
	})
	s.dim = dim

	return s, nil
}

// Dim is the uniform vector length of the artifacts, or -1 when the
// snapshot holds neither tracks nor centroids.
func (s *Snapshot) Dim() int {
	return s.dim
}

// Len is the catalog size.
func (s *Snapshot) Len() int {
	return len(s.tracks)
}

// Track returns the catalog entry at ordinal i.
func (s *Snapshot) Track(i int) domain.Track {
	return s.tracks[i]
}

// Centroids returns the centroid set, ascending by cluster id.
func (s *Snapshot) Centroids() []domain.Centroid {
	return s.centroids
}

// ClusterMembers returns the ordinals of every track in the given cluster,
// in catalog insertion order. Unassigned and unknown clusters yield nil.
func (s *Snapshot) ClusterMembers(cluster int) []int {
	bm, ok := s.clusters[cluster]
	if !ok || cluster == domain.Unassigned {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// SnapshotHolder publishes the current snapshot. Swap is atomic so in-flight
// queries keep the snapshot they started with.
type SnapshotHolder struct {
	p atomic.Pointer[Snapshot]
}

// NewSnapshotHolder seeds a holder with an initial snapshot.
func NewSnapshotHolder(s *Snapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.p.Store(s)
	return h
}

// Current returns the active snapshot.
func (h *SnapshotHolder) Current() *Snapshot {
	return h.p.Load()
}

// Swap publishes a new snapshot.
func (h *SnapshotHolder) Swap(s *Snapshot) {
	h.p.Store(s)
}

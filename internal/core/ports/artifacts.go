package ports

import (
	"context"

	"github.com/resona-audio/resona/internal/core/domain"
)

// ArtifactSource loads the pre-trained catalog and centroid artifacts.
// Loads return fresh, immutable data; hot reload is done by building a new
// snapshot from a fresh Load and swapping it in atomically.
type ArtifactSource interface {
	Load(ctx context.Context) (tracks []domain.Track, centroids []domain.Centroid, err error)
}

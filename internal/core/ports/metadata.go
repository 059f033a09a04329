package ports

import (
	"context"

	"github.com/resona-audio/resona/internal/core/domain"
)

// MetadataStore resolves track ids to descriptive metadata. A miss returns
// domain.ErrNotFound; the engine treats it as a counted, non-fatal gap.
type MetadataStore interface {
	Lookup(ctx context.Context, songID string) (domain.Metadata, error)
}

package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/resona-audio/resona/internal/core/domain"
)

// ErrExtractionFailed indicates the raw-feature extractor could not process
// an audio file.
var ErrExtractionFailed = errors.New("extraction failed")

// ExtractionError provides context for a failed extraction. The query that
// triggered it fails with no partial result; other queries in a batch are
// unaffected.
type ExtractionError struct {
	Path string
	Err  error
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %q: %v", e.Path, e.Err)
}

func (e ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

func (e ExtractionError) Unwrap() error {
	return e.Err
}

// FeatureExtractor is the external raw-feature extractor. Extraction is the
// only potentially slow step in a query; callers wrap the whole pipeline in
// a context timeout rather than cancelling mid-extraction.
type FeatureExtractor interface {
	Extract(ctx context.Context, audioPath string) (domain.RawFeatures, error)
}

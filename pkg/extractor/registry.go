package extractor

import (
	"context"
	"fmt"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
)

// Registry dispatches extraction by file type so new formats can be
// added without touching downstream components.
type Registry struct {
	extractors []types.Extractor
}

func NewRegistry(extractors ...types.Extractor) *Registry {
	if len(extractors) == 0 {
		extractors = []types.Extractor{NewPDFExtractor()}
	}
	return &Registry{extractors: extractors}
}

func (r *Registry) Supports(fileType string) bool {
	for _, x := range r.extractors {
		if x.Supports(fileType) {
			return true
		}
	}
	return false
}

// ExtractAs runs the first extractor that supports the given file type.
func (r *Registry) ExtractAs(ctx context.Context, fileType string, data []byte) ([]models.Page, error) {
	for _, x := range r.extractors {
		if x.Supports(fileType) {
			return x.Extract(ctx, data)
		}
	}
	return nil, &ExtractionError{
		FileType: fileType,
		Err:      fmt.Errorf("no extractor registered for file type %q", fileType),
	}
}

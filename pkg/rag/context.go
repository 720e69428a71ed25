package rag

import (
	"fmt"
	"strings"

	"github.com/xhad/sift/internal/models"
)

// Provenance locates a context passage in its source document.
type Provenance struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// BuildContext formats retrieval results into the prompt context. Each
// chunk gets a stable reference tag in ranking order, so "Context 0"
// is always the top-ranked chunk, and the returned map ties every tag
// back to its source file and page.
func BuildContext(results []models.SearchResult) (string, map[string]Provenance) {
	var sb strings.Builder
	provenance := make(map[string]Provenance, len(results))

	for i, r := range results {
		tag := fmt.Sprintf("Context %d", i)
		sb.WriteString(fmt.Sprintf("%s [relevance: %.2f]\n%s\n\n", tag, r.Score, r.Chunk.Text))
		provenance[tag] = Provenance{
			Source: r.SourceFile,
			Page:   r.Chunk.Page,
		}
	}

	return sb.String(), provenance
}

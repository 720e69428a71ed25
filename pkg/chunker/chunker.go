package chunker

import (
	"fmt"
	"strings"
)

// ChunkingError reports a splitter misconfiguration.
type ChunkingError struct {
	Message string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunker: %s", e.Message)
}

// DefaultSeparators is the split priority order: paragraph break, line
// break, sentence end, clause end, word boundary, hyphen, then a raw
// character cut as the last resort.
var DefaultSeparators = []string{"\n\n", "\n", ". ", ", ", " ", "-", ""}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// Chunker splits text into bounded segments. Each chunk after the first
// starts with the trailing ChunkOverlap characters of its predecessor,
// byte-identical, so consecutive chunks share context.
type Chunker struct {
	config Config
}

func NewWithConfig(config Config) (*Chunker, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 800
	}
	if config.ChunkSize < 0 {
		return nil, &ChunkingError{Message: "chunk size must be positive"}
	}
	if config.ChunkOverlap < 0 {
		return nil, &ChunkingError{Message: "chunk overlap cannot be negative"}
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, &ChunkingError{Message: "chunk overlap must be smaller than chunk size"}
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}

	return &Chunker{config: config}, nil
}

// Split produces the ordered chunk sequence for a text body. A text
// with no content yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	size := c.config.ChunkSize
	overlap := c.config.ChunkOverlap

	var chunks []string
	carry := ""
	pos := 0

	for pos < len(text) {
		end := pos + size
		cut := len(text)
		if end < len(text) {
			cut = c.findCut(text, pos, end)
		}

		chunk := carry + text[pos:cut]
		chunks = append(chunks, chunk)

		if overlap > 0 {
			carry = chunk
			if len(carry) > overlap {
				carry = carry[len(carry)-overlap:]
			}
		}
		pos = cut
	}

	return chunks
}

// findCut picks the split point in (pos, end], breaking after the last
// occurrence of the highest-priority separator inside the window. The
// empty-string separator means a raw cut at the size boundary.
func (c *Chunker) findCut(text string, pos, end int) int {
	window := text[pos:end]

	for _, sep := range c.config.Separators {
		if sep == "" {
			break
		}
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return pos + idx + len(sep)
		}
	}

	return end
}

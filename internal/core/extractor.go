package core

import (
	"context"

	"github.com/markdave123-py/docuiq/internal/models"
)

// ExtractedText is the normalized text of one artifact. Pages is set for
// paginated formats when per-page extraction produced text.
type ExtractedText struct {
	Pages []models.PageText
	Text  string
}

// Empty reports whether nothing usable was extracted.
func (e ExtractedText) Empty() bool {
	if e.Text != "" {
		return false
	}
	for _, p := range e.Pages {
		if p.Text != "" {
			return false
		}
	}
	return true
}

// DocumentExtractor turns raw bytes into text. Extraction problems degrade
// to empty text rather than failing.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType, filename string) ExtractedText
}

package ingestion_engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

func TestExtractPlainText(t *testing.T) {
	ex := NewTextExtractor(logger.Nop())

	out := ex.Extract(context.Background(), []byte("caf\xffe notes"), "text/plain; charset=utf-8", "notes.txt")
	assert.Empty(t, out.Pages)
	assert.Equal(t, "cafe notes", out.Text)

	assert.True(t, ex.Extract(context.Background(), nil, "text/plain", "empty.txt").Empty())
}

func TestExtractHTMLKeepsArticleText(t *testing.T) {
	para := strings.Repeat("The finance team reported that quarterly revenue grew by twelve percent. ", 12)
	page := `<html><head><title>Report</title><script>var tracking = 1;</script></head><body>
<nav><a href="/">Home</a></nav>
<article><h1>Quarterly report</h1><p>` + para + `</p><p>` + para + `</p></article>
</body></html>`

	out := NewTextExtractor(logger.Nop()).Extract(context.Background(), []byte(page), "", "report.html")
	assert.Contains(t, out.Text, "quarterly revenue grew by twelve percent")
	assert.NotContains(t, out.Text, "<p>")
	assert.NotContains(t, out.Text, "var tracking")
}

func TestNormalizeContentType(t *testing.T) {
	tests := []struct {
		ct, file, want string
	}{
		{"text/HTML; charset=utf-8", "x.bin", "text/html"},
		{"", "Report.PDF", "application/pdf"},
		{"application/octet-stream", "doc.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"", "notes.md", "text/plain"},
		{"", "blob", "application/octet-stream"},
		{"application/octet-stream", "blob", "application/octet-stream"},
		{"garbage;;", "page.htm", "text/html"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeContentType(tt.ct, tt.file), "%q %q", tt.ct, tt.file)
	}
}

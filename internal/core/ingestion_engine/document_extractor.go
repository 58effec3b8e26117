package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

var _ core.DocumentExtractor = (*TextExtractor)(nil)

// TextExtractor implements core.DocumentExtractor. PDFs are read page by
// page, HTML through readability, office formats through docconv, and
// anything else is decoded as best-effort UTF-8.
type TextExtractor struct {
	log *logger.Logger
}

func NewTextExtractor(log *logger.Logger) *TextExtractor {
	return &TextExtractor{log: log}
}

// office mimes docconv can convert without external tools.
var officeTypes = map[string]bool{
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/rtf":                                                           true,
	"text/rtf":                                                                  true,
	"application/xml":                                                           true,
	"text/xml":                                                                  true,
}

func (e *TextExtractor) Extract(ctx context.Context, data []byte, contentType, filename string) core.ExtractedText {
	if len(data) == 0 {
		return core.ExtractedText{}
	}
	mt := NormalizeContentType(contentType, filename)

	switch {
	case mt == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")):
		pages, err := pdfPages(data)
		if err != nil {
			e.log.Warn("pdf page extraction failed", "file", filename, "err", err)
		}
		out := core.ExtractedText{Pages: pages}
		if out.Empty() {
			out = core.ExtractedText{Text: e.docconv(data, "application/pdf", filename)}
		}
		return out
	case mt == "text/html" || mt == "application/xhtml+xml":
		if text := readableText(data, ""); text != "" {
			return core.ExtractedText{Text: text}
		}
	case officeTypes[mt]:
		if text := e.docconv(data, mt, filename); text != "" {
			return core.ExtractedText{Text: text}
		}
	}
	return core.ExtractedText{Text: strings.ToValidUTF8(string(data), "")}
}

func (e *TextExtractor) docconv(data []byte, mimeType, filename string) string {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, true)
	if err != nil {
		e.log.Warn("docconv extraction failed", "file", filename, "mime", mimeType, "err", err)
		return ""
	}
	return strings.TrimSpace(res.Body)
}

// pdfPages returns the non-empty pages of a PDF, 1-based. The parser
// panics on some malformed files; that is reported as an error.
func pdfPages(data []byte) (pages []models.PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: pdf parser panic: %v", core.ErrContent, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: pdf reader: %v", core.ErrContent, err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, models.PageText{Page: i, Text: text})
		}
	}
	return pages, nil
}

// readableText returns the article text of an HTML page, or "".
func readableText(data []byte, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	article, err := readability.FromReader(bytes.NewReader(data), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

// NormalizeContentType strips parameters from contentType and falls back
// to the file extension when it is missing or generic.
func NormalizeContentType(contentType, filename string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = ""
	}
	mt = strings.ToLower(mt)
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".doc":
		return "application/msword"
	case ".odt":
		return "application/vnd.oasis.opendocument.text"
	case ".rtf":
		return "application/rtf"
	case ".md", ".txt", ".csv":
		return "text/plain"
	}
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}

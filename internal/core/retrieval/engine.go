package retrieval

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/core/chunker"
	"github.com/markdave123-py/docuiq/internal/core/metrics"
	"github.com/markdave123-py/docuiq/internal/models"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

const (
	DefaultTopK  = 5
	MaxTopK      = 10
	embedWorkers = 4
)

type EngineConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	SnippetLimit     int
	CitationFallback int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunker.DefaultSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = chunker.DefaultOverlap
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 16
	}
	if c.SnippetLimit <= 0 {
		c.SnippetLimit = DefaultSnippetLimit
	}
	if c.CitationFallback <= 0 {
		c.CitationFallback = DefaultCitationFallback
	}
	return c
}

// Engine indexes documents into a VectorStore and answers questions
// grounded in what it retrieves.
type Engine struct {
	store     core.VectorStore
	embedder  core.Embedder
	queries   core.Embedder
	generator core.Generator
	cfg       EngineConfig
	metrics   *metrics.Metrics
	log       *logger.Logger
}

type EngineOption func(*Engine)

// WithQueryEmbedder embeds questions through e, typically a cache in
// front of the document embedder.
func WithQueryEmbedder(e core.Embedder) EngineOption {
	return func(en *Engine) { en.queries = e }
}

func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(en *Engine) { en.metrics = m }
}

func NewEngine(store core.VectorStore, embedder core.Embedder, generator core.Generator, cfg EngineConfig, log *logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		embedder:  embedder,
		queries:   embedder,
		generator: generator,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type pendingChunk struct {
	id      string
	content string
	meta    map[string]any
}

// IndexDocument chunks, embeds and stores a document, replacing whatever
// was indexed under the same document id. Failed embedding batches are
// counted; the call only fails when every batch fails.
func (e *Engine) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		return nil, core.Validation("missing_document_id", "document_id is required")
	}
	if !req.hasContent() {
		return nil, core.Validation("no_content", "one of text, pages or fragments is required")
	}
	req.DocumentID = docID

	chunks := e.split(req)
	if len(chunks) == 0 {
		if _, err := e.store.DeleteByDocumentID(ctx, docID); err != nil {
			return nil, fmt.Errorf("clear document %s: %w", docID, err)
		}
		return &IndexResult{OK: true}, nil
	}

	records, failed, err := e.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.ReplaceDocument(ctx, docID, records); err != nil {
		return nil, fmt.Errorf("replace chunks of %s: %w", docID, err)
	}

	e.log.Info("document indexed", "document_id", docID, "chunks", len(records), "failed", failed)
	return &IndexResult{OK: true, Chunks: len(records), Failed: failed}, nil
}

func (e *Engine) split(req IndexRequest) []pendingChunk {
	base := models.CloneMap(req.Metadata)
	if base == nil {
		base = make(map[string]any)
	}
	base["document_id"] = req.DocumentID
	base["title"] = req.Title
	if req.OriginURL != "" {
		base["origin_url"] = req.OriginURL
	}
	sourceType := req.SourceType
	if sourceType == "" {
		if len(req.Pages) > 0 {
			sourceType = SourcePDF
		} else {
			sourceType = SourceDocument
		}
	}
	base["source_type"] = NormalizeSourceType(sourceType)

	var out []pendingChunk
	add := func(prefix, text string, meta map[string]any) {
		i := 0
		for piece := range chunker.Chunk(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			m := models.CloneMap(meta)
			m["chunk"] = i
			m["chunk_id"] = prefix + ":c" + strconv.Itoa(i)
			out = append(out, pendingChunk{id: m["chunk_id"].(string), content: piece, meta: m})
			i++
		}
	}

	switch {
	case len(req.Fragments) > 0:
		for n, f := range req.Fragments {
			meta := f.metadata(base)
			if f.SourceType != "" {
				meta["source_type"] = NormalizeSourceType(f.SourceType)
			}
			add(fmt.Sprintf("%s:f%d", req.DocumentID, n), f.Text, meta)
		}
	case len(req.Pages) > 0:
		for _, p := range req.Pages {
			meta := models.CloneMap(base)
			meta["page"] = p.Page
			add(fmt.Sprintf("%s:p%d", req.DocumentID, p.Page), p.Text, meta)
		}
	default:
		add(req.DocumentID, req.Text, base)
	}
	return out
}

func (e *Engine) embedChunks(ctx context.Context, chunks []pendingChunk) ([]models.ChunkRecord, int, error) {
	size := e.cfg.EmbedBatchSize
	vectors := make([][]float32, len(chunks))

	var (
		mu       sync.Mutex
		failed   int
		batches  int
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batches++
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.content)
			}
			vecs, err := e.embedder.Embed(gctx, texts)
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			if err != nil {
				mu.Lock()
				failed += end - start
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				e.log.Warn("embedding batch failed", "from", start, "to", end, "err", err)
				return nil
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if failed == len(chunks) {
		return nil, 0, core.Upstream("embed_failed", fmt.Errorf("all %d embedding batches failed: %w", batches, firstErr))
	}

	records := make([]models.ChunkRecord, 0, len(chunks)-failed)
	for i, c := range chunks {
		if vectors[i] == nil {
			continue
		}
		records = append(records, models.ChunkRecord{
			ID:        RecordID(c.id),
			Content:   c.content,
			Metadata:  c.meta,
			Embedding: vectors[i],
		})
	}
	return records, failed, nil
}

// RecordID is the vector store key of a chunk id.
func RecordID(chunkID string) string {
	sum := sha1.Sum([]byte(chunkID))
	return hex.EncodeToString(sum[:])
}

// Unindex removes every chunk of a document.
func (e *Engine) Unindex(ctx context.Context, documentID string) (int, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return 0, core.Validation("missing_document_id", "document_id is required")
	}
	return e.store.DeleteByDocumentID(ctx, documentID)
}

func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	return e.store.ClearAll(ctx)
}

// Count is the number of stored chunks.
func (e *Engine) Count(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// Embed exposes the document embedder.
func (e *Engine) Embed(ctx context.Context, texts []string) (*EmbedResponse, error) {
	if len(texts) == 0 {
		return nil, core.Validation("no_texts", "texts must not be empty")
	}
	vecs, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, asUpstream("embed_failed", err)
	}
	return &EmbedResponse{Model: e.embedder.Model(), Vectors: vecs}, nil
}

// Ask answers a question from the indexed chunks.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		e.metrics.AskServed("empty")
		return emptyAnswer(), nil
	}
	k := min(max(req.TopK, 1), MaxTopK)

	vecs, err := e.queries.Embed(ctx, []string{q})
	if err != nil {
		e.metrics.AskServed("error")
		return nil, asUpstream("embed_failed", err)
	}
	if len(vecs) != 1 {
		e.metrics.AskServed("error")
		return nil, core.Upstream("embed_failed", fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs)))
	}

	matches, err := e.store.Query(ctx, vecs[0], k, req.Allow)
	if err != nil {
		e.metrics.AskServed("error")
		return nil, err
	}

	citations := BuildCitations(matches, k, Options{SnippetLimit: e.cfg.SnippetLimit})
	resp := emptyAnswer()
	if len(citations) == 0 {
		e.metrics.AskServed("no_matches")
		resp.Answer = NotFoundAnswer
		return resp, nil
	}

	raw, err := e.generator.Generate(ctx, SystemPrompt, UserPrompt(q, citations))
	if err != nil {
		e.metrics.AskServed("error")
		return nil, asUpstream("generation_failed", err)
	}
	out := ParseModelOutput(raw)
	if out.Answer == "" {
		out.Answer = NotFoundAnswer
	}

	used := Reconcile(citations, out.CitationsUsed, e.cfg.CitationFallback)
	resp.Answer = out.Answer
	resp.Citations = used
	for _, c := range used {
		resp.InlineRefs[c.ID] = c
	}
	if len(out.Bullets) > 0 {
		resp.Blocks = append(resp.Blocks, Block{Type: "bullets", Items: out.Bullets})
	}
	if out.Table != nil {
		resp.Blocks = append(resp.Blocks, Block{Type: "table", Columns: out.Table.Columns, Rows: out.Table.Rows})
	}
	if req.WithSources {
		resp.AllCitations = citations
	}
	e.metrics.AskServed("answered")
	return resp, nil
}

// asUpstream keeps configuration and validation errors as they are and
// classifies everything else as a transient upstream failure.
func asUpstream(code string, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.Upstream(code, err)
}

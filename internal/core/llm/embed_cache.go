package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/markdave123-py/docuiq/internal/core"
)

// WrapLRUCache puts an expiring LRU in front of e. A non-positive size or
// ttl disables caching and returns e unchanged.
func WrapLRUCache(e core.Embedder, size int, ttl time.Duration) core.Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  core.Embedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Model() string { return l.next.Model() }

// Embed serves cached vectors and forwards only the misses, in one call.
func (l *lruEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		if cached, ok := l.cache.Get(l.key(t)); ok {
			out[i] = cloneEmbedding(cached)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	res, err := l.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range res {
		if j >= len(missIdx) {
			break
		}
		out[missIdx[j]] = v
		l.cache.Add(l.key(missTexts[j]), cloneEmbedding(v))
	}
	return out, nil
}

func (l *lruEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return l.next.Model() + ":" + hex.EncodeToString(sum[:])
}

func cloneEmbedding(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

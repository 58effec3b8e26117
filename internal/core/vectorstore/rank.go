// Package vectorstore holds the persistent chunk index backends. Every
// backend ranks with the same brute-force cosine scan so results do not
// depend on the storage engine.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/markdave123-py/docuiq/internal/core"
	"github.com/markdave123-py/docuiq/internal/models"
)

// Cosine returns dot(a,b) / (|a|·|b|) with each norm floored at 1.0, so an
// all-zero vector scores 0 instead of dividing by zero. a and b must have
// the same length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return dot / (math.Max(math.Sqrt(na), 1.0) * math.Max(math.Sqrt(nb), 1.0))
}

// Rank scores every row against query and returns the best topK, highest
// first. Equal scores keep the order of rows.
func Rank(query []float32, rows []models.ChunkRecord, topK int) ([]models.Match, error) {
	if topK <= 0 || len(rows) == 0 {
		return nil, nil
	}
	out := make([]models.Match, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) != len(query) {
			return nil, fmt.Errorf("row %s has %d dimensions, query has %d: %w",
				r.ID, len(r.Embedding), len(query), core.ErrInvalidEmbeddingDimension)
		}
		out = append(out, models.Match{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    Cosine(query, r.Embedding),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 array", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

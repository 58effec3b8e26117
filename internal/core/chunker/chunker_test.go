package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reassemble drops the repeated prefix of every chunk after the first.
func reassemble(chunks []string, overlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i == 0 {
			sb.WriteString(c)
			continue
		}
		sb.WriteString(string([]rune(c)[overlap:]))
	}
	return sb.String()
}

func TestChunk(t *testing.T) {
	long := strings.Repeat("abcdefghij", 130) // 1300 runes
	unicode := strings.Repeat("żółw 🐢 ", 90)

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    int
	}{
		{name: "empty", text: "", size: 500, overlap: 50, want: 0},
		{name: "shorter than window", text: "hello world", size: 500, overlap: 50, want: 1},
		{name: "exact window", text: strings.Repeat("x", 500), size: 500, overlap: 50, want: 1},
		{name: "two windows", text: strings.Repeat("x", 501), size: 500, overlap: 50, want: 2},
		{name: "size floored", text: long, size: 10, overlap: 0, want: 7},
		{name: "overlap capped", text: long, size: 300, overlap: 1000, want: 6},
		{name: "negative overlap", text: long, size: 300, overlap: -5, want: 5},
		{name: "multibyte", text: unicode, size: 200, overlap: 20, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Collect(tt.text, tt.size, tt.overlap)
			require.Len(t, chunks, tt.want)

			limit := max(MinSize, tt.size)
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), limit)
			}
			assert.Equal(t, tt.text, reassemble(chunks, EffectiveOverlap(tt.size, tt.overlap)))
		})
	}
}

func TestChunkOverlapRepeatsTail(t *testing.T) {
	text := strings.Repeat("0123456789", 50)
	chunks := Collect(text, 200, 30)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		assert.Equal(t, string(prev[len(prev)-30:]), string([]rune(chunks[i])[:30]))
	}
}

func TestChunkIsRestartableAndDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	seq := Chunk(text, 250, 40)

	var first, second []string
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, first, Collect(text, 250, 40))
}

func TestChunkStopsEarly(t *testing.T) {
	text := strings.Repeat("y", 2000)
	n := 0
	for range Chunk(text, 200, 0) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

// Package chunker splits text into overlapping fixed-size windows.
package chunker

import (
	"iter"
	"slices"
)

const (
	// MinSize is the floor applied to the requested window size.
	MinSize = 200

	DefaultSize    = 1200
	DefaultOverlap = 200
)

// Chunk walks text left to right in windows of max(MinSize, size) runes,
// repeating overlap runes (capped at a third of the window) between
// consecutive windows. The last window may be shorter. The sequence can be
// ranged over any number of times and always yields the same chunks.
func Chunk(text string, size, overlap int) iter.Seq[string] {
	n := max(MinSize, size)
	o := max(0, min(overlap, n/3))

	return func(yield func(string) bool) {
		runes := []rune(text)
		total := len(runes)
		for i := 0; i < total; {
			j := min(total, i+n)
			if !yield(string(runes[i:j])) {
				return
			}
			if j >= total {
				return
			}
			i = j - o
		}
	}
}

// Collect materializes Chunk.
func Collect(text string, size, overlap int) []string {
	return slices.Collect(Chunk(text, size, overlap))
}

// EffectiveOverlap is the overlap Chunk actually applies for the given arguments.
func EffectiveOverlap(size, overlap int) int {
	return max(0, min(overlap, max(MinSize, size)/3))
}

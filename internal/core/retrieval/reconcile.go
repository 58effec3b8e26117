package retrieval

// DefaultCitationFallback is how many top citations back an answer that cited nothing usable.
const DefaultCitationFallback = 3

// Reconcile maps the ids a model claims to have used back onto citations,
// in the model's order. Unknown and repeated ids are dropped. When nothing
// survives, the first fallbackN citations are returned instead.
func Reconcile(citations []Citation, used []string, fallbackN int) []Citation {
	byID := make(map[string]Citation, len(citations))
	for _, c := range citations {
		byID[c.ID] = c
	}
	out := make([]Citation, 0, len(used))
	seen := make(map[string]bool, len(used))
	for _, id := range used {
		c, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, c)
	}
	if len(out) > 0 {
		return out
	}
	if fallbackN <= 0 {
		fallbackN = DefaultCitationFallback
	}
	if fallbackN > len(citations) {
		fallbackN = len(citations)
	}
	return append(out, citations[:fallbackN]...)
}

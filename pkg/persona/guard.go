package persona

import "strings"

// Guard rejects generated output that reproduces indexed source
// material too closely. Similarity is token-set Jaccard overlap
// against each retrieved snippet.
type Guard struct {
	Threshold float64
}

func NewGuard(threshold float64) *Guard {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.80
	}
	return &Guard{Threshold: threshold}
}

// Check returns true when output is acceptable. The second return is
// the highest similarity observed, for logging.
func (g *Guard) Check(output string, snippets []string) (bool, float64) {
	outTokens := tokenSet(output)
	if len(outTokens) == 0 {
		return true, 0
	}

	var worst float64
	for _, snip := range snippets {
		sim := jaccard(outTokens, tokenSet(snip))
		if sim > worst {
			worst = sim
		}
	}
	return worst < g.Threshold, worst
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var inter int
	for tok := range small {
		if large[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

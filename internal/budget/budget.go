// Package budget trims match sets to a token budget in two phases:
// first reserve the best candidate of each need, then fill remaining
// room by similarity across all needs.
package budget

import (
	"encoding/json"
	"sort"

	"github.com/contex-io/contex/pkg/models"
)

// EstimateTokens approximates the token count of a match's content.
// Without a tokenizer the estimate is len(serialized)/4, minimum 1.
func EstimateTokens(m models.Match) int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	serialized, err := json.Marshal(m.Content)
	if err != nil {
		serialized = []byte(m.Description)
	}
	n := len(serialized) / 4
	if n < 1 {
		n = 1
	}
	return n
}

type candidate struct {
	needIdx int
	pos     int
	tokens  int
	match   models.Match
}

// Truncate returns a subset of matches whose total estimated tokens
// never exceeds budget. needs fixes the iteration order (map iteration
// is random); every need keeps its entry even when emptied.
//
// Phase A reserves each need's highest-similarity candidate that still
// fits. Phase B fills the rest by descending similarity across needs,
// ties broken by (need index, original position) for determinism.
func Truncate(needs []string, matches models.MatchSet, budget int) models.MatchSet {
	if budget <= 0 {
		return matches
	}

	var all []candidate
	total := 0
	for ni, need := range needs {
		for pos, m := range matches[need] {
			c := candidate{needIdx: ni, pos: pos, tokens: EstimateTokens(m), match: m}
			c.match.TokenCount = c.tokens
			all = append(all, c)
			total += c.tokens
		}
	}
	if total <= budget {
		return withTokenCounts(needs, matches)
	}

	admitted := make(map[[2]int]bool, len(all))
	used := 0

	// Phase A: one reservation per need, in input order.
	for ni, need := range needs {
		list := matches[need]
		if len(list) == 0 {
			continue
		}
		tokens := EstimateTokens(list[0])
		if used+tokens <= budget {
			admitted[[2]int{ni, 0}] = true
			used += tokens
		}
	}

	// Phase B: fill with the remaining candidates by similarity.
	remaining := make([]candidate, 0, len(all))
	for _, c := range all {
		if !admitted[[2]int{c.needIdx, c.pos}] {
			remaining = append(remaining, c)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		a, b := remaining[i], remaining[j]
		if a.match.Similarity != b.match.Similarity {
			return a.match.Similarity > b.match.Similarity
		}
		if a.needIdx != b.needIdx {
			return a.needIdx < b.needIdx
		}
		return a.pos < b.pos
	})
	for _, c := range remaining {
		if c.tokens <= budget-used {
			admitted[[2]int{c.needIdx, c.pos}] = true
			used += c.tokens
		}
	}

	// Rebuild per need, preserving each list's original order.
	out := make(models.MatchSet, len(needs))
	for ni, need := range needs {
		kept := []models.Match{}
		for pos, m := range matches[need] {
			if admitted[[2]int{ni, pos}] {
				m.TokenCount = EstimateTokens(m)
				kept = append(kept, m)
			}
		}
		out[need] = kept
	}
	return out
}

func withTokenCounts(needs []string, matches models.MatchSet) models.MatchSet {
	out := make(models.MatchSet, len(needs))
	for _, need := range needs {
		list := make([]models.Match, len(matches[need]))
		for i, m := range matches[need] {
			m.TokenCount = EstimateTokens(m)
			list[i] = m
		}
		out[need] = list
	}
	return out
}

// Total sums the estimated tokens of a match set.
func Total(matches models.MatchSet) int {
	total := 0
	for _, list := range matches {
		for _, m := range list {
			total += EstimateTokens(m)
		}
	}
	return total
}

package superagent

import (
	"sort"
	"strings"
	"time"
)

// rrfK is the rank-smoothing constant for reciprocal rank fusion.
const rrfK = 60

// sparseSearch scores items by keyword overlap with the query: the fraction
// of query terms present in the item's content. Zero-overlap items are
// dropped. Returns at most limit results, best first.
func sparseSearch(query string, items []MemoryItem, limit int) []MemoryResult {
	queryTerms := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(query)) {
		queryTerms[t] = true
	}
	if len(queryTerms) == 0 {
		return nil
	}

	var results []MemoryResult
	for _, item := range items {
		var overlap int
		seen := make(map[string]bool)
		for _, t := range strings.Fields(strings.ToLower(item.Content)) {
			if queryTerms[t] && !seen[t] {
				seen[t] = true
				overlap++
			}
		}
		if overlap > 0 {
			results = append(results, MemoryResult{
				Item:  item,
				Score: float64(overlap) / float64(len(queryTerms)),
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// fusedCandidate tracks one item's ranks across both result lists.
type fusedCandidate struct {
	item       MemoryItem
	denseRank  int
	sparseRank int
}

// fusionRank merges dense and sparse results by reciprocal rank, then adds
// temporal decay. An item missing from one list ranks just past its end.
// The fused score is
//
//	0.4/(60+denseRank) + 0.3/(60+sparseRank) + temporalWeight/(1+ageHours)
//
// Returns at most k contexts, best first.
func fusionRank(dense, sparse []MemoryResult, temporalWeight float64, k int, now time.Time) []RetrievedContext {
	candidates := make(map[string]*fusedCandidate)
	var order []string

	for i, res := range dense {
		id := res.Item.ID
		candidates[id] = &fusedCandidate{item: res.Item, denseRank: i, sparseRank: len(sparse)}
		order = append(order, id)
	}
	for i, res := range sparse {
		id := res.Item.ID
		if c, ok := candidates[id]; ok {
			c.sparseRank = i
			continue
		}
		candidates[id] = &fusedCandidate{item: res.Item, denseRank: len(dense), sparseRank: i}
		order = append(order, id)
	}

	contexts := make([]RetrievedContext, 0, len(order))
	for _, id := range order {
		c := candidates[id]
		denseRRF := 1.0 / float64(rrfK+c.denseRank)
		sparseRRF := 1.0 / float64(rrfK+c.sparseRank)
		ageHours := now.Sub(c.item.Timestamp).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		temporal := 1.0 / (1.0 + ageHours)
		contexts = append(contexts, RetrievedContext{
			Content:        c.item.Content,
			RelevanceScore: 0.4*denseRRF + 0.3*sparseRRF + temporalWeight*temporal,
			TemporalWeight: temporal,
			SourceType:     string(c.item.Type),
			Metadata:       c.item.Metadata,
		})
	}
	sort.SliceStable(contexts, func(i, j int) bool {
		return contexts[i].RelevanceScore > contexts[j].RelevanceScore
	})
	if len(contexts) > k {
		contexts = contexts[:k]
	}
	return contexts
}

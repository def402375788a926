package storage

import "sort"

// FusedCandidate is one row of the full outer join of both candidate sets
type FusedCandidate struct {
	ListingID     int64
	VectorScore   float64
	FTSScore      float64
	CombinedScore float64
}

// FuseCandidates full-outer-joins the vector and lexical candidate sets by listing ID.
// A side missing for a listing contributes 0 to its term:
//
//	combined = vectorScore*VectorWeight + ftsScore*FTSWeight
//
// Rows below MinScore are dropped; the rest are ordered by combined score
// (ties by listing ID) and truncated to Limit.
func FuseCandidates(vector []VectorResult, text []TextResult, opts HybridOptions) []FusedCandidate {
	opts = opts.withDefaults()

	byID := make(map[int64]*FusedCandidate, len(vector)+len(text))
	order := make([]int64, 0, len(vector)+len(text))

	get := func(id int64) *FusedCandidate {
		c, ok := byID[id]
		if !ok {
			c = &FusedCandidate{ListingID: id}
			byID[id] = c
			order = append(order, id)
		}
		return c
	}

	for _, v := range vector {
		get(v.ListingID).VectorScore = v.SimilarityScore
	}
	for _, t := range text {
		get(t.ListingID).FTSScore = t.Score
	}

	fused := make([]FusedCandidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.CombinedScore = c.VectorScore*opts.VectorWeight + c.FTSScore*opts.FTSWeight
		if c.CombinedScore < opts.MinScore {
			continue
		}
		fused = append(fused, *c)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].CombinedScore == fused[j].CombinedScore {
			return fused[i].ListingID < fused[j].ListingID
		}
		return fused[i].CombinedScore > fused[j].CombinedScore
	})

	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}
	return fused
}

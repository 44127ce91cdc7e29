package search

import (
	"sort"
	"strconv"
	"strings"
)

// fusedHit is one document's fused ranking state during RRF.
type fusedHit struct {
	id          string
	vectorRank  int // 1-based, 0 = absent
	keywordRank int // 1-based, 0 = absent
	score       float64
}

// reciprocalRankFusion combines the vector and keyword ranked id lists:
//
//	fused(d) = alpha * 1/(rrfK + rank_vec(d)) + (1-alpha) * 1/(rrfK + rank_kw(d))
//
// with an absent list contributing 0. Ties are broken by source id
// ascending, then by chunk ordinal, then by the full id.
func reciprocalRankFusion(vectorIDs, keywordIDs []string, alpha float64, rrfK int) []fusedHit {
	hits := make(map[string]*fusedHit)

	ensure := func(id string) *fusedHit {
		h, ok := hits[id]
		if !ok {
			h = &fusedHit{id: id}
			hits[id] = h
		}
		return h
	}

	for i, id := range vectorIDs {
		ensure(id).vectorRank = i + 1
	}
	for i, id := range keywordIDs {
		ensure(id).keywordRank = i + 1
	}

	out := make([]fusedHit, 0, len(hits))
	for _, h := range hits {
		if h.vectorRank > 0 {
			h.score += alpha / float64(rrfK+h.vectorRank)
		}
		if h.keywordRank > 0 {
			h.score += (1 - alpha) / float64(rrfK+h.keywordRank)
		}
		out = append(out, *h)
	}

	// ids have the form {source_type}:{source_id}:{chunk_ord}.
	tieKey := func(id string) (string, int) {
		first, last := strings.Index(id, ":"), strings.LastIndex(id, ":")
		if first < 0 || first == last {
			return id, 0
		}
		ord, _ := strconv.Atoi(id[last+1:])
		return id[first+1 : last], ord
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		si, oi := tieKey(out[i].id)
		sj, oj := tieKey(out[j].id)
		if si != sj {
			return si < sj
		}
		if oi != oj {
			return oi < oj
		}
		return out[i].id < out[j].id
	})

	return out
}

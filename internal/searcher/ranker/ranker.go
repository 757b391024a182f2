// Package ranker orders scored concepts. Ties on score are broken by
// document ID so result pages are stable across requests and shards.
package ranker

import (
	"sort"

	"github.com/conceptrank/conceptrank/internal/scoring"
)

type ScoredDoc struct {
	DocID       string             `json:"id"`
	Score       float64            `json:"score"`
	Explanation *scoring.Breakdown `json:"explanation,omitempty"`
}

// Better reports whether a ranks ahead of b.
func Better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Rank sorts docs in place and returns at most limit of them. A
// non-positive limit keeps all.
func Rank(docs []ScoredDoc, limit int) []ScoredDoc {
	sort.Slice(docs, func(i, j int) bool {
		return Better(docs[i], docs[j])
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// Package merger combines per-shard ranked lists into one global top-k.
package merger

import (
	"container/heap"
	"slices"

	"github.com/conceptrank/conceptrank/internal/searcher/ranker"
)

// Merge returns the best limit documents across lists in rank order. Lists
// are normally already ranked by their shard; unranked lists are sorted on
// a copy. A document ID in several lists is kept once, at its best rank.
func Merge(lists [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 {
		limit = 10
	}
	heads := make(cursors, 0, len(lists))
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		if !slices.IsSortedFunc(list, compare) {
			list = slices.SortedFunc(slices.Values(list), compare)
		}
		heads = append(heads, list)
	}
	heap.Init(&heads)

	out := make([]ranker.ScoredDoc, 0, limit)
	seen := make(map[string]bool, limit)
	for len(out) < limit && heads.Len() > 0 {
		doc := heads[0][0]
		if heads[0] = heads[0][1:]; len(heads[0]) == 0 {
			heap.Pop(&heads)
		} else {
			heap.Fix(&heads, 0)
		}
		if seen[doc.DocID] {
			continue
		}
		seen[doc.DocID] = true
		out = append(out, doc)
	}
	return out
}

func compare(a, b ranker.ScoredDoc) int {
	switch {
	case ranker.Better(a, b):
		return -1
	case ranker.Better(b, a):
		return 1
	}
	return 0
}

// cursors is a heap of non-empty ranked lists ordered by their head.
type cursors [][]ranker.ScoredDoc

func (c cursors) Len() int           { return len(c) }
func (c cursors) Less(i, j int) bool { return ranker.Better(c[i][0], c[j][0]) }
func (c cursors) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }
func (c *cursors) Push(x any)        { *c = append(*c, x.([]ranker.ScoredDoc)) }

func (c *cursors) Pop() any {
	old := *c
	last := old[len(old)-1]
	*c = old[:len(old)-1]
	return last
}

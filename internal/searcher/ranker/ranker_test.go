package ranker

import "testing"

func TestRankOrdersByScoreThenID(t *testing.T) {
	docs := []ScoredDoc{
		{DocID: "A3", Score: 1.5},
		{DocID: "A2", Score: 2.0},
		{DocID: "A1", Score: 1.5},
		{DocID: "A4", Score: 0},
	}
	got := Rank(docs, 0)
	want := []string{"A2", "A1", "A3", "A4"}
	for i, id := range want {
		if got[i].DocID != id {
			t.Fatalf("position %d = %s, want %s (%+v)", i, got[i].DocID, id, got)
		}
	}
}

func TestRankLimit(t *testing.T) {
	docs := []ScoredDoc{{DocID: "A", Score: 1}, {DocID: "B", Score: 3}, {DocID: "C", Score: 2}}
	got := Rank(docs, 2)
	if len(got) != 2 || got[0].DocID != "B" || got[1].DocID != "C" {
		t.Errorf("Rank(limit 2) = %+v", got)
	}
	if len(Rank(nil, 5)) != 0 {
		t.Error("empty input should stay empty")
	}
}

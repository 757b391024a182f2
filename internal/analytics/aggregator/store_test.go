package aggregator

import (
	"testing"

	"github.com/conceptrank/conceptrank/internal/analytics"
)

func TestChangedSkipsIdleSnapshots(t *testing.T) {
	s := NewStore(nil, 0)
	stats := analytics.AggregatedStats{TotalScores: 3, TotalIndexed: 10}
	if !s.changed(stats) {
		t.Fatal("first snapshot must be saved")
	}
	s.lastScores, s.lastIndexed, s.saved = 3, 10, true
	if s.changed(stats) {
		t.Error("unchanged totals should be skipped")
	}
	stats.TotalIndexed++
	if !s.changed(stats) {
		t.Error("new index events should be saved")
	}
}

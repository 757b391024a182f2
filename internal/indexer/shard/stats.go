package shard

import (
	"fmt"

	"github.com/conceptrank/conceptrank/internal/indexer"
)

// Statistics sums term statistics over a fixed set of shard engines.
type Statistics struct {
	engines []*indexer.Engine
}

func (s *Statistics) DocumentCount(field string) (int64, error) {
	var total int64
	for i, e := range s.engines {
		n, err := e.DocumentCount(field)
		if err != nil {
			return 0, fmt.Errorf("shard %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

func (s *Statistics) DocumentFrequency(field, term string) (int64, error) {
	var total int64
	for i, e := range s.engines {
		df, err := e.DocumentFrequency(field, term)
		if err != nil {
			return 0, fmt.Errorf("shard %d: %w", i, err)
		}
		total += df
	}
	return total, nil
}

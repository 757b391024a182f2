package scoring

import (
	"fmt"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// TermStatisticsProvider exposes corpus-wide statistics for a field. An
// error means the field (or term) cannot be resolved by the index; a term
// that is simply absent has a document frequency of 0.
type TermStatisticsProvider interface {
	// DocumentCount returns the number of documents indexed for field.
	DocumentCount(field string) (int64, error)
	// DocumentFrequency returns the number of documents whose field contains term.
	DocumentFrequency(field, term string) (int64, error)
}

// StaticStats is an in-memory TermStatisticsProvider built from fixed
// numbers. Fields not present in the map are reported as unknown.
type StaticStats map[string]FieldStats

// FieldStats is the fixture data for one field.
type FieldStats struct {
	DocCount int64
	DocFreq  map[string]int64
}

func (s StaticStats) DocumentCount(field string) (int64, error) {
	fs, ok := s[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	return fs.DocCount, nil
}

func (s StaticStats) DocumentFrequency(field, term string) (int64, error) {
	fs, ok := s[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	return fs.DocFreq[term], nil
}

package scoring

import (
	"fmt"
	"math"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// Scorer computes a document score from corpus statistics.
type Scorer interface {
	Score(stats TermStatisticsProvider) (float64, error)
}

// Explainer is implemented by scorers that can decompose a score per field.
type Explainer interface {
	Explain(stats TermStatisticsProvider) (Breakdown, error)
}

// Matcher is implemented by scorers that declare which field terms a
// document must contain to be a candidate.
type Matcher interface {
	Query() QuerySpec
}

// QuerySpec names the two fields and the resolved terms scored against them.
type QuerySpec struct {
	NgramsField string
	TextField   string
	NgramsTerms []string
	TextTerms   []string
}

// ScoreError is returned when the statistics provider fails for a field.
// The whole score computation is aborted.
type ScoreError struct {
	Field string
	Err   error
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("%s for field %q: %v", apperrors.ErrStatisticsUnavailable, e.Field, e.Err)
}

// Unwrap exposes both the sentinel and the provider's own error.
func (e *ScoreError) Unwrap() []error {
	return []error{apperrors.ErrStatisticsUnavailable, e.Err}
}

// Breakdown is the per-field decomposition of a score.
type Breakdown struct {
	NgramsScore float64 `json:"ngrams_score"`
	TextScore   float64 `json:"text_score"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	Score       float64 `json:"score"`
}

// BlendedDfScorer sums a smoothed inverse document frequency over each
// field's terms and blends the two sums with the configured weights. It holds
// no mutable state and may be shared between goroutines.
type BlendedDfScorer struct {
	query QuerySpec
	cfg   ScoreConfig
}

// NewBlendedDfScorer stores the query verbatim. Field names are not checked
// here; an unknown field surfaces on the first statistics lookup.
func NewBlendedDfScorer(query QuerySpec, cfg ScoreConfig) *BlendedDfScorer {
	q := QuerySpec{
		NgramsField: query.NgramsField,
		TextField:   query.TextField,
		NgramsTerms: append([]string(nil), query.NgramsTerms...),
		TextTerms:   append([]string(nil), query.TextTerms...),
	}
	return &BlendedDfScorer{query: q, cfg: cfg}
}

// Config returns the weights the scorer blends with.
func (s *BlendedDfScorer) Config() ScoreConfig { return s.cfg }

// Query returns a copy of the query the scorer was built with.
func (s *BlendedDfScorer) Query() QuerySpec {
	return QuerySpec{
		NgramsField: s.query.NgramsField,
		TextField:   s.query.TextField,
		NgramsTerms: append([]string(nil), s.query.NgramsTerms...),
		TextTerms:   append([]string(nil), s.query.TextTerms...),
	}
}

func (s *BlendedDfScorer) Score(stats TermStatisticsProvider) (float64, error) {
	b, err := s.Explain(stats)
	if err != nil {
		return 0, err
	}
	return b.Score, nil
}

func (s *BlendedDfScorer) Explain(stats TermStatisticsProvider) (Breakdown, error) {
	ngrams, err := fieldScore(stats, s.query.NgramsField, s.query.NgramsTerms)
	if err != nil {
		return Breakdown{}, err
	}
	text, err := fieldScore(stats, s.query.TextField, s.query.TextTerms)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{
		NgramsScore: ngrams,
		TextScore:   text,
		Alpha:       s.cfg.alpha,
		Beta:        s.cfg.beta,
		Score:       s.cfg.alpha*ngrams + s.cfg.beta*text,
	}, nil
}

// fieldScore sums ln((N+2)/(df+1)) over terms with a non-zero df. Terms the
// corpus has never seen add nothing.
func fieldScore(stats TermStatisticsProvider, field string, terms []string) (float64, error) {
	var sum float64
	for _, term := range terms {
		df, err := stats.DocumentFrequency(field, term)
		if err != nil {
			return 0, &ScoreError{Field: field, Err: err}
		}
		if df == 0 {
			continue
		}
		n, err := stats.DocumentCount(field)
		if err != nil {
			return 0, &ScoreError{Field: field, Err: err}
		}
		sum += math.Log((float64(n) + 2.0) / (float64(df) + 1.0))
	}
	return sum, nil
}

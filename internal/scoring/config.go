// Package scoring implements the blended document-frequency scorer used to
// rank concept documents. A scorer is built once per query from a flat
// parameter map and then invoked once per candidate document against a
// TermStatisticsProvider.
package scoring

import (
	"fmt"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

const defaultWeight = 0.5

// ScoreConfig holds the validated blend weights. Alpha weighs the ngram
// field sub-score and beta the text field sub-score.
type ScoreConfig struct {
	alpha float64
	beta  float64
}

// ConfigError reports blend weights outside [0, 1] after normalization.
type ConfigError struct {
	Alpha float64
	Beta  float64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("alpha=%g beta=%g: %s", e.Alpha, e.Beta, apperrors.ErrOutOfRange)
}

func (e *ConfigError) Unwrap() error {
	return apperrors.ErrOutOfRange
}

// NewScoreConfig derives the weights from the optional inputs. A missing
// weight is the complement of the supplied one; with neither supplied both
// default to 0.5. Two supplied weights are kept as given, even if they do not
// sum to one. The range check runs on the derived values.
func NewScoreConfig(alpha, beta *float64) (ScoreConfig, error) {
	var cfg ScoreConfig
	switch {
	case alpha == nil && beta == nil:
		cfg = ScoreConfig{alpha: defaultWeight, beta: defaultWeight}
	case alpha == nil:
		cfg = ScoreConfig{alpha: 1 - *beta, beta: *beta}
	case beta == nil:
		cfg = ScoreConfig{alpha: *alpha, beta: 1 - *alpha}
	default:
		cfg = ScoreConfig{alpha: *alpha, beta: *beta}
	}
	if !inUnitRange(cfg.alpha) || !inUnitRange(cfg.beta) {
		return ScoreConfig{}, &ConfigError{Alpha: cfg.alpha, Beta: cfg.beta}
	}
	return cfg, nil
}

// DefaultScoreConfig returns the {0.5, 0.5} configuration.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{alpha: defaultWeight, beta: defaultWeight}
}

// Alpha is the weight of the n-gram sub-score.
func (c ScoreConfig) Alpha() float64 { return c.alpha }

// Beta is the weight of the text sub-score.
func (c ScoreConfig) Beta() float64 { return c.beta }

// inUnitRange is false for NaN.
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

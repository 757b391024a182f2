package scoring

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// Parameter keys accepted by FromParams.
const (
	ParamNgramsField = "field_ngrams"
	ParamTextField   = "field_text"
	ParamNgrams      = "ngrams"
	ParamText        = "text"
	ParamAlpha       = "alpha"
	ParamBeta        = "beta"
)

// FromParams builds a BlendedDfScorer from the flat key/value map supplied by
// the hosting pipeline. The two field names and the two term lists are
// required; alpha and beta are optional numbers.
func FromParams(params map[string]any) (*BlendedDfScorer, error) {
	ngramsField, err := stringParam(params, ParamNgramsField)
	if err != nil {
		return nil, err
	}
	textField, err := stringParam(params, ParamTextField)
	if err != nil {
		return nil, err
	}
	ngrams, err := stringListParam(params, ParamNgrams)
	if err != nil {
		return nil, err
	}
	text, err := stringListParam(params, ParamText)
	if err != nil {
		return nil, err
	}
	alpha, err := optionalFloatParam(params, ParamAlpha)
	if err != nil {
		return nil, err
	}
	beta, err := optionalFloatParam(params, ParamBeta)
	if err != nil {
		return nil, err
	}

	cfg, err := NewScoreConfig(alpha, beta)
	if err != nil {
		return nil, err
	}
	return NewBlendedDfScorer(QuerySpec{
		NgramsField: ngramsField,
		TextField:   textField,
		NgramsTerms: ngrams,
		TextTerms:   text,
	}, cfg), nil
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s", apperrors.ErrMissingParam, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", apperrors.ErrInvalidParam, key, raw)
	}
	return s, nil
}

func stringListParam(params map[string]any, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingParam, key)
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", apperrors.ErrInvalidParam, key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", apperrors.ErrInvalidParam, key, raw)
	}
}

func optionalFloatParam(params map[string]any, key string) (*float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidParam, key, err)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w: %s must be a number, got %T", apperrors.ErrInvalidParam, key, raw)
	}
	return &f, nil
}

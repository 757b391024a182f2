// Package parser decodes and normalises score requests. Numeric script
// parameters are kept as json.Number so weights reach the scorer exactly as
// sent.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/conceptrank/conceptrank/internal/indexer/tokenizer"
	"github.com/conceptrank/conceptrank/internal/scoring"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// ScoreRequest is the JSON body of POST /api/v1/score. Params are handed to
// the named script unchanged. Query, if set, is analyzed into the ngrams and
// text term lists when those params are absent.
type ScoreRequest struct {
	Script  string         `json:"script"`
	Params  map[string]any `json:"params"`
	Query   string         `json:"query,omitempty"`
	Limit   int            `json:"limit"`
	Explain bool           `json:"explain"`
}

// Options carry the service defaults and limits applied by Normalize.
type Options struct {
	DefaultScript    string
	DefaultLimit     int
	MaxResults       int
	MaxTermsPerField int
	NgramsField      string
	TextField        string
	NgramSize        int
}

// Parse decodes a single JSON request from r and normalises it.
func Parse(r io.Reader, opts Options) (*ScoreRequest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var req ScoreRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: decoding request body: %v", apperrors.ErrInvalidInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after request body", apperrors.ErrInvalidInput)
	}
	if err := req.Normalize(opts); err != nil {
		return nil, err
	}
	return &req, nil
}

// Normalize fills defaults, expands Query, clamps Limit to MaxResults and
// enforces the per-field term cap.
func (req *ScoreRequest) Normalize(opts Options) error {
	if req.Script == "" {
		req.Script = opts.DefaultScript
	}
	if req.Params == nil {
		req.Params = make(map[string]any)
	}
	if req.Query != "" {
		req.expandQuery(opts)
	}

	switch {
	case req.Limit < 0:
		return fmt.Errorf("%w: limit must not be negative", apperrors.ErrInvalidInput)
	case req.Limit == 0:
		req.Limit = opts.DefaultLimit
	case opts.MaxResults > 0 && req.Limit > opts.MaxResults:
		req.Limit = opts.MaxResults
	}

	if opts.MaxTermsPerField > 0 {
		for _, key := range []string{scoring.ParamNgrams, scoring.ParamText} {
			if n := listLen(req.Params[key]); n > opts.MaxTermsPerField {
				return fmt.Errorf("%w: %q has %d terms, limit is %d",
					apperrors.ErrInvalidParam, key, n, opts.MaxTermsPerField)
			}
		}
	}
	return nil
}

func (req *ScoreRequest) expandQuery(opts Options) {
	setDefault := func(key string, value any) {
		if _, ok := req.Params[key]; !ok {
			req.Params[key] = value
		}
	}
	if opts.NgramsField != "" {
		setDefault(scoring.ParamNgramsField, opts.NgramsField)
	}
	if opts.TextField != "" {
		setDefault(scoring.ParamTextField, opts.TextField)
	}
	if _, ok := req.Params[scoring.ParamNgrams]; !ok {
		size := opts.NgramSize
		if size <= 0 {
			size = tokenizer.DefaultNgramSize
		}
		req.Params[scoring.ParamNgrams] = terms(tokenizer.Ngrams(req.Query, size))
	}
	if _, ok := req.Params[scoring.ParamText]; !ok {
		req.Params[scoring.ParamText] = terms(tokenizer.Tokenize(req.Query))
	}
}

// CacheKey identifies the request for response caching. Map keys are
// marshalled in sorted order so equal requests share a key.
func (req *ScoreRequest) CacheKey() (string, error) {
	canonical, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16]), nil
}

func terms(tokens []tokenizer.Token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Term)
	}
	return out
}

func listLen(v any) int {
	switch list := v.(type) {
	case []any:
		return len(list)
	case []string:
		return len(list)
	}
	return 0
}

// IsClientError reports whether err stems from the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrInvalidParam) ||
		errors.Is(err, apperrors.ErrMissingParam) ||
		errors.Is(err, apperrors.ErrOutOfRange) ||
		errors.Is(err, apperrors.ErrUnknownScript)
}

package scoring

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

func baseParams() map[string]any {
	return map[string]any{
		ParamNgramsField: "str_ngrams",
		ParamTextField:   "str",
		ParamNgrams:      []any{"abc"},
		ParamText:        []string{"hello"},
	}
}

func TestFromParams(t *testing.T) {
	s, err := FromParams(baseParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := s.Query()
	if q.NgramsField != "str_ngrams" || q.TextField != "str" {
		t.Errorf("unexpected fields: %+v", q)
	}
	if len(q.NgramsTerms) != 1 || q.NgramsTerms[0] != "abc" || len(q.TextTerms) != 1 || q.TextTerms[0] != "hello" {
		t.Errorf("unexpected terms: %+v", q)
	}
	if s.Config().Alpha() != 0.5 || s.Config().Beta() != 0.5 {
		t.Errorf("expected default weights, got %+v", s.Config())
	}
	got, err := s.Score(exampleStats())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-1.1612) > 1e-4 {
		t.Errorf("score = %v, want ~1.1612", got)
	}
}

func TestFromParamsWeights(t *testing.T) {
	tests := []struct {
		name      string
		alpha     any
		beta      any
		wantAlpha float64
		wantBeta  float64
	}{
		{"float64 alpha", 0.2, nil, 0.2, 0.8},
		{"json number beta", nil, json.Number("0.4"), 0.6, 0.4},
		{"int alpha", 1, nil, 1, 0},
		{"float32 pair", float32(0.5), float32(0.25), 0.5, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			if tt.alpha != nil {
				p[ParamAlpha] = tt.alpha
			}
			if tt.beta != nil {
				p[ParamBeta] = tt.beta
			}
			s, err := FromParams(p)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(s.Config().Alpha()-tt.wantAlpha) > 1e-7 || math.Abs(s.Config().Beta()-tt.wantBeta) > 1e-7 {
				t.Errorf("got {%v, %v}, want {%v, %v}", s.Config().Alpha(), s.Config().Beta(), tt.wantAlpha, tt.wantBeta)
			}
		})
	}
}

func TestFromParamsErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr error
		wantMsg string
	}{
		{"missing ngrams field", func(p map[string]any) { delete(p, ParamNgramsField) }, apperrors.ErrMissingParam, ParamNgramsField},
		{"missing text field", func(p map[string]any) { p[ParamTextField] = nil }, apperrors.ErrMissingParam, ParamTextField},
		{"missing ngrams", func(p map[string]any) { delete(p, ParamNgrams) }, apperrors.ErrMissingParam, ParamNgrams},
		{"missing text", func(p map[string]any) { delete(p, ParamText) }, apperrors.ErrMissingParam, ParamText},
		{"field not a string", func(p map[string]any) { p[ParamTextField] = 42 }, apperrors.ErrInvalidParam, ParamTextField},
		{"terms not a list", func(p map[string]any) { p[ParamNgrams] = "abc" }, apperrors.ErrInvalidParam, ParamNgrams},
		{"term not a string", func(p map[string]any) { p[ParamText] = []any{"ok", 3.0} }, apperrors.ErrInvalidParam, "text[1]"},
		{"alpha not a number", func(p map[string]any) { p[ParamAlpha] = "0.5" }, apperrors.ErrInvalidParam, ParamAlpha},
		{"bad json number", func(p map[string]any) { p[ParamBeta] = json.Number("x") }, apperrors.ErrInvalidParam, ParamBeta},
		{"alpha out of range", func(p map[string]any) { p[ParamAlpha] = -0.2 }, apperrors.ErrOutOfRange, "beta=1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			tt.mutate(p)
			_, err := FromParams(p)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFromParamsEmptyLists(t *testing.T) {
	p := baseParams()
	p[ParamNgrams] = []any{}
	p[ParamText] = []string{}
	s, err := FromParams(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Score(exampleStats())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("score = %v, want 0", got)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	if names := r.Names(); len(names) != 1 || names[0] != ScriptUMLS {
		t.Fatalf("Names() = %v", names)
	}
	s, err := r.New(ScriptUMLS, baseParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*BlendedDfScorer); !ok {
		t.Errorf("expected *BlendedDfScorer, got %T", s)
	}

	if _, err := r.New("bm25", baseParams()); !errors.Is(err, apperrors.ErrUnknownScript) {
		t.Errorf("expected ErrUnknownScript, got %v", err)
	}

	p := baseParams()
	p[ParamAlpha] = 2.0
	if _, err := r.New(ScriptUMLS, p); !errors.Is(err, apperrors.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange through the registry, got %v", err)
	}
}

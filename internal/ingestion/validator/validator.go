// Package validator checks concepts before they are persisted and published.
// It returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

const (
	maxIdentifierLength = 32
	maxStringLength     = 3000
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateConcept checks identifier presence and length and that the
// concept string is non-blank valid UTF-8.
func ValidateConcept(c *ingestion.Concept) error {
	errs := make(map[string]string)

	checkID := func(name, value string) {
		switch {
		case value == "":
			errs[name] = name + " is required"
		case len(value) > maxIdentifierLength:
			errs[name] = fmt.Sprintf("%s must be at most %d characters", name, maxIdentifierLength)
		case strings.ContainsAny(value, " \t|"):
			errs[name] = name + " must not contain whitespace or '|'"
		}
	}
	checkID("aui", c.AUI)
	checkID("cui", c.CUI)

	switch {
	case strings.TrimSpace(c.String) == "":
		errs["str"] = "str is required and must not be blank"
	case !utf8.ValidString(c.String):
		errs["str"] = "str must be valid UTF-8"
	case utf8.RuneCountInString(c.String) > maxStringLength:
		errs["str"] = fmt.Sprintf("str must be at most %d characters", maxStringLength)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

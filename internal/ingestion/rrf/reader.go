// Package rrf reads UMLS MRCONSO.RRF files. Rows are pipe-delimited with a
// trailing delimiter and a fixed column order.
package rrf

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// MRCONSO column positions.
const (
	colCUI = iota
	colLAT
	colTS
	colLUI
	colSTT
	colSUI
	colISPREF
	colAUI
	colSAUI
	colSCUI
	colSDUI
	colSAB
	colTTY
	colCODE
	colSTR
	colSRL
	colSUPPRESS
	colCFV

	numColumns
)

const maxLineBytes = 1 << 20

// ParseError reports a malformed row. The reader stays usable after one.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

type Option func(*Reader)

// WithLimit stops the reader after n concepts. Zero means no limit.
func WithLimit(n int) Option {
	return func(r *Reader) { r.limit = n }
}

// WithLanguage skips rows whose LAT column differs from lat.
func WithLanguage(lat string) Option {
	return func(r *Reader) { r.language = lat }
}

type Reader struct {
	scanner  *bufio.Scanner
	line     int
	emitted  int
	skipped  int
	limit    int
	language string
}

func NewReader(r io.Reader, opts ...Option) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	reader := &Reader{scanner: scanner}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Next returns the next concept, io.EOF when the input or the limit is
// exhausted, or a *ParseError for a malformed row.
func (r *Reader) Next() (ingestion.Concept, error) {
	for {
		if r.limit > 0 && r.emitted >= r.limit {
			return ingestion.Concept{}, io.EOF
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return ingestion.Concept{}, fmt.Errorf("reading MRCONSO after line %d: %w", r.line, err)
			}
			return ingestion.Concept{}, io.EOF
		}
		r.line++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, "|")
		if len(cols) < numColumns {
			return ingestion.Concept{}, &ParseError{
				Line: r.line,
				Msg:  fmt.Sprintf("expected %d columns, got %d", numColumns, len(cols)),
			}
		}
		if r.language != "" && cols[colLAT] != r.language {
			r.skipped++
			continue
		}
		r.emitted++
		return ingestion.Concept{
			AUI:       cols[colAUI],
			CUI:       cols[colCUI],
			SUI:       cols[colSUI],
			String:    cols[colSTR],
			Language:  cols[colLAT],
			Source:    cols[colSAB],
			TermType:  cols[colTTY],
			Preferred: strings.EqualFold(cols[colISPREF], "Y"),
		}, nil
	}
}

// Line returns the number of input lines consumed.
func (r *Reader) Line() int { return r.line }

// Skipped returns the number of rows dropped by the language filter.
func (r *Reader) Skipped() int { return r.skipped }

// Package errors holds the sentinel errors shared by the services and their
// mapping onto HTTP statuses.
package errors

import (
	"errors"
	"net/http"
)

var (
	ErrOutOfRange            = errors.New("weight out of range [0, 1]")
	ErrStatisticsUnavailable = errors.New("term statistics unavailable")
	ErrUnknownField          = errors.New("unknown field")
	ErrUnknownScript         = errors.New("unknown scoring script")
	ErrMissingParam          = errors.New("missing required parameter")
	ErrInvalidParam          = errors.New("invalid parameter")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDocumentExists        = errors.New("document already exists")
	ErrShardUnavailable      = errors.New("shard unavailable")
	ErrInternal              = errors.New("internal error")
	ErrTimeout               = errors.New("operation timed out")
)

// StatusCoder is implemented by errors that carry their own HTTP status.
// The outermost one in a chain wins over the sentinel table.
type StatusCoder interface {
	HTTPStatus() int
}

// Statistics failures map to 422: the request was well formed but named a
// field the index cannot resolve.
var statuses = []struct {
	err    error
	status int
}{
	{ErrOutOfRange, http.StatusBadRequest},
	{ErrMissingParam, http.StatusBadRequest},
	{ErrInvalidParam, http.StatusBadRequest},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnknownScript, http.StatusNotFound},
	{ErrStatisticsUnavailable, http.StatusUnprocessableEntity},
	{ErrUnknownField, http.StatusUnprocessableEntity},
	{ErrDocumentExists, http.StatusConflict},
	{ErrShardUnavailable, http.StatusServiceUnavailable},
	{ErrTimeout, http.StatusServiceUnavailable},
}

// HTTPStatusCode maps an error chain to the status the APIs return.
// Anything unrecognised is a 500.
func HTTPStatusCode(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// ClientMessage is the error text safe to return to a caller. Server-side
// failures other than 503 are reduced to "internal error".
func ClientMessage(err error) string {
	status := HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		return ErrInternal.Error()
	}
	return err.Error()
}

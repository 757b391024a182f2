// Package handler exposes concept ingestion over HTTP for incremental
// additions outside a full MRCONSO import.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/conceptrank/conceptrank/internal/ingestion"
	"github.com/conceptrank/conceptrank/internal/ingestion/validator"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
	"github.com/conceptrank/conceptrank/pkg/logger"
)

const (
	maxBatch     = 1000
	maxBodyBytes = 8 << 20
)

type BatchPublisher interface {
	PublishBatch(ctx context.Context, concepts []ingestion.Concept) error
}

// IngestRequest is the JSON body accepted by POST /api/v1/concepts.
type IngestRequest struct {
	Concepts []ingestion.Concept `json:"concepts"`
}

// IngestResponse reports how many concepts were accepted.
type IngestResponse struct {
	Accepted int    `json:"accepted"`
	Status   string `json:"status"`
}

// ValidationResponse lists field errors per concept. Concepts are keyed by
// AUI, or by their position when the AUI itself is missing.
type ValidationResponse struct {
	Error    string                       `json:"error"`
	Concepts map[string]map[string]string `json:"concepts"`
}

type Handler struct {
	publisher BatchPublisher
	logger    *slog.Logger
}

func New(pub BatchPublisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Ingest validates the whole batch before anything is published, so a
// request is accepted or rejected as a unit.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req IngestRequest
	if status, err := decode(w, r, &req); err != nil {
		h.writeError(w, status, err.Error())
		return
	}
	if invalid := validate(req.Concepts); len(invalid) > 0 {
		log.Info("concept batch rejected", "count", len(req.Concepts), "invalid", len(invalid))
		h.writeJSON(w, http.StatusBadRequest, ValidationResponse{Error: "validation failed", Concepts: invalid})
		return
	}

	if err := h.publisher.PublishBatch(ctx, req.Concepts); err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed", "count", len(req.Concepts), "status_code", status, "error", err)
		h.writeError(w, status, apperrors.ClientMessage(err))
		return
	}
	log.Info("concepts ingested", "count", len(req.Concepts))
	h.writeJSON(w, http.StatusAccepted, IngestResponse{
		Accepted: len(req.Concepts),
		Status:   ingestion.StatusPending,
	})
}

func decode(w http.ResponseWriter, r *http.Request, req *IngestRequest) (int, error) {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(req)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
	case err != nil:
		return http.StatusBadRequest, errors.New("invalid JSON body")
	case len(req.Concepts) == 0:
		return http.StatusBadRequest, errors.New("concepts must not be empty")
	case len(req.Concepts) > maxBatch:
		return http.StatusRequestEntityTooLarge, fmt.Errorf("at most %d concepts per request", maxBatch)
	}
	return 0, nil
}

// validate returns the field errors of every invalid concept. An AUI that
// appears twice in the batch is reported on its later occurrences.
func validate(concepts []ingestion.Concept) map[string]map[string]string {
	invalid := make(map[string]map[string]string)
	firstAt := make(map[string]int, len(concepts))
	for i := range concepts {
		c := &concepts[i]
		key := c.AUI
		if key == "" {
			key = fmt.Sprintf("concepts[%d]", i)
		}
		var fields map[string]string
		var verr *validator.ValidationError
		if err := validator.ValidateConcept(c); errors.As(err, &verr) {
			fields = verr.Fields
		} else if err != nil {
			fields = map[string]string{"concept": err.Error()}
		}
		if j, dup := firstAt[c.AUI]; dup && c.AUI != "" {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields["aui"] = fmt.Sprintf("duplicates concepts[%d]", j)
			key = fmt.Sprintf("concepts[%d]", i)
		} else {
			firstAt[c.AUI] = i
		}
		if fields != nil {
			invalid[key] = fields
		}
	}
	return invalid
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

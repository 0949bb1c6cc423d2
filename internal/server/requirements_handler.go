package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/moin0420/hybrid-app/internal/logger"
	"github.com/moin0420/hybrid-app/internal/services"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RecruiterHeader carries the name of the recruiter making a request.
const RecruiterHeader = "X-Recruiter"

const maxBodyBytes = 1 << 20

type updateRequest struct {
	entities.RequirementPatch
	// Recruiter is used when the client can't set RecruiterHeader.
	Recruiter string `json:"recruiter"`
}

func (s *Server) listRequirements(w http.ResponseWriter, r *http.Request) {
	requirements, err := s.requirements.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requirements)
}

func (s *Server) createRequirement(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.requirements.Create(r.Context(), req.RequirementPatch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateRequirement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, errors.Wrap(services.ErrInvalidInput, "requirement id must be a positive integer"))
		return
	}

	var req updateRequest
	if err = decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	recruiter := strings.TrimSpace(r.Header.Get(RecruiterHeader))
	if recruiter == "" {
		recruiter = req.Recruiter
	}

	updated, err := s.requirements.Update(r.Context(), id, req.RequirementPatch, recruiter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.Wrap(services.ErrInvalidInput, "request body is empty")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(dest); err != nil {
		return errors.Wrapf(services.ErrInvalidInput, "malformed request body: %v", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors to status codes. Conflict reasons are meant to
// be shown to the recruiter as is.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *services.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: conflict.Error()})
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "requirement not found"})
	case errors.Is(err, services.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeHttp).
			Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "store unavailable, try again"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeHttp).Errorf("failed to write response: %v", err)
	}
}

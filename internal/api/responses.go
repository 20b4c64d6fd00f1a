package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/backend"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/companion"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/gps"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/session"
	"github.com/Jamieflana/Urban-Computing-Frontend/internal/trip"
)

type errorResponse struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Text        string `json:"text"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, text string) {
	s.sendJSON(w, status, errorResponse{Code: status, CurrentTime: time.Now().UnixMilli(), Text: text})
}

// statusFor maps domain errors onto HTTP statuses: state machine violations
// are conflicts, bad selections are client errors and backend trouble is a
// bad gateway.
func statusFor(err error) int {
	var rej *backend.RejectedError
	switch {
	case errors.Is(err, session.ErrAlreadyCollecting),
		errors.Is(err, session.ErrNotCollecting),
		errors.Is(err, gps.ErrUnavailable),
		errors.Is(err, trip.ErrNoNearestStation),
		errors.Is(err, trip.ErrNotOpen),
		errors.Is(err, trip.ErrBusy),
		errors.Is(err, trip.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, trip.ErrUnknownDestination),
		errors.Is(err, companion.ErrUnknownStation):
		return http.StatusBadRequest
	case errors.As(err, &rej):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	var rej *backend.RejectedError
	text := err.Error()
	if errors.As(err, &rej) {
		text = rej.Message
	}
	s.sendError(w, statusFor(err), text)
}

// decodeBody reads a small JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

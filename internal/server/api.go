package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"brightchat/internal/forwarder"
	"brightchat/internal/metrics"
)

const maxBodySize = 1 << 20

// handleChat validates the message, forwards it to the webhook and relays
// the webhook's JSON reply unchanged.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.chatError(w, r, forwarder.ErrMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.chatError(w, r, &forwarder.ValidationError{Issues: []forwarder.Issue{{
			Code:    "too_big",
			Path:    []string{},
			Message: "Request body too large",
		}}})
		return
	}

	msg, err := forwarder.Validate(body)
	if err != nil {
		s.chatError(w, r, err)
		return
	}

	reply, err := s.cfg.Forwarder.Forward(r.Context(), msg)
	if err != nil {
		s.chatError(w, r, err)
		return
	}

	metrics.ChatRequests(metrics.OutcomeOK).Inc()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

func (s *Server) chatError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *forwarder.ValidationError
	switch {
	case errors.Is(err, forwarder.ErrMethodNotAllowed):
		metrics.ChatRequests(metrics.OutcomeMethod).Inc()
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "Method not allowed"})
	case errors.As(err, &ve):
		metrics.ChatRequests(metrics.OutcomeInvalid).Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Invalid request data", Errors: ve.Issues})
	default:
		metrics.ChatRequests(metrics.OutcomeUpstream).Inc()
		s.logger.Error("error forwarding to webhook",
			"err", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "Failed to process chat message"})
	}
}

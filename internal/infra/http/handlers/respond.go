package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xavierca1/lead-market/internal/usecase"
)

type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	// Recovery names the operator command that finishes a stuck order.
	Recovery string `json:"recovery,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrUnauthorized), errors.Is(err, usecase.ErrSignatureVerification):
		return http.StatusUnauthorized
	case errors.Is(err, usecase.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, usecase.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrDataNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInsufficientCandidates):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrManualRecoveryNeeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, usecase.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Admin callers get details and wrapped causes;
// public callers get only the code and a generic message for technical
// failures.
func writeError(w http.ResponseWriter, log *slog.Logger, err error, admin bool) {
	writeErrorWithRecovery(w, log, err, admin, "")
}

// writeErrorWithRecovery is writeError plus an operator command. The command
// is built from ids only, so it is safe on public responses.
func writeErrorWithRecovery(w http.ResponseWriter, log *slog.Logger, err error, admin bool, recovery string) {
	status := statusFor(err)
	resp := ErrorResponse{Error: usecase.CodeDatabase, Message: "internal error", Recovery: recovery}

	var de *usecase.DomainError
	var te *usecase.TechnicalError
	switch {
	case errors.As(err, &de):
		resp.Error = de.Code
		resp.Message = de.Message
		if admin {
			resp.Details = de.Details
		}
	case errors.As(err, &te):
		resp.Error = te.Code
		if admin {
			resp.Message = te.Error()
		}
	default:
		if admin {
			resp.Message = err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error("http.request_failed", "status", status, "code", resp.Error, "recovery", recovery, "err", err)
	} else {
		log.Warn("http.request_rejected", "status", status, "code", resp.Error, "err", err)
	}
	writeJSON(w, status, resp)
}

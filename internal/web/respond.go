// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pricepulse/pricepulse/internal/auth"
)

// Client-facing error messages. Internal causes are only logged.
const (
	msgMissing         = "missing"
	msgInvalid         = "invalid"
	msgBadBody         = "invalid request body"
	msgDuplicate       = "user already exists"
	msgNotFound        = "user not found"
	msgInvalidInput    = "invalid input"
	msgUnauthorized    = "unauthorized"
	msgTooManyAttempts = "too many attempts"
	msgInternal        = "internal error"
)

type errorBody struct {
	Error string `json:"error"`
}

type okBody struct {
	OK bool `json:"ok"`
}

// statusFor maps an auth error onto an HTTP status and a generic message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrDuplicateUser):
		return http.StatusBadRequest, msgDuplicate
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusBadRequest, msgNotFound
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, msgInvalidInput
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalid
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, msgUnauthorized
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to marshal response", "error", err)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.DebugContext(r.Context(), "failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorBody{Error: msg})
}

// writeServiceError logs err and writes its generic form.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "route", r.URL.Path, "error", err)
	}
	writeError(w, r, status, msg)
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must contain a single JSON value")
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/pricepulse/pricepulse/internal/auth"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	OK       bool `json:"ok"`
	HasUsers bool `json:"hasUsers"`
}

type meResponse struct {
	Username string       `json:"username"`
	Profile  auth.Profile `json:"profile"`
}

type statusResponse struct {
	HasUsers bool `json:"hasUsers"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgBadBody)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, msgMissing)
		return
	}
	if err := h.svc.Register(r.Context(), req.Username, req.Password); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, okBody{OK: true})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgBadBody)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, msgMissing)
		return
	}

	if h.throttle != nil {
		wait, ok := h.throttle.Begin(req.Username)
		if !ok {
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			h.logger.WarnContext(r.Context(), "login throttled")
			writeError(w, r, http.StatusTooManyRequests, msgTooManyAttempts)
			return
		}
	}

	token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if h.throttle != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				h.throttle.Fail(req.Username)
			} else {
				h.throttle.Release(req.Username)
			}
		}
		h.writeServiceError(w, r, err)
		return
	}
	if h.throttle != nil {
		h.throttle.Reset(req.Username)
	}

	http.SetCookie(w, h.sessionCookie(token, h.maxAge()))
	writeJSON(w, r, http.StatusOK, loginResponse{OK: true, HasUsers: true})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	writeJSON(w, r, http.StatusOK, okBody{OK: true})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	hasUsers, err := h.svc.HasUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statusResponse{HasUsers: hasUsers})
}

func (h *Handler) getMe(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	profile, err := h.svc.GetProfile(r.Context(), username)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, meResponse{Username: username, Profile: profile})
}

func (h *Handler) postMe(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	var update auth.ProfileUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, r, http.StatusBadRequest, msgBadBody)
		return
	}
	if err := h.svc.SetProfile(r.Context(), username, update); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, okBody{OK: true})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgBadBody)
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, msgMissing)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), username, req.Password); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, okBody{OK: true})
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.svc.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// maxAge is the login cookie lifetime in seconds; 0 omits Max-Age.
func (h *Handler) maxAge() int {
	return int(h.tokenTTL / time.Second)
}

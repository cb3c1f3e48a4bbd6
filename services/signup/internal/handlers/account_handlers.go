package handlers

import (
	"errors"
	"net/http"

	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/service"
)

// Login handles username and password authentication
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.accounts.Login(r.Context(), &req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Username and password are required", "INVALID_INPUT")
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password", "LOGIN_FAILED")
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// Me returns the logged-in account with its card masked
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Login required", "UNAUTHORIZED")
		return
	}

	info, err := h.accounts.Me(r.Context(), claims.Sub)
	if errors.Is(err, service.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found", "NOT_FOUND")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/family-history/internal/auth"
	"github.com/family-history/internal/domain"
)

// requireUser rejects requests without a valid bearer token
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}
		user, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
				return
			}
			h.writeServiceError(w, r, "authenticate", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// requireAdmin rejects users whose role is not allowed to change data
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFrom(r.Context())
		if !ok {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}
		if !h.auth.RoleAllowed(user.Role) {
			h.writeError(w, http.StatusForbidden, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login exchanges form credentials for an access token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	resp, err := h.auth.Login(r.Context(), username, password)
	if err != nil {
		h.writeServiceError(w, r, "login", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Me returns the user behind the bearer token
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	h.writeJSON(w, http.StatusOK, user)
}

// Logout revokes the bearer token
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.writeServiceError(w, r, "logout", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "logged_out"})
}

package authhandler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pbc/internal/domain/auth"
	"pbc/internal/domain/org"
	"pbc/internal/transport/http/api"
	"pbc/internal/transport/http/middleware"
)

type Handler struct {
	Auth       *auth.Service
	Org        *org.Service
	LoginLimit func(http.Handler) http.Handler
}

func NewHandler(authService *auth.Service, orgService *org.Service, loginLimit func(http.Handler) http.Handler) *Handler {
	if loginLimit == nil {
		loginLimit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{Auth: authService, Org: orgService, LoginLimit: loginLimit}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	// Login carries its own limiter to slow credential guessing.
	r.With(h.LoginLimit).Post("/auth/login", h.handleLogin)
	r.Post("/auth/change-password", h.handleChangePassword)
	r.Get("/auth/profile", h.handleProfile)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string   `json:"access_token"`
	User        org.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", reqID)
		return
	}

	token, user, err := h.Auth.Login(r.Context(), payload.Username, payload.Password, clientIP(r))
	if errors.Is(err, auth.ErrUnauthorized) {
		api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "login_error", "login failed", reqID)
		return
	}

	api.Success(w, loginResponse{AccessToken: token, User: user}, reqID)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return
	}

	var payload changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", reqID)
		return
	}

	err := h.Auth.ChangePassword(r.Context(), user.UserID, payload.OldPassword, payload.NewPassword)
	if errors.Is(err, auth.ErrValidation) {
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "password_error", "password change failed", reqID)
		return
	}

	api.Success(w, map[string]string{"message": "password changed"}, reqID)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return
	}

	profile, err := h.Org.GetUser(r.Context(), user.UserID)
	if errors.Is(err, org.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "user not found", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "profile_error", "profile lookup failed", reqID)
		return
	}

	api.Success(w, profile, reqID)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

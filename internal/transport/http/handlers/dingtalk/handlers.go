package dingtalkhandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pbc/internal/domain/notify"
	"pbc/internal/domain/org"
	"pbc/internal/transport/http/api"
	"pbc/internal/transport/http/middleware"
)

// Handler manages DingTalk app credentials. All routes are restricted to
// general managers.
type Handler struct {
	Apps *notify.Service
}

func NewHandler(apps *notify.Service) *Handler {
	return &Handler{Apps: apps}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dingtalk-apps", func(r chi.Router) {
		r.Use(middleware.RequireRole(org.RoleGM))
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{appID}", h.handleGet)
		r.Put("/{appID}", h.handleUpdate)
		r.Delete("/{appID}", h.handleDelete)
		r.Post("/{appID}/toggle", h.handleToggle)
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, notify.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, notify.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	default:
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "appID"), 10, 64)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	apps, err := h.Apps.ListApps(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, apps, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid app id", middleware.GetRequestID(r.Context()))
		return
	}
	app, err := h.Apps.GetApp(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, app, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input notify.AppInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	app, err := h.Apps.CreateApp(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, app, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid app id", middleware.GetRequestID(r.Context()))
		return
	}
	var input notify.AppInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	app, err := h.Apps.UpdateApp(r.Context(), id, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, app, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid app id", middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.Apps.DeleteApp(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"message": "dingtalk app deleted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid app id", middleware.GetRequestID(r.Context()))
		return
	}
	app, err := h.Apps.ToggleActive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, app, middleware.GetRequestID(r.Context()))
}

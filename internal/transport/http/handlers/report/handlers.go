package reporthandler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
	"pbc/internal/domain/report"
	"pbc/internal/transport/http/api"
	"pbc/internal/transport/http/middleware"
	"pbc/internal/transport/http/shared"
)

type Handler struct {
	Report *report.Service
	Org    *org.Service
}

func NewHandler(reportService *report.Service, orgService *org.Service) *Handler {
	return &Handler{Report: reportService, Org: orgService}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/reports/evaluation", h.handleEvaluationReport)
}

func (h *Handler) handleEvaluationReport(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return
	}
	viewer, err := h.Org.GetUser(r.Context(), user.UserID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "viewer_error", "viewer lookup failed", reqID)
		return
	}

	subjectID := viewer.ID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid user id", reqID)
			return
		}
		subjectID = parsed
	}
	if subjectID != viewer.ID {
		subject, err := h.Org.GetUser(r.Context(), subjectID)
		if errors.Is(err, org.ErrNotFound) {
			api.Fail(w, http.StatusNotFound, "not_found", "user not found", reqID)
			return
		}
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
			return
		}
		if !shared.CanViewUser(viewer, subject) {
			api.Fail(w, http.StatusForbidden, "forbidden", "not allowed to view this user", reqID)
			return
		}
	}

	var periodID int64
	if raw := r.URL.Query().Get("period_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid period id", reqID)
			return
		}
		periodID = parsed
	} else {
		period, err := h.Report.Goals.ActivePeriod(r.Context())
		if errors.Is(err, pgx.ErrNoRows) {
			api.Fail(w, http.StatusBadRequest, "validation_error", "no active period", reqID)
			return
		}
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
			return
		}
		periodID = period.ID
	}

	path, err := h.Report.GenerateEvaluationPDF(r.Context(), subjectID, periodID)
	switch {
	case errors.Is(err, org.ErrNotFound), errors.Is(err, pbc.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
		return
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "report_error", "report generation failed", reqID)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

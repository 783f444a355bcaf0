package reviewhandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
	"pbc/internal/domain/review"
	"pbc/internal/transport/http/api"
	"pbc/internal/transport/http/middleware"
)

type Handler struct {
	Review *review.Service
	Idem   *middleware.IdempotencyStore
}

func NewHandler(reviewService *review.Service, idem *middleware.IdempotencyStore) *Handler {
	return &Handler{Review: reviewService, Idem: idem}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reviews", func(r chi.Router) {
		r.Get("/pending", h.handlePendingReviews)
		r.Get("/subordinates", h.handleSubordinatesHistory)
		r.Post("/approve", h.handleApprove)
		r.Post("/reject", h.handleReject)
		r.Post("/goals/{goalID}/archive", h.handleArchive)
		r.Put("/goals/{goalID}/supervisor-score", h.handleSupervisorScore)
		r.Post("/evaluations/submit", h.handleSubmitSupervisorOverall)
	})
}

func (h *Handler) reviewerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return 0, false
	}
	return user.UserID, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, review.ErrForbidden), errors.Is(err, pbc.ErrForbidden):
		api.Fail(w, http.StatusForbidden, "forbidden", err.Error(), reqID)
	case errors.Is(err, review.ErrValidation), errors.Is(err, pbc.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	case errors.Is(err, review.ErrInvalidState), errors.Is(err, pbc.ErrInvalidState):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), reqID)
	case errors.Is(err, pbc.ErrNotFound), errors.Is(err, org.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	default:
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func queryInt(r *http.Request, name string) *int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (h *Handler) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	pending, err := h.Review.PendingReviews(r.Context(), reviewerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, pending, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubordinatesHistory(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	history, err := h.Review.SubordinatesHistory(r.Context(), reviewerID, queryInt(r, "year"), queryInt(r, "quarter"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, history, middleware.GetRequestID(r.Context()))
}

type decisionRequest struct {
	UserID   int64  `json:"userId"`
	PeriodID int64  `json:"periodId"`
	Comment  string `json:"comment"`
	Reason   string `json:"reason"`
}

// decodeDecision reads the request body and keeps the raw bytes for
// idempotency hashing.
func decodeDecision(w http.ResponseWriter, r *http.Request) (decisionRequest, []byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return decisionRequest{}, nil, false
	}
	var payload decisionRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return decisionRequest{}, nil, false
	}
	return payload, body, true
}

// replayIdempotent writes the stored response when the Idempotency-Key was
// seen before. It reports whether the request was handled.
func (h *Handler) replayIdempotent(w http.ResponseWriter, r *http.Request, reviewerID int64, endpoint, key, requestHash string) bool {
	stored, found, err := h.Idem.Check(r.Context(), reviewerID, endpoint, key, requestHash)
	if errors.Is(err, middleware.ErrIdempotencyConflict) {
		api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key was used with a different payload", middleware.GetRequestID(r.Context()))
		return true
	}
	if err != nil {
		slog.Error("idempotency check failed", "error", err)
	}
	if found {
		api.Success(w, json.RawMessage(stored), middleware.GetRequestID(r.Context()))
		return true
	}
	return false
}

func (h *Handler) saveIdempotent(ctx context.Context, reviewerID int64, endpoint, key, requestHash string, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		slog.Error("idempotency response marshal failed", "error", err)
		return
	}
	if err := h.Idem.Save(ctx, reviewerID, endpoint, key, requestHash, encoded); err != nil {
		slog.Error("idempotency save failed", "error", err)
	}
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	payload, body, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	idempotencyKey := r.Header.Get("Idempotency-Key")
	requestHash := middleware.RequestHash(body)
	if idempotencyKey != "" && h.replayIdempotent(w, r, reviewerID, "reviews.approve", idempotencyKey, requestHash) {
		return
	}
	result, err := h.Review.ApproveCohort(r.Context(), payload.UserID, payload.PeriodID, reviewerID, payload.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if idempotencyKey != "" {
		h.saveIdempotent(r.Context(), reviewerID, "reviews.approve", idempotencyKey, requestHash, result)
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	payload, body, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	idempotencyKey := r.Header.Get("Idempotency-Key")
	requestHash := middleware.RequestHash(body)
	if idempotencyKey != "" && h.replayIdempotent(w, r, reviewerID, "reviews.reject", idempotencyKey, requestHash) {
		return
	}
	result, err := h.Review.RejectCohort(r.Context(), payload.UserID, payload.PeriodID, reviewerID, payload.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if idempotencyKey != "" {
		h.saveIdempotent(r.Context(), reviewerID, "reviews.reject", idempotencyKey, requestHash, result)
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Review.ArchiveGoal(r.Context(), id, reviewerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

type supervisorScoreRequest struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

func (h *Handler) handleSupervisorScore(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	var payload supervisorScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Review.SetSupervisorScore(r.Context(), id, reviewerID, payload.Score, payload.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

type supervisorOverallRequest struct {
	UserID         int64  `json:"userId"`
	PeriodID       int64  `json:"periodId"`
	OverallComment string `json:"overallComment"`
}

func (h *Handler) handleSubmitSupervisorOverall(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.reviewerID(w, r)
	if !ok {
		return
	}
	var payload supervisorOverallRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	evaluation, err := h.Review.SubmitSupervisorOverall(r.Context(), payload.UserID, payload.PeriodID, reviewerID, payload.OverallComment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, evaluation, middleware.GetRequestID(r.Context()))
}

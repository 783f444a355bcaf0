package pbchandler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
	"pbc/internal/transport/http/api"
	"pbc/internal/transport/http/middleware"
	"pbc/internal/transport/http/shared"
)

type Handler struct {
	Goals *pbc.Service
	Org   *org.Service
	Idem  *middleware.IdempotencyStore
}

func NewHandler(goals *pbc.Service, orgService *org.Service, idem *middleware.IdempotencyStore) *Handler {
	return &Handler{Goals: goals, Org: orgService, Idem: idem}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pbc", func(r chi.Router) {
		r.Post("/goals", h.handleCreateGoal)
		r.Get("/goals", h.handleListGoals)
		r.Get("/goals/{goalID}", h.handleGetGoal)
		r.Put("/goals/{goalID}", h.handleUpdateGoal)
		r.Delete("/goals/{goalID}", h.handleDeleteGoal)
		r.Post("/goals/{goalID}/sub-goals", h.handleCreateSubGoal)
		r.Get("/goals/{goalID}/approvals", h.handleApprovalHistory)
		r.Put("/goals/{goalID}/self-score", h.handleSelfScore)
		r.Post("/submit", h.handleSubmit)
		r.Get("/summary", h.handleSummary)
		r.Get("/team", h.handleTeamGoals)
		r.Get("/supervisor-goals", h.handleSupervisorGoals)
		r.Get("/evaluations", h.handleGetEvaluation)
		r.Post("/evaluations/submit", h.handleSubmitSelfOverall)
	})
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.handleListPeriods)
		r.Get("/active", h.handleActivePeriod)
		r.With(middleware.RequireRole(org.RoleGM)).Post("/", h.handleCreatePeriod)
		r.With(middleware.RequireRole(org.RoleGM)).Post("/{periodID}/close", h.handleClosePeriod)
	})
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (org.User, bool) {
	reqID := middleware.GetRequestID(r.Context())
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return org.User{}, false
	}
	profile, err := h.Org.GetUser(r.Context(), user.UserID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "viewer_error", "viewer lookup failed", reqID)
		return org.User{}, false
	}
	return profile, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, pbc.ErrNotFound), errors.Is(err, org.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, pbc.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	case errors.Is(err, pbc.ErrForbidden):
		api.Fail(w, http.StatusForbidden, "forbidden", err.Error(), reqID)
	case errors.Is(err, pbc.ErrInvalidState):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), reqID)
	case errors.Is(err, pgx.ErrNoRows):
		api.Fail(w, http.StatusBadRequest, "validation_error", "no active period", reqID)
	default:
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func queryInt64(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
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

// subjectUser resolves the user a read targets: the user_id query parameter
// when present, the viewer otherwise. Reads on another user pass the
// visibility check.
func (h *Handler) subjectUser(w http.ResponseWriter, r *http.Request, viewer org.User) (org.User, bool) {
	requested := queryInt64(r, "user_id")
	if requested == nil || *requested == viewer.ID {
		return viewer, true
	}
	subject, err := h.Org.GetUser(r.Context(), *requested)
	if err != nil {
		writeError(w, r, err)
		return org.User{}, false
	}
	if !shared.CanViewUser(viewer, subject) {
		api.Fail(w, http.StatusForbidden, "forbidden", "not allowed to view this user", middleware.GetRequestID(r.Context()))
		return org.User{}, false
	}
	return subject, true
}

func (h *Handler) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var input pbc.GoalInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Goals.CreateGoal(r.Context(), viewer.ID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateSubGoal(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	parentID, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	var input pbc.GoalInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Goals.CreateSubGoal(r.Context(), parentID, viewer.ID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListGoals(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	subject, ok := h.subjectUser(w, r, viewer)
	if !ok {
		return
	}
	filter := pbc.ListFilter{
		UserID:   &subject.ID,
		PeriodID: queryInt64(r, "period_id"),
		Year:     queryInt(r, "year"),
		Quarter:  queryInt(r, "quarter"),
		Status:   r.URL.Query().Get("status"),
		GoalType: r.URL.Query().Get("goal_type"),
	}
	goals, err := h.Goals.ListGoals(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goals, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Goals.GetGoal(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if goal.UserID != viewer.ID {
		owner, err := h.Org.GetUser(r.Context(), goal.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !shared.CanViewUser(viewer, owner) {
			api.Fail(w, http.StatusForbidden, "forbidden", "not allowed to view this goal", middleware.GetRequestID(r.Context()))
			return
		}
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	var input pbc.GoalInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Goals.UpdateGoal(r.Context(), id, viewer.ID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.Goals.DeleteGoal(r.Context(), id, viewer.ID); err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"message": "goal deleted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	history, err := h.Goals.ApprovalHistory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, history, middleware.GetRequestID(r.Context()))
}

type selfScoreRequest struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

func (h *Handler) handleSelfScore(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "goalID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid goal id", middleware.GetRequestID(r.Context()))
		return
	}
	var payload selfScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	goal, err := h.Goals.SetSelfScore(r.Context(), id, viewer.ID, payload.Score, payload.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goal, middleware.GetRequestID(r.Context()))
}

type submitRequest struct {
	PeriodID *int64 `json:"periodId"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	var payload submitRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
			return
		}
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	requestHash := middleware.RequestHash(body)
	if idempotencyKey != "" {
		stored, found, err := h.Idem.Check(r.Context(), viewer.ID, "pbc.submit", idempotencyKey, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key was used with a different payload", middleware.GetRequestID(r.Context()))
			return
		}
		if err != nil {
			slog.Error("idempotency check failed", "error", err)
		}
		if found {
			api.Success(w, json.RawMessage(stored), middleware.GetRequestID(r.Context()))
			return
		}
	}

	result, err := h.Goals.SubmitCohort(r.Context(), viewer.ID, payload.PeriodID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if idempotencyKey != "" {
		encoded, err := json.Marshal(result)
		if err != nil {
			slog.Error("idempotency response marshal failed", "error", err)
		} else if err := h.Idem.Save(r.Context(), viewer.ID, "pbc.submit", idempotencyKey, requestHash, encoded); err != nil {
			slog.Error("idempotency save failed", "error", err)
		}
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	subject, ok := h.subjectUser(w, r, viewer)
	if !ok {
		return
	}
	summary, err := h.Goals.CohortSummary(r.Context(), subject.ID, queryInt64(r, "period_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleTeamGoals(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	goals, err := h.Goals.TeamGoals(r.Context(), viewer.ID, queryInt64(r, "period_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goals, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSupervisorGoals(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	goals, err := h.Goals.SupervisorGoals(r.Context(), viewer.ID, queryInt64(r, "period_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, goals, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	subject, ok := h.subjectUser(w, r, viewer)
	if !ok {
		return
	}
	periodID, err := h.resolvePeriodID(r, queryInt64(r, "period_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.Goals.GetEvaluation(r.Context(), subject.ID, periodID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

type submitSelfOverallRequest struct {
	PeriodID       *int64 `json:"periodId"`
	OverallComment string `json:"overallComment"`
}

func (h *Handler) handleSubmitSelfOverall(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var payload submitSelfOverallRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	periodID, err := h.resolvePeriodID(r, payload.PeriodID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	evaluation, err := h.Goals.SubmitSelfOverall(r.Context(), viewer.ID, periodID, payload.OverallComment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, evaluation, middleware.GetRequestID(r.Context()))
}

func (h *Handler) resolvePeriodID(r *http.Request, given *int64) (int64, error) {
	if given != nil {
		return *given, nil
	}
	period, err := h.Goals.ActivePeriod(r.Context())
	if err != nil {
		return 0, err
	}
	return period.ID, nil
}

type createPeriodRequest struct {
	Year      int    `json:"year"`
	Quarter   int    `json:"quarter"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var payload createPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	start, err := time.Parse("2006-01-02", payload.StartDate)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid start_date", middleware.GetRequestID(r.Context()))
		return
	}
	end, err := time.Parse("2006-01-02", payload.EndDate)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid end_date", middleware.GetRequestID(r.Context()))
		return
	}
	period, err := h.Goals.CreatePeriod(r.Context(), payload.Year, payload.Quarter, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	periods, err := h.Goals.ListPeriods(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, periods, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleActivePeriod(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	period, err := h.Goals.ActivePeriod(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "periodID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid period id", middleware.GetRequestID(r.Context()))
		return
	}
	period, err := h.Goals.ClosePeriod(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

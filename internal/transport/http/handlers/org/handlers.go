package orghandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pbc/internal/domain/org"
	"pbc/internal/transport/http/api"
	"pbc/internal/transport/http/middleware"
)

type Handler struct {
	Org *org.Service
}

func NewHandler(orgService *org.Service) *Handler {
	return &Handler{Org: orgService}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.handleListUsers)
		r.Post("/", h.handleCreateUser)
		r.Get("/subordinates", h.handleSubordinates)
		r.Get("/{userID}", h.handleGetUser)
		r.Put("/{userID}", h.handleUpdateUser)
	})
	r.Route("/departments", func(r chi.Router) {
		r.Get("/", h.handleListDepartments)
		r.Get("/tree", h.handleDepartmentTree)
		r.With(middleware.RequireRole(org.RoleManager, org.RoleGM, org.RoleAssistant)).Post("/", h.handleCreateDepartment)
		r.With(middleware.RequireRole(org.RoleManager, org.RoleGM, org.RoleAssistant)).Put("/{departmentID}", h.handleUpdateDepartment)
		r.With(middleware.RequireRole(org.RoleGM)).Delete("/{departmentID}", h.handleDeleteDepartment)
	})
}

// viewer loads the caller's full profile; every org operation is scoped by
// the viewer's role and department.
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
	case errors.Is(err, org.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, org.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	case errors.Is(err, org.ErrForbidden):
		api.Fail(w, http.StatusForbidden, "forbidden", err.Error(), reqID)
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

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	users, err := h.Org.ListUsers(r.Context(), viewer, queryInt64(r, "department_id"), r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubordinates(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	users, err := h.Org.Subordinates(r.Context(), viewer.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid user id", middleware.GetRequestID(r.Context()))
		return
	}
	user, err := h.Org.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, user, middleware.GetRequestID(r.Context()))
}

type createUserRequest struct {
	Username     string `json:"username"`
	RealName     string `json:"real_name"`
	JobTitle     string `json:"job_title"`
	Role         string `json:"role"`
	DepartmentID *int64 `json:"department_id"`
	SupervisorID *int64 `json:"supervisor_id"`
	Organization string `json:"organization"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	var payload createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	user, err := h.Org.CreateUser(r.Context(), viewer, org.CreateUserInput{
		Username:     payload.Username,
		RealName:     payload.RealName,
		JobTitle:     payload.JobTitle,
		Role:         payload.Role,
		DepartmentID: payload.DepartmentID,
		SupervisorID: payload.SupervisorID,
		Organization: payload.Organization,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, user, middleware.GetRequestID(r.Context()))
}

type updateUserRequest struct {
	RealName     *string `json:"real_name"`
	JobTitle     *string `json:"job_title"`
	Role         *string `json:"role"`
	DepartmentID *int64  `json:"department_id"`
	SupervisorID *int64  `json:"supervisor_id"`
	Organization *string `json:"organization"`
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "userID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid user id", middleware.GetRequestID(r.Context()))
		return
	}
	var payload updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	user, err := h.Org.UpdateUser(r.Context(), viewer, id, org.UpdateUserInput{
		RealName:     payload.RealName,
		JobTitle:     payload.JobTitle,
		Role:         payload.Role,
		DepartmentID: payload.DepartmentID,
		SupervisorID: payload.SupervisorID,
		Organization: payload.Organization,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, user, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	departments, err := h.Org.ListDepartments(r.Context(), viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, departments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDepartmentTree(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	tree, err := h.Org.DepartmentTree(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, tree, middleware.GetRequestID(r.Context()))
}

type departmentRequest struct {
	Name     string `json:"department_name"`
	ParentID *int64 `json:"parent_id"`
}

func (h *Handler) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var payload departmentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	department, err := h.Org.CreateDepartment(r.Context(), payload.Name, payload.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, department, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "departmentID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid department id", middleware.GetRequestID(r.Context()))
		return
	}
	var payload departmentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}
	department, err := h.Org.UpdateDepartment(r.Context(), id, payload.Name, payload.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, department, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "departmentID")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_id", "invalid department id", middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.Org.DeleteDepartment(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"message": "department deleted"}, middleware.GetRequestID(r.Context()))
}

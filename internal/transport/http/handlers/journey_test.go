package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"pbc/internal/app/server"
	"pbc/internal/platform/config"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error any             `json:"error"`
}

func testConfig(t *testing.T, dbURL string) config.Config {
	t.Helper()
	return config.Config{
		DatabaseURL:        dbURL,
		JWTSecret:          "test-secret",
		TokenTTL:           time.Hour,
		Environment:        "test",
		SeedRootDepartment: "Head Office",
		SeedAdminUsername:  "admin",
		SeedAdminPassword:  "AdminPass123!",
		DefaultPassword:    "Welcome123",
		RunMigrations:      true,
		RunSeed:            true,
		MaxBodyBytes:       1048576,
		ReportDir:          t.TempDir(),
	}
}

func TestGoalSubmitAndApproveJourney(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	adminToken := login(t, client, ts.URL, cfg.SeedAdminUsername, cfg.SeedAdminPassword)
	admin := profile(t, client, ts.URL, adminToken)

	periodID := activePeriodID(t, client, ts.URL, adminToken)

	suffix := time.Now().UnixNano()
	managerID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      fmt.Sprintf("manager-%d", suffix),
		"real_name":     "Mona Manager",
		"job_title":     "Team Lead",
		"role":          "manager",
		"department_id": admin["departmentId"],
		"supervisor_id": admin["userId"],
	})
	employeeUsername := fmt.Sprintf("employee-%d", suffix)
	employeeID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      employeeUsername,
		"real_name":     "Eve Employee",
		"job_title":     "Engineer",
		"role":          "employee",
		"department_id": admin["departmentId"],
		"supervisor_id": managerID,
	})

	managerToken := login(t, client, ts.URL, fmt.Sprintf("manager-%d", suffix), cfg.DefaultPassword)
	employeeToken := login(t, client, ts.URL, employeeUsername, cfg.DefaultPassword)

	goal1 := createGoal(t, client, ts.URL, employeeToken, periodID, "business", "Ship the billing migration", 40)
	goal2 := createGoal(t, client, ts.URL, employeeToken, periodID, "skill", "Learn query tuning", 60)

	// Weights 40 + 60 sum to exactly 100, so the submit must go through.
	submitResp := postJSON(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken, map[string]any{"periodId": periodID})
	var submitted struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(submitResp.Data, &submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	if submitted.Count != 2 {
		t.Fatalf("submitted count = %d, want 2", submitted.Count)
	}

	pendingResp := getJSON(t, client, ts.URL+"/api/v1/reviews/pending", managerToken)
	var pending []map[string]any
	if err := json.Unmarshal(pendingResp.Data, &pending); err != nil {
		t.Fatalf("failed to decode pending reviews: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending reviews = %d, want 2", len(pending))
	}

	approveResp := postJSON(t, client, ts.URL+"/api/v1/reviews/approve", managerToken, map[string]any{
		"userId":   employeeID,
		"periodId": periodID,
		"comment":  "looks good",
	})
	var approved struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(approveResp.Data, &approved); err != nil {
		t.Fatalf("failed to decode approve response: %v", err)
	}
	if approved.Count != 2 {
		t.Fatalf("approved count = %d, want 2", approved.Count)
	}

	summary := cohortSummary(t, client, ts.URL, managerToken, employeeID, periodID)
	if summary != "approved" {
		t.Fatalf("cohort summary status = %q, want approved", summary)
	}

	setSelfScore(t, client, ts.URL, employeeToken, goal1, 90, "done ahead of schedule")
	setSelfScore(t, client, ts.URL, employeeToken, goal2, 80, "steady progress")
	postJSON(t, client, ts.URL+"/api/v1/pbc/evaluations/submit", employeeToken, map[string]any{
		"periodId":       periodID,
		"overallComment": "strong quarter",
	})

	setSupervisorScore(t, client, ts.URL, managerToken, goal1, 85, "solid delivery")
	setSupervisorScore(t, client, ts.URL, managerToken, goal2, 75, "keep at it")
	postJSON(t, client, ts.URL+"/api/v1/reviews/evaluations/submit", managerToken, map[string]any{
		"userId":         employeeID,
		"periodId":       periodID,
		"overallComment": "met expectations",
	})

	reportURL := fmt.Sprintf("%s/api/v1/reports/evaluation?user_id=%d&period_id=%d", ts.URL, int64(employeeID), periodID)
	req, err := http.NewRequest(http.MethodGet, reportURL, nil)
	if err != nil {
		t.Fatalf("failed to create report request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+managerToken)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("report request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("report status = %d: %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("report content type = %q, want application/pdf", ct)
	}
}

func TestRejectAndWeightInvariant(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	adminToken := login(t, client, ts.URL, cfg.SeedAdminUsername, cfg.SeedAdminPassword)
	admin := profile(t, client, ts.URL, adminToken)
	periodID := activePeriodID(t, client, ts.URL, adminToken)

	suffix := time.Now().UnixNano()
	managerUsername := fmt.Sprintf("reviewer-%d", suffix)
	managerID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      managerUsername,
		"real_name":     "Rex Reviewer",
		"role":          "manager",
		"department_id": admin["departmentId"],
		"supervisor_id": admin["userId"],
	})
	employeeUsername := fmt.Sprintf("writer-%d", suffix)
	employeeID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      employeeUsername,
		"real_name":     "Walt Writer",
		"role":          "employee",
		"department_id": admin["departmentId"],
		"supervisor_id": managerID,
	})

	managerToken := login(t, client, ts.URL, managerUsername, cfg.DefaultPassword)
	employeeToken := login(t, client, ts.URL, employeeUsername, cfg.DefaultPassword)

	createGoal(t, client, ts.URL, employeeToken, periodID, "business", "Close three accounts", 30)
	createGoal(t, client, ts.URL, employeeToken, periodID, "business", "Open a new region", 30)

	// 30 + 30 leaves the cohort short of 100% and the submit must fail.
	postJSONStatus(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken,
		map[string]any{"periodId": periodID}, http.StatusBadRequest)

	createGoal(t, client, ts.URL, employeeToken, periodID, "skill", "Mentor a junior", 40)

	postJSON(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken, map[string]any{"periodId": periodID})

	// A rejection without a reason is refused.
	postJSONStatus(t, client, ts.URL+"/api/v1/reviews/reject", managerToken, map[string]any{
		"userId":   employeeID,
		"periodId": periodID,
	}, http.StatusBadRequest)

	rejectResp := postJSON(t, client, ts.URL+"/api/v1/reviews/reject", managerToken, map[string]any{
		"userId":   employeeID,
		"periodId": periodID,
		"reason":   "targets are not measurable",
	})
	var rejected struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rejectResp.Data, &rejected); err != nil {
		t.Fatalf("failed to decode reject response: %v", err)
	}
	if rejected.Count != 3 {
		t.Fatalf("rejected count = %d, want 3", rejected.Count)
	}

	summary := cohortSummary(t, client, ts.URL, employeeToken, employeeID, periodID)
	if summary != "rejected" {
		t.Fatalf("cohort summary status = %q, want rejected", summary)
	}

	// Rejected goals are editable and the whole cohort can be resubmitted.
	postJSON(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken, map[string]any{"periodId": periodID})
	summary = cohortSummary(t, client, ts.URL, employeeToken, employeeID, periodID)
	if summary != "submitted" {
		t.Fatalf("cohort summary status = %q, want submitted", summary)
	}
}

func TestApprovedGoalEditResetAndEvaluationLocks(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	adminToken := login(t, client, ts.URL, cfg.SeedAdminUsername, cfg.SeedAdminPassword)
	admin := profile(t, client, ts.URL, adminToken)
	periodID := activePeriodID(t, client, ts.URL, adminToken)

	suffix := time.Now().UnixNano()
	managerUsername := fmt.Sprintf("lead-%d", suffix)
	managerID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      managerUsername,
		"real_name":     "Lena Lead",
		"role":          "manager",
		"department_id": admin["departmentId"],
		"supervisor_id": admin["userId"],
	})
	employeeUsername := fmt.Sprintf("editor-%d", suffix)
	employeeID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      employeeUsername,
		"real_name":     "Ed Editor",
		"role":          "employee",
		"department_id": admin["departmentId"],
		"supervisor_id": managerID,
	})

	managerToken := login(t, client, ts.URL, managerUsername, cfg.DefaultPassword)
	employeeToken := login(t, client, ts.URL, employeeUsername, cfg.DefaultPassword)

	goal1 := createGoal(t, client, ts.URL, employeeToken, periodID, "business", "Ship the importer", 40)
	goal2 := createGoal(t, client, ts.URL, employeeToken, periodID, "skill", "Learn profiling", 60)

	postJSON(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken, map[string]any{"periodId": periodID})
	postJSON(t, client, ts.URL+"/api/v1/reviews/approve", managerToken, map[string]any{
		"userId":   employeeID,
		"periodId": periodID,
		"comment":  "approved",
	})

	setSelfScore(t, client, ts.URL, employeeToken, goal1, 90, "done")

	// Editing an approved goal reopens the review cycle: the goal drops
	// back to draft and all four evaluation fields are cleared.
	editBody := map[string]any{
		"periodId":        periodID,
		"goalType":        "business",
		"goalName":        "Ship the importer for all regions",
		"goalDescription": "scope grew",
		"goalWeight":      40,
	}
	editResp := putJSON(t, client, fmt.Sprintf("%s/api/v1/pbc/goals/%d", ts.URL, goal1), employeeToken, editBody)
	var edited struct {
		Status            string   `json:"status"`
		SelfScore         *float64 `json:"selfScore"`
		SelfComment       *string  `json:"selfComment"`
		SupervisorScore   *float64 `json:"supervisorScore"`
		SupervisorComment *string  `json:"supervisorComment"`
	}
	if err := json.Unmarshal(editResp.Data, &edited); err != nil {
		t.Fatalf("failed to decode edited goal: %v", err)
	}
	if edited.Status != "draft" {
		t.Fatalf("edited goal status = %q, want draft", edited.Status)
	}
	if edited.SelfScore != nil || edited.SelfComment != nil || edited.SupervisorScore != nil || edited.SupervisorComment != nil {
		t.Fatalf("edited goal kept evaluation fields: %+v", edited)
	}

	// A draft goal cannot be self-scored.
	putJSONStatus(t, client, fmt.Sprintf("%s/api/v1/pbc/goals/%d/self-score", ts.URL, goal1), employeeToken,
		map[string]any{"score": 90, "comment": "done"}, http.StatusConflict)

	// Only the reopened goal goes back through review.
	resubmitResp := postJSON(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken, map[string]any{"periodId": periodID})
	var resubmitted struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resubmitResp.Data, &resubmitted); err != nil {
		t.Fatalf("failed to decode resubmit response: %v", err)
	}
	if resubmitted.Count != 1 {
		t.Fatalf("resubmitted count = %d, want 1", resubmitted.Count)
	}
	postJSON(t, client, ts.URL+"/api/v1/reviews/approve", managerToken, map[string]any{
		"userId":   employeeID,
		"periodId": periodID,
		"comment":  "approved again",
	})

	// The overall self evaluation is refused while any approved goal
	// still lacks a self score.
	setSelfScore(t, client, ts.URL, employeeToken, goal1, 90, "done")
	postJSONStatus(t, client, ts.URL+"/api/v1/pbc/evaluations/submit", employeeToken, map[string]any{
		"periodId":       periodID,
		"overallComment": "good quarter",
	}, http.StatusBadRequest)
	setSelfScore(t, client, ts.URL, employeeToken, goal2, 80, "steady")

	// The supervisor cannot finalize before the employee has submitted
	// their overall self evaluation.
	setSupervisorScore(t, client, ts.URL, managerToken, goal1, 85, "solid")
	setSupervisorScore(t, client, ts.URL, managerToken, goal2, 75, "fine")
	postJSONStatus(t, client, ts.URL+"/api/v1/reviews/evaluations/submit", managerToken, map[string]any{
		"userId":         employeeID,
		"periodId":       periodID,
		"overallComment": "met expectations",
	}, http.StatusBadRequest)

	postJSON(t, client, ts.URL+"/api/v1/pbc/evaluations/submit", employeeToken, map[string]any{
		"periodId":       periodID,
		"overallComment": "good quarter",
	})

	// Submitting the overall self evaluation locks approved goals.
	putJSONStatus(t, client, fmt.Sprintf("%s/api/v1/pbc/goals/%d", ts.URL, goal1), employeeToken,
		editBody, http.StatusConflict)

	postJSON(t, client, ts.URL+"/api/v1/reviews/evaluations/submit", managerToken, map[string]any{
		"userId":         employeeID,
		"periodId":       periodID,
		"overallComment": "met expectations",
	})

	// Users with no job title on record still load.
	if _, err := app.Pool.Exec(context.Background(),
		"UPDATE users SET job_title = NULL WHERE user_id = $1", int64(employeeID)); err != nil {
		t.Fatalf("failed to clear job title: %v", err)
	}
	userResp := getJSON(t, client, fmt.Sprintf("%s/api/v1/users/%d", ts.URL, int64(employeeID)), adminToken)
	var fetched struct {
		JobTitle string `json:"jobTitle"`
	}
	if err := json.Unmarshal(userResp.Data, &fetched); err != nil {
		t.Fatalf("failed to decode user: %v", err)
	}
	if fetched.JobTitle != "" {
		t.Fatalf("job title = %q, want empty", fetched.JobTitle)
	}
}

func TestSubmitIdempotencyKeyReplay(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := testConfig(t, dbURL)
	app, err := server.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	adminToken := login(t, client, ts.URL, cfg.SeedAdminUsername, cfg.SeedAdminPassword)
	admin := profile(t, client, ts.URL, adminToken)
	periodID := activePeriodID(t, client, ts.URL, adminToken)

	suffix := time.Now().UnixNano()
	managerUsername := fmt.Sprintf("approver-%d", suffix)
	managerID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      managerUsername,
		"real_name":     "Axel Approver",
		"role":          "manager",
		"department_id": admin["departmentId"],
		"supervisor_id": admin["userId"],
	})
	employeeUsername := fmt.Sprintf("retrier-%d", suffix)
	employeeID := createUser(t, client, ts.URL, adminToken, map[string]any{
		"username":      employeeUsername,
		"real_name":     "Rita Retrier",
		"role":          "employee",
		"department_id": admin["departmentId"],
		"supervisor_id": managerID,
	})

	managerToken := login(t, client, ts.URL, managerUsername, cfg.DefaultPassword)
	employeeToken := login(t, client, ts.URL, employeeUsername, cfg.DefaultPassword)

	createGoal(t, client, ts.URL, employeeToken, periodID, "business", "Roll out the new CRM", 50)
	createGoal(t, client, ts.URL, employeeToken, periodID, "skill", "Get the cert", 50)

	submitBody := map[string]any{"periodId": periodID}
	submitKey := fmt.Sprintf("submit-%d", suffix)
	first := doJSONHeaders(t, client, http.MethodPost, ts.URL+"/api/v1/pbc/submit", employeeToken,
		map[string]string{"Idempotency-Key": submitKey}, submitBody, http.StatusOK)
	var submitted struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(first.Data, &submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	if submitted.Count != 2 {
		t.Fatalf("submitted count = %d, want 2", submitted.Count)
	}

	// Without the key a second submit finds nothing left to submit.
	postJSONStatus(t, client, ts.URL+"/api/v1/pbc/submit", employeeToken, submitBody, http.StatusConflict)

	// Retrying with the same key and payload replays the stored response.
	replay := doJSONHeaders(t, client, http.MethodPost, ts.URL+"/api/v1/pbc/submit", employeeToken,
		map[string]string{"Idempotency-Key": submitKey}, submitBody, http.StatusOK)
	var replayed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(replay.Data, &replayed); err != nil {
		t.Fatalf("failed to decode replayed response: %v", err)
	}
	if replayed.Count != 2 {
		t.Fatalf("replayed count = %d, want 2", replayed.Count)
	}

	// The same key with a different payload is refused.
	doJSONHeaders(t, client, http.MethodPost, ts.URL+"/api/v1/pbc/submit", employeeToken,
		map[string]string{"Idempotency-Key": submitKey},
		map[string]any{"periodId": periodID, "note": "changed"}, http.StatusConflict)

	// The approve endpoint replays through the same store.
	approveBody := map[string]any{
		"userId":   employeeID,
		"periodId": periodID,
		"comment":  "approved",
	}
	approveKey := fmt.Sprintf("approve-%d", suffix)
	firstApprove := doJSONHeaders(t, client, http.MethodPost, ts.URL+"/api/v1/reviews/approve", managerToken,
		map[string]string{"Idempotency-Key": approveKey}, approveBody, http.StatusOK)
	var approved struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(firstApprove.Data, &approved); err != nil {
		t.Fatalf("failed to decode approve response: %v", err)
	}
	replayApprove := doJSONHeaders(t, client, http.MethodPost, ts.URL+"/api/v1/reviews/approve", managerToken,
		map[string]string{"Idempotency-Key": approveKey}, approveBody, http.StatusOK)
	var approvedAgain struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(replayApprove.Data, &approvedAgain); err != nil {
		t.Fatalf("failed to decode replayed approve response: %v", err)
	}
	if approvedAgain.Count != approved.Count {
		t.Fatalf("replayed approve count = %d, want %d", approvedAgain.Count, approved.Count)
	}
}

func login(t *testing.T, client *http.Client, baseURL, username, password string) string {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/v1/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	})
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatal("expected access token")
	}
	return payload.AccessToken
}

func profile(t *testing.T, client *http.Client, baseURL, token string) map[string]any {
	t.Helper()
	resp := getJSON(t, client, baseURL+"/api/v1/auth/profile", token)
	var user map[string]any
	if err := json.Unmarshal(resp.Data, &user); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	return user
}

func activePeriodID(t *testing.T, client *http.Client, baseURL, token string) int64 {
	t.Helper()
	resp := getJSON(t, client, baseURL+"/api/v1/periods/active", token)
	var period struct {
		ID int64 `json:"periodId"`
	}
	if err := json.Unmarshal(resp.Data, &period); err != nil {
		t.Fatalf("failed to decode active period: %v", err)
	}
	return period.ID
}

func createUser(t *testing.T, client *http.Client, baseURL, token string, payload map[string]any) float64 {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/v1/users", token, payload)
	var user struct {
		ID float64 `json:"userId"`
	}
	if err := json.Unmarshal(resp.Data, &user); err != nil {
		t.Fatalf("failed to decode created user: %v", err)
	}
	return user.ID
}

func createGoal(t *testing.T, client *http.Client, baseURL, token string, periodID int64, goalType, name string, weight float64) int64 {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/v1/pbc/goals", token, map[string]any{
		"periodId":        periodID,
		"goalType":        goalType,
		"goalName":        name,
		"goalDescription": "journey test goal",
		"goalWeight":      weight,
	})
	var goal struct {
		ID int64 `json:"goalId"`
	}
	if err := json.Unmarshal(resp.Data, &goal); err != nil {
		t.Fatalf("failed to decode created goal: %v", err)
	}
	return goal.ID
}

func cohortSummary(t *testing.T, client *http.Client, baseURL, token string, userID float64, periodID int64) string {
	t.Helper()
	url := fmt.Sprintf("%s/api/v1/pbc/summary?user_id=%d&period_id=%d", baseURL, int64(userID), periodID)
	resp := getJSON(t, client, url, token)
	var summary struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	return summary.Status
}

func setSelfScore(t *testing.T, client *http.Client, baseURL, token string, goalID int64, score float64, comment string) {
	t.Helper()
	putJSON(t, client, fmt.Sprintf("%s/api/v1/pbc/goals/%d/self-score", baseURL, goalID), token,
		map[string]any{"score": score, "comment": comment})
}

func setSupervisorScore(t *testing.T, client *http.Client, baseURL, token string, goalID int64, score float64, comment string) {
	t.Helper()
	putJSON(t, client, fmt.Sprintf("%s/api/v1/reviews/goals/%d/supervisor-score", baseURL, goalID), token,
		map[string]any{"score": score, "comment": comment})
}

func postJSON(t *testing.T, client *http.Client, url, token string, body any) envelope {
	t.Helper()
	return doJSON(t, client, http.MethodPost, url, token, body, 0)
}

func postJSONStatus(t *testing.T, client *http.Client, url, token string, body any, want int) envelope {
	t.Helper()
	return doJSON(t, client, http.MethodPost, url, token, body, want)
}

func putJSON(t *testing.T, client *http.Client, url, token string, body any) envelope {
	t.Helper()
	return doJSON(t, client, http.MethodPut, url, token, body, 0)
}

func putJSONStatus(t *testing.T, client *http.Client, url, token string, body any, want int) envelope {
	t.Helper()
	return doJSON(t, client, http.MethodPut, url, token, body, want)
}

func getJSON(t *testing.T, client *http.Client, url, token string) envelope {
	t.Helper()
	return doJSON(t, client, http.MethodGet, url, token, nil, 0)
}

// doJSON issues one request and decodes the envelope. A zero wantStatus
// means any success status is accepted and failures abort the test.
func doJSON(t *testing.T, client *http.Client, method, url, token string, body any, wantStatus int) envelope {
	t.Helper()
	return doJSONHeaders(t, client, method, url, token, nil, body, wantStatus)
}

func doJSONHeaders(t *testing.T, client *http.Client, method, url, token string, headers map[string]string, body any, wantStatus int) envelope {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to decode response from %s: %v", url, err)
	}

	if wantStatus != 0 {
		if resp.StatusCode != wantStatus {
			t.Fatalf("%s %s: status %d, want %d: %s", method, url, resp.StatusCode, wantStatus, string(raw))
		}
		return env
	}
	if resp.StatusCode >= 400 {
		t.Fatalf("%s %s: unexpected status %d: %s", method, url, resp.StatusCode, string(raw))
	}
	return env
}

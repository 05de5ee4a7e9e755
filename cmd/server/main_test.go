package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sf7293/task-assigner/configs"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/engine"
	"github.com/sf7293/task-assigner/internal/memstore"
	"github.com/sf7293/task-assigner/internal/redis"
	"github.com/sf7293/task-assigner/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskResponse struct {
	Task     domain.Task           `json:"task"`
	Dispatch server.TriggerResult `json:"dispatch"`
}

// runTestServer serves the API over an in-memory store and a miniredis cache, with no broker.
func runTestServer(t *testing.T) (*httptest.Server, *miniredis.Miniredis) {
	t.Helper()

	redisServer := miniredis.RunT(t)
	redisClient, err := redis.NewClient("redis://"+redisServer.Addr()+"/0", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	store := memstore.New()
	store.AddCandidate(domain.Candidate{ID: 1, Name: "Ana", Department: "Finance", ExperienceYears: 3, IsActive: true})
	store.AddCandidate(domain.Candidate{ID: 2, Name: "Ben", Department: "Finance", ExperienceYears: 6, IsActive: true})

	cfg := configs.AssignmentConfig{
		PendingTasksTTLInSeconds:       60,
		ActiveCountTTLInSeconds:        30,
		EligibleCandidatesTTLInSeconds: 120,
		TaskDetailTTLInSeconds:         60,
		BrokerProbeTimeOutInMillis:     2000,
		BulkChunkSize:                  50,
	}
	eng := engine.New(engine.Infra{Storage: store, KeyValue: redisClient}, cfg, domain.QueueNames{})
	postgresIsReady = true

	router := setupHTTPServer(routerDeps{
		logic:          server.NewServerLogic(store, eng.Orchestrator, eng.Cache, eng.Coordinator),
		evaluator:      eng.Evaluator,
		storage:        store,
		requestTimeout: 5 * time.Second,
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, redisServer
}

func doRequest(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, respBody
}

func createTask(t *testing.T, ts *httptest.Server) taskResponse {
	t.Helper()

	status, body := doRequest(t, http.MethodPost, ts.URL+"/tasks", map[string]any{
		"title":            "quarterly report",
		"priority":         "high",
		"assignment_rules": map[string]any{"department": "Finance", "min_experience": 5},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	created := taskResponse{}
	require.NoError(t, json.Unmarshal(body, &created))
	return created
}

func TestCreateTask(t *testing.T) {
	ts, _ := runTestServer(t)

	created := createTask(t, ts)
	assert.Equal(t, "quarterly report", created.Task.Title)
	assert.Equal(t, "high", created.Task.Priority)
	assert.Equal(t, "todo", created.Task.Status)
	require.NotNil(t, created.Task.AssignedTo)
	assert.Equal(t, int32(2), *created.Task.AssignedTo)
	assert.Equal(t, "executed_inline", string(created.Dispatch.Outcome))
}

func TestCreateTask_InvalidRequest(t *testing.T) {
	ts, _ := runTestServer(t)

	// Negative threshold
	status, _ := doRequest(t, http.MethodPost, ts.URL+"/tasks", map[string]any{
		"title":            "broken",
		"assignment_rules": map[string]any{"min_experience": -1},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// Unknown priority
	status, _ = doRequest(t, http.MethodPost, ts.URL+"/tasks", map[string]any{
		"title":    "broken",
		"priority": "urgent",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// Missing title
	status, _ = doRequest(t, http.MethodPost, ts.URL+"/tasks", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	// Unknown rules are accepted
	status, body := doRequest(t, http.MethodPost, ts.URL+"/tasks", map[string]any{
		"title":            "loose",
		"assignment_rules": map[string]any{"department": "Finance", "shift": "night"},
	})
	assert.Equal(t, http.StatusCreated, status, string(body))
}

func TestGetTask(t *testing.T) {
	ts, redisServer := runTestServer(t)
	created := createTask(t, ts)

	status, body := doRequest(t, http.MethodGet, ts.URL+"/tasks/1", nil)
	require.Equal(t, http.StatusOK, status)
	fetched := taskResponse{}
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.Task.ID, fetched.Task.ID)
	assert.True(t, redisServer.Exists("task:1:detail"))

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/tasks/999", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateStatus(t *testing.T) {
	ts, _ := runTestServer(t)
	createTask(t, ts)

	status, _ := doRequest(t, http.MethodPatch, ts.URL+"/tasks/1/status", map[string]any{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, http.MethodPatch, ts.URL+"/tasks/1/status", map[string]any{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doRequest(t, http.MethodPatch, ts.URL+"/tasks/1/status", map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, status, string(body))
	updated := taskResponse{}
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "in_progress", updated.Task.Status)
}

func TestUpdateRules_Reassigns(t *testing.T) {
	ts, _ := runTestServer(t)
	createTask(t, ts)

	status, body := doRequest(t, http.MethodPatch, ts.URL+"/tasks/1/rules", map[string]any{
		"assignment_rules": map[string]any{"department": "Finance", "min_experience": 0, "max_active_tasks": 1},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	updated := taskResponse{}
	require.NoError(t, json.Unmarshal(body, &updated))
	require.NotNil(t, updated.Task.AssignedTo)
	assert.Equal(t, int32(1), *updated.Task.AssignedTo)
}

func TestEligibleUsersAndPendingTasks(t *testing.T) {
	ts, _ := runTestServer(t)
	createTask(t, ts)

	status, body := doRequest(t, http.MethodGet, ts.URL+"/tasks/1/eligible-users", nil)
	require.Equal(t, http.StatusOK, status)
	eligible := struct {
		EligibleUsers []domain.EligibleCandidate `json:"eligible_users"`
	}{}
	require.NoError(t, json.Unmarshal(body, &eligible))
	require.Len(t, eligible.EligibleUsers, 1)
	assert.Equal(t, int32(2), eligible.EligibleUsers[0].ID)

	status, body = doRequest(t, http.MethodGet, ts.URL+"/users/2/tasks", nil)
	require.Equal(t, http.StatusOK, status)
	pending := struct {
		Tasks []domain.Task `json:"tasks"`
	}{}
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending.Tasks, 1)
	assert.Equal(t, int32(1), pending.Tasks[0].ID)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/users/42/tasks", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteTask(t *testing.T) {
	ts, _ := runTestServer(t)
	createTask(t, ts)

	status, _ := doRequest(t, http.MethodDelete, ts.URL+"/tasks/1", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/tasks/1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, http.MethodPost, ts.URL+"/tasks/1/assign", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBulkRecompute(t *testing.T) {
	ts, _ := runTestServer(t)
	createTask(t, ts)

	status, body := doRequest(t, http.MethodPost, ts.URL+"/tasks/bulk-recompute", map[string]any{"task_ids": []int32{1}})
	assert.Equal(t, http.StatusAccepted, status, string(body))

	status, body = doRequest(t, http.MethodPost, ts.URL+"/tasks/bulk-recompute", nil)
	assert.Equal(t, http.StatusAccepted, status, string(body))
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := runTestServer(t)

	status, body := doRequest(t, http.MethodGet, ts.URL+"/readiness", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ready"}`, string(body))

	status, body = doRequest(t, http.MethodGet, ts.URL+"/liveness", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"degraded"}`, string(body))
}

package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"summit/internal/app"
	"summit/internal/domain"
	"summit/internal/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	a, err := app.Setup(t.TempDir())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	handler, err := server.New(server.Config{Engine: a.Engine})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				t.Fatalf("decode %s %s: %v (body: %s)", method, url, err, data)
			}
		}
	}
	return resp.StatusCode
}

// seedChain builds goal -> sub-goal -> action over the API and returns ids.
func seedChain(t *testing.T, base string) (goalID, subGoalID, actionID string) {
	t.Helper()
	var g domain.Goal
	if code := doJSON(t, http.MethodPost, base+"/v0/goals", map[string]any{"title": "Learn the cello"}, &g); code != http.StatusCreated {
		t.Fatalf("create goal: status %d", code)
	}
	var sg domain.SubGoal
	if code := doJSON(t, http.MethodPost, base+"/v0/goals/"+g.ID+"/sub-goals", map[string]any{"title": "Technique"}, &sg); code != http.StatusCreated {
		t.Fatalf("create sub-goal: status %d", code)
	}
	var act domain.Action
	if code := doJSON(t, http.MethodPost, base+"/v0/sub-goals/"+sg.ID+"/actions", map[string]any{"title": "Scales practice"}, &act); code != http.StatusCreated {
		t.Fatalf("create action: status %d", code)
	}
	return g.ID, sg.ID, act.ID
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]string
	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestGoalNotFound(t *testing.T) {
	srv := newTestServer(t)
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/goals/nope", nil, &envelope); code != http.StatusNotFound {
		t.Fatalf("status %d", code)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestTaskFlowUpdatesProgress(t *testing.T) {
	srv := newTestServer(t)
	goalID, _, actionID := seedChain(t, srv.URL)

	var t1, t2 domain.Task
	if code := doJSON(t, http.MethodPost, srv.URL+"/v0/actions/"+actionID+"/tasks", map[string]any{"title": "C major scale"}, &t1); code != http.StatusCreated {
		t.Fatalf("create task: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v0/actions/"+actionID+"/tasks", map[string]any{"title": "G major scale"}, &t2); code != http.StatusCreated {
		t.Fatalf("create task: status %d", code)
	}

	var updated domain.Task
	if code := doJSON(t, http.MethodPatch, srv.URL+"/v0/tasks/"+t1.ID+"/status", map[string]any{"status": "completed"}, &updated); code != http.StatusOK {
		t.Fatalf("update status: status %d", code)
	}
	if updated.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	var info domain.GoalProgressInfo
	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/goals/"+goalID+"/progress", nil, &info); code != http.StatusOK {
		t.Fatalf("progress: status %d", code)
	}
	if info.Progress != 50 {
		t.Fatalf("expected goal progress 50, got %v", info.Progress)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	srv := newTestServer(t)
	_, _, actionID := seedChain(t, srv.URL)

	var task domain.Task
	if code := doJSON(t, http.MethodPost, srv.URL+"/v0/actions/"+actionID+"/tasks", map[string]any{"title": "Bow hold"}, &task); code != http.StatusCreated {
		t.Fatalf("create task: status %d", code)
	}
	if code := doJSON(t, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{"status": "completed"}, nil); code != http.StatusOK {
		t.Fatalf("complete: status %d", code)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	code := doJSON(t, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{"status": "cancelled"}, &envelope)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}

	// force bypasses the transition check
	if code := doJSON(t, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status?force=true", map[string]any{"status": "cancelled"}, nil); code != http.StatusOK {
		t.Fatalf("forced transition: status %d", code)
	}
}

func TestRecalculateFromTaskEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, _, actionID := seedChain(t, srv.URL)
	var task domain.Task
	if code := doJSON(t, http.MethodPost, srv.URL+"/v0/actions/"+actionID+"/tasks", map[string]any{"title": "Vibrato drill"}, &task); code != http.StatusCreated {
		t.Fatalf("create task: status %d", code)
	}

	var snap domain.ProgressSnapshot
	if code := doJSON(t, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/recalculate", nil, &snap); code != http.StatusOK {
		t.Fatalf("recalculate: status %d", code)
	}
	if snap.Task == nil || snap.Task.ID != task.ID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Action == nil || snap.Action.TaskCount != 1 {
		t.Fatalf("unexpected action snapshot: %+v", snap.Action)
	}
}

func TestIntegrityEndpoints(t *testing.T) {
	srv := newTestServer(t)
	goalID, _, _ := seedChain(t, srv.URL)

	var report domain.IntegrityReport
	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/goals/"+goalID+"/integrity", nil, &report); code != http.StatusOK {
		t.Fatalf("validate: status %d", code)
	}
	if report.IsValid {
		t.Fatal("one sub-goal should fail the 8x8 shape check")
	}
	found := false
	for _, msg := range report.Errors {
		if strings.Contains(msg, "should have 8 sub-goals, but has 1") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing structure error in %v", report.Errors)
	}

	var result domain.BatchRepairResult
	if code := doJSON(t, http.MethodPost, srv.URL+"/v0/integrity/batch-repair", map[string]any{"goal_ids": []string{goalID}}, &result); code != http.StatusOK {
		t.Fatalf("batch repair: status %d", code)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	goalID, _, _ := seedChain(t, srv.URL)

	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/goals/"+goalID+"/progress", nil, nil); code != http.StatusOK {
		t.Fatalf("progress: status %d", code)
	}
	var stats struct {
		Requests uint64 `json:"requests"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/progress/cache/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: status %d", code)
	}
	if stats.Requests == 0 {
		t.Fatal("expected cache requests after a progress query")
	}
}

func TestAutoUpdateToggle(t *testing.T) {
	srv := newTestServer(t)
	var state struct {
		Enabled bool `json:"enabled"`
	}
	if code := doJSON(t, http.MethodPut, srv.URL+"/v0/progress/auto-update", map[string]any{"enabled": false}, &state); code != http.StatusOK {
		t.Fatalf("toggle: status %d", code)
	}
	if state.Enabled {
		t.Fatal("expected auto-update disabled")
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v0/progress/auto-update", nil, &state); code != http.StatusOK {
		t.Fatalf("get: status %d", code)
	}
	if state.Enabled {
		t.Fatal("expected auto-update to stay disabled")
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "summit_progress") {
		t.Fatal("expected summit_progress metrics in exposition")
	}
}

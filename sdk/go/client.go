package summitsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Summit HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Goal represents the API goal model (partial).
type Goal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Progress    float64   `json:"progress"`
	SubGoals    []SubGoal `json:"sub_goals,omitempty"`
}

type SubGoal struct {
	ID       string   `json:"id"`
	GoalID   string   `json:"goal_id"`
	Title    string   `json:"title"`
	Position int      `json:"position"`
	Progress float64  `json:"progress"`
	Actions  []Action `json:"actions,omitempty"`
}

type Action struct {
	ID        string  `json:"id"`
	SubGoalID string  `json:"sub_goal_id"`
	Title     string  `json:"title"`
	Position  int     `json:"position"`
	Progress  float64 `json:"progress"`
	Tasks     []Task  `json:"tasks,omitempty"`
}

type Task struct {
	ID          string  `json:"id"`
	ActionID    string  `json:"action_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// ProgressSnapshot mirrors the recalculation response.
type ProgressSnapshot struct {
	Task *struct {
		ID       string  `json:"id"`
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
	} `json:"task,omitempty"`
	Action *struct {
		ID             string  `json:"id"`
		Progress       float64 `json:"progress"`
		Kind           string  `json:"kind"`
		TaskCount      int     `json:"task_count"`
		CompletedTasks int     `json:"completed_tasks"`
	} `json:"action,omitempty"`
	SubGoal struct {
		ID             string    `json:"id"`
		Progress       float64   `json:"progress"`
		ActionProgress []float64 `json:"action_progress"`
	} `json:"sub_goal"`
	Goal struct {
		ID              string    `json:"id"`
		Progress        float64   `json:"progress"`
		SubGoalProgress []float64 `json:"sub_goal_progress"`
	} `json:"goal"`
}

type GoalProgress struct {
	ID              string    `json:"id"`
	Progress        float64   `json:"progress"`
	SubGoalProgress []float64 `json:"sub_goal_progress"`
}

type IntegrityReport struct {
	GoalID  string   `json:"goal_id"`
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

type RepairReport struct {
	GoalID  string   `json:"goal_id"`
	Repairs []string `json:"repairs,omitempty"`
}

type BatchRepairResult struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	GoalID     string `json:"goal_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateGoal creates a goal.
func (c *Client) CreateGoal(ctx context.Context, title, description string) (Goal, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals", body, &resp)
	return resp, err
}

// GetGoal fetches the full goal tree.
func (c *Client) GetGoal(ctx context.Context, goalID string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, "v0/goals/"+url.PathEscape(goalID), nil, &resp)
	return resp, err
}

// CreateSubGoal creates a sub-goal under a goal.
func (c *Client) CreateSubGoal(ctx context.Context, goalID, title string) (SubGoal, error) {
	var resp SubGoal
	endpoint := fmt.Sprintf("v0/goals/%s/sub-goals", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"title": title}, &resp)
	return resp, err
}

// CreateAction creates an action under a sub-goal.
func (c *Client) CreateAction(ctx context.Context, subGoalID, title string) (Action, error) {
	var resp Action
	endpoint := fmt.Sprintf("v0/sub-goals/%s/actions", url.PathEscape(subGoalID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"title": title}, &resp)
	return resp, err
}

// CreateTask creates a task under an action.
func (c *Client) CreateTask(ctx context.Context, actionID, title, description string) (Task, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/actions/%s/tasks", url.PathEscape(actionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UpdateTaskStatus transitions a task. Set force to bypass the transition
// check.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string, force bool) (Task, error) {
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(taskID))
	if force {
		endpoint += "?force=true"
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// GoalProgress returns the goal's current progress with per-sub-goal values.
func (c *Client) GoalProgress(ctx context.Context, goalID string) (GoalProgress, error) {
	var resp GoalProgress
	endpoint := fmt.Sprintf("v0/goals/%s/progress", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RecalculateFromTask triggers a recalculation of the task's chain.
func (c *Client) RecalculateFromTask(ctx context.Context, taskID string) (ProgressSnapshot, error) {
	var resp ProgressSnapshot
	endpoint := fmt.Sprintf("v0/tasks/%s/recalculate", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ValidateIntegrity checks a goal's structure and stored progress.
func (c *Client) ValidateIntegrity(ctx context.Context, goalID string) (IntegrityReport, error) {
	var resp IntegrityReport
	endpoint := fmt.Sprintf("v0/goals/%s/integrity", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RepairIntegrity repairs drifted progress values for a goal.
func (c *Client) RepairIntegrity(ctx context.Context, goalID string) (RepairReport, error) {
	var resp RepairReport
	endpoint := fmt.Sprintf("v0/goals/%s/integrity/repair", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// BatchRepair repairs several goals in one call.
func (c *Client) BatchRepair(ctx context.Context, goalIDs []string) (BatchRepairResult, error) {
	var resp BatchRepairResult
	err := c.do(ctx, http.MethodPost, "v0/integrity/batch-repair", map[string]any{"goal_ids": goalIDs}, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package domain

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
)

// Action kinds derived by the classifier.
const (
	ActionExecution = "execution"
	ActionHabit     = "habit"
)

type Goal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Progress    float64   `json:"progress"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	UpdatedAt   string    `json:"updated_at" format:"date-time"`
	SubGoals    []SubGoal `json:"sub_goals,omitempty"`
}

type SubGoal struct {
	ID        string   `json:"id"`
	GoalID    string   `json:"goal_id"`
	Title     string   `json:"title"`
	Position  int      `json:"position"`
	Progress  float64  `json:"progress"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
	Actions   []Action `json:"actions,omitempty"`
}

type Action struct {
	ID        string  `json:"id"`
	SubGoalID string  `json:"sub_goal_id"`
	Title     string  `json:"title"`
	Position  int     `json:"position"`
	Progress  float64 `json:"progress"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
	Tasks     []Task  `json:"tasks,omitempty"`
}

type Task struct {
	ID          string  `json:"id"`
	ActionID    string  `json:"action_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// ProgressUpdate carries recomputed values for one persistence pass.
// Only levels with a non-empty id are written; all writes are applied in a
// single transaction.
type ProgressUpdate struct {
	ActionID        string
	ActionProgress  float64
	SubGoalID       string
	SubGoalProgress float64
	GoalID          string
	GoalProgress    float64
	ActorID         string
}

// TaskProgressInfo is the task slice of a recalculation snapshot.
type TaskProgressInfo struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// ActionProgressInfo is the action slice of a recalculation snapshot.
type ActionProgressInfo struct {
	ID             string  `json:"id"`
	Progress       float64 `json:"progress"`
	Kind           string  `json:"kind" enum:"execution,habit"`
	TaskCount      int     `json:"task_count"`
	CompletedTasks int     `json:"completed_tasks"`
}

// SubGoalProgressInfo carries the sub-goal value plus its child values.
type SubGoalProgressInfo struct {
	ID             string    `json:"id"`
	Progress       float64   `json:"progress"`
	ActionProgress []float64 `json:"action_progress"`
}

// GoalProgressInfo carries the goal value plus its child values.
type GoalProgressInfo struct {
	ID              string    `json:"id"`
	Progress        float64   `json:"progress"`
	SubGoalProgress []float64 `json:"sub_goal_progress"`
}

// ProgressSnapshot is returned by every recalculation entry point. Task and
// Action are nil when the recalculation started above that level.
type ProgressSnapshot struct {
	Task    *TaskProgressInfo   `json:"task,omitempty"`
	Action  *ActionProgressInfo `json:"action,omitempty"`
	SubGoal SubGoalProgressInfo `json:"sub_goal"`
	Goal    GoalProgressInfo    `json:"goal"`
}

// IntegrityReport is the result of a validation pass over one goal tree.
// Mismatches are report data, not failures; a data-fetch failure is captured
// as a single entry.
type IntegrityReport struct {
	GoalID  string   `json:"goal_id"`
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// RepairReport lists the corrections applied by a repair pass.
type RepairReport struct {
	GoalID  string   `json:"goal_id"`
	Repairs []string `json:"repairs,omitempty"`
}

// BatchRepairResult aggregates an independent repair per goal id.
type BatchRepairResult struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GoalID     string `json:"goal_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

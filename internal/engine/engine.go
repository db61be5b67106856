// Package engine implements the write-side business operations on the
// goal hierarchy: creation, task lifecycle, deletion. Every mutation is
// committed with an audit event, then handed to the progress engine's
// best-effort hooks so aggregates stay current.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"summit/internal/domain"
	"summit/internal/events"
	"summit/internal/progress"
	"summit/internal/repo"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// taskTransitions lists the allowed next statuses. Completed tasks can be
// reopened; cancelled tasks only go back to pending.
var taskTransitions = map[string][]string{
	domain.TaskPending:    {domain.TaskInProgress, domain.TaskCompleted, domain.TaskCancelled},
	domain.TaskInProgress: {domain.TaskCompleted, domain.TaskCancelled, domain.TaskPending},
	domain.TaskCompleted:  {domain.TaskPending, domain.TaskInProgress},
	domain.TaskCancelled:  {domain.TaskPending},
}

func transitionAllowed(from, to string) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case domain.TaskPending, domain.TaskInProgress, domain.TaskCompleted, domain.TaskCancelled:
		return true
	}
	return false
}

type Engine struct {
	Repo     repo.Repo
	Events   events.Writer
	Progress *progress.Engine
	Log      *slog.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

func New(r repo.Repo, p *progress.Engine, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Repo:     r,
		Events:   events.Writer{DB: r.DB},
		Progress: p,
		Log:      log,
		Now:      time.Now,
	}
}

func (e *Engine) nowString() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// --- goals ---

type CreateGoalInput struct {
	Title       string
	Description string
	ActorID     string
}

func (e *Engine) CreateGoal(ctx context.Context, in CreateGoalInput) (domain.Goal, error) {
	if in.Title == "" {
		return domain.Goal{}, errors.New("goal title is required")
	}
	now := e.nowString()
	g := domain.Goal{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertGoal(ctx, tx, g); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "goal.created", g.ID, "goal", g.ID, in.ActorID, events.EventPayload{"title": g.Title})
	})
	if err != nil {
		return domain.Goal{}, fmt.Errorf("create goal: %w", err)
	}
	return g, nil
}

func (e *Engine) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	return e.Repo.GetGoal(ctx, id)
}

func (e *Engine) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	return e.Repo.ListGoals(ctx)
}

// GetGoalTree returns the goal with sub-goals, actions and tasks fully
// populated.
func (e *Engine) GetGoalTree(ctx context.Context, id string) (domain.Goal, error) {
	g, err := e.Repo.GetGoalWithSubGoals(ctx, id)
	if err != nil {
		return g, err
	}
	for i := range g.SubGoals {
		actions, err := e.Repo.ListActions(ctx, g.SubGoals[i].ID)
		if err != nil {
			return g, err
		}
		for j := range actions {
			tasks, err := e.Repo.ListTasks(ctx, actions[j].ID)
			if err != nil {
				return g, err
			}
			actions[j].Tasks = tasks
		}
		g.SubGoals[i].Actions = actions
	}
	return g, nil
}

// DeleteGoal removes the goal and, through foreign keys, everything under
// it. Cached values for the deleted subtree become unreachable garbage, so
// the whole cache is flushed.
func (e *Engine) DeleteGoal(ctx context.Context, id, actorID string) error {
	if err := e.Repo.DeleteGoal(ctx, id); err != nil {
		return err
	}
	e.Progress.Cache().InvalidateHierarchy(id)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, "goal.deleted", id, "goal", id, actorID, nil)
	})
	if err != nil {
		e.Log.Warn("audit event not recorded", "type", "goal.deleted", "goal_id", id, "error", err)
	}
	return nil
}

// --- sub-goals ---

type CreateSubGoalInput struct {
	GoalID  string
	Title   string
	ActorID string
}

func (e *Engine) CreateSubGoal(ctx context.Context, in CreateSubGoalInput) (domain.SubGoal, error) {
	if in.Title == "" {
		return domain.SubGoal{}, errors.New("sub-goal title is required")
	}
	if _, err := e.Repo.GetGoal(ctx, in.GoalID); err != nil {
		return domain.SubGoal{}, fmt.Errorf("goal %s: %w", in.GoalID, err)
	}
	pos, err := e.Repo.NextSubGoalPosition(ctx, in.GoalID)
	if err != nil {
		return domain.SubGoal{}, err
	}
	now := e.nowString()
	sg := domain.SubGoal{
		ID:        uuid.NewString(),
		GoalID:    in.GoalID,
		Title:     in.Title,
		Position:  pos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertSubGoal(ctx, tx, sg); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "subgoal.created", in.GoalID, "sub_goal", sg.ID, in.ActorID, events.EventPayload{"title": sg.Title, "position": pos})
	})
	if err != nil {
		return domain.SubGoal{}, fmt.Errorf("create sub-goal: %w", err)
	}
	e.Progress.OnSubGoalChanged(ctx, sg.ID, in.ActorID)
	return sg, nil
}

func (e *Engine) GetSubGoal(ctx context.Context, id string) (domain.SubGoal, error) {
	return e.Repo.GetSubGoalWithActions(ctx, id)
}

// --- actions ---

type CreateActionInput struct {
	SubGoalID string
	Title     string
	ActorID   string
}

func (e *Engine) CreateAction(ctx context.Context, in CreateActionInput) (domain.Action, error) {
	if in.Title == "" {
		return domain.Action{}, errors.New("action title is required")
	}
	sg, err := e.Repo.GetSubGoal(ctx, in.SubGoalID)
	if err != nil {
		return domain.Action{}, fmt.Errorf("sub-goal %s: %w", in.SubGoalID, err)
	}
	pos, err := e.Repo.NextActionPosition(ctx, in.SubGoalID)
	if err != nil {
		return domain.Action{}, err
	}
	now := e.nowString()
	a := domain.Action{
		ID:        uuid.NewString(),
		SubGoalID: in.SubGoalID,
		Title:     in.Title,
		Position:  pos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "action.created", sg.GoalID, "action", a.ID, in.ActorID, events.EventPayload{"title": a.Title, "position": pos})
	})
	if err != nil {
		return domain.Action{}, fmt.Errorf("create action: %w", err)
	}
	e.Progress.OnSubGoalChanged(ctx, in.SubGoalID, in.ActorID)
	return a, nil
}

func (e *Engine) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return e.Repo.GetActionWithTasks(ctx, id)
}

// --- tasks ---

type CreateTaskInput struct {
	ActionID    string
	Title       string
	Description string
	ActorID     string
}

func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	if in.Title == "" {
		return domain.Task{}, errors.New("task title is required")
	}
	goalID, err := e.goalIDForAction(ctx, in.ActionID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	t := domain.Task{
		ID:          uuid.NewString(),
		ActionID:    in.ActionID,
		Title:       in.Title,
		Description: in.Description,
		Status:      domain.TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.created", goalID, "task", t.ID, in.ActorID, events.EventPayload{"title": t.Title})
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	// the action's task set changed, not just one task's status
	e.Progress.OnActionChanged(ctx, in.ActionID, in.ActorID)
	return t, nil
}

func (e *Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

type UpdateTaskStatusInput struct {
	TaskID  string
	Status  string
	ActorID string
	// Force bypasses the transition check for administrative corrections.
	Force bool
}

// UpdateTaskStatus applies a status transition, stamps or clears the
// completion timestamp, records the audit event and triggers recalculation.
func (e *Engine) UpdateTaskStatus(ctx context.Context, in UpdateTaskStatusInput) (domain.Task, error) {
	if !validStatus(in.Status) {
		return domain.Task{}, fmt.Errorf("unknown status %q", in.Status)
	}
	t, err := e.Repo.GetTask(ctx, in.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == in.Status {
		return t, nil
	}
	if !in.Force && !transitionAllowed(t.Status, in.Status) {
		return domain.Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, in.Status)
	}
	goalID, err := e.goalIDForAction(ctx, t.ActionID)
	if err != nil {
		return domain.Task{}, err
	}

	from := t.Status
	now := e.nowString()
	t.Status = in.Status
	t.UpdatedAt = now
	switch in.Status {
	case domain.TaskCompleted:
		t.CompletedAt = &now
	default:
		t.CompletedAt = nil
	}

	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.status_changed", goalID, "task", t.ID, in.ActorID,
			events.EventPayload{"from": from, "to": in.Status, "forced": in.Force})
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task status: %w", err)
	}
	e.Progress.OnTaskStatusChanged(ctx, t.ID, in.ActorID)
	return t, nil
}

func (e *Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	goalID, err := e.goalIDForAction(ctx, t.ActionID)
	if err != nil {
		return err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.deleted", goalID, "task", id, actorID, nil)
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	e.Progress.OnActionChanged(ctx, t.ActionID, actorID)
	return nil
}

// --- integrity ---

// RepairGoal runs an integrity repair and records an audit event when
// anything was corrected.
func (e *Engine) RepairGoal(ctx context.Context, goalID, actorID string) (domain.RepairReport, error) {
	report, err := e.Progress.RepairIntegrity(ctx, goalID, actorID)
	if err != nil {
		return report, err
	}
	if len(report.Repairs) == 0 {
		return report, nil
	}
	evtErr := e.inTx(ctx, func(tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, "integrity.repaired", goalID, "goal", goalID, actorID,
			events.EventPayload{"repairs": len(report.Repairs)})
	})
	if evtErr != nil {
		e.Log.Warn("audit event not recorded", "type", "integrity.repaired", "goal_id", goalID, "error", evtErr)
	}
	return report, nil
}

// --- helpers ---

func (e *Engine) goalIDForAction(ctx context.Context, actionID string) (string, error) {
	a, err := e.Repo.GetAction(ctx, actionID)
	if err != nil {
		return "", fmt.Errorf("action %s: %w", actionID, err)
	}
	sg, err := e.Repo.GetSubGoal(ctx, a.SubGoalID)
	if err != nil {
		return "", fmt.Errorf("sub-goal %s: %w", a.SubGoalID, err)
	}
	return sg.GoalID, nil
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"summit/internal/domain"
	"summit/internal/events"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- goals ---

func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goals(id,title,description,progress,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		g.ID, g.Title, nullable(g.Description), g.Progress, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	var g domain.Goal
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,progress,created_at,updated_at FROM goals WHERE id=?`, id).
		Scan(&g.ID, &g.Title, &desc, &g.Progress, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if desc.Valid {
		g.Description = desc.String
	}
	return g, nil
}

// GetGoalWithSubGoals returns the goal plus its sub-goals ordered by position.
func (r Repo) GetGoalWithSubGoals(ctx context.Context, id string) (domain.Goal, error) {
	g, err := r.GetGoal(ctx, id)
	if err != nil {
		return g, err
	}
	g.SubGoals, err = r.ListSubGoals(ctx, id)
	return g, err
}

func (r Repo) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,COALESCE(description,'') AS description,progress,created_at,updated_at FROM goals ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		var g domain.Goal
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &g.Progress, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) DeleteGoal(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM goals WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- sub-goals ---

func (r Repo) InsertSubGoal(ctx context.Context, tx *sql.Tx, sg domain.SubGoal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sub_goals(id,goal_id,title,position,progress,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		sg.ID, sg.GoalID, sg.Title, sg.Position, sg.Progress, sg.CreatedAt, sg.UpdatedAt)
	return err
}

func scanSubGoal(row *sql.Row) (domain.SubGoal, error) {
	var sg domain.SubGoal
	err := row.Scan(&sg.ID, &sg.GoalID, &sg.Title, &sg.Position, &sg.Progress, &sg.CreatedAt, &sg.UpdatedAt)
	if err == sql.ErrNoRows {
		return sg, ErrNotFound
	}
	return sg, err
}

func (r Repo) GetSubGoal(ctx context.Context, id string) (domain.SubGoal, error) {
	return scanSubGoal(r.DB.QueryRowContext(ctx, `SELECT id,goal_id,title,position,progress,created_at,updated_at FROM sub_goals WHERE id=?`, id))
}

// GetSubGoalWithActions returns the sub-goal plus its actions ordered by position.
func (r Repo) GetSubGoalWithActions(ctx context.Context, id string) (domain.SubGoal, error) {
	sg, err := r.GetSubGoal(ctx, id)
	if err != nil {
		return sg, err
	}
	sg.Actions, err = r.ListActions(ctx, id)
	return sg, err
}

// GetSubGoalForAction loads the parent sub-goal of an action, with its action set.
func (r Repo) GetSubGoalForAction(ctx context.Context, actionID string) (domain.SubGoal, error) {
	sg, err := scanSubGoal(r.DB.QueryRowContext(ctx, `SELECT s.id,s.goal_id,s.title,s.position,s.progress,s.created_at,s.updated_at
FROM sub_goals s JOIN actions a ON a.sub_goal_id=s.id WHERE a.id=?`, actionID))
	if err != nil {
		return sg, err
	}
	sg.Actions, err = r.ListActions(ctx, sg.ID)
	return sg, err
}

// GetGoalForSubGoal loads the parent goal of a sub-goal, with its sub-goal set.
func (r Repo) GetGoalForSubGoal(ctx context.Context, subGoalID string) (domain.Goal, error) {
	var g domain.Goal
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT g.id,g.title,g.description,g.progress,g.created_at,g.updated_at
FROM goals g JOIN sub_goals s ON s.goal_id=g.id WHERE s.id=?`, subGoalID).
		Scan(&g.ID, &g.Title, &desc, &g.Progress, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if desc.Valid {
		g.Description = desc.String
	}
	g.SubGoals, err = r.ListSubGoals(ctx, g.ID)
	return g, err
}

func (r Repo) ListSubGoals(ctx context.Context, goalID string) ([]domain.SubGoal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,goal_id,title,position,progress,created_at,updated_at FROM sub_goals WHERE goal_id=? ORDER BY position ASC, id ASC`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubGoal
	for rows.Next() {
		var sg domain.SubGoal
		if err := rows.Scan(&sg.ID, &sg.GoalID, &sg.Title, &sg.Position, &sg.Progress, &sg.CreatedAt, &sg.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, sg)
	}
	return res, rows.Err()
}

// NextSubGoalPosition returns the next free position under a goal.
func (r Repo) NextSubGoalPosition(ctx context.Context, goalID string) (int, error) {
	var pos int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM sub_goals WHERE goal_id=?`, goalID).Scan(&pos)
	return pos, err
}

// --- actions ---

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(id,sub_goal_id,title,position,progress,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.SubGoalID, a.Title, a.Position, a.Progress, a.CreatedAt, a.UpdatedAt)
	return err
}

func scanAction(row *sql.Row) (domain.Action, error) {
	var a domain.Action
	err := row.Scan(&a.ID, &a.SubGoalID, &a.Title, &a.Position, &a.Progress, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT id,sub_goal_id,title,position,progress,created_at,updated_at FROM actions WHERE id=?`, id))
}

// GetActionWithTasks returns the action plus its tasks ordered by creation time.
func (r Repo) GetActionWithTasks(ctx context.Context, id string) (domain.Action, error) {
	a, err := r.GetAction(ctx, id)
	if err != nil {
		return a, err
	}
	a.Tasks, err = r.ListTasks(ctx, id)
	return a, err
}

// GetActionForTask loads the parent action of a task, with its task set.
func (r Repo) GetActionForTask(ctx context.Context, taskID string) (domain.Action, error) {
	a, err := scanAction(r.DB.QueryRowContext(ctx, `SELECT a.id,a.sub_goal_id,a.title,a.position,a.progress,a.created_at,a.updated_at
FROM actions a JOIN tasks t ON t.action_id=a.id WHERE t.id=?`, taskID))
	if err != nil {
		return a, err
	}
	a.Tasks, err = r.ListTasks(ctx, a.ID)
	return a, err
}

func (r Repo) ListActions(ctx context.Context, subGoalID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sub_goal_id,title,position,progress,created_at,updated_at FROM actions WHERE sub_goal_id=? ORDER BY position ASC, id ASC`, subGoalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		var a domain.Action
		if err := rows.Scan(&a.ID, &a.SubGoalID, &a.Title, &a.Position, &a.Progress, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// NextActionPosition returns the next free position under a sub-goal.
func (r Repo) NextActionPosition(ctx context.Context, subGoalID string) (int, error) {
	var pos int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM actions WHERE sub_goal_id=?`, subGoalID).Scan(&pos)
	return pos, err
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,action_id,title,description,status,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.ActionID, t.Title, nullable(t.Description), t.Status, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var description, completedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,action_id,title,description,status,created_at,updated_at,completed_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.ActionID, &t.Title, &description, &t.Status, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTasks(ctx context.Context, actionID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,action_id,title,description,status,created_at,updated_at,completed_at FROM tasks WHERE action_id=? ORDER BY created_at ASC, id ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var description, completedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.ActionID, &t.Title, &description, &t.Status, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			t.Description = description.String
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- progress writes ---

// ApplyProgressUpdate writes every provided level in one transaction and
// appends a progress.updated audit event. A level is written only when its
// id is non-empty; an id that matches no row fails the whole update.
func (r Repo) ApplyProgressUpdate(ctx context.Context, u domain.ProgressUpdate) error {
	if u.ActionID == "" && u.SubGoalID == "" && u.GoalID == "" {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := nowRFC3339()
	payload := events.EventPayload{}
	if u.ActionID != "" {
		if err := execProgress(ctx, tx, `UPDATE actions SET progress=?, updated_at=? WHERE id=?`, u.ActionProgress, now, u.ActionID); err != nil {
			return fmt.Errorf("update action %s progress: %w", u.ActionID, err)
		}
		payload["action_id"] = u.ActionID
		payload["action_progress"] = u.ActionProgress
	}
	if u.SubGoalID != "" {
		if err := execProgress(ctx, tx, `UPDATE sub_goals SET progress=?, updated_at=? WHERE id=?`, u.SubGoalProgress, now, u.SubGoalID); err != nil {
			return fmt.Errorf("update sub-goal %s progress: %w", u.SubGoalID, err)
		}
		payload["sub_goal_id"] = u.SubGoalID
		payload["sub_goal_progress"] = u.SubGoalProgress
	}
	if u.GoalID != "" {
		if err := execProgress(ctx, tx, `UPDATE goals SET progress=?, updated_at=? WHERE id=?`, u.GoalProgress, now, u.GoalID); err != nil {
			return fmt.Errorf("update goal %s progress: %w", u.GoalID, err)
		}
		payload["goal_progress"] = u.GoalProgress
	}
	w := events.Writer{DB: r.DB}
	entityID := u.GoalID
	entityKind := "goal"
	switch {
	case u.ActionID != "":
		entityID, entityKind = u.ActionID, "action"
	case u.SubGoalID != "":
		entityID, entityKind = u.SubGoalID, "sub_goal"
	}
	if err := w.Append(ctx, tx, "progress.updated", u.GoalID, entityKind, entityID, u.ActorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func execProgress(ctx context.Context, tx *sql.Tx, query string, progress float64, now, id string) error {
	res, err := tx.ExecContext(ctx, query, progress, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, goalID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if goalID != "" {
		clauses = append(clauses, "goal_id=?")
		args = append(args, goalID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,goal_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var goal, entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &goal, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if goal.Valid {
			e.GoalID = goal.String
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with ids greater than the cursor, oldest first.
// Used by the webhook dispatcher to walk the log without skipping entries.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,goal_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var goal, entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &goal, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if goal.Valid {
			e.GoalID = goal.String
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the id of the most recent event, 0 when the log is
// empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

// --- helpers ---

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

package progress_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"summit/internal/domain"
	"summit/internal/progress"
	"summit/internal/repo"
)

// fakeStore is an in-memory Store for engine tests. Children are returned in
// insertion order.
type fakeStore struct {
	goals    map[string]*domain.Goal
	subGoals map[string]*domain.SubGoal
	actions  map[string]*domain.Action
	tasks    map[string]*domain.Task

	subGoalOrder map[string][]string // goal id -> sub-goal ids
	actionOrder  map[string][]string // sub-goal id -> action ids
	taskOrder    map[string][]string // action id -> task ids

	taskReads int
	applied   []domain.ProgressUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		goals:        map[string]*domain.Goal{},
		subGoals:     map[string]*domain.SubGoal{},
		actions:      map[string]*domain.Action{},
		tasks:        map[string]*domain.Task{},
		subGoalOrder: map[string][]string{},
		actionOrder:  map[string][]string{},
		taskOrder:    map[string][]string{},
	}
}

func (s *fakeStore) addGoal(id string) {
	s.goals[id] = &domain.Goal{ID: id, Title: id}
}

func (s *fakeStore) addSubGoal(id, goalID string) {
	s.subGoals[id] = &domain.SubGoal{ID: id, GoalID: goalID, Title: id}
	s.subGoalOrder[goalID] = append(s.subGoalOrder[goalID], id)
}

func (s *fakeStore) addAction(id, subGoalID string) {
	s.actions[id] = &domain.Action{ID: id, SubGoalID: subGoalID, Title: id}
	s.actionOrder[subGoalID] = append(s.actionOrder[subGoalID], id)
}

func (s *fakeStore) addTask(id, actionID, title, status string, completedAt *string) {
	s.tasks[id] = &domain.Task{
		ID:          id,
		ActionID:    actionID,
		Title:       title,
		Status:      status,
		CompletedAt: completedAt,
	}
	s.taskOrder[actionID] = append(s.taskOrder[actionID], id)
}

func (s *fakeStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	s.taskReads++
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, repo.ErrNotFound
	}
	return *t, nil
}

func (s *fakeStore) GetActionWithTasks(ctx context.Context, id string) (domain.Action, error) {
	a, ok := s.actions[id]
	if !ok {
		return domain.Action{}, repo.ErrNotFound
	}
	out := *a
	for _, tid := range s.taskOrder[id] {
		out.Tasks = append(out.Tasks, *s.tasks[tid])
	}
	return out, nil
}

func (s *fakeStore) GetSubGoalWithActions(ctx context.Context, id string) (domain.SubGoal, error) {
	sg, ok := s.subGoals[id]
	if !ok {
		return domain.SubGoal{}, repo.ErrNotFound
	}
	out := *sg
	for _, aid := range s.actionOrder[id] {
		out.Actions = append(out.Actions, *s.actions[aid])
	}
	return out, nil
}

func (s *fakeStore) GetGoalWithSubGoals(ctx context.Context, id string) (domain.Goal, error) {
	g, ok := s.goals[id]
	if !ok {
		return domain.Goal{}, repo.ErrNotFound
	}
	out := *g
	for _, sid := range s.subGoalOrder[id] {
		out.SubGoals = append(out.SubGoals, *s.subGoals[sid])
	}
	return out, nil
}

func (s *fakeStore) GetActionForTask(ctx context.Context, taskID string) (domain.Action, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.Action{}, repo.ErrNotFound
	}
	return s.GetActionWithTasks(ctx, t.ActionID)
}

func (s *fakeStore) GetSubGoalForAction(ctx context.Context, actionID string) (domain.SubGoal, error) {
	a, ok := s.actions[actionID]
	if !ok {
		return domain.SubGoal{}, repo.ErrNotFound
	}
	return s.GetSubGoalWithActions(ctx, a.SubGoalID)
}

func (s *fakeStore) GetGoalForSubGoal(ctx context.Context, subGoalID string) (domain.Goal, error) {
	sg, ok := s.subGoals[subGoalID]
	if !ok {
		return domain.Goal{}, repo.ErrNotFound
	}
	return s.GetGoalWithSubGoals(ctx, sg.GoalID)
}

func (s *fakeStore) ApplyProgressUpdate(ctx context.Context, u domain.ProgressUpdate) error {
	s.applied = append(s.applied, u)
	if u.ActionID != "" {
		a, ok := s.actions[u.ActionID]
		if !ok {
			return repo.ErrNotFound
		}
		a.Progress = u.ActionProgress
	}
	if u.SubGoalID != "" {
		sg, ok := s.subGoals[u.SubGoalID]
		if !ok {
			return repo.ErrNotFound
		}
		sg.Progress = u.SubGoalProgress
	}
	if u.GoalID != "" {
		g, ok := s.goals[u.GoalID]
		if !ok {
			return repo.ErrNotFound
		}
		g.Progress = u.GoalProgress
	}
	return nil
}

func newTestEngine(store progress.Store) *progress.Engine {
	return progress.New(store, progress.Options{AutoUpdate: true})
}

func completedAt(d int) *string {
	ts := time.Date(2026, 3, d, 10, 0, 0, 0, time.UTC).Format(time.RFC3339)
	return &ts
}

func TestTaskProgressByStatus(t *testing.T) {
	cases := map[string]float64{
		domain.TaskPending:    0,
		domain.TaskInProgress: 50,
		domain.TaskCompleted:  100,
		domain.TaskCancelled:  0,
	}
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	i := 0
	for status := range cases {
		store.addTask(fmt.Sprintf("t%d", i), "a", "write report", status, nil)
		i++
	}
	e := newTestEngine(store)
	ctx := context.Background()
	for id, task := range store.tasks {
		want := cases[task.Status]
		got, err := e.Calc().TaskProgress(ctx, id)
		if err != nil {
			t.Fatalf("task %s: %v", id, err)
		}
		if got != want {
			t.Fatalf("status %s: expected %v, got %v", task.Status, want, got)
		}
	}
}

func TestExecutionActionRoundsMean(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	store.addTask("t1", "a", "write outline", domain.TaskCompleted, completedAt(1))
	store.addTask("t2", "a", "draft chapter", domain.TaskInProgress, nil)
	store.addTask("t3", "a", "edit chapter", domain.TaskPending, nil)
	store.addTask("t4", "a", "publish", domain.TaskPending, nil)

	e := newTestEngine(store)
	got, err := e.Calc().ActionProgress(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	// (100+50+0+0)/4 = 37.5, rounded to 38
	if got != 38 {
		t.Fatalf("expected 38, got %v", got)
	}
}

func TestActionWithNoTasksIsZero(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")

	e := newTestEngine(store)
	got, err := e.Calc().ActionProgress(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestHabitActionScoresByStreak(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	for d := 1; d <= 3; d++ {
		store.addTask(fmt.Sprintf("t%d", d), "a", "daily pushups", domain.TaskCompleted, completedAt(d))
	}

	e := newTestEngine(store)
	got, err := e.Calc().ActionProgress(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	// 3-day streak against a 24-day requirement: round(3/24*100) = 13
	if got != 13 {
		t.Fatalf("expected 13, got %v", got)
	}
}

func TestHabitActionFullStreakIsComplete(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	for d := 1; d <= 24; d++ {
		store.addTask(fmt.Sprintf("t%d", d), "a", "morning run streak", domain.TaskCompleted, completedAt(d))
	}

	e := newTestEngine(store)
	got, err := e.Calc().ActionProgress(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestHabitActionWithoutCompletionsFallsBack(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	store.addTask("t1", "a", "daily stretching", domain.TaskInProgress, nil)
	store.addTask("t2", "a", "daily stretching", domain.TaskPending, nil)

	e := newTestEngine(store)
	got, err := e.Calc().ActionProgress(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	// no streak material, so scored like execution: (50+0)/2 = 25
	if got != 25 {
		t.Fatalf("expected 25, got %v", got)
	}
}

func TestGoalProgressRoundsTwoDecimals(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	for i := 1; i <= 3; i++ {
		sid := fmt.Sprintf("s%d", i)
		aid := fmt.Sprintf("a%d", i)
		store.addSubGoal(sid, "g")
		store.addAction(aid, sid)
	}
	store.addTask("t1", "a1", "ship feature", domain.TaskCompleted, completedAt(1))
	store.addTask("t2", "a2", "ship feature", domain.TaskPending, nil)
	store.addTask("t3", "a3", "ship feature", domain.TaskPending, nil)

	e := newTestEngine(store)
	got, err := e.Calc().GoalProgress(context.Background(), "g")
	if err != nil {
		t.Fatal(err)
	}
	// (100+0+0)/3 = 33.333..., rounded to 33.33
	if got != 33.33 {
		t.Fatalf("expected 33.33, got %v", got)
	}
}

func TestGoalWithNoSubGoalsIsZero(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	e := newTestEngine(store)
	got, err := e.Calc().GoalProgress(context.Background(), "g")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestRepeatedCalculationServedFromCache(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	store.addTask("t1", "a", "write tests", domain.TaskCompleted, completedAt(1))
	store.addTask("t2", "a", "write docs", domain.TaskPending, nil)

	e := newTestEngine(store)
	ctx := context.Background()
	if _, err := e.Calc().ActionProgress(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	reads := store.taskReads
	if _, err := e.Calc().ActionProgress(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if store.taskReads != reads {
		t.Fatalf("expected cached result, got %d extra task reads", store.taskReads-reads)
	}

	e.Cache().Invalidate("t1")
	if _, err := e.Calc().ActionProgress(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if store.taskReads == reads {
		t.Fatal("expected recomputation after invalidation")
	}
}

func TestRecalculateFromTaskPersistsChain(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a1", "s")
	store.addAction("a2", "s")
	store.addTask("t1", "a1", "ship v1", domain.TaskCompleted, completedAt(1))
	store.addTask("t2", "a2", "ship v2", domain.TaskPending, nil)

	e := newTestEngine(store)
	snap, err := e.RecalculateFromTask(context.Background(), "t1", "tester")
	if err != nil {
		t.Fatal(err)
	}

	if snap.Task == nil || snap.Task.Progress != 100 {
		t.Fatalf("unexpected task snapshot: %+v", snap.Task)
	}
	if snap.Action == nil || snap.Action.Progress != 100 || snap.Action.Kind != domain.ActionExecution {
		t.Fatalf("unexpected action snapshot: %+v", snap.Action)
	}
	if snap.SubGoal.Progress != 50 {
		t.Fatalf("expected sub-goal 50, got %v", snap.SubGoal.Progress)
	}
	if snap.Goal.Progress != 50 {
		t.Fatalf("expected goal 50, got %v", snap.Goal.Progress)
	}

	if len(store.applied) != 1 {
		t.Fatalf("expected one persisted update, got %d", len(store.applied))
	}
	u := store.applied[0]
	if u.ActionID != "a1" || u.ActionProgress != 100 {
		t.Fatalf("unexpected action update: %+v", u)
	}
	if u.SubGoalID != "s" || u.SubGoalProgress != 50 {
		t.Fatalf("unexpected sub-goal update: %+v", u)
	}
	if u.GoalID != "g" || u.GoalProgress != 50 {
		t.Fatalf("unexpected goal update: %+v", u)
	}
	if u.ActorID != "tester" {
		t.Fatalf("unexpected actor: %q", u.ActorID)
	}
}

func TestRecalculateFromTaskLeavesUnrelatedEntries(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	store.addTask("t1", "a", "review", domain.TaskPending, nil)

	e := newTestEngine(store)
	e.Cache().Set("task:other", 42, []string{"other"})

	if _, err := e.RecalculateFromTask(context.Background(), "t1", ""); err != nil {
		t.Fatal(err)
	}
	if v, ok := e.Cache().Get("task:other"); !ok || v != 42 {
		t.Fatal("unrelated cache entry should survive a task recalculation")
	}
}

func TestRecalculateFromActionFlushesCache(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s", "g")
	store.addAction("a", "s")
	store.addTask("t1", "a", "review", domain.TaskPending, nil)

	e := newTestEngine(store)
	e.Cache().Set("task:other", 42, []string{"other"})

	snap, err := e.RecalculateFromAction(context.Background(), "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Task != nil {
		t.Fatal("task snapshot should be empty above the task level")
	}
	if _, ok := e.Cache().Get("task:other"); ok {
		t.Fatal("whole cache should be flushed by an action recalculation")
	}
}

func TestHookFailuresAreSwallowedAndCounted(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store)

	e.OnTaskStatusChanged(context.Background(), "missing", "")
	if e.HookFailures() != 1 {
		t.Fatalf("expected 1 hook failure, got %d", e.HookFailures())
	}

	e.SetAutoUpdate(false)
	e.OnTaskStatusChanged(context.Background(), "missing", "")
	if e.HookFailures() != 1 {
		t.Fatalf("disabled hook should not run, got %d failures", e.HookFailures())
	}
}

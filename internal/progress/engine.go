// Package progress computes and maintains the derived progress of the
// goal → sub-goal → action → task hierarchy: per-level calculators, a
// TTL cache with dependency-based invalidation, a recalculation
// orchestrator, and an integrity checker for the persisted values.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"summit/internal/domain"
	"summit/internal/metrics"
)

// Options configures an Engine. Zero-value fields fall back to defaults, so
// callers only set what they need.
type Options struct {
	Cache              Cache
	Classifier         Classifier
	Logger             *slog.Logger
	HabitTargetDays    int
	HabitCreditPercent int
	AutoUpdate         bool
}

// Engine orchestrates hierarchical recalculation: it invalidates the cache,
// recomputes every affected level bottom-up, persists the results in one
// transaction, and returns a snapshot of the affected chain. Concurrent
// recalculations for the same entry entity are coalesced.
type Engine struct {
	store Store
	cache Cache
	calc  *Calculator
	log   *slog.Logger

	group        singleflight.Group
	autoUpdate   atomic.Bool
	hookFailures atomic.Uint64
}

func New(store Store, opts Options) *Engine {
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache(DefaultTTL, DefaultCapacity)
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewKeywordClassifier(nil)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store: store,
		cache: cache,
		calc:  NewCalculator(store, cache, classifier, log, opts.HabitTargetDays, opts.HabitCreditPercent),
		log:   log,
	}
	e.autoUpdate.Store(opts.AutoUpdate)
	return e
}

// Calc exposes the calculators for read-only progress queries.
func (e *Engine) Calc() *Calculator { return e.calc }

// Cache exposes the cache, mainly for stats and explicit invalidation.
func (e *Engine) Cache() Cache { return e.cache }

func (e *Engine) CacheStats() CacheStats { return e.cache.Stats() }

// RecalculateFromTask recomputes the chain task → action → sub-goal → goal
// after a task mutation, persisting the three aggregate levels. Only the
// entries the task actually feeds are invalidated.
func (e *Engine) RecalculateFromTask(ctx context.Context, taskID, actorID string) (domain.ProgressSnapshot, error) {
	v, err, _ := e.group.Do("task:"+taskID, func() (any, error) {
		return e.recalculateFromTask(ctx, taskID, actorID)
	})
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return v.(domain.ProgressSnapshot), nil
}

func (e *Engine) recalculateFromTask(ctx context.Context, taskID, actorID string) (domain.ProgressSnapshot, error) {
	timer := prometheus.NewTimer(metrics.RecalcDuration)
	defer timer.ObserveDuration()
	metrics.Recalculations.WithLabelValues("task").Inc()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	action, err := e.store.GetActionForTask(ctx, taskID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("resolve action for task %s: %w", taskID, err)
	}
	subGoal, err := e.store.GetSubGoalForAction(ctx, action.ID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("resolve sub-goal for action %s: %w", action.ID, err)
	}
	goal, err := e.store.GetGoalForSubGoal(ctx, subGoal.ID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("resolve goal for sub-goal %s: %w", subGoal.ID, err)
	}

	// purge exactly the chain the task feeds, leaf first
	e.cache.Invalidate(taskID)
	e.cache.Invalidate(action.ID)
	e.cache.Invalidate(subGoal.ID)
	e.cache.Invalidate(goal.ID)

	taskProgress, err := e.calc.TaskProgress(ctx, taskID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	actionProgress, subGoalProgress, goalProgress, err := e.computeChain(ctx, action.ID, subGoal.ID, goal.ID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}

	err = e.store.ApplyProgressUpdate(ctx, domain.ProgressUpdate{
		ActionID:        action.ID,
		ActionProgress:  actionProgress,
		SubGoalID:       subGoal.ID,
		SubGoalProgress: subGoalProgress,
		GoalID:          goal.ID,
		GoalProgress:    goalProgress,
		ActorID:         actorID,
	})
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("persist progress: %w", err)
	}

	snap := domain.ProgressSnapshot{
		Task: &domain.TaskProgressInfo{ID: taskID, Status: task.Status, Progress: taskProgress},
	}
	if err := e.fillSnapshot(ctx, &snap, action.ID, subGoal.ID, goal.ID, actionProgress, subGoalProgress, goalProgress); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return snap, nil
}

// RecalculateFromAction recomputes action → sub-goal → goal after a change
// to the action's task set. The change may have removed dependency edges the
// cache can no longer see, so the whole cache is flushed instead of chasing
// stale entries.
func (e *Engine) RecalculateFromAction(ctx context.Context, actionID, actorID string) (domain.ProgressSnapshot, error) {
	v, err, _ := e.group.Do("action:"+actionID, func() (any, error) {
		return e.recalculateFromAction(ctx, actionID, actorID)
	})
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return v.(domain.ProgressSnapshot), nil
}

func (e *Engine) recalculateFromAction(ctx context.Context, actionID, actorID string) (domain.ProgressSnapshot, error) {
	timer := prometheus.NewTimer(metrics.RecalcDuration)
	defer timer.ObserveDuration()
	metrics.Recalculations.WithLabelValues("action").Inc()

	subGoal, err := e.store.GetSubGoalForAction(ctx, actionID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("resolve sub-goal for action %s: %w", actionID, err)
	}
	goal, err := e.store.GetGoalForSubGoal(ctx, subGoal.ID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("resolve goal for sub-goal %s: %w", subGoal.ID, err)
	}

	e.cache.InvalidateHierarchy(goal.ID)

	actionProgress, subGoalProgress, goalProgress, err := e.computeChain(ctx, actionID, subGoal.ID, goal.ID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}

	err = e.store.ApplyProgressUpdate(ctx, domain.ProgressUpdate{
		ActionID:        actionID,
		ActionProgress:  actionProgress,
		SubGoalID:       subGoal.ID,
		SubGoalProgress: subGoalProgress,
		GoalID:          goal.ID,
		GoalProgress:    goalProgress,
		ActorID:         actorID,
	})
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("persist progress: %w", err)
	}

	var snap domain.ProgressSnapshot
	if err := e.fillSnapshot(ctx, &snap, actionID, subGoal.ID, goal.ID, actionProgress, subGoalProgress, goalProgress); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return snap, nil
}

// RecalculateFromSubGoal recomputes sub-goal → goal after a structural
// change under the sub-goal. Flushes the whole cache for the same reason as
// RecalculateFromAction.
func (e *Engine) RecalculateFromSubGoal(ctx context.Context, subGoalID, actorID string) (domain.ProgressSnapshot, error) {
	v, err, _ := e.group.Do("subgoal:"+subGoalID, func() (any, error) {
		return e.recalculateFromSubGoal(ctx, subGoalID, actorID)
	})
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return v.(domain.ProgressSnapshot), nil
}

func (e *Engine) recalculateFromSubGoal(ctx context.Context, subGoalID, actorID string) (domain.ProgressSnapshot, error) {
	timer := prometheus.NewTimer(metrics.RecalcDuration)
	defer timer.ObserveDuration()
	metrics.Recalculations.WithLabelValues("subgoal").Inc()

	goal, err := e.store.GetGoalForSubGoal(ctx, subGoalID)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("resolve goal for sub-goal %s: %w", subGoalID, err)
	}

	e.cache.InvalidateHierarchy(goal.ID)

	subGoalProgress, err := e.calc.SubGoalProgress(ctx, subGoalID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	goalProgress, err := e.calc.GoalProgress(ctx, goal.ID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}

	err = e.store.ApplyProgressUpdate(ctx, domain.ProgressUpdate{
		SubGoalID:       subGoalID,
		SubGoalProgress: subGoalProgress,
		GoalID:          goal.ID,
		GoalProgress:    goalProgress,
		ActorID:         actorID,
	})
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("persist progress: %w", err)
	}

	var snap domain.ProgressSnapshot
	subGoalInfo, err := e.subGoalInfo(ctx, subGoalID, subGoalProgress)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	goalInfo, err := e.goalInfo(ctx, goal.ID, goalProgress)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	snap.SubGoal = subGoalInfo
	snap.Goal = goalInfo
	return snap, nil
}

func (e *Engine) computeChain(ctx context.Context, actionID, subGoalID, goalID string) (actionProgress, subGoalProgress, goalProgress float64, err error) {
	actionProgress, err = e.calc.ActionProgress(ctx, actionID)
	if err != nil {
		return 0, 0, 0, err
	}
	subGoalProgress, err = e.calc.SubGoalProgress(ctx, subGoalID)
	if err != nil {
		return 0, 0, 0, err
	}
	goalProgress, err = e.calc.GoalProgress(ctx, goalID)
	if err != nil {
		return 0, 0, 0, err
	}
	return actionProgress, subGoalProgress, goalProgress, nil
}

func (e *Engine) fillSnapshot(ctx context.Context, snap *domain.ProgressSnapshot, actionID, subGoalID, goalID string, actionProgress, subGoalProgress, goalProgress float64) error {
	actionInfo, err := e.actionInfo(ctx, actionID, actionProgress)
	if err != nil {
		return err
	}
	subGoalInfo, err := e.subGoalInfo(ctx, subGoalID, subGoalProgress)
	if err != nil {
		return err
	}
	goalInfo, err := e.goalInfo(ctx, goalID, goalProgress)
	if err != nil {
		return err
	}
	snap.Action = actionInfo
	snap.SubGoal = subGoalInfo
	snap.Goal = goalInfo
	return nil
}

func (e *Engine) actionInfo(ctx context.Context, actionID string, progress float64) (*domain.ActionProgressInfo, error) {
	action, err := e.store.GetActionWithTasks(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("load action %s: %w", actionID, err)
	}
	completed := 0
	for _, t := range action.Tasks {
		if t.Status == domain.TaskCompleted {
			completed++
		}
	}
	return &domain.ActionProgressInfo{
		ID:             actionID,
		Progress:       progress,
		Kind:           e.calc.Classify(action),
		TaskCount:      len(action.Tasks),
		CompletedTasks: completed,
	}, nil
}

func (e *Engine) subGoalInfo(ctx context.Context, subGoalID string, progress float64) (domain.SubGoalProgressInfo, error) {
	subGoal, err := e.store.GetSubGoalWithActions(ctx, subGoalID)
	if err != nil {
		return domain.SubGoalProgressInfo{}, fmt.Errorf("load sub-goal %s: %w", subGoalID, err)
	}
	info := domain.SubGoalProgressInfo{ID: subGoalID, Progress: progress}
	for _, a := range subGoal.Actions {
		v, err := e.calc.ActionProgress(ctx, a.ID)
		if err != nil {
			return domain.SubGoalProgressInfo{}, err
		}
		info.ActionProgress = append(info.ActionProgress, v)
	}
	return info, nil
}

func (e *Engine) goalInfo(ctx context.Context, goalID string, progress float64) (domain.GoalProgressInfo, error) {
	goal, err := e.store.GetGoalWithSubGoals(ctx, goalID)
	if err != nil {
		return domain.GoalProgressInfo{}, fmt.Errorf("load goal %s: %w", goalID, err)
	}
	info := domain.GoalProgressInfo{ID: goalID, Progress: progress}
	for _, sg := range goal.SubGoals {
		v, err := e.calc.SubGoalProgress(ctx, sg.ID)
		if err != nil {
			return domain.GoalProgressInfo{}, err
		}
		info.SubGoalProgress = append(info.SubGoalProgress, v)
	}
	return info, nil
}

// GoalProgress computes a read-only progress view of the goal without
// persisting anything.
func (e *Engine) GoalProgress(ctx context.Context, goalID string) (domain.GoalProgressInfo, error) {
	v, err := e.calc.GoalProgress(ctx, goalID)
	if err != nil {
		return domain.GoalProgressInfo{}, err
	}
	return e.goalInfo(ctx, goalID, v)
}

// SetAutoUpdate toggles the mutation hooks at runtime.
func (e *Engine) SetAutoUpdate(enabled bool) { e.autoUpdate.Store(enabled) }

func (e *Engine) AutoUpdateEnabled() bool { return e.autoUpdate.Load() }

// HookFailures reports how many hook invocations failed since startup.
func (e *Engine) HookFailures() uint64 { return e.hookFailures.Load() }

// OnTaskStatusChanged keeps aggregates current after a task mutation.
// Best-effort: a failure is logged and counted, never surfaced, so the
// triggering write cannot be rolled back by a recalculation problem.
func (e *Engine) OnTaskStatusChanged(ctx context.Context, taskID, actorID string) {
	if !e.autoUpdate.Load() {
		return
	}
	if _, err := e.RecalculateFromTask(ctx, taskID, actorID); err != nil {
		e.recordHookFailure("task", taskID, err)
	}
}

// OnActionChanged keeps aggregates current after the action's task set
// changed (task added or removed).
func (e *Engine) OnActionChanged(ctx context.Context, actionID, actorID string) {
	if !e.autoUpdate.Load() {
		return
	}
	if _, err := e.RecalculateFromAction(ctx, actionID, actorID); err != nil {
		e.recordHookFailure("action", actionID, err)
	}
}

// OnSubGoalChanged keeps aggregates current after a structural change under
// the sub-goal.
func (e *Engine) OnSubGoalChanged(ctx context.Context, subGoalID, actorID string) {
	if !e.autoUpdate.Load() {
		return
	}
	if _, err := e.RecalculateFromSubGoal(ctx, subGoalID, actorID); err != nil {
		e.recordHookFailure("subgoal", subGoalID, err)
	}
}

func (e *Engine) recordHookFailure(level, entityID string, err error) {
	e.hookFailures.Add(1)
	metrics.HookFailures.Inc()
	e.log.Warn("progress auto-update failed", "level", level, "entity_id", entityID, "error", err)
}

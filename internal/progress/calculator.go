package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"summit/internal/domain"
	"summit/internal/metrics"
)

const (
	// DefaultHabitTargetDays is the streak length treated as a fully formed
	// habit before the credit percentage is applied.
	DefaultHabitTargetDays = 30
	// DefaultHabitCreditPercent scales the target: 80% of 30 days means a
	// 24-day streak already scores 100.
	DefaultHabitCreditPercent = 80
)

// Calculator computes progress values bottom-up, consulting the cache before
// touching the store. All values are percentages in [0, 100].
type Calculator struct {
	store              Store
	cache              Cache
	classifier         Classifier
	log                *slog.Logger
	habitTargetDays    int
	habitCreditPercent int
}

func NewCalculator(store Store, cache Cache, classifier Classifier, log *slog.Logger, habitTargetDays, habitCreditPercent int) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	if habitTargetDays <= 0 {
		habitTargetDays = DefaultHabitTargetDays
	}
	if habitCreditPercent <= 0 || habitCreditPercent > 100 {
		habitCreditPercent = DefaultHabitCreditPercent
	}
	return &Calculator{
		store:              store,
		cache:              cache,
		classifier:         classifier,
		log:                log,
		habitTargetDays:    habitTargetDays,
		habitCreditPercent: habitCreditPercent,
	}
}

// StatusProgress maps a task status to its progress contribution.
func StatusProgress(status string) float64 {
	switch status {
	case domain.TaskCompleted:
		return 100
	case domain.TaskInProgress:
		return 50
	default:
		// pending, cancelled, and anything unknown contribute nothing
		return 0
	}
}

// Classify reports whether the action is habit- or execution-driven.
func (c *Calculator) Classify(a domain.Action) string {
	return c.classifier.Classify(a)
}

func (c *Calculator) TaskProgress(ctx context.Context, taskID string) (float64, error) {
	if v, ok := c.cache.Get(taskKey(taskID)); ok {
		metrics.CacheHits.Inc()
		return v, nil
	}
	metrics.CacheMisses.Inc()
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("load task %s: %w", taskID, err)
	}
	v := StatusProgress(task.Status)
	c.cache.Set(taskKey(taskID), v, []string{taskID})
	return v, nil
}

// ActionProgress computes the action's progress from its tasks. Habit
// actions are scored by completion streak, execution actions by the rounded
// mean of task progress. The cache entry depends on the action and every
// task under it, so a task mutation purges it.
func (c *Calculator) ActionProgress(ctx context.Context, actionID string) (float64, error) {
	if v, ok := c.cache.Get(actionKey(actionID)); ok {
		metrics.CacheHits.Inc()
		return v, nil
	}
	metrics.CacheMisses.Inc()
	action, err := c.store.GetActionWithTasks(ctx, actionID)
	if err != nil {
		return 0, fmt.Errorf("load action %s: %w", actionID, err)
	}

	var v float64
	if c.classifier.Classify(action) == domain.ActionHabit {
		v, err = c.habitProgress(ctx, action)
	} else {
		v, err = c.executionProgress(ctx, action.Tasks)
	}
	if err != nil {
		return 0, err
	}

	deps := make([]string, 0, len(action.Tasks)+1)
	deps = append(deps, actionID)
	for _, t := range action.Tasks {
		deps = append(deps, t.ID)
	}
	c.cache.Set(actionKey(actionID), v, deps)
	return v, nil
}

func (c *Calculator) executionProgress(ctx context.Context, tasks []domain.Task) (float64, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	var sum float64
	for _, t := range tasks {
		v, err := c.TaskProgress(ctx, t.ID)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return math.Round(sum / float64(len(tasks))), nil
}

func (c *Calculator) habitProgress(ctx context.Context, action domain.Action) (float64, error) {
	completions := make([]time.Time, 0, len(action.Tasks))
	for _, t := range action.Tasks {
		if t.CompletedAt == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, *t.CompletedAt)
		if err != nil {
			c.log.Warn("unparseable completion timestamp ignored",
				"task_id", t.ID, "completed_at", *t.CompletedAt)
			continue
		}
		completions = append(completions, ts)
	}
	// no completions yet: nothing to build a streak from, score like an
	// execution action
	if len(completions) == 0 {
		return c.executionProgress(ctx, action.Tasks)
	}

	required := c.habitTargetDays * c.habitCreditPercent / 100
	if required < 1 {
		required = 1
	}
	streak := activeStreak(completions)
	if streak >= required {
		return 100, nil
	}
	return math.Round(float64(streak) / float64(required) * 100), nil
}

// SubGoalProgress is the mean of the sub-goal's action progress, rounded to
// two decimals. Out-of-range action values are excluded and logged rather
// than corrupting the aggregate.
func (c *Calculator) SubGoalProgress(ctx context.Context, subGoalID string) (float64, error) {
	if v, ok := c.cache.Get(subGoalKey(subGoalID)); ok {
		metrics.CacheHits.Inc()
		return v, nil
	}
	metrics.CacheMisses.Inc()
	subGoal, err := c.store.GetSubGoalWithActions(ctx, subGoalID)
	if err != nil {
		return 0, fmt.Errorf("load sub-goal %s: %w", subGoalID, err)
	}

	deps := make([]string, 0, len(subGoal.Actions)+1)
	deps = append(deps, subGoalID)
	values := make([]float64, 0, len(subGoal.Actions))
	for _, a := range subGoal.Actions {
		deps = append(deps, a.ID)
		v, err := c.ActionProgress(ctx, a.ID)
		if err != nil {
			return 0, err
		}
		if v < 0 || v > 100 {
			c.log.Warn("action progress out of range, excluded from sub-goal",
				"sub_goal_id", subGoalID, "action_id", a.ID, "value", v)
			continue
		}
		values = append(values, v)
	}

	v := round2(mean(values))
	c.cache.Set(subGoalKey(subGoalID), v, deps)
	return v, nil
}

// GoalProgress is the mean of the goal's sub-goal progress, rounded to two
// decimals.
func (c *Calculator) GoalProgress(ctx context.Context, goalID string) (float64, error) {
	if v, ok := c.cache.Get(goalKey(goalID)); ok {
		metrics.CacheHits.Inc()
		return v, nil
	}
	metrics.CacheMisses.Inc()
	goal, err := c.store.GetGoalWithSubGoals(ctx, goalID)
	if err != nil {
		return 0, fmt.Errorf("load goal %s: %w", goalID, err)
	}

	deps := make([]string, 0, len(goal.SubGoals)+1)
	deps = append(deps, goalID)
	values := make([]float64, 0, len(goal.SubGoals))
	for _, sg := range goal.SubGoals {
		deps = append(deps, sg.ID)
		v, err := c.SubGoalProgress(ctx, sg.ID)
		if err != nil {
			return 0, err
		}
		if v < 0 || v > 100 {
			c.log.Warn("sub-goal progress out of range, excluded from goal",
				"goal_id", goalID, "sub_goal_id", sg.ID, "value", v)
			continue
		}
		values = append(values, v)
	}

	v := round2(mean(values))
	c.cache.Set(goalKey(goalID), v, deps)
	return v, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package progress

import (
	"context"
	"fmt"
	"math"

	"summit/internal/domain"
	"summit/internal/metrics"
)

const (
	// The method prescribes a fixed 8x8 shape under every goal.
	expectedSubGoals = 8
	expectedActions  = 8

	// driftTolerance is the largest stored-vs-computed difference that is
	// still attributed to rounding rather than corruption.
	driftTolerance = 1.0
)

func drifted(stored, computed float64) bool {
	return math.Abs(stored-computed) > driftTolerance
}

// ValidateIntegrity checks a goal's structure against the 8x8 shape and its
// persisted progress values against freshly computed ones. It never mutates
// anything; failures to load an entity become report entries so one broken
// branch does not hide the rest.
func (e *Engine) ValidateIntegrity(ctx context.Context, goalID string) domain.IntegrityReport {
	report := domain.IntegrityReport{GoalID: goalID, IsValid: true}

	goal, err := e.store.GetGoalWithSubGoals(ctx, goalID)
	if err != nil {
		report.IsValid = false
		report.Errors = append(report.Errors, fmt.Sprintf("failed to load goal %s: %v", goalID, err))
		return report
	}

	if len(goal.SubGoals) != expectedSubGoals {
		report.Errors = append(report.Errors,
			fmt.Sprintf("goal %s should have %d sub-goals, but has %d", goal.ID, expectedSubGoals, len(goal.SubGoals)))
	}

	for _, sg := range goal.SubGoals {
		subGoal, err := e.store.GetSubGoalWithActions(ctx, sg.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to load sub-goal %s: %v", sg.ID, err))
			continue
		}
		if len(subGoal.Actions) != expectedActions {
			report.Errors = append(report.Errors,
				fmt.Sprintf("sub-goal %s should have %d actions, but has %d", subGoal.ID, expectedActions, len(subGoal.Actions)))
		}
		for _, a := range subGoal.Actions {
			computed, err := e.calc.ActionProgress(ctx, a.ID)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("failed to compute progress for action %s: %v", a.ID, err))
				continue
			}
			if drifted(a.Progress, computed) {
				report.Errors = append(report.Errors,
					fmt.Sprintf("action %s stored progress %.0f%% differs from computed %.0f%%", a.ID, a.Progress, computed))
			}
		}
		computed, err := e.calc.SubGoalProgress(ctx, sg.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to compute progress for sub-goal %s: %v", sg.ID, err))
			continue
		}
		if drifted(sg.Progress, computed) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("sub-goal %s stored progress %.2f%% differs from computed %.2f%%", sg.ID, sg.Progress, computed))
		}
	}

	computed, err := e.calc.GoalProgress(ctx, goalID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("failed to compute progress for goal %s: %v", goalID, err))
	} else if drifted(goal.Progress, computed) {
		report.Errors = append(report.Errors,
			fmt.Sprintf("goal %s stored progress %.2f%% differs from computed %.2f%%", goal.ID, goal.Progress, computed))
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

// RepairIntegrity validates the goal and, when invalid, recomputes every
// level bottom-up from a cleared cache and persists any value outside the
// drift tolerance. Structural problems (wrong child counts) are reported by
// ValidateIntegrity but cannot be repaired here.
func (e *Engine) RepairIntegrity(ctx context.Context, goalID, actorID string) (domain.RepairReport, error) {
	report := domain.RepairReport{GoalID: goalID}

	if check := e.ValidateIntegrity(ctx, goalID); check.IsValid {
		return report, nil
	}

	// stale entries must not feed the repair values
	e.cache.Clear()

	goal, err := e.store.GetGoalWithSubGoals(ctx, goalID)
	if err != nil {
		return report, fmt.Errorf("load goal %s: %w", goalID, err)
	}

	for _, sg := range goal.SubGoals {
		subGoal, err := e.store.GetSubGoalWithActions(ctx, sg.ID)
		if err != nil {
			return report, fmt.Errorf("load sub-goal %s: %w", sg.ID, err)
		}
		for _, a := range subGoal.Actions {
			computed, err := e.calc.ActionProgress(ctx, a.ID)
			if err != nil {
				return report, err
			}
			if !drifted(a.Progress, computed) {
				continue
			}
			u := domain.ProgressUpdate{ActionID: a.ID, ActionProgress: computed, ActorID: actorID}
			if err := e.store.ApplyProgressUpdate(ctx, u); err != nil {
				return report, fmt.Errorf("repair action %s: %w", a.ID, err)
			}
			metrics.RepairsApplied.Inc()
			report.Repairs = append(report.Repairs,
				fmt.Sprintf("Action %s progress updated to %.0f%%", a.ID, computed))
		}
		computed, err := e.calc.SubGoalProgress(ctx, sg.ID)
		if err != nil {
			return report, err
		}
		if drifted(sg.Progress, computed) {
			u := domain.ProgressUpdate{SubGoalID: sg.ID, SubGoalProgress: computed, ActorID: actorID}
			if err := e.store.ApplyProgressUpdate(ctx, u); err != nil {
				return report, fmt.Errorf("repair sub-goal %s: %w", sg.ID, err)
			}
			metrics.RepairsApplied.Inc()
			report.Repairs = append(report.Repairs,
				fmt.Sprintf("Sub-goal %s progress updated to %.2f%%", sg.ID, computed))
		}
	}

	computed, err := e.calc.GoalProgress(ctx, goalID)
	if err != nil {
		return report, err
	}
	if drifted(goal.Progress, computed) {
		u := domain.ProgressUpdate{GoalID: goalID, GoalProgress: computed, ActorID: actorID}
		if err := e.store.ApplyProgressUpdate(ctx, u); err != nil {
			return report, fmt.Errorf("repair goal %s: %w", goalID, err)
		}
		metrics.RepairsApplied.Inc()
		report.Repairs = append(report.Repairs,
			fmt.Sprintf("Goal %s progress updated to %.2f%%", goalID, computed))
	}

	return report, nil
}

// BatchRepair repairs each goal independently: a failure on one goal is
// recorded and the batch moves on.
func (e *Engine) BatchRepair(ctx context.Context, goalIDs []string, actorID string) domain.BatchRepairResult {
	var result domain.BatchRepairResult
	for _, id := range goalIDs {
		report, err := e.RepairIntegrity(ctx, id, actorID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("goal %s: %v", id, err))
			continue
		}
		if len(report.Repairs) > 0 {
			result.Updated++
		}
	}
	return result
}

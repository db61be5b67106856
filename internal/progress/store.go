package progress

import (
	"context"

	"summit/internal/domain"
)

// Store is the data-access collaborator the engine computes from. Reads
// return the entity with the children the calculation needs; the progress
// write applies every provided level in one transaction.
//
// Implementations return an error satisfying errors.Is(err, repo.ErrNotFound)
// when a referenced entity does not exist.
type Store interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	GetActionWithTasks(ctx context.Context, id string) (domain.Action, error)
	GetSubGoalWithActions(ctx context.Context, id string) (domain.SubGoal, error)
	GetGoalWithSubGoals(ctx context.Context, id string) (domain.Goal, error)

	GetActionForTask(ctx context.Context, taskID string) (domain.Action, error)
	GetSubGoalForAction(ctx context.Context, actionID string) (domain.SubGoal, error)
	GetGoalForSubGoal(ctx context.Context, subGoalID string) (domain.Goal, error)

	ApplyProgressUpdate(ctx context.Context, u domain.ProgressUpdate) error
}

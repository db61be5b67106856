package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"summit/internal/domain"
	"summit/internal/engine"
	"summit/internal/progress"
)

func registerGoals(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ActorID string            `header:"X-Actor-Id"`
		Body    CreateGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		g, err := e.CreateGoal(ctx, engine.CreateGoalInput{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Goal `json:"body"`
	}, error) {
		items, err := e.ListGoals(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Goal{}
		}
		return &struct {
			Body []domain.Goal `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal tree",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		g, err := e.GetGoalTree(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-goal",
		Method:      http.MethodDelete,
		Path:        "/goals/{goal_id}",
		Summary:     "Delete goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID  string `path:"goal_id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeleteGoal(ctx, input.GoalID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSubGoals(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-sub-goal",
		Method:        http.MethodPost,
		Path:          "/goals/{goal_id}/sub-goals",
		Summary:       "Create sub-goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID  string               `path:"goal_id"`
		ActorID string               `header:"X-Actor-Id"`
		Body    CreateSubGoalRequest `json:"body"`
	}) (*struct {
		Body domain.SubGoal `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		sg, err := e.CreateSubGoal(ctx, engine.CreateSubGoalInput{
			GoalID:  input.GoalID,
			Title:   input.Body.Title,
			ActorID: input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SubGoal `json:"body"`
		}{Body: sg}, nil
	})
}

func registerActions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/sub-goals/{sub_goal_id}/actions",
		Summary:       "Create action",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubGoalID string              `path:"sub_goal_id"`
		ActorID   string              `header:"X-Actor-Id"`
		Body      CreateActionRequest `json:"body"`
	}) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		a, err := e.CreateAction(ctx, engine.CreateActionInput{
			SubGoalID: input.SubGoalID,
			Title:     input.Body.Title,
			ActorID:   input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/actions/{action_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID string            `path:"action_id"`
		ActorID  string            `header:"X-Actor-Id"`
		Body     CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		t, err := e.CreateTask(ctx, engine.CreateTaskInput{
			ActionID:    input.ActionID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Update task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID  string                  `path:"task_id"`
		ActorID string                  `header:"X-Actor-Id"`
		Force   bool                    `query:"force"`
		Body    UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		t, err := e.UpdateTaskStatus(ctx, engine.UpdateTaskStatusInput{
			TaskID:  input.TaskID,
			Status:  input.Body.Status,
			ActorID: input.ActorID,
			Force:   input.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.TaskID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProgress(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "goal-progress",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/progress",
		Summary:     "Goal progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body domain.GoalProgressInfo `json:"body"`
	}, error) {
		info, err := e.Progress.GoalProgress(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GoalProgressInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-from-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/recalculate",
		Summary:     "Recalculate progress from a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.ProgressSnapshot `json:"body"`
	}, error) {
		snap, err := e.Progress.RecalculateFromTask(ctx, input.TaskID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressSnapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-from-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/recalculate",
		Summary:     "Recalculate progress from an action",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID string `path:"action_id"`
		ActorID  string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.ProgressSnapshot `json:"body"`
	}, error) {
		snap, err := e.Progress.RecalculateFromAction(ctx, input.ActionID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressSnapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-from-sub-goal",
		Method:      http.MethodPost,
		Path:        "/sub-goals/{sub_goal_id}/recalculate",
		Summary:     "Recalculate progress from a sub-goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubGoalID string `path:"sub_goal_id"`
		ActorID   string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.ProgressSnapshot `json:"body"`
	}, error) {
		snap, err := e.Progress.RecalculateFromSubGoal(ctx, input.SubGoalID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressSnapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "progress-cache-stats",
		Method:      http.MethodGet,
		Path:        "/progress/cache/stats",
		Summary:     "Progress cache statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body progress.CacheStats `json:"body"`
	}, error) {
		return &struct {
			Body progress.CacheStats `json:"body"`
		}{Body: e.Progress.CacheStats()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-auto-update",
		Method:      http.MethodGet,
		Path:        "/progress/auto-update",
		Summary:     "Auto-update hook state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AutoUpdateResponse `json:"body"`
	}, error) {
		return &struct {
			Body AutoUpdateResponse `json:"body"`
		}{Body: AutoUpdateResponse{
			Enabled:      e.Progress.AutoUpdateEnabled(),
			HookFailures: e.Progress.HookFailures(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-auto-update",
		Method:      http.MethodPut,
		Path:        "/progress/auto-update",
		Summary:     "Toggle auto-update hooks",
	}, func(ctx context.Context, input *struct {
		Body AutoUpdateRequest `json:"body"`
	}) (*struct {
		Body AutoUpdateResponse `json:"body"`
	}, error) {
		e.Progress.SetAutoUpdate(input.Body.Enabled)
		return &struct {
			Body AutoUpdateResponse `json:"body"`
		}{Body: AutoUpdateResponse{
			Enabled:      e.Progress.AutoUpdateEnabled(),
			HookFailures: e.Progress.HookFailures(),
		}}, nil
	})
}

func registerIntegrity(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-goal-integrity",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/integrity",
		Summary:     "Validate goal integrity",
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body domain.IntegrityReport `json:"body"`
	}, error) {
		return &struct {
			Body domain.IntegrityReport `json:"body"`
		}{Body: e.Progress.ValidateIntegrity(ctx, input.GoalID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repair-goal-integrity",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/integrity/repair",
		Summary:     "Repair goal integrity",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		GoalID  string `path:"goal_id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.RepairReport `json:"body"`
	}, error) {
		report, err := e.RepairGoal(ctx, input.GoalID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RepairReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-repair-integrity",
		Method:      http.MethodPost,
		Path:        "/integrity/batch-repair",
		Summary:     "Repair several goals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActorID string             `header:"X-Actor-Id"`
		Body    BatchRepairRequest `json:"body"`
	}) (*struct {
		Body domain.BatchRepairResult `json:"body"`
	}, error) {
		if len(input.Body.GoalIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "goal_ids is required", nil)
		}
		res := e.Progress.BatchRepair(ctx, input.Body.GoalIDs, input.ActorID)
		return &struct {
			Body domain.BatchRepairResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"20"`
		GoalID string `query:"goal_id"`
		Type   string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.GoalID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

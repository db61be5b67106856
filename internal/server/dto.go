package server

type CreateGoalRequest struct {
	Title       string `json:"title" example:"Run a marathon"`
	Description string `json:"description,omitempty"`
}

type CreateSubGoalRequest struct {
	Title string `json:"title" example:"Build endurance"`
}

type CreateActionRequest struct {
	Title string `json:"title" example:"Long runs"`
}

type CreateTaskRequest struct {
	Title       string `json:"title" example:"Morning run"`
	Description string `json:"description,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed,cancelled"`
}

type BatchRepairRequest struct {
	GoalIDs []string `json:"goal_ids"`
}

type AutoUpdateRequest struct {
	Enabled bool `json:"enabled"`
}

type AutoUpdateResponse struct {
	Enabled      bool   `json:"enabled"`
	HookFailures uint64 `json:"hook_failures"`
}

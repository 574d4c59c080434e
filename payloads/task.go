package payloads

import (
	"time"

	"github.com/google/uuid"
)

// TaskRequestPayload is a task assignment from an RPC peer. T is the input
// body; inference tasks use executor.TaskBody.
type TaskRequestPayload[T any] struct {
	// RowID identifies the row of the batch this task belongs to.
	RowID uuid.UUID `json:"rowId"`
	// TaskID uniquely identifies the task.
	TaskID uuid.UUID `json:"taskId"`
	// Input is the task body handed to the worker.
	Input T `json:"input"`
	// Deadline is a legacy field; when absent, no deadline check is made.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// TaskResponsePayload carries a task result back to the requesting peer.
// Exactly one of Result and Error is set, enforced by the constructors.
type TaskResponsePayload struct {
	RowID  uuid.UUID `json:"rowId"`
	TaskID uuid.UUID `json:"taskId"`
	// Model is the display name of the model that served the task.
	Model string `json:"model"`
	// Stats carries the task's lifecycle timestamps.
	Stats TaskStats `json:"stats"`
	// Result is the generated text, nil on failure.
	Result *string `json:"result"`
	// Error is the pretty-printed error chain, nil on success.
	Error *string `json:"error"`
}

// NewTaskResult creates a successful task response.
func NewTaskResult(rowID, taskID uuid.UUID, model string, result string, stats TaskStats) TaskResponsePayload {
	return TaskResponsePayload{
		RowID:  rowID,
		TaskID: taskID,
		Model:  model,
		Stats:  stats,
		Result: &result,
	}
}

// NewTaskError creates a failed task response.
func NewTaskError(rowID, taskID uuid.UUID, model string, errString string, stats TaskStats) TaskResponsePayload {
	return TaskResponsePayload{
		RowID:  rowID,
		TaskID: taskID,
		Model:  model,
		Stats:  stats,
		Error:  &errString,
	}
}

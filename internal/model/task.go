package model

import (
	"encoding/json"
	"time"
)

// TaskType identifies the handler for a queued task.
type TaskType string

const (
	TaskPhotoImport       TaskType = "photo_import"
	TaskPhotoOptimization TaskType = "photo_optimization"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return t == TaskPhotoImport || t == TaskPhotoOptimization
}

// Task is one deferred unit of work in the durable queue. Seq orders the
// queue; ID is stable across restarts.
type Task struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Type       TaskType        `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// PhotoImportPayload is the payload of a photo_import task.
type PhotoImportPayload struct {
	BusinessID string `json:"business_id"`
	PlaceID    string `json:"place_id"`
}

// PhotoOptimizationPayload is the payload of a photo_optimization task.
type PhotoOptimizationPayload struct {
	BusinessID string `json:"business_id"`
}

// QueueRun tracks one logical drain run. Total is fixed when the run starts
// and only grows when tasks are appended during the run.
type QueueRun struct {
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// TaskFailure records a task whose handler failed. The task itself has
// already been removed from the queue.
type TaskFailure struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Type      TaskType        `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"error_kind"`
	FailedAt  time.Time       `json:"failed_at"`
}

// NewPhotoImportTask builds a photo_import task.
func NewPhotoImportTask(businessID, placeID string) (Task, error) {
	payload, err := json.Marshal(PhotoImportPayload{BusinessID: businessID, PlaceID: placeID})
	if err != nil {
		return Task{}, err
	}
	return Task{Type: TaskPhotoImport, Payload: payload}, nil
}

// NewPhotoOptimizationTask builds a photo_optimization task.
func NewPhotoOptimizationTask(businessID string) (Task, error) {
	payload, err := json.Marshal(PhotoOptimizationPayload{BusinessID: businessID})
	if err != nil {
		return Task{}, err
	}
	return Task{Type: TaskPhotoOptimization, Payload: payload}, nil
}

package store

import (
	"context"
	"errors"

	"regprobe/internal/shared/types"
)

// ErrNotFound is returned when a record does not exist. Callers that can
// degrade (the executor, the consumers) check for it explicitly.
var ErrNotFound = errors.New("record not found")

// Store is the entity store behind the engine: simple key-based CRUD with
// single-record atomicity and no cross-entity transactions.
//
// IncrProgress is the one compound operation: it atomically increments the
// task's completed counter plus the succeeded or failed counter, flips the
// task to Completed once completed reaches total, and returns the fresh
// snapshot. Many consumer workers call it concurrently for the same task.
type Store interface {
	GetTemplate(ctx context.Context, id int64) (*types.ProbeTemplate, error)
	SaveTemplate(ctx context.Context, tpl *types.ProbeTemplate) error

	GetTask(ctx context.Context, id int64) (*types.DetectionTask, error)
	SaveTask(ctx context.Context, task *types.DetectionTask) error
	SetTaskStatus(ctx context.Context, id int64, status types.TaskStatus) error
	IncrProgress(ctx context.Context, taskID int64, success bool) (*types.DetectionTask, error)

	SaveResult(ctx context.Context, result *types.DetectionResult) error
	ResultsByTask(ctx context.Context, taskID int64) ([]*types.DetectionResult, error)

	GetServer(ctx context.Context, id int64) (*types.Server, error)
	SaveServer(ctx context.Context, server *types.Server) error
	ListServers(ctx context.Context) ([]*types.Server, error)
}

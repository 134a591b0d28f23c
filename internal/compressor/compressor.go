package compressor

import (
	"context"
	"time"

	"rawpress-go/internal/adapter"
)

// Task is one PNG awaiting size reduction.
type Task struct {
	SourcePath       string
	TargetBytes      int64
	PreserveMetadata bool
}

// Attempt records one invocation of the encoder.
type Attempt struct {
	Params
	ResultBytes int64
	Path        string
	// Restore marks the re-encode of the smallest earlier candidate after the
	// schedule was exhausted. It is not part of the descent itself.
	Restore bool
}

// Outcome is the terminal result of a Task.
type Outcome struct {
	FinalPath    string
	FinalFormat  adapter.Format
	FinalBytes   int64
	MetTarget    bool
	AttemptsUsed int
	Attempts     []Attempt
}

// TaskResult pairs a Task with its Outcome, or the error that stopped it.
type TaskResult struct {
	Task       Task
	Outcome    Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Success reports whether the task completed without an adapter error.
// A missed target still counts as success.
func (r TaskResult) Success() bool {
	return r.Err == nil
}

// Warning reports whether the task completed but missed its target.
func (r TaskResult) Warning() bool {
	return r.Err == nil && !r.Outcome.MetTarget
}

// Compressor shrinks images until they fit their byte budget.
type Compressor interface {
	// Compress runs the descent search for a single task.
	Compress(ctx context.Context, task Task) (Outcome, error)
	// CompressAll runs every task and returns one result per task in input order.
	// A missing encoder aborts the whole batch and no results are returned.
	CompressAll(ctx context.Context, tasks []Task) ([]TaskResult, error)
}

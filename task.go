package sluice

import "time"

// Task is a unit of work delivered from a queue stream.
type Task struct {
	// ID is the stream entry ID assigned by the queue at enqueue time. It is
	// stable for the task's lifetime.
	ID string `json:"id"`
	// Queue is the name of the queue the task was read from.
	Queue string `json:"queue"`
	// Data is the serialized payload envelope. Payloads reference artifacts
	// by ID; raw content never travels through the queue.
	Data []byte `json:"data"`
}

// PendingEntry describes one claimed-but-unacknowledged task in a consumer
// group's pending entry list.
type PendingEntry struct {
	// TaskID is the stream entry ID of the pending task.
	TaskID string
	// Consumer is the identity the task is currently delivered to.
	Consumer string
	// DeliveryCount is the number of times the task has been delivered.
	DeliveryCount int64
	// Idle is the time since the task was last delivered.
	Idle time.Duration
}

// CompletionSignal is appended to a run's done stream after a task completes.
// It is produced once per successful attempt; consumers must absorb duplicate
// signals for the same TaskID, which arise from reclaim/reprocessing races.
type CompletionSignal struct {
	// TaskID is the original task's ID, the dedup key for fan-in.
	TaskID string `json:"task_id"`
	// RunID correlates the signal back to its orchestrated run.
	RunID string `json:"run_id"`
	// BatchIndex is the plan index of the batch, so partial completion can
	// name missing batches without persisting the plan.
	BatchIndex int `json:"batch_index"`
	// ArtifactID identifies the stored result artifact.
	ArtifactID string `json:"artifact_id"`
	// Status is the terminal outcome, StatusDone for appended signals.
	Status Status `json:"status"`
}

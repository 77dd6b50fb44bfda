package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/VoteDrop/internal/processing"
)

const (
	// VerifyDatasetTask is scheduled when an admin asks to verify a dataset.
	VerifyDatasetTask = "dataset:verify"
	// ApplyDatasetTask is scheduled when an admin asks to apply a dataset.
	ApplyDatasetTask = "dataset:apply"
)

// DatasetPayload is serialized into the task payload so the worker knows which
// dataset to act on.
type DatasetPayload struct {
	DatasetID string `json:"dataset_id"`
}

// TaskType maps a job kind to its asynq task type.
func TaskType(kind processing.Kind) (string, error) {
	switch kind {
	case processing.KindVerify:
		return VerifyDatasetTask, nil
	case processing.KindApply:
		return ApplyDatasetTask, nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}

// NewTask builds the asynq task for job.
func NewTask(job processing.Job) (*asynq.Task, error) {
	typ, err := TaskType(job.Kind)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(DatasetPayload{DatasetID: job.DatasetID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(typ, data), nil
}

// Client enqueues dataset jobs on Redis.
type Client struct {
	client *asynq.Client
}

var _ processing.Dispatcher = (*Client)(nil)

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// Dispatch enqueues job. Tasks are never retried: a failed verify or apply
// leaves the dataset where it was and the admin repeats the action.
func (c *Client) Dispatch(ctx context.Context, job processing.Job) error {
	task, err := NewTask(job)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Type(), err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

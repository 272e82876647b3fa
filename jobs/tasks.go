package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/caravel-erp/caravel-erp/internal/payments"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePromiseMatch settles payment promises after an allocation
	// commits. Deliberately post-commit: a matching failure must never roll
	// back the allocation.
	TaskTypePromiseMatch = "payments:promise_match"
)

// NewPromiseMatchTask constructs an Asynq task from the allocation event.
func NewPromiseMatchTask(evt payments.PromiseMatchRequested) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePromiseMatch, data), nil
}

// Client submits jobs to the queue. It satisfies the payments EventPort.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// PromiseMatchRequested enqueues a promise-match task.
func (c *Client) PromiseMatchRequested(ctx context.Context, evt payments.PromiseMatchRequested) error {
	task, err := NewPromiseMatchTask(evt)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"portfolio/imagestore/internal/models"
)

// Producer appends tasks to the worker stream. It satisfies
// derive.Dispatcher, moving derivation off the API process.
type Producer struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream, maxLen: 100_000}
}

func (p *Producer) Dispatch(ctx context.Context, stored models.StoredAsset) error {
	_, err := p.Enqueue(ctx, NewTask(TaskDerive, stored.Name))
	return err
}

func (p *Producer) EnqueueSweep(ctx context.Context) (string, error) {
	return p.Enqueue(ctx, NewTask(TaskSweep, ""))
}

func (p *Producer) Enqueue(ctx context.Context, task Task) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: task.Values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", task.Type, err)
	}
	return id, nil
}

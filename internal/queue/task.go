package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portfolio/imagestore/internal/ids"
)

const (
	TaskDerive = "derive"
	TaskSweep  = "sweep"
)

// Task is the stream entry exchanged between the API and the worker. Name is
// the stored name of the original for derive tasks and empty for sweeps.
type Task struct {
	ID         string    `json:"taskId"`
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func NewTask(kind, name string) Task {
	return Task{
		ID:         ids.NewTaskID(kind),
		Type:       kind,
		Name:       name,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (t Task) Values() map[string]any {
	values := map[string]any{
		"taskId":     t.ID,
		"type":       t.Type,
		"enqueuedAt": t.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if t.Name != "" {
		values["name"] = t.Name
	}
	return values
}

// ParseTask decodes a stream message. Redis returns every field as a string,
// which the JSON round trip maps back onto Task.
func ParseTask(msg redis.XMessage) (Task, error) {
	raw, err := json.Marshal(msg.Values)
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, fmt.Errorf("decode task %s: %w", msg.ID, err)
	}
	if task.Type == "" {
		return Task{}, fmt.Errorf("decode task %s: missing type", msg.ID)
	}
	return task, nil
}

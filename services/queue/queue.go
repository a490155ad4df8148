package queuesvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
)

// task is the wire envelope shared by all queue backends.
type task struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Registry maps task names to their handlers. Registration happens at boot,
// before consumption starts; it is not safe to register concurrently.
type Registry struct {
	handlers map[string]core.TaskHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]core.TaskHandler)}
}

func (r *Registry) Register(name string, h core.TaskHandler) {
	r.handlers[name] = h
}

// dispatch runs the task's handler with bounded retries. Only transient
// provider failures are retried; anything else fails immediately.
func (r *Registry) dispatch(ctx context.Context, t task, maxAttempts int, backoff time.Duration) error {
	h, ok := r.handlers[t.Name]
	if !ok {
		return errors.Errorf("no handler registered for task %q", t.Name)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = h(ctx, t.Payload); err == nil || !core.IsTransient(err) {
			return err
		}
		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return errors.Wrapf(err, "task %q failed after %d attempts", t.Name, maxAttempts)
}

func encode(name string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling task payload")
	}
	body, err := json.Marshal(task{Name: name, Payload: raw})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling task envelope")
	}
	return body, nil
}

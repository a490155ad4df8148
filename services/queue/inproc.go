package queuesvc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/classhour/backend/core"
)

// InProcQueue runs tasks on a background goroutine in the same process. Used
// in dev and tests, and as the fallback when no broker URL is configured.
type InProcQueue struct {
	registry *Registry
	conf     *core.Config
	logger   core.Logger

	tasks chan task
	wg    sync.WaitGroup
	once  sync.Once
	done  chan struct{}
}

var _ core.TaskQueue = (*InProcQueue)(nil)

func NewInProcQueue(registry *Registry, conf *core.Config, logger core.Logger) *InProcQueue {
	return &InProcQueue{
		registry: registry,
		conf:     conf,
		logger:   logger,
		tasks:    make(chan task, 256),
		done:     make(chan struct{}),
	}
}

func (q *InProcQueue) Enqueue(ctx context.Context, name string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling task payload")
	}
	select {
	case q.tasks <- task{Name: name, Payload: raw}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return core.NewShutdownError("queue is shut down")
	}
}

// Start launches the consumer goroutine. It returns immediately.
func (q *InProcQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case t := <-q.tasks:
				if err := q.registry.dispatch(ctx, t, q.conf.Queue.MaxAttempts, q.conf.Queue.RetryBackoff); err != nil {
					q.logger.Error("task failed", err)
				}
			case <-ctx.Done():
				return
			case <-q.done:
				return
			}
		}
	}()
}

// Shutdown stops accepting tasks and waits for the in-flight one to finish.
func (q *InProcQueue) Shutdown() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}

// Drain synchronously runs all queued tasks, for tests.
func (q *InProcQueue) Drain(ctx context.Context) error {
	for {
		select {
		case t := <-q.tasks:
			if err := q.registry.dispatch(ctx, t, q.conf.Queue.MaxAttempts, q.conf.Queue.RetryBackoff); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

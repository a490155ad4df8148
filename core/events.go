package core

import "context"

// Event is a domain event returned by a service call. Side effects (referral
// rewards, notifications) are routed explicitly by the caller instead of being
// hidden in persistence hooks.
type Event interface {
	EventName() string
}

type EventHandler func(ctx context.Context, ev Event) error

// EventDispatcher routes events to their registered handlers. Handler failures
// are logged and do not fail the originating request.
type EventDispatcher struct {
	handlers map[string][]EventHandler
	logger   Logger
}

func NewEventDispatcher(logger Logger) *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

func (d *EventDispatcher) Subscribe(name string, h EventHandler) {
	d.handlers[name] = append(d.handlers[name], h)
}

func (d *EventDispatcher) Dispatch(ctx context.Context, events ...Event) {
	for _, ev := range events {
		for _, h := range d.handlers[ev.EventName()] {
			if err := h(ctx, ev); err != nil {
				d.logger.Error("handling "+ev.EventName(), err)
			}
		}
	}
}

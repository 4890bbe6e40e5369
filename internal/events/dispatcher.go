package events

import (
	"context"
	"fmt"
	"log"
)

// HandlerFunc processes one typed event. A returned error is logged and
// swallowed by the dispatcher; it never reaches the transport caller.
type HandlerFunc func(ctx context.Context, env Envelope, payload Payload) error

// Dispatcher routes a validated event to exactly one handler. Types without
// a registered handler are acknowledged no-ops. Handler failures are logged
// with the event type and dropped: the upstream producer has no dead-letter
// path, so an error response would only cause a retry storm. Durability is
// the raw event log's and the reconciliation job's problem.
type Dispatcher struct {
	handlers map[Type]HandlerFunc
	logger   *log.Logger
}

func NewDispatcher(logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Type]HandlerFunc),
		logger:   logger,
	}
}

// Register binds h as the single handler for t, replacing any previous one.
func (d *Dispatcher) Register(t Type, h HandlerFunc) {
	d.handlers[t] = h
}

// Dispatch never returns an error and never panics out of a handler call.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope, payload Payload) {
	h, ok := d.handlers[env.Event]
	if !ok {
		d.logger.Printf("no handler for event=%s, ignoring", env.Event)
		return
	}
	if err := d.safeCall(ctx, h, env, payload); err != nil {
		d.logger.Printf("handler failure event=%s event_id=%s: %v", env.Event, env.EventID, err)
	}
}

func (d *Dispatcher) safeCall(ctx context.Context, h HandlerFunc, env Envelope, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return h(ctx, env, payload)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.value) }

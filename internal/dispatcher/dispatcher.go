// Package dispatcher routes named commands from UI clients to handlers.
// Handlers run inline by default; buffered handlers run on their own
// goroutine in arrival order.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrUnknownCommand is returned for a command nobody registered.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQueueFull is returned when a non-blocking buffered queue is full.
	ErrQueueFull = errors.New("queue full")
)

// Queued is the result of a command accepted into a buffered queue.
const Queued = "queued"

// Event is a command from a UI client. Payload is a JSON object whose shape
// depends on the command.
type Event struct {
	Command   string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Decode unmarshals the payload into v. An empty payload leaves v as is.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Command, err)
	}
	return nil
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(ctx context.Context, e Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type route struct {
	fn HandlerFunc
	// async routes are measured by their queue worker
	async bool
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger  Logger
	metrics *instruments

	mu      sync.RWMutex
	routes  map[string]route
	buffers map[string]chan Event
	closed  bool
	wg      sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:  logger,
		routes:  make(map[string]route),
		buffers: make(map[string]chan Event),
	}
	in, err := newInstruments(d.queueDepths)
	if err != nil {
		return nil, err
	}
	d.metrics = in
	return d, nil
}

func (d *Dispatcher) queueDepths(observe func(command string, depth int)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for cmd, buf := range d.buffers {
		observe(cmd, len(buf))
	}
}

// Register adds a handler for the given command.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := route{fn: h}
	if cfg.logged {
		r.fn = d.withLogging(command, r.fn)
	}
	if cfg.bufferSize > 0 {
		r.fn = d.withBuffer(command, cfg.bufferSize, cfg.blocking, r.fn)
		r.async = true
	}

	d.mu.Lock()
	d.routes[command] = r
	d.mu.Unlock()
}

// Dispatch routes an event to its registered handler. Close waits for
// in-flight dispatches to return.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	r, ok := d.routes[e.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if r.async {
		return r.fn(ctx, e)
	}

	start := time.Now()
	result, err := r.fn(ctx, e)
	d.metrics.observe(e.Command, start, err)
	return result, err
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[command]
	return ok
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.routes))
}

// Close stops accepting events and waits for buffered queues to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) withBuffer(command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[command] = buffer
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			start := time.Now()
			_, err := h(context.Background(), e)
			if err != nil {
				d.logger.Error("buffered event failed", "command", command, "error", err)
			}
			d.metrics.observe(command, start, err)
		}
	}()

	if blocking {
		return func(ctx context.Context, e Event) (any, error) {
			select {
			case buffer <- e:
				return Queued, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return func(_ context.Context, e Event) (any, error) {
		select {
		case buffer <- e:
			return Queued, nil
		default:
			d.metrics.drop(command)
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
		}
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "payload", len(e.Payload))

		result, err := h(ctx, e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}

// Package stream delivers typed research events to one consumer in the order
// they were sent.
package stream

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventInfo      EventType = "infor"
	EventProgress  EventType = "progress"
	EventMessage   EventType = "message"
	EventReasoning EventType = "reasoning"
	EventError     EventType = "error"
	EventComplete  EventType = "complete"
	EventKeepalive EventType = "keepalive"
	EventClose     EventType = "close"
)

// Terminal reports whether t ends a session.
func (t EventType) Terminal() bool { return t == EventComplete || t == EventError }

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Sink writes events to the consumer. An Emitter calls Write from a single
// goroutine.
type Sink interface {
	Write(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Write(ev Event) error { return f(ev) }

// State is the lifecycle of an Emitter.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// DefaultKeepalive is the idle interval after which a keepalive is written.
const DefaultKeepalive = 15 * time.Second

// Emitter is a single-writer push channel. Send never blocks on the sink and
// never fails; events sent after a terminal event or after Close are dropped.
// Close is idempotent and returns once every queued event has been written.
type Emitter struct {
	Logger *slog.Logger

	sink      Sink
	keepalive time.Duration

	mu      sync.Mutex
	state   State
	ended   bool
	queue   []Event
	pending chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithKeepalive sets the keepalive interval. Zero or negative disables it.
func WithKeepalive(d time.Duration) Option {
	return func(e *Emitter) { e.keepalive = d }
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.Logger = l }
}

// NewEmitter starts the writer goroutine for sink.
func NewEmitter(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		Logger:    slog.Default(),
		sink:      sink,
		keepalive: DefaultKeepalive,
		pending:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Send queues an event. It reports false when the emitter no longer accepts
// events. The first complete or error event ends the stream: later sends are
// refused and only the close event follows.
func (e *Emitter) Send(typ EventType, data any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen || e.ended {
		return false
	}
	e.ended = typ.Terminal()
	e.queue = append(e.queue, Event{Type: typ, Data: data})
	select {
	case e.pending <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting events, flushes the queue, writes a close event and
// waits for the writer to exit.
func (e *Emitter) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		if e.state == StateOpen {
			e.state = StateClosing
		}
		e.mu.Unlock()
		close(e.stop)
	})
	<-e.done
}

// Done is closed once the emitter has fully closed.
func (e *Emitter) Done() <-chan struct{} { return e.done }

func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Emitter) take() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queue
	e.queue = nil
	return q
}

func (e *Emitter) run() {
	defer close(e.done)
	defer func() {
		e.mu.Lock()
		e.state = StateClosed
		e.queue = nil
		e.mu.Unlock()
	}()

	// The keepalive ticker restarts after every flush, so it only fires on
	// an idle stream.
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	if e.keepalive > 0 {
		ticker = time.NewTicker(e.keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-e.pending:
			if !e.flush() {
				return
			}
			if ticker != nil {
				ticker.Reset(e.keepalive)
			}
		case <-tick:
			if !e.write(Event{Type: EventKeepalive}) {
				return
			}
		case <-e.stop:
			if e.flush() {
				e.write(Event{Type: EventClose})
			}
			return
		}
	}
}

func (e *Emitter) flush() bool {
	for _, ev := range e.take() {
		if !e.write(ev) {
			return false
		}
	}
	return true
}

func (e *Emitter) write(ev Event) bool {
	if err := e.sink.Write(ev); err != nil {
		e.Logger.Warn("event sink failed, dropping stream", "event", ev.Type, "error", err)
		e.mu.Lock()
		e.state = StateClosed
		e.queue = nil
		e.mu.Unlock()
		return false
	}
	return true
}

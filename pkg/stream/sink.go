package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"
)

// SSESink writes server-sent events and flushes after each one.
type SSESink struct {
	w http.ResponseWriter
}

// NewSSESink sets the event-stream headers on w.
func NewSSESink(w http.ResponseWriter) *SSESink {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &SSESink{w: w}
}

func (s *SSESink) Write(ev Event) error {
	data := ev.Data
	if data == nil {
		data = struct{}{}
	}
	if err := sse.Encode(s.w, sse.Event{Event: string(ev.Type), Data: data}); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Recorder keeps every written event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Write(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Last returns the most recent event of type t.
func (r *Recorder) Last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// WriterSink prints events as text lines. Message chunks are written raw so a
// streamed report reads naturally on a terminal. Keepalives are skipped.
type WriterSink struct {
	w io.Writer
	// Verbose also prints reasoning chunks.
	Verbose bool
	inText  bool
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Write(ev Event) error {
	switch ev.Type {
	case EventKeepalive:
		return nil
	case EventMessage:
		s.inText = true
		_, err := fmt.Fprint(s.w, text(ev.Data))
		return err
	case EventReasoning:
		if !s.Verbose {
			return nil
		}
		_, err := fmt.Fprint(s.w, text(ev.Data))
		return err
	}
	if s.inText {
		s.inText = false
		if _, err := fmt.Fprintln(s.w); err != nil {
			return err
		}
	}
	if ev.Data == nil {
		_, err := fmt.Fprintf(s.w, "[%s]\n", ev.Type)
		return err
	}
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "[%s] %s\n", ev.Type, raw)
	return err
}

func text(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case interface{ Text() string }:
		return v.Text()
	default:
		return fmt.Sprint(v)
	}
}

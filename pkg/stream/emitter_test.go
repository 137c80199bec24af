package stream

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEmitterFIFO(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, WithKeepalive(0))
	for i := 0; i < 100; i++ {
		require.True(t, em.Send(EventMessage, i))
	}
	em.Send(EventComplete, "done")
	em.Close()

	events := rec.Events()
	require.Len(t, events, 102)
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, events[i].Data)
	}
	assert.Equal(t, EventComplete, events[100].Type)
	assert.Equal(t, EventClose, events[101].Type)
	assert.Equal(t, StateClosed, em.State())
}

func TestEmitterDropsAfterClose(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, WithKeepalive(0))
	em.Send(EventError, "boom")
	em.Close()

	assert.False(t, em.Send(EventProgress, "late"))
	em.Close()

	assert.Equal(t, []EventType{EventError, EventClose}, rec.Types())
}

func TestEmitterDropsAfterTerminal(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, WithKeepalive(0))
	require.True(t, em.Send(EventProgress, "plan"))
	require.True(t, em.Send(EventComplete, "done"))
	assert.False(t, em.Send(EventProgress, "late"))
	assert.False(t, em.Send(EventError, "second terminal"))
	em.Close()

	assert.Equal(t, []EventType{EventProgress, EventComplete, EventClose}, rec.Types())
}

func TestEmitterKeepaliveOnlyWhenIdle(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, WithKeepalive(60*time.Millisecond))
	for i := 0; i < 10; i++ {
		em.Send(EventMessage, i)
		time.Sleep(10 * time.Millisecond)
	}
	busy := rec.Types()
	time.Sleep(150 * time.Millisecond)
	em.Close()

	assert.NotContains(t, busy, EventKeepalive)
	_, ok := rec.Last(EventKeepalive)
	assert.True(t, ok)
}

func TestEmitterConcurrentSendersAndClose(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, WithKeepalive(0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				em.Send(EventProgress, j)
			}
		}()
	}
	wg.Add(2)
	go func() { defer wg.Done(); em.Close() }()
	go func() { defer wg.Done(); em.Close() }()
	wg.Wait()

	types := rec.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, EventClose, types[len(types)-1])
	closes := 0
	for _, typ := range types {
		if typ == EventClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestEmitterKeepalive(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, WithKeepalive(5*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	em.Close()

	_, ok := rec.Last(EventKeepalive)
	assert.True(t, ok)
}

func TestEmitterSinkFailureStopsStream(t *testing.T) {
	calls := 0
	sink := SinkFunc(func(ev Event) error {
		calls++
		return errors.New("client gone")
	})
	em := NewEmitter(sink, WithKeepalive(0))
	em.Send(EventProgress, 1)
	select {
	case <-em.Done():
	case <-time.After(time.Second):
		t.Fatal("emitter did not stop after sink failure")
	}
	assert.False(t, em.Send(EventProgress, 2))
	em.Close()
	assert.Equal(t, 1, calls)
}

func TestSSESink(t *testing.T) {
	w := httptest.NewRecorder()
	sink := NewSSESink(w)
	require.NoError(t, sink.Write(Event{Type: EventProgress, Data: map[string]string{"step": "report-plan"}}))
	require.NoError(t, sink.Write(Event{Type: EventKeepalive}))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event:progress\ndata:{\"step\":\"report-plan\"}\n\n")
	assert.Contains(t, body, "event:keepalive\n")
	assert.True(t, w.Flushed)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	for _, ev := range []Event{
		{Type: EventProgress, Data: map[string]string{"step": "report-plan"}},
		{Type: EventMessage, Data: "# Report"},
		{Type: EventMessage, Data: " body"},
		{Type: EventKeepalive},
		{Type: EventReasoning, Data: "hidden"},
		{Type: EventClose},
	} {
		require.NoError(t, sink.Write(ev))
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{`[progress] {"step":"report-plan"}`, "# Report body", "[close]"}, lines)
}

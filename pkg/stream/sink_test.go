package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nonFlusher struct{ http.ResponseWriter }

func TestSSESink(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	require.NoError(t, sink.Write(Event{Type: EventHeartbeat, Data: map[string]int{"timestamp": 1}}))
	require.Equal(t, "event: heartbeat\ndata: {\"timestamp\":1}\n\n", rec.Body.String())
	require.True(t, rec.Flushed)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	<-sink.Done()
	require.ErrorIs(t, sink.Write(Event{Type: EventHeartbeat}), ErrSinkClosed)
}

func TestSSESink_RequiresFlusher(t *testing.T) {
	_, err := NewSSESink(nonFlusher{httptest.NewRecorder()})
	require.Error(t, err)
}

// stalledWriter is a client that stopped reading: Write blocks until the
// write deadline passes.
type stalledWriter struct {
	header http.Header

	mu       sync.Mutex
	deadline time.Time
}

func newStalledWriter() *stalledWriter {
	return &stalledWriter{header: http.Header{}}
}

func (w *stalledWriter) Header() http.Header { return w.header }
func (w *stalledWriter) WriteHeader(int)     {}
func (w *stalledWriter) Flush()              {}

func (w *stalledWriter) SetWriteDeadline(d time.Time) error {
	w.mu.Lock()
	w.deadline = d
	w.mu.Unlock()
	return nil
}

func (w *stalledWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	d := w.deadline
	w.mu.Unlock()
	if d.IsZero() {
		// no deadline: stay stuck long enough for the test to notice
		time.Sleep(5 * time.Second)
		return 0, errors.New("write without deadline")
	}
	time.Sleep(time.Until(d))
	return 0, os.ErrDeadlineExceeded
}

func TestSSESink_StalledClientTimesOut(t *testing.T) {
	sink, err := NewSSESink(newStalledWriter(), WithWriteTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	err = sink.Write(Event{Type: EventHeartbeat, Data: map[string]int{"timestamp": 1}})
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestCloseAll_StalledClient(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	sink, err := NewSSESink(newStalledWriter(), WithWriteTimeout(50*time.Millisecond))
	require.NoError(t, err)

	// Open blocks in the connected write until the deadline.
	go func() { _, _ = r.Open(ctx, "C1", sink) }()
	time.Sleep(10 * time.Millisecond)

	closed := make(chan int, 1)
	go func() { closed <- r.CloseAll(ctx) }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseAll blocked on a stalled client")
	}
	require.Eventually(t, func() bool { return !r.Has("C1") }, time.Second, 5*time.Millisecond)
	<-sink.Done()
}

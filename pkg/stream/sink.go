package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("stream closed")

// DefaultWriteTimeout bounds one event write on an SSESink.
const DefaultWriteTimeout = 10 * time.Second

// Sink is the output side of a connection. Write must emit the whole event
// in one write so concurrent events never interleave mid-frame.
type Sink interface {
	Write(ev Event) error
	Close() error
}

// SinkOption configures an SSESink.
type SinkOption func(*SSESink)

// WithWriteTimeout sets the deadline of each event write. A client that
// stops reading makes Write fail once it expires. Zero disables it.
func WithWriteTimeout(d time.Duration) SinkOption {
	return func(s *SSESink) { s.writeTimeout = d }
}

// SSESink writes events to an HTTP response as Server-Sent Events.
type SSESink struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ Sink = (*SSESink)(nil)

// NewSSESink prepares w for streaming. It fails when w cannot flush.
func NewSSESink(w http.ResponseWriter, opts ...SinkOption) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	s := &SSESink{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return s, nil
}

// setDeadline applies d to the underlying connection. Writers without
// deadline support, such as test recorders, are written to unbounded.
func (s *SSESink) setDeadline(d time.Time) error {
	if s.writeTimeout <= 0 {
		return nil
	}
	if err := s.rc.SetWriteDeadline(d); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Write sends one event and flushes it.
func (s *SSESink) Write(ev Event) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := s.setDeadline(s.now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}
	// Clear the deadline so it cannot fire on an idle stream.
	return s.setDeadline(time.Time{})
}

// Close ends the stream. The HTTP handler returns once Done is closed.
func (s *SSESink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Done is closed by Close.
func (s *SSESink) Done() <-chan struct{} { return s.done }

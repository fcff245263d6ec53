package event

import (
	"context"
	"sync"
)

// transportBuffer is the message buffer of a MemoryTransport.
const transportBuffer = 256

// MemoryBroker connects MemoryTransports inside one process. It plays the
// role the Redis server plays for RedisTransport.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*MemoryTransport]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*MemoryTransport]struct{})}
}

// NewTransport returns a transport attached to the broker.
func (b *MemoryBroker) NewTransport() *MemoryTransport {
	return &MemoryTransport{
		broker: b,
		msgs:   make(chan Message, transportBuffer),
		done:   make(chan struct{}),
	}
}

func (b *MemoryBroker) publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	b.mu.RLock()
	targets := make([]*MemoryTransport, 0, len(b.subs[channel]))
	for t := range b.subs[channel] {
		targets = append(targets, t)
	}
	b.mu.RUnlock()

	var n int64
	for _, t := range targets {
		msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
		if t.deliver(ctx, msg) {
			n++
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (b *MemoryBroker) subscribe(t *MemoryTransport, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*MemoryTransport]struct{})
		b.subs[channel] = set
	}
	set[t] = struct{}{}
}

func (b *MemoryBroker) unsubscribe(t *MemoryTransport, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[channel], t)
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

func (b *MemoryBroker) detach(t *MemoryTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, set := range b.subs {
		delete(set, t)
		if len(set) == 0 {
			delete(b.subs, channel)
		}
	}
}

// NumSub returns the number of transports subscribed to channel.
func (b *MemoryBroker) NumSub(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// MemoryTransport is an in-process Transport.
type MemoryTransport struct {
	broker *MemoryBroker
	msgs   chan Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

var _ Transport = (*MemoryTransport)(nil)

func (t *MemoryTransport) deliver(ctx context.Context, msg Message) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.msgs <- msg:
		return true
	case <-t.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	select {
	case <-t.done:
		return 0, ErrBusClosed
	default:
	}
	return t.broker.publish(ctx, channel, payload)
}

func (t *MemoryTransport) Subscribe(_ context.Context, channel string) error {
	select {
	case <-t.done:
		return ErrBusClosed
	default:
	}
	t.broker.subscribe(t, channel)
	return nil
}

func (t *MemoryTransport) Unsubscribe(_ context.Context, channel string) error {
	t.broker.unsubscribe(t, channel)
	return nil
}

func (t *MemoryTransport) Messages() <-chan Message { return t.msgs }

// Close detaches the transport from the broker and closes Messages.
func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.broker.detach(t)
		t.mu.Lock()
		t.closed = true
		close(t.msgs)
		t.mu.Unlock()
	})
	return nil
}

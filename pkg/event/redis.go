package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes through one client and receives through a
// dedicated PubSub connection. A connection in subscribe mode cannot issue
// PUBLISH or queue commands, hence the two clients.
//
// Subscribe and Unsubscribe return only after Redis has confirmed the
// change, so a publish issued after Subscribe returns is always received.
type RedisTransport struct {
	pub *redis.Client
	sub *redis.PubSub

	msgs chan Message
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// pending holds the waiters for subscribe/unsubscribe confirmations,
	// keyed by kind and channel, in request order.
	pendingMu sync.Mutex
	pending   map[string][]chan struct{}
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport creates a transport. publisher and subscriber should be
// separate clients; neither is closed by the transport.
func NewRedisTransport(ctx context.Context, publisher, subscriber *redis.Client) *RedisTransport {
	t := &RedisTransport{
		pub:     publisher,
		sub:     subscriber.Subscribe(ctx),
		msgs:    make(chan Message, transportBuffer),
		done:    make(chan struct{}),
		pending: make(map[string][]chan struct{}),
	}
	t.wg.Add(1)
	go t.forward(t.sub.ChannelWithSubscriptions(redis.WithChannelSize(transportBuffer)))
	return t
}

func pendingKey(kind, channel string) string { return kind + "\x00" + channel }

func (t *RedisTransport) forward(in <-chan interface{}) {
	defer t.wg.Done()
	defer close(t.msgs)
	for {
		select {
		case <-t.done:
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			switch m := v.(type) {
			case *redis.Subscription:
				t.confirm(m.Kind, m.Channel)
			case *redis.Message:
				select {
				case t.msgs <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
				case <-t.done:
					return
				}
			}
		}
	}
}

// confirm releases the oldest waiter for kind/channel. Confirmations nobody
// waits for, such as resubscribes after a reconnect, are ignored.
func (t *RedisTransport) confirm(kind, channel string) {
	key := pendingKey(kind, channel)
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	waiters := t.pending[key]
	if len(waiters) == 0 {
		return
	}
	close(waiters[0])
	if len(waiters) == 1 {
		delete(t.pending, key)
	} else {
		t.pending[key] = waiters[1:]
	}
}

func (t *RedisTransport) wait(key string) chan struct{} {
	ch := make(chan struct{})
	t.pendingMu.Lock()
	t.pending[key] = append(t.pending[key], ch)
	t.pendingMu.Unlock()
	return ch
}

func (t *RedisTransport) forget(key string, ch chan struct{}) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	waiters := t.pending[key]
	for i, w := range waiters {
		if w == ch {
			t.pending[key] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(t.pending[key]) == 0 {
		delete(t.pending, key)
	}
}

// do issues a subscribe or unsubscribe and blocks until Redis confirms it,
// ctx ends or the transport is closed.
func (t *RedisTransport) do(ctx context.Context, kind, channel string, send func(context.Context, ...string) error) error {
	key := pendingKey(kind, channel)
	ch := t.wait(key)
	if err := send(ctx, channel); err != nil {
		t.forget(key, ch)
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		t.forget(key, ch)
		return fmt.Errorf("waiting for %s confirmation of %s: %w", kind, channel, ctx.Err())
	case <-t.done:
		t.forget(key, ch)
		return ErrBusClosed
	}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return t.pub.Publish(ctx, channel, payload).Result()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) error {
	return t.do(ctx, "subscribe", channel, t.sub.Subscribe)
}

func (t *RedisTransport) Unsubscribe(ctx context.Context, channel string) error {
	return t.do(ctx, "unsubscribe", channel, t.sub.Unsubscribe)
}

func (t *RedisTransport) Messages() <-chan Message { return t.msgs }

// Close releases the subscribe connection and stops forwarding.
func (t *RedisTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Close()
		t.wg.Wait()
	})
	return err
}

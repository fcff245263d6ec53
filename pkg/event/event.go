// Package event provides the channel bus: reference-counted publish/subscribe
// over a shared Transport. Each subscription owns a mailbox and a delivery
// goroutine, so a slow or panicking handler never blocks other subscribers.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrBusClosed is returned by operations on a closed Bus.
var ErrBusClosed = errors.New("event bus closed")

// DefaultMailboxSize is the per-subscription buffer used when none is configured.
const DefaultMailboxSize = 64

// Handler handles one message. Handlers run on the subscription's own goroutine.
type Handler func(ctx context.Context, msg Message)

// EventBus defines the publish/subscribe surface used by producers and the
// connection registry.
//
// Publish returns the number of transport-level receivers, not local
// handlers. With Redis that is the number of subscribed processes (one per
// process however many local subscribers it has); with the memory broker it
// is the number of subscribed transports. Use SubscriberCount for the local
// handler count of a channel.
type EventBus interface {
	Publish(ctx context.Context, channel string, v any) (int, error)
	Subscribe(ctx context.Context, channel string, handler Handler, opts ...SubscribeOption) (*Subscription, error)
	Unsubscribe(ctx context.Context, sub *Subscription) error
	SubscriberCount(channel string) int
}

// Subscription is one handler registered on one channel.
type Subscription struct {
	id      uint64
	channel string
	handler Handler
	logger  zerolog.Logger

	mailbox  chan Message
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	overflow     func()
	overflowOnce sync.Once
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*Subscription)

// OnOverflow closes the subscription instead of dropping messages when its
// mailbox is full. fn runs once, on its own goroutine, after delivery has
// stopped. Nothing is delivered after the dropped message, so the subscriber
// never sees a gap followed by later updates.
func OnOverflow(fn func()) SubscribeOption {
	return func(s *Subscription) { s.overflow = fn }
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// offer queues msg without blocking. It reports false if the mailbox is full.
func (s *Subscription) offer(msg Message) bool {
	select {
	case <-s.stop:
		return true
	default:
	}
	select {
	case s.mailbox <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.mailbox:
			// stop wins over a message that raced with cancel
			select {
			case <-s.stop:
				return
			default:
			}
			s.invoke(ctx, msg)
		}
	}
}

func (s *Subscription) invoke(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("channel", s.channel).
				Uint64("subscription", s.id).
				Interface("panic", r).
				Msg("Subscriber panicked")
		}
	}()
	s.handler(ctx, msg)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithMailboxSize sets the per-subscription buffer.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// Bus represents the event bus.
type Bus struct {
	transport   Transport
	logger      zerolog.Logger
	mailboxSize int

	// opMu serializes subscribe and unsubscribe so transport subscriptions
	// follow the first/last local subscriber exactly.
	opMu sync.Mutex

	mu       sync.RWMutex
	channels map[string]map[uint64]*Subscription
	nextID   uint64
	closed   bool

	ctx       context.Context
	cancel    context.CancelFunc
	dispatch  sync.WaitGroup
	closeOnce sync.Once
}

var _ EventBus = (*Bus)(nil)

// New creates a bus on transport and starts dispatching its messages.
func New(transport Transport, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		transport:   transport,
		logger:      log.With().Str("component", "event").Logger(),
		mailboxSize: DefaultMailboxSize,
		channels:    make(map[string]map[uint64]*Subscription),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.dispatch.Add(1)
	go b.dispatchLoop()
	return b
}

func (b *Bus) dispatchLoop() {
	defer b.dispatch.Done()
	for msg := range b.transport.Messages() {
		b.mu.RLock()
		subs := make([]*Subscription, 0, len(b.channels[msg.Channel]))
		for _, s := range b.channels[msg.Channel] {
			subs = append(subs, s)
		}
		b.mu.RUnlock()

		for _, s := range subs {
			if !s.offer(msg) {
				b.overflowed(s)
			}
		}
	}
}

func (b *Bus) overflowed(s *Subscription) {
	if s.overflow == nil {
		b.logger.Warn().
			Str("channel", s.channel).
			Uint64("subscription", s.id).
			Msg("Subscriber mailbox full, message dropped")
		return
	}
	s.cancel()
	s.overflowOnce.Do(func() {
		b.logger.Warn().
			Str("channel", s.channel).
			Uint64("subscription", s.id).
			Msg("Subscriber mailbox full, closing subscription")
		go s.overflow()
	})
}

// Publish serializes v and publishes it on channel. []byte and
// json.RawMessage are sent as-is. The returned count is the number of
// transport-level receivers (see EventBus); 0 is normal when nobody listens,
// and the message is not kept for later subscribers.
func (b *Bus) Publish(ctx context.Context, channel string, v any) (int, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return 0, ErrBusClosed
	}

	payload, err := encode(v)
	if err != nil {
		return 0, fmt.Errorf("encode message for %s: %w", channel, err)
	}
	n, err := b.transport.Publish(ctx, channel, payload)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", channel, err)
	}
	return int(n), nil
}

// Subscribe registers handler on channel. The transport subscription is only
// established for the first local subscriber of a channel, and Subscribe
// returns once the transport has confirmed it.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.RLock()
	closed := b.closed
	first := len(b.channels[channel]) == 0
	b.mu.RUnlock()
	if closed {
		return nil, ErrBusClosed
	}

	if first {
		if err := b.transport.Subscribe(ctx, channel); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		b.logger.Debug().Str("channel", channel).Msg("Transport subscription established")
	}

	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		channel: channel,
		handler: handler,
		logger:  b.logger,
		mailbox: make(chan Message, b.mailboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.channels[channel] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()

	go sub.run(b.ctx)
	return sub, nil
}

// Unsubscribe removes sub. The transport subscription is torn down when the
// last local subscriber leaves. Unsubscribing twice is a no-op. It does not
// wait for an in-progress handler call, so it is safe to call from a handler.
func (b *Bus) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.mu.Lock()
	subs := b.channels[sub.channel]
	if _, ok := subs[sub.id]; !ok {
		b.mu.Unlock()
		sub.cancel()
		return nil
	}
	delete(subs, sub.id)
	last := len(subs) == 0
	if last {
		delete(b.channels, sub.channel)
	}
	closed := b.closed
	b.mu.Unlock()

	sub.cancel()

	if last && !closed {
		if err := b.transport.Unsubscribe(ctx, sub.channel); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", sub.channel, err)
		}
		b.logger.Debug().Str("channel", sub.channel).Msg("Transport subscription released")
	}
	return nil
}

// SubscriberCount returns the number of local subscribers on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Channels returns the channels with at least one local subscriber, sorted.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close cancels every subscription and closes the transport.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.opMu.Lock()
		b.mu.Lock()
		b.closed = true
		for _, subs := range b.channels {
			for _, s := range subs {
				s.cancel()
			}
		}
		b.channels = make(map[string]map[uint64]*Subscription)
		b.mu.Unlock()
		b.opMu.Unlock()

		err = b.transport.Close()
		b.dispatch.Wait()
		b.cancel()
		b.logger.Debug().Msg("Event bus closed")
	})
	return err
}

func encode(v any) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/event"
)

var (
	// ErrConnectionNotFound is returned for unknown or closed connection ids.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrDelivery marks a failed write to a client stream. It tears the
	// connection down and is never reported to publishers.
	ErrDelivery = errors.New("delivery failed")
)

// DefaultHeartbeatInterval is the keep-alive period of a connection.
const DefaultHeartbeatInterval = 30 * time.Second

// Bus is the part of the channel bus the registry needs.
type Bus interface {
	Subscribe(ctx context.Context, channel string, handler event.Handler, opts ...event.SubscribeOption) (*event.Subscription, error)
	Unsubscribe(ctx context.Context, sub *event.Subscription) error
}

type subscriptionKind int

const (
	kindJob subscriptionKind = iota
	kindQueue
)

type connection struct {
	id        string
	sink      Sink
	createdAt time.Time

	// mu guards every write to sink, so a closed connection is never
	// written to once close has set closed.
	mu           sync.Mutex
	closed       bool
	lastActivity time.Time
	jobs         map[string]*event.Subscription
	queues       map[string]*event.Subscription
	stop         chan struct{}
}

func (c *connection) subs(kind subscriptionKind) map[string]*event.Subscription {
	if kind == kindJob {
		return c.jobs
	}
	return c.queues
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Registry) { r.heartbeat = d }
}

// Registry tracks open connections and their channel subscriptions.
type Registry struct {
	bus       Bus
	logger    zerolog.Logger
	heartbeat time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	conns map[string]*connection
}

// NewRegistry creates a registry forwarding messages from bus.
func NewRegistry(bus Bus, opts ...Option) *Registry {
	r := &Registry{
		bus:       bus,
		logger:    log.With().Str("component", "stream").Logger(),
		heartbeat: DefaultHeartbeatInterval,
		now:       time.Now,
		conns:     make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open registers a connection writing to sink and sends the connected event.
// An empty id is replaced by a generated one; an id already in use closes
// the previous connection first. It returns the connection id.
func (r *Registry) Open(ctx context.Context, id string, sink Sink) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	c := &connection{
		id:           id,
		sink:         sink,
		createdAt:    now,
		lastActivity: now,
		jobs:         make(map[string]*event.Subscription),
		queues:       make(map[string]*event.Subscription),
		stop:         make(chan struct{}),
	}

	r.mu.Lock()
	old := r.conns[id]
	r.conns[id] = c
	r.mu.Unlock()

	if old != nil {
		r.logger.Info().Str("connection_id", id).Msg("Replacing existing connection")
		r.close(ctx, old)
	}

	if !r.send(c, Event{Type: EventConnected, Data: map[string]any{
		"connectionId": id,
		"timestamp":    now,
	}}) {
		return id, ErrDelivery
	}

	if r.heartbeat > 0 {
		go r.keepAlive(c)
	}
	r.logger.Debug().Str("connection_id", id).Msg("Connection opened")
	return id, nil
}

func (r *Registry) keepAlive(c *connection) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if !r.send(c, Event{Type: EventHeartbeat, Data: map[string]any{"timestamp": r.now()}}) {
				return
			}
		}
	}
}

func (r *Registry) get(id string) *connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Send writes one event to the connection. On a write failure the connection
// is closed and false is returned. Unknown ids return false.
func (r *Registry) Send(connectionID string, eventType EventType, data any) bool {
	c := r.get(connectionID)
	if c == nil {
		return false
	}
	return r.send(c, Event{Type: eventType, Data: data})
}

func (r *Registry) send(c *connection, ev Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	err := c.sink.Write(ev)
	if err == nil {
		c.lastActivity = r.now()
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	r.logger.Warn().
		Err(errors.Join(ErrDelivery, err)).
		Str("connection_id", c.id).
		Str("event", string(ev.Type)).
		Msg("Write failed, closing connection")
	r.close(context.Background(), c)
	return false
}

// SubscribeToJob forwards job:<jobID> to the connection as job_update events.
func (r *Registry) SubscribeToJob(ctx context.Context, connectionID, jobID string) error {
	return r.subscribe(ctx, connectionID, kindJob, jobID)
}

// SubscribeToQueue forwards queue:<queueName> to the connection as queue_update events.
func (r *Registry) SubscribeToQueue(ctx context.Context, connectionID, queueName string) error {
	return r.subscribe(ctx, connectionID, kindQueue, queueName)
}

// UnsubscribeFromJob stops forwarding job:<jobID>. Not being subscribed is not an error.
func (r *Registry) UnsubscribeFromJob(ctx context.Context, connectionID, jobID string) error {
	return r.unsubscribe(ctx, connectionID, kindJob, jobID)
}

// UnsubscribeFromQueue stops forwarding queue:<queueName>.
func (r *Registry) UnsubscribeFromQueue(ctx context.Context, connectionID, queueName string) error {
	return r.unsubscribe(ctx, connectionID, kindQueue, queueName)
}

func describe(kind subscriptionKind, key string) (channel string, evType EventType, confirm map[string]string) {
	if kind == kindJob {
		return event.JobChannel(key), EventJobUpdate, map[string]string{"type": "job", "jobId": key}
	}
	return event.QueueChannel(key), EventQueueUpdate, map[string]string{"type": "queue", "queueName": key}
}

func (r *Registry) subscribe(ctx context.Context, connectionID string, kind subscriptionKind, key string) error {
	c := r.get(connectionID)
	if c == nil {
		return ErrConnectionNotFound
	}
	channel, evType, confirm := describe(kind, key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionNotFound
	}
	_, exists := c.subs(kind)[key]
	c.mu.Unlock()

	if !exists {
		// The bus call may block on the transport, so it runs unlocked.
		sub, err := r.bus.Subscribe(ctx, channel, func(_ context.Context, msg event.Message) {
			r.send(c, Event{Type: evType, Data: json.RawMessage(msg.Payload)})
		}, event.OnOverflow(func() {
			// A client that missed an update must not keep streaming.
			r.logger.Warn().
				Err(ErrDelivery).
				Str("connection_id", c.id).
				Str("channel", channel).
				Msg("Client too slow, closing connection")
			r.close(context.Background(), c)
		}))
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = r.bus.Unsubscribe(ctx, sub)
			return ErrConnectionNotFound
		}
		if _, raced := c.subs(kind)[key]; raced {
			c.mu.Unlock()
			_ = r.bus.Unsubscribe(ctx, sub)
		} else {
			c.subs(kind)[key] = sub
			c.mu.Unlock()
			r.logger.Debug().Str("connection_id", connectionID).Str("channel", channel).Msg("Subscribed")
		}
	}

	r.send(c, Event{Type: EventSubscribed, Data: confirm})
	return nil
}

func (r *Registry) unsubscribe(ctx context.Context, connectionID string, kind subscriptionKind, key string) error {
	c := r.get(connectionID)
	if c == nil {
		return ErrConnectionNotFound
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionNotFound
	}
	sub, ok := c.subs(kind)[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs(kind), key)
	c.mu.Unlock()

	if err := r.bus.Unsubscribe(ctx, sub); err != nil {
		r.logger.Warn().Err(err).Str("connection_id", connectionID).Str("channel", sub.Channel()).Msg("Unsubscribe failed")
	}
	_, _, confirm := describe(kind, key)
	r.send(c, Event{Type: EventUnsubscribed, Data: confirm})
	return nil
}

// Close tears the connection down: no further writes, stream ended, every
// channel subscription released. Closing an unknown or closed id is a no-op.
func (r *Registry) Close(ctx context.Context, connectionID string) {
	if c := r.get(connectionID); c != nil {
		r.close(ctx, c)
	}
}

// Disconnect closes the connection only if it still writes to sink. Stream
// handlers call it when the client goes away, so a newer connection that
// reused the id is left alone.
func (r *Registry) Disconnect(ctx context.Context, connectionID string, sink Sink) {
	if c := r.get(connectionID); c != nil && c.sink == sink {
		r.close(ctx, c)
	}
}

func (r *Registry) close(ctx context.Context, c *connection) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	subs := make([]*event.Subscription, 0, len(c.jobs)+len(c.queues))
	for _, s := range c.jobs {
		subs = append(subs, s)
	}
	for _, s := range c.queues {
		subs = append(subs, s)
	}
	c.jobs = make(map[string]*event.Subscription)
	c.queues = make(map[string]*event.Subscription)
	if err := c.sink.Close(); err != nil {
		r.logger.Debug().Err(err).Str("connection_id", c.id).Msg("Sink close failed")
	}
	c.mu.Unlock()

	r.mu.Lock()
	if r.conns[c.id] == c {
		delete(r.conns, c.id)
	}
	r.mu.Unlock()

	for _, s := range subs {
		if err := r.bus.Unsubscribe(ctx, s); err != nil {
			r.logger.Warn().Err(err).Str("connection_id", c.id).Str("channel", s.Channel()).Msg("Unsubscribe failed")
		}
	}
	r.logger.Debug().Str("connection_id", c.id).Int("released", len(subs)).Msg("Connection closed")
}

// CloseAll closes every open connection and returns how many were closed.
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.RLock()
	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		r.close(ctx, c)
	}
	if len(conns) > 0 {
		r.logger.Info().Int("connections", len(conns)).Msg("All connections closed")
	}
	return len(conns)
}

// Has reports whether the connection is open.
func (r *Registry) Has(connectionID string) bool {
	return r.get(connectionID) != nil
}

// ConnectionStats describes one open connection.
type ConnectionStats struct {
	ConnectionID string    `json:"connectionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Jobs         []string  `json:"jobs"`
	Queues       []string  `json:"queues"`
}

// Stats is a diagnostic snapshot of the registry.
type Stats struct {
	TotalConnections        int               `json:"totalConnections"`
	TotalJobSubscriptions   int               `json:"totalJobSubscriptions"`
	TotalQueueSubscriptions int               `json:"totalQueueSubscriptions"`
	Connections             []ConnectionStats `json:"connections"`
}

// Stats returns the current connections ordered by id.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	stats := Stats{Connections: make([]ConnectionStats, 0, len(conns))}
	for _, c := range conns {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		cs := ConnectionStats{
			ConnectionID: c.id,
			CreatedAt:    c.createdAt,
			LastActivity: c.lastActivity,
			Jobs:         sortedKeys(c.jobs),
			Queues:       sortedKeys(c.queues),
		}
		c.mu.Unlock()

		stats.TotalJobSubscriptions += len(cs.Jobs)
		stats.TotalQueueSubscriptions += len(cs.Queues)
		stats.Connections = append(stats.Connections, cs)
	}
	stats.TotalConnections = len(stats.Connections)
	sort.Slice(stats.Connections, func(i, j int) bool {
		return stats.Connections[i].ConnectionID < stats.Connections[j].ConnectionID
	})
	return stats
}

func sortedKeys(m map[string]*event.Subscription) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

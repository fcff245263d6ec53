package event

import "context"

// Message is a payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Transport is the shared pub/sub medium under a Bus. Implementations must
// keep per-channel order on Messages and close the Messages channel on Close.
type Transport interface {
	// Publish sends payload on channel and returns the number of receivers.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Messages() <-chan Message
	Close() error
}

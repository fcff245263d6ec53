// Package stream owns live client connections: one append-only event stream
// per connection, forwarding of channel bus messages onto it, heartbeats and
// teardown.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType names a stream event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventSubscribed   EventType = "subscribed"
	EventUnsubscribed EventType = "unsubscribed"
	EventJobUpdate    EventType = "job_update"
	EventQueueUpdate  EventType = "queue_update"
	EventHeartbeat    EventType = "heartbeat"
)

// Event is one frame written to a client.
type Event struct {
	Type EventType
	// Data is encoded as JSON. json.RawMessage is written as-is after compaction.
	Data any
}

// Encode renders the event in text/event-stream framing:
//
//	event: <type>
//	data: <json>
//
// The JSON is compacted so the data never spans lines.
func (e Event) Encode() ([]byte, error) {
	var data []byte
	switch d := e.Data.(type) {
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, d); err != nil {
			return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
		}
		data = buf.Bytes()
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
		}
		data = b
	}

	frame := make([]byte, 0, len(e.Type)+len(data)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, e.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

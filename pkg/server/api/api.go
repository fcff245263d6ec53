package api

import (
	"sync/atomic"

	"github.com/resumind/resumind/pkg/analysis"
	"github.com/resumind/resumind/pkg/event"
	"github.com/resumind/resumind/pkg/queue"
	"github.com/resumind/resumind/pkg/stream"
)

// Deps holds dependencies for API handlers.
// This pattern enables dependency injection and easier testing.
type Deps struct {
	// Queue administers jobs and queues.
	Queue *queue.Manager

	// Registry owns live event-stream connections.
	Registry *stream.Registry

	// Bus is exposed for diagnostics; handlers publish through Queue.
	Bus *event.Bus

	// Results serves stored analyses. Nil disables the results route.
	Results analysis.ResultStore

	// Ready flag for readiness check
	Ready *atomic.Bool

	Config Config
}

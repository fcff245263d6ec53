package app

import (
	"github.com/rs/zerolog"

	"github.com/resumind/resumind/pkg/analysis"
	"github.com/resumind/resumind/pkg/server/service"
)

// Deps holds dependencies for the server application.
// This pattern enables dependency injection and easier testing.
type Deps struct {
	// Services carries the queue manager, channel bus and result store.
	// The app owns them once passed in and closes them on shutdown.
	Services *service.Services

	// Fetcher downloads resume files for the workers. Nil uses the HTTP
	// fetcher built from the analysis configuration.
	Fetcher analysis.Fetcher

	// Logger for structured logging (injected by caller)
	Logger zerolog.Logger
}

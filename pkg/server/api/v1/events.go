package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/server/api"
	"github.com/resumind/resumind/pkg/stream"
)

// SubscriptionResponse confirms a subscription change.
type SubscriptionResponse struct {
	ConnectionID string `json:"connectionId"`
	Type         string `json:"type"`
	JobID        string `json:"jobId,omitempty"`
	QueueName    string `json:"queueName,omitempty"`
	Subscribed   bool   `json:"subscribed"`
}

// EventStatsResponse is the response of GET /api/v1/events/stats.
type EventStatsResponse struct {
	stream.Stats
	Channels []string `json:"channels"`
}

// StreamHandler handles GET /api/v1/events?connectionId=<id>
//
// Opens a text/event-stream. The first event is "connected" carrying the
// connection id (generated when the query parameter is absent), followed by
// "subscribed", "job_update", "queue_update" and "heartbeat" events. The
// stream lasts until the client disconnects or the server shuts down.
func StreamHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("connectionId")
		if id != "" {
			if err := ValidateName("connectionId", id); err != nil {
				api.WriteError(w, r, err)
				return
			}
		}

		sink, err := stream.NewSSESink(w, stream.WithWriteTimeout(deps.Config.StreamWriteTimeout))
		if err != nil {
			api.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error", "STREAMING_UNSUPPORTED", err.Error())
			return
		}

		id, err = deps.Registry.Open(r.Context(), id, sink)
		if err != nil {
			// The registry already closed the connection.
			log.Debug().Str("component", "api").Str("connection_id", id).Err(err).Msg("Stream not opened")
			return
		}

		select {
		case <-r.Context().Done():
			deps.Registry.Disconnect(context.WithoutCancel(r.Context()), id, sink)
		case <-sink.Done():
		}
	}
}

// SubscribeJobHandler handles POST and DELETE /api/v1/events/{connectionId}/jobs/{jobId}
//
// Returns 404 when the connection is unknown or closed.
func SubscribeJobHandler(deps *api.Deps, subscribe bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connID, jobID := chi.URLParam(r, "connectionId"), chi.URLParam(r, "jobId")

		var err error
		if subscribe {
			err = deps.Registry.SubscribeToJob(r.Context(), connID, jobID)
		} else {
			err = deps.Registry.UnsubscribeFromJob(r.Context(), connID, jobID)
		}
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, SubscriptionResponse{
			ConnectionID: connID,
			Type:         "job",
			JobID:        jobID,
			Subscribed:   subscribe,
		})
	}
}

// SubscribeQueueHandler handles POST and DELETE /api/v1/events/{connectionId}/queues/{queue}
func SubscribeQueueHandler(deps *api.Deps, subscribe bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connID, queueName := chi.URLParam(r, "connectionId"), chi.URLParam(r, "queue")

		var err error
		if subscribe {
			err = deps.Registry.SubscribeToQueue(r.Context(), connID, queueName)
		} else {
			err = deps.Registry.UnsubscribeFromQueue(r.Context(), connID, queueName)
		}
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, SubscriptionResponse{
			ConnectionID: connID,
			Type:         "queue",
			QueueName:    queueName,
			Subscribed:   subscribe,
		})
	}
}

// EventStatsHandler handles GET /api/v1/events/stats
//
// Returns connection and subscription counts plus the bus channels with
// local subscribers.
func EventStatsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := EventStatsResponse{Stats: deps.Registry.Stats(), Channels: []string{}}
		if deps.Bus != nil {
			resp.Channels = deps.Bus.Channels()
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

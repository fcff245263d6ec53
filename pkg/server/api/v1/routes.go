package v1

import (
	"github.com/go-chi/chi/v5"

	"github.com/resumind/resumind/pkg/server/api"
)

// Features selects which route groups are mounted.
type Features struct {
	API    bool // queue administration and results
	Stream bool // event stream and subscriptions
}

// Routes returns the /api/v1 route tree for use with chi's Route.
func Routes(deps *api.Deps, f Features) func(chi.Router) {
	return func(r chi.Router) {
		if f.API {
			r.Get("/queues", ListQueuesHandler(deps))
			r.Route("/queues/{queue}", func(r chi.Router) {
				r.Post("/jobs", EnqueueJobHandler(deps))
				r.Get("/jobs/{id}", GetJobHandler(deps))
				r.Delete("/jobs/{id}", RemoveJobHandler(deps))
				r.Post("/jobs/{id}/retry", RetryJobHandler(deps))
				r.Get("/stats", QueueStatsHandler(deps))
				r.Post("/pause", PauseQueueHandler(deps, true))
				r.Post("/resume", PauseQueueHandler(deps, false))
				r.Post("/clean", CleanQueueHandler(deps))
			})
			if deps.Results != nil {
				r.Get("/results/{resumeId}", GetResultHandler(deps))
			}
		}

		if f.Stream {
			r.Get("/events", StreamHandler(deps))
			r.Get("/events/stats", EventStatsHandler(deps))
			r.Route("/events/{connectionId}", func(r chi.Router) {
				r.Post("/jobs/{jobId}", SubscribeJobHandler(deps, true))
				r.Delete("/jobs/{jobId}", SubscribeJobHandler(deps, false))
				r.Post("/queues/{queue}", SubscribeQueueHandler(deps, true))
				r.Delete("/queues/{queue}", SubscribeQueueHandler(deps, false))
			})
		}
	}
}

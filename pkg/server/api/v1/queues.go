package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/queue"
	"github.com/resumind/resumind/pkg/server/api"
)

// QueueListResponse is the response of GET /api/v1/queues.
type QueueListResponse struct {
	Queues []queue.QueueStats `json:"queues"`
	Count  int                `json:"count"`
}

// CleanResponse is the response of POST /api/v1/queues/{queue}/clean.
type CleanResponse struct {
	QueueName string   `json:"queueName"`
	Status    string   `json:"status"`
	Removed   []string `json:"removed"`
	Count     int      `json:"count"`
}

// ListQueuesHandler handles GET /api/v1/queues
//
// Returns the stats of every registered queue, ordered by name.
func ListQueuesHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		names := deps.Queue.Queues()
		resp := QueueListResponse{Queues: make([]queue.QueueStats, 0, len(names))}
		for _, name := range names {
			stats, err := deps.Queue.GetQueueStats(ctx, name)
			if err != nil {
				api.WriteError(w, r, err)
				return
			}
			resp.Queues = append(resp.Queues, stats)
		}
		resp.Count = len(resp.Queues)
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

// EnqueueJobHandler handles POST /api/v1/queues/{queue}/jobs
//
// Request body:
//
//	{
//	  "name": "analyze-resume",
//	  "data": {"resumeId": "r1", ...},
//	  "jobId": "optional-idempotency-key",
//	  "priority": 0,
//	  "delay": 0,          // milliseconds
//	  "attempts": 3,
//	  "backoff": {"type": "exponential", "delay": 2000}
//	}
//
// Returns 202 with {"id", "queueName"}, 400 for invalid requests and 503
// when the job store is unavailable.
func EnqueueJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueName := chi.URLParam(r, "queue")
		if err := ValidateName("queue", queueName); err != nil {
			api.WriteError(w, r, err)
			return
		}

		req, err := ParseEnqueueRequest(w, r, queueName)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		handle, err := deps.Queue.Enqueue(ctx, queueName, req.Name, req.Data, req.Options())
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		log.Debug().
			Str("component", "api").
			Str("queue", handle.QueueName).
			Str("job_id", handle.ID).
			Msg("Job accepted")
		api.WriteJSON(w, http.StatusAccepted, handle)
	}
}

// GetJobHandler handles GET /api/v1/queues/{queue}/jobs/{id}
//
// A missing job is not an error: the snapshot carries status "not_found"
// and the response is 200, since polling a just-removed job is expected.
func GetJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		snap, err := deps.Queue.GetJobStatus(ctx, chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, snap)
	}
}

// RemoveJobHandler handles DELETE /api/v1/queues/{queue}/jobs/{id}
//
// Returns 204 on success and 404 when the job does not exist.
func RemoveJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		if err := deps.Queue.RemoveJob(ctx, chi.URLParam(r, "queue"), chi.URLParam(r, "id")); err != nil {
			api.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RetryJobHandler handles POST /api/v1/queues/{queue}/jobs/{id}/retry
//
// Returns 202 when the job is waiting again, 404 for unknown jobs and 409
// when the job is neither failed nor delayed.
func RetryJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		queueName, id := chi.URLParam(r, "queue"), chi.URLParam(r, "id")
		if err := deps.Queue.RetryJob(ctx, queueName, id); err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusAccepted, queue.JobHandle{ID: id, QueueName: queueName})
	}
}

// QueueStatsHandler handles GET /api/v1/queues/{queue}/stats
func QueueStatsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		stats, err := deps.Queue.GetQueueStats(ctx, chi.URLParam(r, "queue"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, stats)
	}
}

// PauseQueueHandler handles POST /api/v1/queues/{queue}/pause and, with
// paused=false, POST /api/v1/queues/{queue}/resume. The response is the
// queue's stats after the change.
func PauseQueueHandler(deps *api.Deps, paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueName := chi.URLParam(r, "queue")
		if err := ValidateName("queue", queueName); err != nil {
			api.WriteError(w, r, err)
			return
		}

		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		var err error
		if paused {
			err = deps.Queue.PauseQueue(ctx, queueName)
		} else {
			err = deps.Queue.ResumeQueue(ctx, queueName)
		}
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		stats, err := deps.Queue.GetQueueStats(ctx, queueName)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, stats)
	}
}

// CleanQueueHandler handles POST /api/v1/queues/{queue}/clean?grace=<ms>&status=completed|failed&limit=<n>
//
// Removes terminal jobs that finished more than grace ago and returns
// their ids.
func CleanQueueHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := ParseCleanQuery(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		queueName := chi.URLParam(r, "queue")
		removed, err := deps.Queue.CleanQueue(ctx, queueName, q.Grace, q.Status, q.Limit)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, CleanResponse{
			QueueName: queueName,
			Status:    string(q.Status),
			Removed:   removed,
			Count:     len(removed),
		})
	}
}

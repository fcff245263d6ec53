package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/resumind/resumind/pkg/server/api"
)

// GetResultHandler handles GET /api/v1/results/{resumeId}
//
// Returns the stored analysis of a resume, or 404 when none exists yet.
func GetResultHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.Config.WithHandlerTimeout(r.Context())
		defer cancel()

		res, err := deps.Results.Get(ctx, chi.URLParam(r, "resumeId"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

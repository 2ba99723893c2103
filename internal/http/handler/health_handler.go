package handler

import (
	"net/http"

	"github.com/go-chi/render"
)

// HealthCheckHandler reports that the process is up. It does not require a
// loaded model so it can be used for liveness checks by Docker or other services.
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

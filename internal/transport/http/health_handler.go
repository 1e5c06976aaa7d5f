package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"licmgr/internal/config"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, &HealthResponse{
		Status:    "healthy",
		Version:   config.AppVersion,
		Timestamp: time.Now(),
	})
}

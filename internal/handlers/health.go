package handlers

import (
	"net/http"

	"github.com/webxterm/webxterm/internal/database"
)

func (g *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if err := database.Ping(); err == nil {
		dbStatus = "connected"
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"database":        dbStatus,
		"active_sessions": g.Registry.Stats().Active,
	})
}

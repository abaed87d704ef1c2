package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
)

type APIHandler struct {
	queue    interfaces.JobEnqueuer
	sessions SessionStateReporter
	logger   arbor.ILogger
}

func NewAPIHandler(queue interfaces.JobEnqueuer, sessions SessionStateReporter, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		queue:    queue,
		sessions: sessions,
		logger:   logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status with backlog and browser state.
// The browser is launched lazily, so "absent" is healthy.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"backlog": h.queue.Size(),
		"browser": string(h.sessions.State()),
	})
}

// QueueHandler handles GET /api/queue
func (h *APIHandler) QueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{
		"size": h.queue.Size(),
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}

// Package api exposes the daemon's control surface as HTTP/JSON over
// the session's unix socket.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/bus"
	"github.com/telvault/telvault/internal/status"
	"github.com/telvault/telvault/internal/store"
	syncengine "github.com/telvault/telvault/internal/sync"
)

// Handler wires the HTTP endpoints to the store and the sync manager.
type Handler struct {
	db      *store.DB
	manager *syncengine.Manager
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	session string
}

// NewHandler constructs the API handler for one session.
func NewHandler(db *store.DB, manager *syncengine.Manager, b *bus.Bus, machine *status.Machine, logger *zap.Logger, session string) *Handler {
	return &Handler{
		db:      db,
		manager: manager,
		bus:     b,
		machine: machine,
		logger:  logger,
		session: session,
	}
}

// Routes builds the daemon's route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", h.handleStatus)

	mux.HandleFunc("POST /v1/sync", h.handleStartSync)
	mux.HandleFunc("GET /v1/tasks", h.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", h.handleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", h.handleCancelTask)

	mux.HandleFunc("GET /v1/conversations", h.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", h.handleGetConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", h.handleListMessages)
	mux.HandleFunc("GET /v1/conversations/{id}/messages/{mid}/edits", h.handleListEdits)
	mux.HandleFunc("GET /v1/conversations/{id}/export", h.handleExport)
	mux.HandleFunc("GET /v1/search", h.handleSearch)

	mux.HandleFunc("GET /v1/events", h.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"session": h.session,
		"state":   string(h.machine.Current()),
	})
}

package api

import (
	"net/http"
	"strings"

	"github.com/openclaw/clawdeck/internal/store"
)

// ArchiveHandler serves queries over the persisted event history. Every
// route answers 503 when the server runs without a database.
type ArchiveHandler struct {
	Events *store.EventStore
}

// Sessions lists recent agent sessions with cost and event totals.
func (h *ArchiveHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	sessions, err := h.Events.RecentSessions(r.Context(), queryInt(r, "limit"))
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Stats reports archive-wide totals for the dashboard header.
func (h *ArchiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	stats, err := h.Events.Stats(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	sendJSON(w, http.StatusOK, stats)
}

// History lists archived events filtered by tag and session.
func (h *ArchiveHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	filter := store.EventFilter{
		Type:      strings.TrimSpace(r.URL.Query().Get("type")),
		SessionID: strings.TrimSpace(r.URL.Query().Get("session_id")),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}

	events, err := h.Events.List(r.Context(), filter)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

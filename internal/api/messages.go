package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openclaw/clawdeck/internal/store"
)

const maxMessageBodySize = 64 * 1024

// MessageHandler proxies outbound messages to the gateway and serves the
// archived message history.
type MessageHandler struct {
	GatewayURL string
	Client     *http.Client
	Events     *store.EventStore
}

type sendMessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// Send validates the message and forwards it to the gateway's message
// endpoint. The gateway's status and body pass through untouched so the
// dashboard sees exactly what the gateway said.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBodySize+1))
	if err != nil {
		sendError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxMessageBodySize {
		sendError(w, http.StatusRequestEntityTooLarge, "message body too large")
		return
	}

	var req sendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		sendError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		sendError(w, http.StatusBadRequest, "content is required")
		return
	}

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		strings.TrimRight(h.GatewayURL, "/")+"/api/messages", bytes.NewReader(body))
	if err != nil {
		sendError(w, http.StatusBadGateway, "invalid gateway URL")
		return
	}
	upstream.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(upstream)
	if err != nil {
		sendError(w, http.StatusBadGateway, "gateway connection failed")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// List serves archived message envelopes, newest first.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	filter := store.EventFilter{
		Type:      "message",
		SessionID: strings.TrimSpace(r.URL.Query().Get("session_id")),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}

	events, err := h.Events.List(r.Context(), filter)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"messages": events})
}

func queryInt(r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

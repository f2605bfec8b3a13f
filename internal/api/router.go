// Package api exposes the dashboard's HTTP surface: the event relay, the
// message proxy, archive queries, and the websocket feed.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/openclaw/clawdeck/internal/ratelimit"
	"github.com/openclaw/clawdeck/internal/store"
	"github.com/openclaw/clawdeck/internal/stream"
	"github.com/openclaw/clawdeck/internal/ws"
)

var startTime = time.Now()

// BridgeStatus reports the server-side gateway subscription, for /health.
type BridgeStatus interface {
	State() stream.State
}

// Deps carries everything the router mounts. Nil fields degrade the
// matching routes instead of panicking: no Events store means archive
// endpoints answer 503, no Bridge means health omits the gateway state.
type Deps struct {
	Hub    *ws.Hub
	Relay  http.Handler
	Events *store.EventStore
	Bridge BridgeStatus

	// GatewayURL is the upstream base URL for the message proxy.
	GatewayURL string
	// GatewayClient performs proxy requests. Defaults to http.DefaultClient.
	GatewayClient *http.Client
}

type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Gateway   string `json:"gateway,omitempty"`
	Database  bool   `json:"database"`
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limiter := ratelimit.NewLimiter()

	r.Get("/health", handleHealth(deps))
	r.Get("/", handleRoot)

	if deps.Relay != nil {
		r.Handle("/api/events", deps.Relay)
	}
	if deps.Hub != nil {
		r.Handle("/ws", &ws.Handler{Hub: deps.Hub})
	}

	messages := &MessageHandler{
		GatewayURL: deps.GatewayURL,
		Client:     deps.GatewayClient,
		Events:     deps.Events,
	}
	r.Post("/api/messages", rateLimited(limiter, "send", ratelimit.MessageSend, messages.Send))
	r.Get("/api/messages", rateLimited(limiter, "fetch", ratelimit.MessageFetch, messages.List))

	archive := &ArchiveHandler{Events: deps.Events}
	r.Get("/api/sessions", archive.Sessions)
	r.Get("/api/stats", archive.Stats)
	r.Get("/api/history", archive.History)

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Version:   getVersion(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Database:  deps.Events != nil,
		}
		if deps.Bridge != nil {
			resp.Gateway = string(deps.Bridge.State())
		}
		sendJSON(w, http.StatusOK, resp)
	}
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":   "ClawDeck",
		"about":  "Real-time dashboard for OpenClaw agent gateways",
		"events": "/api/events",
		"health": "/health",
	})
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}

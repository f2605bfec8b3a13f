package main

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/openclaw/clawdeck/internal/api"
	"github.com/openclaw/clawdeck/internal/automigrate"
	"github.com/openclaw/clawdeck/internal/bridge"
	"github.com/openclaw/clawdeck/internal/config"
	"github.com/openclaw/clawdeck/internal/relay"
	"github.com/openclaw/clawdeck/internal/store"
	"github.com/openclaw/clawdeck/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var db *sql.DB
	var events *store.EventStore
	if cfg.DatabaseURL != "" {
		db, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer db.Close()

		if err := automigrate.Run(db, "migrations"); err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}
		events = store.NewEventStore(db)
	} else {
		log.Printf("DATABASE_URL not set; running without event archive")
	}

	hub := ws.NewHub()
	go hub.Run()

	deps := api.Deps{
		Hub:        hub,
		Relay:      relayHandler(cfg),
		Events:     events,
		GatewayURL: cfg.Gateway.URL,
	}

	if cfg.Bridge.Enabled {
		b := bridge.New(bridge.Config{
			EventsURL:            cfg.Gateway.EventsURL(),
			ReconnectDelay:       cfg.Stream.ReconnectDelay,
			MaxReconnectDelay:    cfg.Stream.MaxReconnectDelay,
			MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
			Broadcaster:          hub,
			Archiver:             archiver(events),
		})
		b.Start()
		defer b.Stop()
		deps.Bridge = b
	}

	log.Printf("🦞 ClawDeck starting on port %s (gateway %s)", cfg.Port, cfg.Gateway.URL)
	if err := http.ListenAndServe(":"+cfg.Port, api.NewRouter(deps)); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func relayHandler(cfg config.Config) http.Handler {
	h := relay.NewHandler(cfg.Gateway.EventsURL(), nil)
	h.KeepaliveInterval = cfg.Gateway.KeepaliveInterval
	return h
}

// archiver keeps the bridge's Archiver nil when there is no database; a
// typed nil *EventStore inside the interface would not compare equal to nil.
func archiver(events *store.EventStore) bridge.Archiver {
	if events == nil {
		return nil
	}
	return events
}

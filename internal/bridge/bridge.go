// Package bridge subscribes the server itself to the gateway's event
// stream and fans every envelope out to connected websocket clients and
// the archive. The browser's relay connection works without it; the
// bridge exists so history accrues even when no dashboard is open.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/openclaw/clawdeck/internal/store"
	"github.com/openclaw/clawdeck/internal/stream"
)

// Broadcaster pushes a serialized envelope to connected dashboard clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Archiver persists envelopes for session history queries.
type Archiver interface {
	Insert(ctx context.Context, env stream.Envelope) (*store.GatewayEvent, error)
}

const archiveTimeout = 5 * time.Second

// Config wires a bridge to the gateway and its fan-out targets.
type Config struct {
	// EventsURL is the gateway's event-stream endpoint.
	EventsURL string

	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int

	// Dialer overrides the transport. Defaults to SSE.
	Dialer stream.Dialer

	// Broadcaster receives every known envelope except keepalives. Optional.
	Broadcaster Broadcaster
	// Archiver receives session-relevant envelopes. Optional.
	Archiver Archiver

	Logf func(format string, args ...interface{})
}

// Bridge owns the server-side gateway subscription.
type Bridge struct {
	cfg    Config
	client *stream.Client
	logf   func(format string, args ...interface{})
}

// New builds a bridge. It does not connect; call Start.
func New(cfg Config) *Bridge {
	b := &Bridge{cfg: cfg, logf: cfg.Logf}
	if b.logf == nil {
		b.logf = log.Printf
	}

	b.client = stream.NewClient(stream.ClientConfig{
		URL:                  cfg.EventsURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Dialer:               cfg.Dialer,
		OnConnect: func() {
			b.logf("🔗 Bridge connected to gateway at %s", cfg.EventsURL)
		},
		OnDisconnect: func() {
			b.logf("Bridge gateway stream closed")
		},
		OnEnvelope: b.handle,
		Logf:       b.logf,
	})
	return b
}

// Start opens the gateway subscription.
func (b *Bridge) Start() {
	b.client.Connect()
}

// Stop closes the subscription and cancels any pending reconnect.
func (b *Bridge) Stop() {
	b.client.Disconnect()
}

// State reports the underlying connection state, for health endpoints.
func (b *Bridge) State() stream.State {
	return b.client.State()
}

// IsConnected reports whether the gateway subscription is live.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected()
}

func (b *Bridge) handle(env stream.Envelope) {
	if !env.Known() {
		return
	}

	if b.cfg.Broadcaster != nil {
		if payload, err := json.Marshal(env); err == nil {
			b.cfg.Broadcaster.Broadcast(payload)
		}
	}

	if b.cfg.Archiver != nil && shouldArchive(env.Type) {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if _, err := b.cfg.Archiver.Insert(ctx, env); err != nil {
			b.logf("Bridge failed to archive %s event: %v", env.Type, err)
		}
	}
}

// shouldArchive excludes connection chatter from the archive. The
// connected tag restates transport state the archive has no use for.
func shouldArchive(t stream.EventType) bool {
	switch t {
	case stream.EventActivity, stream.EventSessionStart, stream.EventSessionEnd,
		stream.EventCostUpdate, stream.EventMessage,
		stream.EventAgentSpawn, stream.EventAgentComplete, stream.EventError:
		return true
	default:
		return false
	}
}

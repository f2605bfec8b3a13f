package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens transports over a websocket connection to the
// gateway, for deployments where its event feed is exposed as a socket
// instead of SSE. Each text message is one envelope frame.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer builds a dialer. A nil wsDialer means
// websocket.DefaultDialer.
func NewWebSocketDialer(wsDialer *websocket.Dialer) *WebSocketDialer {
	if wsDialer == nil {
		wsDialer = websocket.DefaultDialer
	}
	return &WebSocketDialer{dialer: wsDialer}
}

// Dial implements Dialer. HTTP schemes are rewritten to their websocket
// equivalents so callers can pass the same URL they would hand the SSE
// dialer.
func (d *WebSocketDialer) Dial(url string, handler TransportHandler) Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{cancel: cancel}
	t.run = func() { t.consume(ctx, d.dialer, websocketURL(url), handler) }
	return t
}

func websocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}

type wsTransport struct {
	cancel context.CancelFunc
	run    func()

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (t *wsTransport) Start() {
	go t.run()
}

func (t *wsTransport) Close() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *wsTransport) consume(ctx context.Context, dialer *websocket.Dialer, url string, h TransportHandler) {
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			h.OnClose(t, fmt.Errorf("websocket dial returned status %d: %w", resp.StatusCode, err))
		} else {
			h.OnClose(t, fmt.Errorf("websocket dial: %w", err))
		}
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		h.OnClose(t, fmt.Errorf("transport closed during dial"))
		return
	}
	t.conn = conn
	t.mu.Unlock()

	h.OnOpen(t)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			h.OnClose(t, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.OnFrame(t, string(message))
	}
}

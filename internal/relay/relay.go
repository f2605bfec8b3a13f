// Package relay bridges the dashboard's server-push connection to the
// upstream gateway's event endpoint. The relay never retries upstream on
// its own; reconnection is the browser client's job. Every failure path
// degrades to one error frame and a clean close.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openclaw/clawdeck/internal/stream"
)

const defaultKeepaliveInterval = 15 * time.Second

// Handler proxies GET requests into a live text/event-stream response fed
// from the gateway's event endpoint.
type Handler struct {
	// UpstreamURL is the gateway's server-push event endpoint.
	UpstreamURL string
	// Client performs the upstream request. Must not carry a global
	// timeout. Defaults to http.DefaultClient.
	Client *http.Client
	// KeepaliveInterval paces comment frames that keep intermediary
	// proxies from idling out the connection. Defaults to 15s.
	KeepaliveInterval time.Duration

	nowFunc func() time.Time // for testing
}

// NewHandler builds a relay against the given upstream event endpoint.
func NewHandler(upstreamURL string, client *http.Client) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{
		UpstreamURL:       upstreamURL,
		Client:            client,
		KeepaliveInterval: defaultKeepaliveInterval,
		nowFunc:           time.Now,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// No caching, no transformation, no proxy buffering: intermediaries
	// must pass frames through as they arrive.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &streamWriter{w: w, flusher: flusher}

	// Synthetic connected frame before upstream is even attempted, so the
	// client flips to connected immediately even when the gateway is slow.
	sw.writeEnvelope(stream.Envelope{
		Type:      stream.EventConnected,
		Timestamp: h.nowFunc().UTC(),
	})

	ctx := r.Context()
	stopKeepalive := h.startKeepalive(ctx, sw)
	defer stopKeepalive()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.UpstreamURL, nil)
	if err != nil {
		h.fail(sw, fmt.Sprintf("invalid gateway URL: %v", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.Client.Do(req)
	if err != nil {
		h.fail(sw, fmt.Sprintf("gateway connection failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.fail(sw, fmt.Sprintf("gateway returned status %d", resp.StatusCode))
		return
	}
	if resp.Body == nil {
		h.fail(sw, "gateway response has no body")
		return
	}

	// Forward upstream bytes verbatim. Order is preserved exactly; the
	// loop ends when upstream completes or the downstream consumer
	// cancels (which also cancels the upstream request via ctx).
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if writeErr := sw.writeRaw(buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// fail emits one best-effort error frame; the caller returns right after,
// closing the downstream stream.
func (h *Handler) fail(sw *streamWriter, message string) {
	data, err := json.Marshal(stream.ErrorData{Message: message})
	if err != nil {
		return
	}
	sw.writeEnvelope(stream.Envelope{
		Type:      stream.EventError,
		Data:      data,
		Timestamp: h.nowFunc().UTC(),
	})
}

func (h *Handler) startKeepalive(ctx context.Context, sw *streamWriter) func() {
	interval := h.KeepaliveInterval
	if interval <= 0 {
		interval = defaultKeepaliveInterval
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := sw.writeComment("keepalive"); err != nil {
					return
				}
			}
		}
	}()

	// The returned stop func must run before ServeHTTP returns: the
	// ResponseWriter is dead after that.
	return func() {
		close(done)
		wg.Wait()
	}
}

// streamWriter serializes writes from the forwarding loop and the
// keepalive ticker onto one ResponseWriter.
type streamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (sw *streamWriter) writeRaw(b []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := sw.w.Write(b); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *streamWriter) writeComment(comment string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", comment); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *streamWriter) writeEnvelope(env stream.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", raw); err != nil {
		return
	}
	sw.flusher.Flush()
}

package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

const sseScannerBufferSize = 1 << 20

// SSEDialer opens Server-Sent Events transports over HTTP.
type SSEDialer struct {
	client *http.Client
}

// NewSSEDialer builds a dialer. A nil httpClient means http.DefaultClient;
// the client must not set a global timeout or it would kill the long-lived
// stream.
func NewSSEDialer(httpClient *http.Client) *SSEDialer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SSEDialer{client: httpClient}
}

// Dial implements Dialer.
func (d *SSEDialer) Dial(url string, handler TransportHandler) Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &sseTransport{cancel: cancel}
	t.run = func() { t.consume(ctx, d.client, url, handler) }
	return t
}

type sseTransport struct {
	cancel    context.CancelFunc
	run       func()
	closeOnce sync.Once
}

func (t *sseTransport) Start() {
	go t.run()
}

func (t *sseTransport) Close() {
	t.closeOnce.Do(t.cancel)
}

func (t *sseTransport) consume(ctx context.Context, client *http.Client, url string, h TransportHandler) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.OnClose(t, fmt.Errorf("build event stream request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		h.OnClose(t, fmt.Errorf("open event stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.OnClose(t, fmt.Errorf("event stream returned status %d", resp.StatusCode))
		return
	}

	h.OnOpen(t)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), sseScannerBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Frame separator.
		case strings.HasPrefix(line, ":"):
			// Keep-alive comment; forwarded so the client can count it
			// as liveness if it wants to. It never parses as a frame.
			h.OnFrame(t, line)
		case strings.HasPrefix(line, "data:"):
			h.OnFrame(t, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:/id:/retry: fields are not part of the gateway
			// protocol; every envelope travels in a data field.
		}
	}

	err = scanner.Err()
	if err == nil {
		err = errors.New("event stream ended")
	}
	h.OnClose(t, err)
}

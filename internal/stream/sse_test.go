package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type transportRecorder struct {
	mu     sync.Mutex
	frames []string
	opened chan struct{}
	closed chan error
}

func newTransportRecorder() *transportRecorder {
	return &transportRecorder{
		opened: make(chan struct{}, 1),
		closed: make(chan error, 1),
	}
}

func (r *transportRecorder) handler() TransportHandler {
	return TransportHandler{
		OnOpen: func(Transport) { r.opened <- struct{}{} },
		OnFrame: func(_ Transport, raw string) {
			r.mu.Lock()
			r.frames = append(r.frames, raw)
			r.mu.Unlock()
		},
		OnClose: func(_ Transport, err error) { r.closed <- err },
	}
}

func (r *transportRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestSSEDialerDeliversFramesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"activity\",\"data\":{\"id\":\"act-1\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message\",\"data\":{\"content\":\"hi\"}}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	rec := newTransportRecorder()
	tr := NewSSEDialer(server.Client()).Dial(server.URL, rec.handler())
	tr.Start()

	waitFor(t, rec.opened, "open")
	waitFor(t, rec.closed, "close")

	frames := rec.snapshot()
	require.Equal(t, []string{
		": keepalive",
		`{"type":"activity","data":{"id":"act-1"}}`,
		`{"type":"message","data":{"content":"hi"}}`,
	}, frames)
}

func TestSSEDialerNonOKStatusClosesWithoutOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway offline", http.StatusBadGateway)
	}))
	defer server.Close()

	rec := newTransportRecorder()
	tr := NewSSEDialer(server.Client()).Dial(server.URL, rec.handler())
	tr.Start()

	err := waitFor(t, rec.closed, "close")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Empty(t, rec.opened)
}

func TestSSEDialerCloseCancelsInFlightStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	rec := newTransportRecorder()
	tr := NewSSEDialer(server.Client()).Dial(server.URL, rec.handler())
	tr.Start()

	waitFor(t, rec.opened, "open")
	tr.Close()
	tr.Close() // idempotent

	err := waitFor(t, rec.closed, "close")
	require.Error(t, err)
}

func TestClientOverSSEReconnectsAfterUpstreamFailure(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()

		if n == 1 {
			http.Error(w, "not ready", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"activity\",\"data\":{\"id\":\"act-1\",\"tool\":\"Read\"}}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	activities := make(chan ActivityData, 1)
	client := NewClient(ClientConfig{
		URL:               server.URL,
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
		Dialer:            NewSSEDialer(server.Client()),
		OnActivity:        func(data ActivityData) { activities <- data },
		Logf:              t.Logf,
	})
	defer client.Disconnect()

	client.Connect()

	activity := waitFor(t, activities, "activity after reconnect")
	require.Equal(t, "act-1", activity.ID)
	require.Equal(t, "Read", activity.Tool)
	require.True(t, client.IsConnected())
	require.Zero(t, client.ReconnectAttempt(), "counter resets on successful open")

	mu.Lock()
	require.GreaterOrEqual(t, requests, 2)
	mu.Unlock()
}

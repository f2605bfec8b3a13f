package stream

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	handler TransportHandler
	started bool
	closed  bool
}

func (t *fakeTransport) Start() { t.started = true }
func (t *fakeTransport) Close() { t.closed = true }

func (t *fakeTransport) open()            { t.handler.OnOpen(t) }
func (t *fakeTransport) frame(raw string) { t.handler.OnFrame(t, raw) }
func (t *fakeTransport) fail(err error)   { t.handler.OnClose(t, err) }

type fakeDialer struct {
	transports []*fakeTransport
	// onDial runs inside Dial, letting a test interleave client calls
	// with an in-flight dial.
	onDial func()
}

func (d *fakeDialer) Dial(url string, handler TransportHandler) Transport {
	if d.onDial != nil {
		d.onDial()
	}
	t := &fakeTransport{handler: handler}
	d.transports = append(d.transports, t)
	return t
}

func (d *fakeDialer) last(t *testing.T) *fakeTransport {
	t.Helper()
	require.NotEmpty(t, d.transports, "no transport dialed yet")
	return d.transports[len(d.transports)-1]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type clientHarness struct {
	client *Client
	dialer *fakeDialer
	timers []*fakeTimer
}

func newClientHarness(t *testing.T, cfg ClientConfig) *clientHarness {
	t.Helper()
	h := &clientHarness{dialer: &fakeDialer{}}
	cfg.URL = "http://gateway.test/api/events"
	cfg.Dialer = h.dialer
	if cfg.Logf == nil {
		cfg.Logf = t.Logf
	}
	h.client = NewClient(cfg)
	h.client.randomFunc = func() float64 { return 0.5 }
	h.client.newTimer = func(d time.Duration, fn func()) stopper {
		timer := &fakeTimer{delay: d, fn: fn}
		h.timers = append(h.timers, timer)
		return timer
	}
	return h
}

func (h *clientHarness) lastTimer(t *testing.T) *fakeTimer {
	t.Helper()
	require.NotEmpty(t, h.timers, "no reconnect scheduled")
	return h.timers[len(h.timers)-1]
}

func envelopeFrame(t *testing.T, eventType EventType, data interface{}) string {
	t.Helper()
	env, err := NewEnvelope(eventType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return string(raw)
}

func TestClientDispatchesActivityInOrder(t *testing.T) {
	var got []ActivityData
	connects := 0
	h := newClientHarness(t, ClientConfig{
		OnConnect:  func() { connects++ },
		OnActivity: func(data ActivityData) { got = append(got, data) },
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	require.True(t, tr.started)
	require.Equal(t, StateConnecting, h.client.State())

	tr.open()
	require.True(t, h.client.IsConnected())
	require.Equal(t, 1, connects)
	require.Empty(t, h.client.ConnectionError())

	tr.frame(envelopeFrame(t, EventActivity, ActivityData{ID: "act-1", Tool: "Read"}))
	tr.frame(envelopeFrame(t, EventActivity, ActivityData{ID: "act-2", Tool: "Edit"}))

	require.Len(t, got, 2)
	require.Equal(t, "act-1", got[0].ID)
	require.Equal(t, "Read", got[0].Tool)
	require.Equal(t, "act-2", got[1].ID)
}

func TestClientConnectedEnvelopeFiresOnConnect(t *testing.T) {
	connects := 0
	h := newClientHarness(t, ClientConfig{
		OnConnect: func() { connects++ },
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	tr.open()
	tr.frame(envelopeFrame(t, EventConnected, nil))

	// Once for the transport open, once for the synthetic envelope the
	// relay emits.
	require.Equal(t, 2, connects)
}

func TestClientDropsKeepaliveCommentAndBlankFrames(t *testing.T) {
	fired := 0
	h := newClientHarness(t, ClientConfig{
		OnActivity:     func(ActivityData) { fired++ },
		OnSessionStart: func(SessionStartData) { fired++ },
		OnMessage:      func(MessageData) { fired++ },
		OnError:        func(ErrorData) { fired++ },
		OnEnvelope:     func(Envelope) { fired++ },
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	tr.open()

	tr.frame("")
	tr.frame("   ")
	tr.frame(": keepalive")
	tr.frame(envelopeFrame(t, EventKeepalive, nil))

	require.Zero(t, fired)
	require.True(t, h.client.IsConnected())
}

func TestClientDropsMalformedFramesWithoutBreakingStream(t *testing.T) {
	var got []MessageData
	h := newClientHarness(t, ClientConfig{
		OnMessage: func(data MessageData) { got = append(got, data) },
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	tr.open()

	tr.frame("{not json")
	tr.frame(envelopeFrame(t, EventMessage, MessageData{Content: "still here"}))

	require.True(t, h.client.IsConnected())
	require.Len(t, got, 1)
	require.Equal(t, "still here", got[0].Content)
}

func TestClientIgnoresUnknownTags(t *testing.T) {
	typed := 0
	var seen []EventType
	h := newClientHarness(t, ClientConfig{
		OnActivity: func(ActivityData) { typed++ },
		OnError:    func(ErrorData) { typed++ },
		OnEnvelope: func(env Envelope) { seen = append(seen, env.Type) },
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	tr.open()
	tr.frame(`{"type":"window_resize","data":{"w":80}}`)

	require.Zero(t, typed)
	// The raw envelope hook still sees it, so relays can forward tags
	// they do not understand.
	require.Equal(t, []EventType{"window_resize"}, seen)
}

func TestClientSchedulesBackedOffReconnectsWithAttemptCount(t *testing.T) {
	disconnects := 0
	h := newClientHarness(t, ClientConfig{
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 3,
		OnDisconnect:         func() { disconnects++ },
	})

	h.client.Connect()
	h.dialer.last(t).open()

	h.dialer.last(t).fail(errors.New("gateway restarted"))
	require.Equal(t, 1, h.client.ReconnectAttempt())
	require.Equal(t, StateReconnectScheduled, h.client.State())
	require.Contains(t, h.client.ConnectionError(), "1/3")
	require.False(t, h.client.IsConnected())
	// Random factor pinned at 0.5, so the delay is exactly base*2^0.
	require.Equal(t, time.Second, h.lastTimer(t).delay)

	h.lastTimer(t).fn()
	require.Len(t, h.dialer.transports, 2)
	h.dialer.last(t).fail(errors.New("still down"))
	require.Equal(t, 2, h.client.ReconnectAttempt())
	require.Contains(t, h.client.ConnectionError(), "2/3")
	require.Equal(t, 2*time.Second, h.lastTimer(t).delay)

	h.lastTimer(t).fn()
	h.dialer.last(t).fail(errors.New("still down"))
	require.Contains(t, h.client.ConnectionError(), "3/3")
	require.Equal(t, 4*time.Second, h.lastTimer(t).delay)

	scheduled := len(h.timers)
	h.lastTimer(t).fn()
	h.dialer.last(t).fail(errors.New("still down"))

	require.Equal(t, 4, h.client.ReconnectAttempt())
	require.Equal(t, StateDisconnected, h.client.State())
	require.Contains(t, h.client.ConnectionError(), "max reconnect attempts")
	require.Len(t, h.timers, scheduled, "no reconnect scheduled past the cap")
	require.Equal(t, 4, disconnects)
}

func TestClientSuccessfulOpenResetsReconnectCounter(t *testing.T) {
	h := newClientHarness(t, ClientConfig{MaxReconnectAttempts: 5})

	h.client.Connect()
	h.dialer.last(t).fail(errors.New("refused"))
	h.lastTimer(t).fn()
	h.dialer.last(t).fail(errors.New("refused"))
	require.Equal(t, 2, h.client.ReconnectAttempt())

	h.lastTimer(t).fn()
	h.dialer.last(t).open()

	require.Zero(t, h.client.ReconnectAttempt())
	require.True(t, h.client.IsConnected())
	require.Empty(t, h.client.ConnectionError())
}

func TestClientDisconnectCancelsScheduledReconnect(t *testing.T) {
	h := newClientHarness(t, ClientConfig{})

	h.client.Connect()
	h.dialer.last(t).open()
	h.dialer.last(t).fail(errors.New("dropped"))

	timer := h.lastTimer(t)
	dialed := len(h.dialer.transports)

	h.client.Disconnect()
	require.True(t, timer.stopped)
	require.Equal(t, StateDisconnected, h.client.State())

	// A late-firing timer must not resurrect the connection.
	timer.fn()
	require.Len(t, h.dialer.transports, dialed)
	require.Equal(t, StateDisconnected, h.client.State())
}

func TestClientDisconnectDuringRetryDialStaysDown(t *testing.T) {
	h := newClientHarness(t, ClientConfig{})

	h.client.Connect()
	h.dialer.last(t).open()
	h.dialer.last(t).fail(errors.New("dropped"))
	require.Equal(t, StateReconnectScheduled, h.client.State())

	// Tear the client down from inside the reconnect dial, after the
	// timer has already begun firing.
	h.dialer.onDial = func() { h.client.Disconnect() }
	h.lastTimer(t).fn()
	h.dialer.onDial = nil

	require.Equal(t, StateDisconnected, h.client.State())
	require.Empty(t, h.client.ConnectionError())
	late := h.dialer.last(t)
	require.True(t, late.closed)
	require.False(t, late.started, "torn-down client must not start a transport")
}

func TestClientOnDisconnectFiresForFailedDials(t *testing.T) {
	disconnects := 0
	h := newClientHarness(t, ClientConfig{
		OnDisconnect: func() { disconnects++ },
	})

	h.client.Connect()
	// The transport dies before it ever opens.
	h.dialer.last(t).fail(errors.New("connection refused"))

	require.Equal(t, 1, disconnects)
	require.Equal(t, StateReconnectScheduled, h.client.State())
	require.Equal(t, 1, h.client.ReconnectAttempt())
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	h := newClientHarness(t, ClientConfig{})

	h.client.Disconnect()
	h.client.Connect()
	h.dialer.last(t).open()
	h.client.Disconnect()
	h.client.Disconnect()

	require.Equal(t, StateDisconnected, h.client.State())
	require.True(t, h.dialer.last(t).closed)
}

func TestClientIgnoresEventsFromSupersededTransport(t *testing.T) {
	var got []ActivityData
	h := newClientHarness(t, ClientConfig{
		OnActivity: func(data ActivityData) { got = append(got, data) },
	})

	h.client.Connect()
	stale := h.dialer.last(t)

	h.client.Connect()
	require.True(t, stale.closed)
	fresh := h.dialer.last(t)
	fresh.open()

	// The superseded transport's error and frames must not drive the
	// state machine or callbacks.
	stale.fail(errors.New("stale error"))
	stale.frame(envelopeFrame(t, EventActivity, ActivityData{ID: "stale"}))

	require.True(t, h.client.IsConnected())
	require.Zero(t, h.client.ReconnectAttempt())
	require.Empty(t, got)

	fresh.frame(envelopeFrame(t, EventActivity, ActivityData{ID: "fresh"}))
	require.Len(t, got, 1)
	require.Equal(t, "fresh", got[0].ID)
}

func TestClientResetReconnectAttemptsLeavesTransportAlone(t *testing.T) {
	h := newClientHarness(t, ClientConfig{})

	h.client.Connect()
	h.dialer.last(t).fail(errors.New("refused"))
	require.Equal(t, 1, h.client.ReconnectAttempt())
	require.Equal(t, StateReconnectScheduled, h.client.State())

	h.client.ResetReconnectAttempts()
	require.Zero(t, h.client.ReconnectAttempt())
	require.Equal(t, StateReconnectScheduled, h.client.State())
}

func TestClientAgentEventsShareOneCallback(t *testing.T) {
	type agentEvent struct {
		eventType EventType
		data      AgentEventData
	}
	var got []agentEvent
	h := newClientHarness(t, ClientConfig{
		OnAgentEvent: func(eventType EventType, data AgentEventData) {
			got = append(got, agentEvent{eventType, data})
		},
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	tr.open()
	tr.frame(envelopeFrame(t, EventAgentSpawn, AgentEventData{AgentID: "a-1", Task: "review"}))
	tr.frame(envelopeFrame(t, EventAgentComplete, AgentEventData{AgentID: "a-1"}))

	require.Len(t, got, 2)
	require.Equal(t, EventAgentSpawn, got[0].eventType)
	require.Equal(t, "review", got[0].data.Task)
	require.Equal(t, EventAgentComplete, got[1].eventType)
}

func TestClientSessionAndCostDispatch(t *testing.T) {
	var starts []SessionStartData
	var ends []SessionEndData
	var costs []CostUpdateData
	h := newClientHarness(t, ClientConfig{
		OnSessionStart: func(data SessionStartData) { starts = append(starts, data) },
		OnSessionEnd:   func(data SessionEndData) { ends = append(ends, data) },
		OnCostUpdate:   func(data CostUpdateData) { costs = append(costs, data) },
	})

	h.client.Connect()
	tr := h.dialer.last(t)
	tr.open()
	tr.frame(envelopeFrame(t, EventSessionStart, SessionStartData{SessionID: "s-1", Model: "big-model"}))
	tr.frame(envelopeFrame(t, EventCostUpdate, CostUpdateData{SessionID: "s-1", CostUSD: 0.42}))
	tr.frame(envelopeFrame(t, EventSessionEnd, SessionEndData{SessionID: "s-1", Reason: "done"}))

	require.Len(t, starts, 1)
	require.Equal(t, "big-model", starts[0].Model)
	require.Len(t, costs, 1)
	require.InDelta(t, 0.42, costs[0].CostUSD, 1e-9)
	require.Len(t, ends, 1)
	require.Equal(t, "done", ends[0].Reason)
}

package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// State describes where a client is in its connection lifecycle.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateReconnectScheduled State = "reconnect-scheduled"
)

const (
	defaultReconnectDelay       = time.Second
	defaultMaxReconnectDelay    = 30 * time.Second
	defaultMaxReconnectAttempts = 10
)

// ClientConfig configures a stream client. All callbacks are optional and
// are invoked synchronously, in frame arrival order, exactly once per
// matching envelope.
type ClientConfig struct {
	// URL of the server-push event endpoint.
	URL string

	// ReconnectDelay is the backoff base (default 1s).
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff (default 30s).
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds automatic retries (default 10).
	MaxReconnectAttempts int

	// Dialer supplies the transport. Defaults to an SSE dialer over
	// http.DefaultClient.
	Dialer Dialer

	OnConnect func()
	// OnDisconnect fires every time a transport closes, including dial
	// attempts that never reached the open state.
	OnDisconnect func()
	OnActivity   func(ActivityData)
	OnSessionStart func(SessionStartData)
	OnSessionEnd   func(SessionEndData)
	OnCostUpdate   func(CostUpdateData)
	OnMessage      func(MessageData)
	// OnAgentEvent receives both agent_spawn and agent_complete; the tag
	// disambiguates.
	OnAgentEvent func(EventType, AgentEventData)
	OnError      func(ErrorData)
	// OnEnvelope fires for every parsed envelope except keepalives,
	// before the typed callback for the same frame. Envelopes with an
	// unknown tag reach it too; only the typed callbacks stay silent
	// for those.
	OnEnvelope func(Envelope)

	// Logf records dropped malformed frames. Defaults to log.Printf.
	Logf func(format string, args ...interface{})
}

type stopper interface {
	Stop() bool
}

// Client maintains one logical subscription to a server-push endpoint and
// survives transient transport failures with bounded, jittered reconnects.
type Client struct {
	cfg ClientConfig

	mu       sync.Mutex
	state    State
	current  Transport
	attempts int
	connErr  string

	retry    stopper
	retryGen int

	newTimer   func(d time.Duration, fn func()) stopper
	randomFunc func() float64
}

// NewClient builds a client. It does not connect; call Connect.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewSSEDialer(nil)
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}

	return &Client{
		cfg:   cfg,
		state: StateDisconnected,
		newTimer: func(d time.Duration, fn func()) stopper {
			return time.AfterFunc(d, fn)
		},
		randomFunc: rand.Float64,
	}
}

// Connect closes any existing transport and opens a new one. It cancels a
// pending scheduled reconnect but leaves the reconnect counter untouched;
// the counter resets only on a successful open.
func (c *Client) Connect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	gen := c.retryGen
	prev := c.current
	c.current = nil
	c.state = StateConnecting
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	c.dial(gen)
}

// dial opens a transport and installs it only if gen still matches the
// generation counter. Disconnect and Connect both bump the counter, so a
// dial that lost the race closes its transport instead of resurrecting a
// connection the caller tore down.
func (c *Client) dial(gen int) {
	t := c.cfg.Dialer.Dial(c.cfg.URL, TransportHandler{
		OnOpen:  c.transportOpened,
		OnFrame: c.transportFrame,
		OnClose: c.transportClosed,
	})

	c.mu.Lock()
	if gen != c.retryGen {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.current = t
	c.mu.Unlock()
	t.Start()
}

// Disconnect cancels any pending reconnect, closes the active transport and
// leaves the client disconnected. It is idempotent and safe from any state;
// only a subsequent Connect resumes the lifecycle.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	prev := c.current
	c.current = nil
	c.state = StateDisconnected
	c.connErr = ""
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// ResetReconnectAttempts zeroes the counter without touching the transport,
// so the caller can treat the next failure as attempt 1 again.
func (c *Client) ResetReconnectAttempts() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
}

// IsConnected reports whether the transport is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionError returns the human-readable connection error, or "" when
// the connection is healthy. While a retry is pending it reads
// "Reconnecting (k/N)"; once retries are exhausted it is terminal until the
// caller intervenes.
func (c *Client) ConnectionError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connErr
}

// ReconnectAttempt returns the current attempt counter.
func (c *Client) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) cancelRetryLocked() {
	c.retryGen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) transportOpened(t Transport) {
	c.mu.Lock()
	if t != c.current {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.attempts = 0
	c.connErr = ""
	c.mu.Unlock()

	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
}

func (c *Client) transportClosed(t Transport, err error) {
	c.mu.Lock()
	if t != c.current {
		// A superseded transport's error must not drive the state
		// machine.
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.attempts++
	attempt := c.attempts
	max := c.cfg.MaxReconnectAttempts

	if attempt <= max {
		delay := backoffWithRandom(attempt-1, c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay, c.randomFunc())
		c.connErr = fmt.Sprintf("Connection lost. Reconnecting (%d/%d)...", attempt, max)
		c.state = StateReconnectScheduled
		c.retryGen++
		gen := c.retryGen
		c.retry = c.newTimer(delay, func() { c.retryFired(gen) })
	} else {
		c.connErr = fmt.Sprintf("Connection lost: max reconnect attempts reached (%d)", max)
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if err != nil {
		c.cfg.Logf("stream: transport closed: %v", err)
	}
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect()
	}
}

func (c *Client) retryFired(gen int) {
	c.mu.Lock()
	if gen != c.retryGen {
		// Cancelled or superseded after the timer was already firing.
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = StateConnecting
	c.mu.Unlock()

	// Reuse the timer's generation rather than bumping it, so a
	// Disconnect that lands during the dial still invalidates it.
	c.dial(gen)
}

func (c *Client) transportFrame(t Transport, raw string) {
	c.mu.Lock()
	stale := t != c.current
	c.mu.Unlock()
	if stale {
		return
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, ":") {
		return
	}

	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		c.cfg.Logf("stream: dropping malformed frame: %v", err)
		return
	}

	// Re-check after the parse: a Disconnect may have superseded the
	// transport while the frame was being decoded.
	c.mu.Lock()
	stale = t != c.current
	c.mu.Unlock()
	if stale {
		return
	}
	c.dispatch(env)
}

// dispatch routes one envelope to its typed callback. Decode failures are
// logged and dropped; they never affect the connection.
func (c *Client) dispatch(env Envelope) {
	if env.Type == EventKeepalive {
		return
	}
	if c.cfg.OnEnvelope != nil {
		c.cfg.OnEnvelope(env)
	}

	switch env.Type {
	case EventConnected:
		if c.cfg.OnConnect != nil {
			c.cfg.OnConnect()
		}
	case EventActivity:
		var data ActivityData
		if c.decode(env, &data) && c.cfg.OnActivity != nil {
			c.cfg.OnActivity(data)
		}
	case EventSessionStart:
		var data SessionStartData
		if c.decode(env, &data) && c.cfg.OnSessionStart != nil {
			c.cfg.OnSessionStart(data)
		}
	case EventSessionEnd:
		var data SessionEndData
		if c.decode(env, &data) && c.cfg.OnSessionEnd != nil {
			c.cfg.OnSessionEnd(data)
		}
	case EventCostUpdate:
		var data CostUpdateData
		if c.decode(env, &data) && c.cfg.OnCostUpdate != nil {
			c.cfg.OnCostUpdate(data)
		}
	case EventMessage:
		var data MessageData
		if c.decode(env, &data) && c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	case EventAgentSpawn, EventAgentComplete:
		var data AgentEventData
		if c.decode(env, &data) && c.cfg.OnAgentEvent != nil {
			c.cfg.OnAgentEvent(env.Type, data)
		}
	case EventError:
		var data ErrorData
		if c.decode(env, &data) && c.cfg.OnError != nil {
			c.cfg.OnError(data)
		}
	case EventKeepalive:
		// Handled above; listed so the switch covers every known tag.
	default:
		// Unknown tags are a forward-compatibility case, not an error.
	}
}

func (c *Client) decode(env Envelope, into interface{}) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		c.cfg.Logf("stream: dropping %s payload: %v", env.Type, err)
		return false
	}
	return true
}

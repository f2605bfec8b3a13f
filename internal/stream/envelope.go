// Package stream implements the real-time event stream between the
// dashboard and the OpenClaw gateway: the tagged event envelope, the
// reconnecting subscription client, and the backoff schedule that paces
// reconnect attempts.
package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags an envelope on the wire. The set is closed: adding a tag
// is a code change here, and clients ignore tags they do not know.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventActivity      EventType = "activity"
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventCostUpdate    EventType = "cost_update"
	EventMessage       EventType = "message"
	EventAgentSpawn    EventType = "agent_spawn"
	EventAgentComplete EventType = "agent_complete"
	EventError         EventType = "error"
	EventKeepalive     EventType = "keepalive"
)

// KnownEventTypes lists every tag this build understands, in wire order.
var KnownEventTypes = []EventType{
	EventConnected,
	EventActivity,
	EventSessionStart,
	EventSessionEnd,
	EventCostUpdate,
	EventMessage,
	EventAgentSpawn,
	EventAgentComplete,
	EventError,
	EventKeepalive,
}

// Envelope is the unit of information on the event stream. Data is decoded
// lazily by tag; the envelope itself is transient and never stored by the
// client.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope with the current timestamp. It returns an
// error only when the payload cannot be marshalled.
func NewEnvelope(eventType EventType, data interface{}) (Envelope, error) {
	env := Envelope{Type: eventType, Timestamp: time.Now().UTC()}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env.Data = raw
	return env, nil
}

// Known reports whether the envelope carries a tag this build understands.
func (e Envelope) Known() bool {
	for _, t := range KnownEventTypes {
		if t == e.Type {
			return true
		}
	}
	return false
}

// ActivityData reports a single tool invocation by an agent.
type ActivityData struct {
	ID        string `json:"id"`
	Tool      string `json:"tool,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// SessionStartData announces a new gateway session.
type SessionStartData struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// SessionEndData closes a gateway session.
type SessionEndData struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// CostUpdateData carries the running spend for a session.
type CostUpdateData struct {
	SessionID    string  `json:"session_id"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
}

// MessageData is a chat message relayed from a session.
type MessageData struct {
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
}

// AgentEventData describes an agent spawn or completion. The same shape is
// used for both tags; the tag disambiguates.
type AgentEventData struct {
	AgentID  string `json:"agent_id"`
	Label    string `json:"label,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	Task     string `json:"task,omitempty"`
}

// ErrorData is a stream-level error reported by the gateway or relay.
type ErrorData struct {
	Message string `json:"message"`
}

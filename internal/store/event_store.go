package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/clawdeck/internal/stream"
)

// GatewayEvent is one archived envelope from the gateway feed.
type GatewayEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID *string         `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventStore persists gateway events.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new EventStore with the given database connection.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventSelectColumns = "id, event_type, session_id, payload, created_at"

// Insert archives one envelope. The session ID is lifted out of the
// payload so session queries never have to parse JSON.
func (s *EventStore) Insert(ctx context.Context, env stream.Envelope) (*GatewayEvent, error) {
	payload := []byte(env.Data)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	createdAt := env.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `INSERT INTO gateway_events (
		event_type, session_id, payload, created_at
	) VALUES ($1, $2, $3, $4)
	RETURNING ` + eventSelectColumns

	event, err := scanGatewayEvent(s.db.QueryRowContext(ctx, query,
		string(env.Type),
		extractSessionID(payload),
		string(payload),
		createdAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert gateway event: %w", err)
	}

	return &event, nil
}

// EventFilter defines filtering options for listing archived events.
type EventFilter struct {
	Type      string
	SessionID string
	Limit     int
	Offset    int
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// List retrieves archived events matching the filter, newest first.
func (s *EventStore) List(ctx context.Context, filter EventFilter) ([]GatewayEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query, args := buildEventListQuery(filter.Type, filter.SessionID, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway events: %w", err)
	}
	defer rows.Close()

	events := make([]GatewayEvent, 0)
	for rows.Next() {
		event, err := scanGatewayEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading gateway events: %w", err)
	}

	return events, nil
}

// SessionSummary aggregates one agent session's archived events.
type SessionSummary struct {
	SessionID string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CostUSD   float64    `json:"cost_usd"`
	Events    int        `json:"events"`
}

// RecentSessions lists session summaries, most recently started first.
// Cost is the highest running total reported for the session; cost_update
// payloads carry cumulative spend, so MAX is the final figure.
func (s *EventStore) RecentSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	query := `SELECT
		session_id,
		MIN(created_at) AS started_at,
		MAX(created_at) FILTER (WHERE event_type = 'session_end') AS ended_at,
		COALESCE(MAX((payload->>'cost_usd')::float8) FILTER (WHERE event_type = 'cost_update'), 0) AS cost_usd,
		COUNT(*) AS events
	FROM gateway_events
	WHERE session_id IS NOT NULL
	GROUP BY session_id
	ORDER BY started_at DESC
	LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionSummary, 0)
	for rows.Next() {
		var summary SessionSummary
		var endedAt sql.NullTime
		if err := rows.Scan(&summary.SessionID, &summary.StartedAt, &endedAt, &summary.CostUSD, &summary.Events); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endedAt.Valid {
			ended := endedAt.Time
			summary.EndedAt = &ended
		}
		sessions = append(sessions, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading sessions: %w", err)
	}

	return sessions, nil
}

// StreamStats summarizes the whole archive for the dashboard header.
type StreamStats struct {
	Events         int     `json:"events"`
	Sessions       int     `json:"sessions"`
	ActiveSessions int     `json:"active_sessions"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// Stats computes archive-wide totals.
func (s *EventStore) Stats(ctx context.Context) (StreamStats, error) {
	var stats StreamStats
	var ended int

	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(DISTINCT session_id) FILTER (WHERE event_type = 'session_start'),
		COUNT(DISTINCT session_id) FILTER (WHERE event_type = 'session_end')
	FROM gateway_events`).Scan(&stats.Events, &stats.Sessions, &ended)
	if err != nil {
		return StreamStats{}, fmt.Errorf("failed to compute event stats: %w", err)
	}

	stats.ActiveSessions = stats.Sessions - ended
	if stats.ActiveSessions < 0 {
		stats.ActiveSessions = 0
	}

	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(session_cost), 0) FROM (
		SELECT MAX((payload->>'cost_usd')::float8) AS session_cost
		FROM gateway_events
		WHERE event_type = 'cost_update' AND session_id IS NOT NULL
		GROUP BY session_id
	) costs`).Scan(&stats.TotalCostUSD)
	if err != nil {
		return StreamStats{}, fmt.Errorf("failed to compute cost stats: %w", err)
	}

	return stats, nil
}

// Prune deletes archived events older than the retention window and
// reports how many rows were removed.
func (s *EventStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM gateway_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune gateway events: %w", err)
	}
	return result.RowsAffected()
}

func buildEventListQuery(eventType, sessionID string, limit, offset int) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if eventType != "" {
		args = append(args, eventType)
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if sessionID != "" {
		args = append(args, sessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}

	query := "SELECT " + eventSelectColumns + " FROM gateway_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGatewayEvent(row rowScanner) (GatewayEvent, error) {
	var event GatewayEvent
	var sessionID sql.NullString
	if err := row.Scan(&event.ID, &event.Type, &sessionID, &event.Payload, &event.CreatedAt); err != nil {
		return GatewayEvent{}, err
	}
	if sessionID.Valid {
		event.SessionID = &sessionID.String
	}
	return event, nil
}

func extractSessionID(payload []byte) *string {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil
	}
	if strings.TrimSpace(probe.SessionID) == "" {
		return nil
	}
	return &probe.SessionID
}

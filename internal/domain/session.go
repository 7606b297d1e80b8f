package domain

import "time"

// SessionStatus tracks where a session is in its turn lifecycle.
type SessionStatus string

const (
	// SessionIdle means no turn is in flight.
	SessionIdle SessionStatus = "idle"
	// SessionStreaming means the worker is driving the engine and
	// forwarding events for this session.
	SessionStreaming SessionStatus = "streaming"
	// SessionBusy means the engine reported itself mid-turn from a
	// previous cycle and the worker is recovering it.
	SessionBusy SessionStatus = "busy"
)

// ValidSessionID reports whether an id is acceptable as a session key.
// Session ids become file names in the store's data directory, so only a
// conservative charset is allowed; anything else must be rejected before it
// reaches the store.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// SessionInfo is a point-in-time snapshot of a session record, safe to
// serialize for the admin API.
type SessionInfo struct {
	ID           string        `json:"id"`
	Status       SessionStatus `json:"status"`
	Task         string        `json:"task,omitempty"`
	HistoryLen   int           `json:"history_len"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
}

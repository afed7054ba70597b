package audit

import (
	"maps"
	"time"
)

// Entry is one audit trail record. Keep it transport-agnostic so sinks can
// serialize it however they need.
type Entry struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Clone returns a copy whose Details map is not shared with the original.
func (e Entry) Clone() Entry {
	out := e
	out.Details = maps.Clone(e.Details)
	return out
}

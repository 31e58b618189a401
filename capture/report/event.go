package report

import "time"

// Event types delivered to sinks.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// Event is one notification on the progress/status channel.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Done      int       `json:"done,omitempty"`
	Total     int       `json:"total,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

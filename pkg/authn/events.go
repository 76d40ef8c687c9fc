package authn

import "time"

// EventType names the auth lifecycle moments worth broadcasting to the
// dev debug stream.
type EventType string

const (
	EventLoginStarted   EventType = "login_started"
	EventLoginCompleted EventType = "login_completed"
	EventLoginFailed    EventType = "login_failed"
	EventTokenRefreshed EventType = "token_refreshed"
	EventLogout         EventType = "logout"
)

type Event struct {
	Time   time.Time `json:"time"`
	Type   EventType `json:"type"`
	DID    string    `json:"did,omitempty"`
	Handle string    `json:"handle,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Recorder receives auth events. Implementations must not block.
type Recorder interface {
	Record(event Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}

// NopRecorder discards all events.
func NopRecorder() Recorder {
	return nopRecorder{}
}

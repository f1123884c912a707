package event

import "time"

// Type identifies the kind of monitoring transition an event records.
type Type string

const (
	TypeBehindDetected  Type = "BEHIND_DETECTED"
	TypeDirtyDetected   Type = "DIRTY_DETECTED"
	TypeReviewCompleted Type = "REVIEW_COMPLETED"
	TypeReviewError     Type = "REVIEW_ERROR"
	TypeCIFailed        Type = "CI_FAILED"
	TypeCIPassed        Type = "CI_PASSED"
	TypeTimeout         Type = "TIMEOUT"
	TypeError           Type = "ERROR"
)

// MonitorEvent is an immutable record of one state transition. Construct via
// New; never mutate after creation.
type MonitorEvent struct {
	EventType       Type              `json:"event_type"`
	PRNumber        int               `json:"pr_number"`
	Message         string            `json:"message"`
	Details         map[string]string `json:"details,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
	Timestamp       string            `json:"timestamp"`
}

// New creates a timestamped MonitorEvent. The details map is copied so the
// caller cannot mutate the event afterward.
func New(t Type, prNumber int, message string, details map[string]string, suggestedAction string) MonitorEvent {
	var copied map[string]string
	if len(details) > 0 {
		copied = make(map[string]string, len(details))
		for k, v := range details {
			copied[k] = v
		}
	}
	return MonitorEvent{
		EventType:       t,
		PRNumber:        prNumber,
		Message:         message,
		Details:         copied,
		SuggestedAction: suggestedAction,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

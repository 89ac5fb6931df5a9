package observability

import "time"

const serviceName = "hospital-chat"

// EventEnvelope wraps events mirrored to the broker for the hospital audit
// and analytics consumers.
type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	Service    string      `json:"service"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewWSEvent builds a channel-lifecycle envelope (ws_connect, ws_disconnect,
// ws_error).
func NewWSEvent(name string, payload interface{}) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_events",
		EventName:  name,
		Service:    serviceName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

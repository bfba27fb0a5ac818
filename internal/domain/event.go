package domain

import "time"

// Event is an inbound customer event.
type Event struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	CorrelationKey   string         `json:"correlation_key"`
	CorrelationValue string         `json:"correlation_value"`
	Payload          map[string]any `json:"payload,omitempty"`
	ReceivedAt       time.Time      `json:"received_at"`
}

// IdempotencyKey identifies the processing of this event for one customer at one node.
func (e Event) IdempotencyKey(customerID, nodeID string) string {
	return e.ID + ":" + customerID + ":" + nodeID
}

// Customer is the directory record used for correlation and attribute lookups.
type Customer struct {
	ID         string            `json:"id"`
	Identities map[string]string `json:"identities,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

// TimerKind names what a timer releases.
type TimerKind string

const (
	TimerMaxTime  TimerKind = "max_time"
	TimerDelay    TimerKind = "delay"
	TimerWindow   TimerKind = "window"
	TimerContinue TimerKind = "continue"
)

// Timer is a scheduled firing for one customer at one node.
// A firing only acts if the state still holds the same node and ArmedTimerID.
type Timer struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	JourneyID  string    `json:"journey_id"`
	NodeID     string    `json:"node_id"`
	Kind       TimerKind `json:"kind"`
	DueAt      time.Time `json:"due_at"`
	Attempts   int       `json:"attempts,omitempty"` // failed firings so far
}

package domain

import "time"

// JourneyStatus is the lifecycle status of a customer inside one journey.
type JourneyStatus string

const (
	StatusActive  JourneyStatus = "ACTIVE"
	StatusWaiting JourneyStatus = "WAITING"
	StatusExited  JourneyStatus = "EXITED"
	StatusErrored JourneyStatus = "ERRORED"
)

// IsTerminal reports whether no further transitions are possible.
func (s JourneyStatus) IsTerminal() bool {
	return s == StatusExited || s == StatusErrored
}

// CustomerJourneyState is the persisted position of one customer in one journey.
// Version is bumped on every committed transition and is the compare-and-swap token.
type CustomerJourneyState struct {
	CustomerID           string        `json:"customer_id"`
	JourneyID            string        `json:"journey_id"`
	GraphVersion         int           `json:"graph_version"`
	CurrentNodeID        string        `json:"current_node_id"`
	Status               JourneyStatus `json:"status"`
	EnteredNodeAt        time.Time     `json:"entered_node_at"`
	WaitDeadline         *time.Time    `json:"wait_deadline,omitempty"`
	ArmedTimerID         string        `json:"armed_timer_id,omitempty"`
	LastProcessedEventID string        `json:"last_processed_event_id,omitempty"`
	Version              int64         `json:"version"`
	EnrolledAt           time.Time     `json:"enrolled_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so a transition can be planned without mutating the snapshot.
func (s *CustomerJourneyState) Clone() *CustomerJourneyState {
	c := *s
	if s.WaitDeadline != nil {
		d := *s.WaitDeadline
		c.WaitDeadline = &d
	}
	return &c
}

// TimeInNode returns how long the customer has been at the current node.
func (s *CustomerJourneyState) TimeInNode(now time.Time) time.Duration {
	return now.Sub(s.EnteredNodeAt)
}

// IsWaitingAt reports whether the customer is parked at nodeID.
func (s *CustomerJourneyState) IsWaitingAt(nodeID string) bool {
	return s.Status == StatusWaiting && s.CurrentNodeID == nodeID
}

// DeadlinePassed reports whether the wait deadline, if any, is at or before now.
func (s *CustomerJourneyState) DeadlinePassed(now time.Time) bool {
	return s.WaitDeadline != nil && !now.Before(*s.WaitDeadline)
}

// TransitionCause names what moved a customer.
type TransitionCause string

const (
	CauseEnroll   TransitionCause = "enroll"
	CauseEvent    TransitionCause = "event"
	CauseTimer    TransitionCause = "timer"
	CauseContinue TransitionCause = "continue"
	CauseResume   TransitionCause = "resume"
)

// TransitionEntry records one committed hop.
type TransitionEntry struct {
	FromNodeID string          `json:"from_node_id,omitempty"`
	ToNodeID   string          `json:"to_node_id"`
	BranchID   string          `json:"branch_id,omitempty"`
	Cause      TransitionCause `json:"cause"`
	EventID    string          `json:"event_id,omitempty"`
	TimerID    string          `json:"timer_id,omitempty"`
	JobID      string          `json:"job_id,omitempty"`
	Status     JourneyStatus   `json:"status"`
	At         time.Time       `json:"at"`
}

// TransitionHistory is the ordered list of hops for one customer in one journey.
type TransitionHistory struct {
	Entries []TransitionEntry `json:"entries"`
}

// Last returns the most recent entry, or nil if the history is empty.
func (h *TransitionHistory) Last() *TransitionEntry {
	if len(h.Entries) == 0 {
		return nil
	}
	return &h.Entries[len(h.Entries)-1]
}

package graph

import "time"

// BranchKind identifies a branch variant.
type BranchKind string

const (
	BranchEvent   BranchKind = "EVENT"
	BranchMaxTime BranchKind = "MAX_TIME"
)

// Branch is one labelled exit of a WAIT_UNTIL node.
type Branch interface {
	BranchID() string
	Kind() BranchKind
	branch()
}

// EventBranch is satisfied by an arriving event that matches its conditions.
type EventBranch struct {
	ID         string
	Conditions []Condition
}

func (b EventBranch) BranchID() string { return b.ID }
func (EventBranch) Kind() BranchKind    { return BranchEvent }
func (EventBranch) branch()             {}

// TimeKind selects how a MAX_TIME deadline is computed.
type TimeKind string

const (
	TimeDelayKind    TimeKind = "DELAY"
	TimeSpecificDate TimeKind = "SPECIFIC_DATE"
)

// MaxTimeBranch is taken when nothing else matched by its deadline.
type MaxTimeBranch struct {
	ID       string
	TimeKind TimeKind
	Delay    time.Duration
	Date     time.Time
}

func (b MaxTimeBranch) BranchID() string { return b.ID }
func (MaxTimeBranch) Kind() BranchKind    { return BranchMaxTime }
func (MaxTimeBranch) branch()             {}

// Deadline returns the absolute deadline for a customer that entered at enteredAt.
func (b MaxTimeBranch) Deadline(enteredAt time.Time) time.Time {
	if b.TimeKind == TimeSpecificDate {
		return b.Date
	}
	return enteredAt.Add(b.Delay)
}

// Relation joins a statement or condition to the next one.
type Relation string

const (
	RelationAnd Relation = "AND"
	RelationOr  Relation = "OR"
)

// Condition matches one event name plus statements over it.
// Relation joins this condition to the next; empty means AND.
type Condition struct {
	EventName  string
	Statements []Statement
	Relation   Relation
}

// StatementKind selects where a statement reads its value.
type StatementKind string

const (
	StatementProperty      StatementKind = "PROPERTY"
	StatementEventProperty StatementKind = "EVENT_PROPERTY"
)

// Operator is a statement comparison.
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpContains    Operator = "CONTAINS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpExists      Operator = "EXISTS"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpExists:
		return true
	}
	return false
}

// Statement compares one property against an expected value.
// Key may be a dotted path into nested maps.
type Statement struct {
	Kind     StatementKind
	Key      string
	Operator Operator
	Value    any
	Relation Relation
}

package graph

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NodeKind identifies a node variant.
type NodeKind string

const (
	KindStart         NodeKind = "START"
	KindMessage       NodeKind = "MESSAGE"
	KindWaitUntil     NodeKind = "WAIT_UNTIL"
	KindTimeDelay     NodeKind = "TIME_DELAY"
	KindTimeWindow    NodeKind = "TIME_WINDOW"
	KindJumpTo        NodeKind = "JUMP_TO"
	KindExit          NodeKind = "EXIT"
	KindUserAttribute NodeKind = "USER_ATTRIBUTE"
)

// Spec is the variant payload of a node. Implementations are closed to this package.
type Spec interface {
	Kind() NodeKind
	spec()
}

// Node is one step of a journey.
type Node struct {
	ID   string
	Spec Spec
}

// Kind returns the node's variant.
func (n Node) Kind() NodeKind {
	if n.Spec == nil {
		return ""
	}
	return n.Spec.Kind()
}

type Start struct{}

func (Start) Kind() NodeKind { return KindStart }
func (Start) spec()          {}

// Message enqueues a dispatch job on entry.
type Message struct {
	Channel    string
	TemplateID string
}

func (Message) Kind() NodeKind { return KindMessage }
func (Message) spec()          {}

// WaitUntil parks the customer until one of its branches is satisfied.
type WaitUntil struct {
	Branches []Branch
}

func (WaitUntil) Kind() NodeKind { return KindWaitUntil }
func (WaitUntil) spec()          {}

// MaxTime returns the timeout branch, if declared.
func (w WaitUntil) MaxTime() (MaxTimeBranch, bool) {
	for _, b := range w.Branches {
		if mt, ok := b.(MaxTimeBranch); ok {
			return mt, true
		}
	}
	return MaxTimeBranch{}, false
}

type TimeDelay struct {
	Duration time.Duration
}

func (TimeDelay) Kind() NodeKind { return KindTimeDelay }
func (TimeDelay) spec()          {}

// TimeWindow holds customers until wall-clock time falls between a start and
// an end cron occurrence.
type TimeWindow struct {
	StartCron string
	EndCron   string
	start     cron.Schedule
	end       cron.Schedule
}

func (TimeWindow) Kind() NodeKind { return KindTimeWindow }
func (TimeWindow) spec()          {}

// NewTimeWindow parses both cron expressions (standard five-field syntax, CRON_TZ= allowed).
func NewTimeWindow(startCron, endCron string) (TimeWindow, error) {
	start, err := cron.ParseStandard(startCron)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("parse start cron %q: %w", startCron, err)
	}
	end, err := cron.ParseStandard(endCron)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("parse end cron %q: %w", endCron, err)
	}
	return TimeWindow{StartCron: startCron, EndCron: endCron, start: start, end: end}, nil
}

// Contains reports whether t is inside an open window: the window closes
// before it opens again.
func (w TimeWindow) Contains(t time.Time) bool {
	if w.start == nil || w.end == nil {
		return false
	}
	return w.end.Next(t).Before(w.start.Next(t))
}

// NextOpen returns the next time the window opens after t.
func (w TimeWindow) NextOpen(t time.Time) time.Time {
	return w.start.Next(t)
}

// JumpTo moves the customer to another node without an edge.
type JumpTo struct {
	TargetID string
}

func (JumpTo) Kind() NodeKind { return KindJumpTo }
func (JumpTo) spec()          {}

type Exit struct{}

func (Exit) Kind() NodeKind { return KindExit }
func (Exit) spec()          {}

// Branch ids used on the outgoing edges of a USER_ATTRIBUTE node.
const (
	BranchMatched   = "matched"
	BranchUnmatched = "unmatched"
)

// UserAttribute routes on the customer's attribute snapshot.
type UserAttribute struct {
	Statements []Statement
}

func (UserAttribute) Kind() NodeKind { return KindUserAttribute }
func (UserAttribute) spec()          {}

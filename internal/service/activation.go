package service

import (
	"context"
	"errors"
	"fmt"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/graph"
)

// ActivationRequest activates a journey. When Definition is nil it is loaded
// through the configured definition loader.
type ActivationRequest struct {
	JourneyID  string
	Definition *config.JourneyDefinition
	Members    []string
}

// EnrollResult lists what happened to each requested customer.
type EnrollResult struct {
	Enrolled []string `json:"enrolled"`
	Skipped  []string `json:"skipped"`
	JobIDs   []string `json:"jobIds"`
}

// ActivationResult is returned by Activate.
type ActivationResult struct {
	JourneyID string `json:"journeyId"`
	Version   int    `json:"version"`
	Resumed   int    `json:"resumed"`
	EnrollResult
}

// Activate validates the definition, stores it as a new frozen version, marks
// it active and enrolls the members. Validation failures are returned before
// anything is stored.
func (e *Engine) Activate(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	def := req.Definition
	if def == nil {
		if e.loader == nil {
			return nil, fmt.Errorf("%w: no definition given and no loader configured", domain.ErrInvalidConfig)
		}
		loaded, err := e.loader.LoadJourneyDefinition(req.JourneyID)
		if err != nil {
			return nil, &domain.ConfigError{ConfigName: req.JourneyID, Err: err}
		}
		def = loaded
	}
	if req.JourneyID != "" && def.Journey.ID != req.JourneyID {
		return nil, &domain.ConfigError{
			ConfigName: req.JourneyID,
			Field:      "journey.id",
			Err:        fmt.Errorf("%w: definition is for %q", domain.ErrInvalidConfig, def.Journey.ID),
		}
	}
	if _, err := def.Build(0); err != nil {
		return nil, err
	}

	journeyID := def.Journey.ID
	version, err := e.journeys.SaveVersion(ctx, def)
	if err != nil {
		return nil, &domain.JourneyError{JourneyID: journeyID, Op: "SaveVersion", Err: err}
	}
	g, err := def.Build(version)
	if err != nil {
		return nil, err
	}
	e.graphs.Put(g)

	if err := e.journeys.SetActive(ctx, journeyID, version); err != nil {
		return nil, &domain.JourneyError{JourneyID: journeyID, Op: "SetActive", Err: err}
	}
	e.logger.Info("journey activated", "journey_id", journeyID, "version", version, "nodes", len(g.Nodes()))

	result := &ActivationResult{
		JourneyID: journeyID,
		Version:   version,
		Resumed:   e.resume(ctx, journeyID),
	}

	// The journey stays active when enrollment stops part way; the result
	// lists who got in.
	enrolled, err := e.enrollInto(ctx, g, req.Members)
	result.EnrollResult = *enrolled
	if err != nil {
		return result, err
	}
	return result, nil
}

// Deactivate stops new enrollments and the arming of time-bound timers.
// Customers already in flight keep running.
func (e *Engine) Deactivate(ctx context.Context, journeyID string) error {
	if err := e.journeys.Deactivate(ctx, journeyID); err != nil {
		return &domain.JourneyError{JourneyID: journeyID, Op: "Deactivate", Err: err}
	}
	e.logger.Info("journey deactivated", "journey_id", journeyID)
	return nil
}

// Enroll places customers at the entry node of the journey's active version.
// Customers already holding a state in the journey are skipped. When the
// dispatch queue fills, the remaining customers are refused with
// ErrQueueSaturated and the partial result is returned.
func (e *Engine) Enroll(ctx context.Context, journeyID string, customerIDs []string) (*EnrollResult, error) {
	version, err := e.journeys.ActiveVersion(ctx, journeyID)
	if err != nil {
		return nil, &domain.JourneyError{JourneyID: journeyID, Op: "Enroll", Err: err}
	}
	g, err := e.graphs.Get(ctx, journeyID, version)
	if err != nil {
		return nil, &domain.JourneyError{JourneyID: journeyID, Op: "LoadGraph", Err: err}
	}
	return e.enrollInto(ctx, g, customerIDs)
}

func (e *Engine) enrollInto(ctx context.Context, g *graph.Graph, customerIDs []string) (*EnrollResult, error) {
	result := &EnrollResult{Enrolled: []string{}, Skipped: []string{}, JobIDs: []string{}}
	seen := make(map[string]bool, len(customerIDs))

	for _, customerID := range customerIDs {
		if customerID == "" || seen[customerID] {
			continue
		}
		seen[customerID] = true

		out, err := e.enroll(ctx, g, customerID)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				result.Skipped = append(result.Skipped, customerID)
				continue
			}
			return result, err
		}
		result.Enrolled = append(result.Enrolled, customerID)
		result.JobIDs = append(result.JobIDs, out.JobIDs...)
	}
	return result, nil
}

// resume re-arms customers parked at a time-bound node while the journey was
// inactive. The original entry time is kept, so overdue customers fire on the
// next scheduler pass.
func (e *Engine) resume(ctx context.Context, journeyID string) int {
	if e.scanner == nil {
		return 0
	}
	states, err := e.scanner.ScanJourneys(ctx, journeyID)
	if err != nil {
		e.logger.Warn("failed to scan journey for resume", "journey_id", journeyID, "error", err)
		return 0
	}

	resumed := 0
	for _, st := range states {
		if st.Status != domain.StatusWaiting || st.ArmedTimerID != "" {
			continue
		}
		out, err := e.advance(ctx, journeyID, st.CustomerID, func(_ context.Context, state *domain.CustomerJourneyState, g *graph.Graph) (*hop, error) {
			if state.Status != domain.StatusWaiting || state.ArmedTimerID != "" {
				return nil, nil
			}
			node, ok := g.Node(state.CurrentNodeID)
			if !ok || !holdsOnTimer(node) {
				return nil, nil
			}
			return &hop{to: node.ID, cause: domain.CauseResume}, nil
		})
		if err != nil {
			e.logger.Warn("failed to resume customer", "journey_id", journeyID, "customer_id", st.CustomerID, "error", err)
			continue
		}
		if out.Advanced {
			resumed++
		}
	}
	return resumed
}

func holdsOnTimer(node graph.Node) bool {
	switch spec := node.Spec.(type) {
	case graph.WaitUntil:
		_, ok := spec.MaxTime()
		return ok
	case graph.TimeDelay, graph.TimeWindow:
		return true
	default:
		return false
	}
}

// CustomerView is a customer's position in a journey plus its history.
type CustomerView struct {
	State   *domain.CustomerJourneyState `json:"state"`
	History []domain.TransitionEntry     `json:"history"`
}

// CustomerJourney returns the state and transition history of one customer.
func (e *Engine) CustomerJourney(ctx context.Context, journeyID, customerID string) (*CustomerView, error) {
	state, err := e.states.GetJourneyState(ctx, journeyID, customerID)
	if err != nil {
		return nil, err
	}
	history, err := e.states.GetHistory(ctx, journeyID, customerID)
	if err != nil {
		return nil, &domain.JourneyError{JourneyID: journeyID, CustomerID: customerID, Op: "GetHistory", Err: err}
	}
	view := &CustomerView{State: state, History: []domain.TransitionEntry{}}
	if history != nil && history.Entries != nil {
		view.History = history.Entries
	}
	return view, nil
}

// UpsertCustomer stores a customer's identities and attributes.
func (e *Engine) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidConfig)
	}
	return e.customers.UpsertCustomer(ctx, customer)
}

// JourneyStats counts customers of one journey by status and by node.
type JourneyStats struct {
	JourneyID string                       `json:"journeyId"`
	Active    bool                         `json:"active"`
	Version   int                          `json:"version,omitempty"`
	Total     int                          `json:"total"`
	ByStatus  map[domain.JourneyStatus]int `json:"byStatus"`
	ByNode    map[string]int               `json:"byNode"`
}

// Stats scans the journey's customers.
func (e *Engine) Stats(ctx context.Context, journeyID string) (*JourneyStats, error) {
	stats := &JourneyStats{
		JourneyID: journeyID,
		ByStatus:  make(map[domain.JourneyStatus]int),
		ByNode:    make(map[string]int),
	}
	if version, err := e.journeys.ActiveVersion(ctx, journeyID); err == nil {
		stats.Active = true
		stats.Version = version
	}
	if e.scanner == nil {
		return stats, nil
	}

	states, err := e.scanner.ScanJourneys(ctx, journeyID)
	if err != nil {
		return nil, &domain.JourneyError{JourneyID: journeyID, Op: "ScanJourneys", Err: err}
	}
	for _, st := range states {
		stats.Total++
		stats.ByStatus[st.Status]++
		stats.ByNode[st.CurrentNodeID]++
	}
	return stats, nil
}

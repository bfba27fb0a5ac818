package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"journey-engine/internal/domain"
)

// Advance records one customer moving because of an event.
type Advance struct {
	JourneyID  string               `json:"journeyId"`
	FromNodeID string               `json:"fromNodeId"`
	ToNodeID   string               `json:"toNodeId"`
	Status     domain.JourneyStatus `json:"status"`
	JobIDs     []string             `json:"jobIds,omitempty"`
}

// IngestResult is what one ingested event caused.
type IngestResult struct {
	EventID    string    `json:"eventId"`
	CustomerID string    `json:"customerId,omitempty"`
	Advances   []Advance `json:"advances"`
}

// AdvancedCustomers returns the ids of customers that moved.
func (r *IngestResult) AdvancedCustomers() []string {
	if len(r.Advances) == 0 {
		return []string{}
	}
	return []string{r.CustomerID}
}

// JobIDs returns every job enqueued by the nodes the event moved customers into.
func (r *IngestResult) JobIDs() []string {
	ids := []string{}
	for _, a := range r.Advances {
		ids = append(ids, a.JobIDs...)
	}
	return ids
}

// Router resolves inbound events to customers and hands them to the engine.
type Router struct {
	engine *Engine
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(engine *Engine, logger *slog.Logger) *Router {
	return &Router{engine: engine, logger: logger}
}

// Ingest applies event to every journey in which the correlated customer is
// waiting. Unknown correlations are logged and produce an empty result.
// When the dispatch queue is saturated the event is rejected with
// ErrQueueSaturated. If the queue fills while journeys are being advanced,
// the advances made so far are returned together with ErrQueueSaturated.
func (r *Router) Ingest(ctx context.Context, event domain.Event) (*IngestResult, error) {
	if event.Name == "" {
		return nil, fmt.Errorf("%w: event name is required", domain.ErrInvalidConfig)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = r.engine.now()
	}

	logger := r.logger.With(
		"event_id", event.ID,
		"event", event.Name,
		"correlation_key", event.CorrelationKey,
	)

	if r.engine.dispatcher.Saturated(ctx) {
		logger.Warn("rejecting event, dispatch queue saturated")
		return nil, domain.ErrQueueSaturated
	}

	result := &IngestResult{EventID: event.ID, Advances: []Advance{}}

	customerID, err := r.engine.customers.ResolveCustomer(ctx, event.CorrelationKey, event.CorrelationValue)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("event does not resolve to a customer", "error", domain.ErrUnknownCorrelation)
			return result, nil
		}
		return nil, fmt.Errorf("resolve customer: %w", err)
	}
	result.CustomerID = customerID
	logger = logger.With("customer_id", customerID)

	states, err := r.engine.states.ListCustomerJourneys(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list customer journeys: %w", err)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].JourneyID < states[j].JourneyID })

	var attributes map[string]any
	for _, state := range states {
		if state.Status != domain.StatusWaiting {
			continue
		}
		// Loaded before the first transition, so a failure leaves every
		// journey untouched and the event can be redelivered.
		if attributes == nil {
			attributes, err = r.engine.attributes(ctx, customerID)
			if err != nil {
				return nil, err
			}
		}

		out, err := r.engine.ApplyEvent(ctx, state.JourneyID, customerID, event, attributes)
		if err != nil {
			if errors.Is(err, domain.ErrQueueSaturated) {
				logger.Warn("dispatch queue saturated mid-event", "journey_id", state.JourneyID)
				return result, domain.ErrQueueSaturated
			}
			logger.Error("failed to apply event", "journey_id", state.JourneyID, "error", err)
			continue
		}
		if !out.Advanced {
			continue
		}
		result.Advances = append(result.Advances, Advance{
			JourneyID:  state.JourneyID,
			FromNodeID: out.FromNodeID,
			ToNodeID:   out.State.CurrentNodeID,
			Status:     out.State.Status,
			JobIDs:     out.JobIDs,
		})
	}

	logger.Debug("event ingested", "advanced", len(result.Advances))
	return result, nil
}

// Package memory provides in-process implementations of the storage ports,
// used by STORE_BACKEND=memory and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"journey-engine/internal/domain"
)

// StateStore implements ports.StateRepository and ports.JourneyScanner.
// Terminal states are dropped archiveTTL after they were reached, along with
// their history, so the customer can enroll again.
type StateStore struct {
	mu         sync.RWMutex
	states     map[string]*domain.CustomerJourneyState
	history    map[string][]domain.TransitionEntry
	expires    map[string]time.Time
	archiveTTL time.Duration
	now        func() time.Time
}

// StateOption configures a StateStore.
type StateOption func(*StateStore)

// WithArchiveTTL expires terminal states ttl after they were reached, as
// measured by clock.
func WithArchiveTTL(ttl time.Duration, clock func() time.Time) StateOption {
	return func(s *StateStore) {
		s.archiveTTL = ttl
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStateStore creates an empty StateStore. Without WithArchiveTTL terminal
// states are kept forever.
func NewStateStore(opts ...StateOption) *StateStore {
	s := &StateStore{
		states:  make(map[string]*domain.CustomerJourneyState),
		history: make(map[string][]domain.TransitionEntry),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func stateKey(journeyID, customerID string) string {
	return journeyID + "\x00" + customerID
}

// live returns the state under key unless it has expired. Callers hold mu.
func (s *StateStore) live(key string) (*domain.CustomerJourneyState, bool) {
	state, ok := s.states[key]
	if !ok {
		return nil, false
	}
	if at, ok := s.expires[key]; ok && !s.now().Before(at) {
		return nil, false
	}
	return state, true
}

// store writes state and sets or clears its expiry. Callers hold mu.
func (s *StateStore) store(key string, state *domain.CustomerJourneyState) {
	s.states[key] = state.Clone()
	if s.archiveTTL > 0 && state.Status.IsTerminal() {
		s.expires[key] = s.now().Add(s.archiveTTL)
		return
	}
	delete(s.expires, key)
}

// GetJourneyState returns a copy of the stored state.
func (s *StateStore) GetJourneyState(_ context.Context, journeyID, customerID string) (*domain.CustomerJourneyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.live(stateKey(journeyID, customerID))
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state.Clone(), nil
}

// CreateJourneyState stores state with version 1. An expired state is
// replaced and its history reset.
func (s *StateStore) CreateJourneyState(_ context.Context, state *domain.CustomerJourneyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(state.JourneyID, state.CustomerID)
	if _, ok := s.live(key); ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.states[key]; ok {
		delete(s.history, key)
	}
	state.Version = 1
	s.store(key, state)
	return nil
}

// CompareAndSwap replaces the state if its version is still expectedVersion.
func (s *StateStore) CompareAndSwap(_ context.Context, state *domain.CustomerJourneyState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(state.JourneyID, state.CustomerID)
	current, ok := s.live(key)
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrTransitionConflict
	}
	state.Version = expectedVersion + 1
	s.store(key, state)
	return nil
}

// ListCustomerJourneys returns every state held by customerID.
func (s *StateStore) ListCustomerJourneys(_ context.Context, customerID string) ([]*domain.CustomerJourneyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CustomerJourneyState
	for key, state := range s.states {
		if _, ok := s.live(key); ok && state.CustomerID == customerID {
			out = append(out, state.Clone())
		}
	}
	return out, nil
}

// AppendHistory appends entry to the customer's journey history.
func (s *StateStore) AppendHistory(_ context.Context, journeyID, customerID string, entry domain.TransitionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(journeyID, customerID)
	s.history[key] = append(s.history[key], entry)
	return nil
}

// GetHistory returns a copy of the history.
func (s *StateStore) GetHistory(_ context.Context, journeyID, customerID string) (*domain.TransitionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := stateKey(journeyID, customerID)
	if _, ok := s.states[key]; ok {
		if _, live := s.live(key); !live {
			return &domain.TransitionHistory{Entries: []domain.TransitionEntry{}}, nil
		}
	}
	entries := s.history[key]
	return &domain.TransitionHistory{Entries: append([]domain.TransitionEntry{}, entries...)}, nil
}

// ScanAllJourneys returns every stored state ordered by journey and customer.
func (s *StateStore) ScanAllJourneys(_ context.Context) ([]*domain.CustomerJourneyState, error) {
	return s.scan(func(*domain.CustomerJourneyState) bool { return true }), nil
}

// ScanJourneys returns the states of one journey.
func (s *StateStore) ScanJourneys(_ context.Context, journeyID string) ([]*domain.CustomerJourneyState, error) {
	return s.scan(func(st *domain.CustomerJourneyState) bool { return st.JourneyID == journeyID }), nil
}

func (s *StateStore) scan(keep func(*domain.CustomerJourneyState) bool) []*domain.CustomerJourneyState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CustomerJourneyState
	for key, st := range s.states {
		if _, ok := s.live(key); ok && keep(st) {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JourneyID != out[j].JourneyID {
			return out[i].JourneyID < out[j].JourneyID
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	return out
}

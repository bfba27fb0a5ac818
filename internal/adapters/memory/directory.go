package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
)

// IdempotencyStore implements ports.IdempotencyStore. Keys never expire.
type IdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewIdempotencyStore creates an empty IdempotencyStore.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{keys: make(map[string]struct{})}
}

// Seen reports whether key was marked.
func (s *IdempotencyStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

// Mark records key and reports whether it was new.
func (s *IdempotencyStore) Mark(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

// directCorrelationKeys resolve to the customer id without a lookup.
var directCorrelationKeys = map[string]bool{"id": true, "customer_id": true, "customerId": true}

// CustomerDirectory implements ports.CustomerDirectory.
type CustomerDirectory struct {
	mu         sync.RWMutex
	customers  map[string]domain.Customer
	identities map[string]string
}

// NewCustomerDirectory creates an empty directory.
func NewCustomerDirectory() *CustomerDirectory {
	return &CustomerDirectory{
		customers:  make(map[string]domain.Customer),
		identities: make(map[string]string),
	}
}

func identityKey(key, value string) string {
	return key + "\x00" + value
}

// ResolveCustomer maps a correlation pair to a customer id.
func (d *CustomerDirectory) ResolveCustomer(_ context.Context, key, value string) (string, error) {
	if value == "" {
		return "", domain.ErrNotFound
	}
	if directCorrelationKeys[key] {
		return value, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.identities[identityKey(key, value)]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

// GetAttributes returns a copy of the customer's attributes.
func (d *CustomerDirectory) GetAttributes(_ context.Context, customerID string) (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[customerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return maps.Clone(c.Attributes), nil
}

// UpsertCustomer replaces the customer's record and identity index.
func (d *CustomerDirectory) UpsertCustomer(_ context.Context, customer domain.Customer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.customers[customer.ID]; ok {
		for k, v := range old.Identities {
			delete(d.identities, identityKey(k, v))
		}
	}
	for k, v := range customer.Identities {
		d.identities[identityKey(k, v)] = customer.ID
	}
	customer.Attributes = maps.Clone(customer.Attributes)
	customer.Identities = maps.Clone(customer.Identities)
	d.customers[customer.ID] = customer
	return nil
}

// JourneyStore implements ports.JourneyRepository.
type JourneyStore struct {
	mu       sync.RWMutex
	versions map[string][]*config.JourneyDefinition
	active   map[string]int
}

// NewJourneyStore creates an empty JourneyStore.
func NewJourneyStore() *JourneyStore {
	return &JourneyStore{
		versions: make(map[string][]*config.JourneyDefinition),
		active:   make(map[string]int),
	}
}

// SaveVersion appends def and returns its 1-based version.
func (s *JourneyStore) SaveVersion(_ context.Context, def *config.JourneyDefinition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := def.Journey.ID
	s.versions[id] = append(s.versions[id], def)
	return len(s.versions[id]), nil
}

// GetVersion returns a stored version.
func (s *JourneyStore) GetVersion(_ context.Context, journeyID string, version int) (*config.JourneyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[journeyID]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("journey %s v%d: %w", journeyID, version, domain.ErrNotFound)
	}
	return versions[version-1], nil
}

// SetActive marks version as active.
func (s *JourneyStore) SetActive(_ context.Context, journeyID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version < 1 || version > len(s.versions[journeyID]) {
		return fmt.Errorf("journey %s v%d: %w", journeyID, version, domain.ErrNotFound)
	}
	s.active[journeyID] = version
	return nil
}

// Deactivate clears the active version.
func (s *JourneyStore) Deactivate(_ context.Context, journeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.versions[journeyID]) == 0 {
		return fmt.Errorf("journey %s: %w", journeyID, domain.ErrNotFound)
	}
	delete(s.active, journeyID)
	return nil
}

// ActiveVersion returns the active version or domain.ErrJourneyInactive.
func (s *JourneyStore) ActiveVersion(_ context.Context, journeyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.active[journeyID]
	if !ok {
		return 0, domain.ErrJourneyInactive
	}
	return v, nil
}

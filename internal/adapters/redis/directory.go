package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"journey-engine/internal/domain"
)

// IdempotencyStore implements ports.IdempotencyStore with expiring keys.
type IdempotencyStore struct {
	client *Client
	ttl    time.Duration
}

// NewIdempotencyStore creates a store whose marks expire after ttl.
func NewIdempotencyStore(client *Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Seen reports whether key was marked.
func (s *IdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Native().Exists(ctx, fmt.Sprintf(KeyPatternIdempotency, key)).Result()
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return n > 0, nil
}

// Mark records key. Returns true if this call created it.
func (s *IdempotencyStore) Mark(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyPatternIdempotency, key), "1", s.ttl)
	if err != nil {
		return false, fmt.Errorf("mark idempotency key: %w", err)
	}
	return ok, nil
}

// CustomerDirectory implements ports.CustomerDirectory. Each identity
// (key, value) pair points at a customer id; the profile holds attributes.
type CustomerDirectory struct {
	client *Client
}

// NewCustomerDirectory creates a new Redis customer directory.
func NewCustomerDirectory(client *Client) *CustomerDirectory {
	return &CustomerDirectory{client: client}
}

// ResolveCustomer maps a correlation pair to a customer id.
// "id" and "customer_id" correlations name the customer directly.
func (d *CustomerDirectory) ResolveCustomer(ctx context.Context, key, value string) (string, error) {
	if value == "" {
		return "", domain.ErrNotFound
	}
	switch key {
	case "id", "customer_id", "customerId":
		return value, nil
	}

	id, err := d.client.Get(ctx, fmt.Sprintf(KeyPatternIdentity, key, value))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("resolve customer: %w", err)
	}
	return id, nil
}

func (d *CustomerDirectory) getCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	data, err := d.client.Get(ctx, fmt.Sprintf(KeyPatternCustomer, customerID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	var customer domain.Customer
	if err := json.Unmarshal([]byte(data), &customer); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &customer, nil
}

// GetAttributes returns the customer's attribute snapshot.
func (d *CustomerDirectory) GetAttributes(ctx context.Context, customerID string) (map[string]any, error) {
	customer, err := d.getCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.Attributes == nil {
		return map[string]any{}, nil
	}
	return customer.Attributes, nil
}

// UpsertCustomer replaces the profile and re-points its identities.
func (d *CustomerDirectory) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	previous, err := d.getCustomer(ctx, customer.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}

	pipe := d.client.Native().TxPipeline()
	if previous != nil {
		for k, v := range previous.Identities {
			if customer.Identities[k] != v {
				pipe.Del(ctx, fmt.Sprintf(KeyPatternIdentity, k, v))
			}
		}
	}
	pipe.Set(ctx, fmt.Sprintf(KeyPatternCustomer, customer.ID), data, 0)
	for k, v := range customer.Identities {
		pipe.Set(ctx, fmt.Sprintf(KeyPatternIdentity, k, v), customer.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
)

// Validate validates the application configuration.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Store {
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
		if c.Redis.DialTimeout <= 0 {
			errs = append(errs, errors.New("redis dial timeout must be positive"))
		}
		if c.Redis.ClusterMode && len(c.Redis.SentinelAddrs) > 0 {
			errs = append(errs, errors.New("redis cluster mode and sentinel are mutually exclusive"))
		}
		if len(c.Redis.SentinelAddrs) > 0 && c.Redis.MasterName == "" {
			errs = append(errs, errors.New("redis sentinel requires a master name"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store))
	}

	if c.Engine.StateTTL <= 0 {
		errs = append(errs, errors.New("engine state TTL must be positive"))
	}
	if c.Engine.ArchiveTTL <= 0 {
		errs = append(errs, errors.New("engine archive TTL must be positive"))
	}
	if c.Engine.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("engine idempotency TTL must be positive"))
	}
	if c.Engine.QueueCapacity <= 0 {
		errs = append(errs, errors.New("engine queue capacity must be positive"))
	}
	if c.Engine.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("engine dispatch workers must be positive"))
	}
	if c.Engine.SchedulerInterval <= 0 {
		errs = append(errs, errors.New("engine scheduler interval must be positive"))
	}
	if c.Engine.TimerBatch <= 0 {
		errs = append(errs, errors.New("engine timer batch must be positive"))
	}

	if c.Channel.Endpoint != "" && c.Channel.MaxRetries < 0 {
		errs = append(errs, errors.New("channel max retries cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ValidateJourneyDefinition checks the document's shape. Graph invariants are
// checked by graph.Validate when the definition is built.
func ValidateJourneyDefinition(def *JourneyDefinition) error {
	var errs []error

	if def.Journey.ID == "" {
		errs = append(errs, errors.New("journey.id is required"))
	}

	if len(def.Nodes) == 0 {
		errs = append(errs, errors.New("nodes must not be empty"))
	}

	for i, node := range def.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("nodes[%d].id is required", i))
		}
		if node.Type == "" {
			errs = append(errs, fmt.Errorf("nodes[%d].type is required", i))
		}
		if node.Delay != nil && node.Delay.Minutes <= 0 {
			errs = append(errs, fmt.Errorf("nodes[%d].delay.minutes must be positive", i))
		}

		for j, branch := range node.Branches {
			if branch.ID == "" {
				errs = append(errs, fmt.Errorf("nodes[%d].branches[%d].id is required", i, j))
			}
			if branch.Delay != nil && branch.Delay.Minutes <= 0 {
				errs = append(errs, fmt.Errorf("nodes[%d].branches[%d].delay.minutes must be positive", i, j))
			}
		}
	}

	for i, edge := range def.Edges {
		if edge.From == "" || edge.To == "" {
			errs = append(errs, fmt.Errorf("edges[%d] needs from and to", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("journey definition validation failed: %w", errors.Join(errs...))
	}

	return nil
}

package service

import (
	"context"
	"fmt"
	"sync"

	"journey-engine/internal/graph"
	"journey-engine/internal/ports"
)

// GraphCache holds built graphs keyed by journey and version. Versions are
// immutable once saved, so entries never need invalidation.
type GraphCache struct {
	journeys ports.JourneyRepository

	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// NewGraphCache creates a cache backed by the journey repository.
func NewGraphCache(journeys ports.JourneyRepository) *GraphCache {
	return &GraphCache{
		journeys: journeys,
		graphs:   make(map[string]*graph.Graph),
	}
}

func cacheKey(journeyID string, version int) string {
	return fmt.Sprintf("%s@%d", journeyID, version)
}

// Get returns the graph for journeyID at version, loading and building it on
// first use.
func (c *GraphCache) Get(ctx context.Context, journeyID string, version int) (*graph.Graph, error) {
	key := cacheKey(journeyID, version)

	c.mu.RLock()
	if g, ok := c.graphs[key]; ok {
		c.mu.RUnlock()
		return g, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if g, ok := c.graphs[key]; ok {
		return g, nil
	}

	def, err := c.journeys.GetVersion(ctx, journeyID, version)
	if err != nil {
		return nil, fmt.Errorf("load journey %s v%d: %w", journeyID, version, err)
	}

	g, err := def.Build(version)
	if err != nil {
		return nil, err
	}

	c.graphs[key] = g
	return g, nil
}

// Put stores an already built graph.
func (c *GraphCache) Put(g *graph.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[cacheKey(g.JourneyID(), g.Version())] = g
}

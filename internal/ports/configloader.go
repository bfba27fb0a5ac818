package ports

import (
	"journey-engine/internal/config"
)

// JourneyDefinitionLoader loads authored journey documents by id.
type JourneyDefinitionLoader interface {
	// LoadJourneyDefinition loads the definition for a specific journey.
	LoadJourneyDefinition(journeyID string) (*config.JourneyDefinition, error)
}

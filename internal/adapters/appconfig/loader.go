package appconfig

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
)

// DefaultCacheTTL bounds how long a fetched definition is reused.
const DefaultCacheTTL = 5 * time.Minute

type cachedDefinition struct {
	def      *config.JourneyDefinition
	loadedAt time.Time
}

// Loader implements ports.JourneyDefinitionLoader using AWS AppConfig.
type Loader struct {
	httpClient *http.Client
	settings   config.AppConfigSettings
	logger     *slog.Logger
	cacheTTL   time.Duration
	now        func() time.Time
	cache      map[string]cachedDefinition
	mu         sync.RWMutex
}

// NewLoader creates a new AppConfig loader. A non-positive cacheTTL uses DefaultCacheTTL.
func NewLoader(cfg config.AppConfigSettings, cacheTTL time.Duration, logger *slog.Logger) *Loader {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Loader{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		settings: cfg,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedDefinition),
	}
}

// LoadJourneyDefinition loads the definition for a specific journey.
func (l *Loader) LoadJourneyDefinition(journeyID string) (*config.JourneyDefinition, error) {
	// Check cache with read lock
	l.mu.RLock()
	if cached, ok := l.fresh(journeyID); ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	// Acquire write lock for loading
	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if cached, ok := l.fresh(journeyID); ok {
		return cached, nil
	}

	data, err := l.loadProfile(fmt.Sprintf("journey.%s", journeyID))
	if err != nil {
		return nil, fmt.Errorf("load journey definition %s: %w", journeyID, err)
	}

	def, err := config.ParseJourneyDefinition(data)
	if err != nil {
		return nil, &domain.ConfigError{ConfigName: journeyID, Err: err}
	}
	if err := config.ValidateJourneyDefinition(def); err != nil {
		return nil, &domain.ConfigError{ConfigName: journeyID, Err: err}
	}

	l.cache[journeyID] = cachedDefinition{def: def, loadedAt: l.now()}
	l.logger.Debug("loaded journey definition", "journey_id", journeyID)

	return def, nil
}

// fresh must be called with l.mu held.
func (l *Loader) fresh(journeyID string) (*config.JourneyDefinition, bool) {
	cached, ok := l.cache[journeyID]
	if !ok || l.now().Sub(cached.loadedAt) >= l.cacheTTL {
		return nil, false
	}
	return cached.def, true
}

// profileURL uses the AppConfig agent's path when an application and
// environment are configured, and a flat "<profile>.yaml" path otherwise.
func (l *Loader) profileURL(profile string) string {
	if l.settings.ApplicationID != "" && l.settings.EnvironmentID != "" {
		return fmt.Sprintf("%s/applications/%s/environments/%s/configurations/%s",
			l.settings.Endpoint, l.settings.ApplicationID, l.settings.EnvironmentID, profile)
	}
	return fmt.Sprintf("%s/%s.yaml", l.settings.Endpoint, profile)
}

// loadProfile fetches a configuration profile from AppConfig.
func (l *Loader) loadProfile(profile string) ([]byte, error) {
	resp, err := l.httpClient.Get(l.profileURL(profile))
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			l.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("config %s: %w", profile, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("config %s: unexpected status %d", profile, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// ClearCache clears the definition cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]cachedDefinition)
}

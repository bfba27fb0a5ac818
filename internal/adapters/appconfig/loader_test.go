package appconfig

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/logging"
)

const signupYAML = `
journey:
  id: signup
nodes:
  - id: start
    type: START
  - id: done
    type: EXIT
edges:
  - from: start
    to: done
`

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	handler := func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(signupYAML))
	}
	mux.HandleFunc("/journey.signup.yaml", handler)
	mux.HandleFunc("/applications/app/environments/prod/configurations/journey.signup", handler)
	mux.HandleFunc("/journey.broken.yaml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("journey: {}\nnodes: []\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoader_LoadsAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)

	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	loader := NewLoader(config.AppConfigSettings{Endpoint: srv.URL}, time.Minute, logging.Discard())
	loader.now = func() time.Time { return now }

	def, err := loader.LoadJourneyDefinition("signup")
	require.NoError(t, err)
	assert.Equal(t, "signup", def.Journey.ID)
	assert.Len(t, def.Nodes, 2)

	_, err = loader.LoadJourneyDefinition("signup")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	_, err = loader.LoadJourneyDefinition("signup")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	loader.ClearCache()
	_, err = loader.LoadJourneyDefinition("signup")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestLoader_AgentPath(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)

	loader := NewLoader(config.AppConfigSettings{
		Endpoint:      srv.URL,
		ApplicationID: "app",
		EnvironmentID: "prod",
	}, 0, logging.Discard())

	def, err := loader.LoadJourneyDefinition("signup")
	require.NoError(t, err)
	assert.Equal(t, "signup", def.Journey.ID)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoader_Errors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	loader := NewLoader(config.AppConfigSettings{Endpoint: srv.URL}, 0, logging.Discard())

	_, err := loader.LoadJourneyDefinition("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = loader.LoadJourneyDefinition("broken")
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "broken", cfgErr.ConfigName)
}

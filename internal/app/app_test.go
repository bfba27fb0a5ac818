package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journey-engine/internal/adapters/channel"
	"journey-engine/internal/api"
	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/logging"
)

const signupDefinition = `{
  "journey": {"id": "signup"},
  "nodes": [
    {"id": "start", "type": "START"},
    {"id": "wait", "type": "WAIT_UNTIL", "branches": [
      {"id": "verified", "type": "EVENT", "conditions": [{"event": "signup_verified"}]},
      {"id": "timeout", "type": "MAX_TIME", "delay": {"minutes": 1440}}
    ]},
    {"id": "welcome", "type": "MESSAGE", "channel": "email", "template": "welcome"},
    {"id": "reminder", "type": "MESSAGE", "channel": "email", "template": "reminder"},
    {"id": "done", "type": "EXIT"}
  ],
  "edges": [
    {"from": "start", "to": "wait"},
    {"from": "wait", "to": "welcome", "branch": "verified"},
    {"from": "wait", "to": "reminder", "branch": "timeout"},
    {"from": "welcome", "to": "done"},
    {"from": "reminder", "to": "done"}
  ]
}`

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Store: config.StoreMemory,
		Engine: config.EngineConfig{
			StateTTL:          time.Hour,
			ArchiveTTL:        time.Hour,
			IdempotencyTTL:    time.Hour,
			QueueCapacity:     100,
			DispatchWorkers:   2,
			SchedulerInterval: 10 * time.Millisecond,
			TimerBatch:        10,
		},
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type lambdaClient struct {
	t *testing.T
	h *api.LambdaHandler
}

func (c lambdaClient) call(method, path string, body any) (int, json.RawMessage) {
	c.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(c.t, err)
	resp, err := c.h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       string(raw),
	})
	require.NoError(c.t, err)
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal([]byte(resp.Body), &env)
	return resp.StatusCode, env.Data
}

func TestApp_SignupScenario(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}
	logger := logging.Discard()
	application := NewMemory(testConfig(), nil, channel.NewLogSender(logger), logger, clk.Now)
	client := lambdaClient{t: t, h: api.NewLambdaHandler(api.NewHandler(application, logger), logger)}

	status, _ := client.call(http.MethodPost, "/journeys/activate", map[string]any{
		"definition": json.RawMessage(signupDefinition),
		"members":    []string{"c1", "c2"},
	})
	require.Equal(t, http.StatusOK, status)

	status, data := client.call(http.MethodPost, "/events", map[string]any{
		"correlationKey":   "customer_id",
		"correlationValue": "c1",
		"eventId":          "evt-1",
		"event":            map[string]any{"signup_verified": "signup_verified"},
	})
	require.Equal(t, http.StatusOK, status)
	var ingested api.EventResponse
	require.NoError(t, json.Unmarshal(data, &ingested))
	require.Len(t, ingested.JobIDs, 1)
	assert.Equal(t, []string{"c1"}, ingested.AdvancedCustomers)

	stats, err := application.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dispatched)
	assert.Zero(t, stats.DispatchErrors)

	status, data = client.call(http.MethodPost, "/events/job-status/email", map[string]string{"jobId": ingested.JobIDs[0]})
	require.Equal(t, http.StatusOK, status)
	var jobStatus api.JobStatusResponse
	require.NoError(t, json.Unmarshal(data, &jobStatus))
	assert.Equal(t, domain.JobCompleted, jobStatus.Status)

	// c2 never verifies and gets the reminder a day later.
	clk.now = clk.now.Add(24 * time.Hour)
	stats, err = application.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dispatched)

	status, data = client.call(http.MethodGet, "/journeys/signup/customers/c2", nil)
	require.Equal(t, http.StatusOK, status)
	var view struct {
		State domain.CustomerJourneyState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, domain.StatusExited, view.State.Status)

	// A late event for c2 changes nothing.
	status, data = client.call(http.MethodPost, "/events", map[string]any{
		"correlationKey":   "customer_id",
		"correlationValue": "c2",
		"event":            map[string]any{"signup_verified": map[string]any{}},
	})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &ingested))
	assert.Empty(t, ingested.JobIDs)

	status, _ = client.call(http.MethodPost, "/events/job-status", map[string]string{"jobId": "job_unknown"})
	assert.Equal(t, http.StatusOK, status)
}

func TestApp_RunStopsWithContext(t *testing.T) {
	logger := logging.Discard()
	application := NewMemory(testConfig(), nil, channel.NewLogSender(logger), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// tokenRefreshBuffer is how long before expiry a cached token is replaced.
const tokenRefreshBuffer = 60 * time.Second

// STSConfig holds STS authentication configuration.
type STSConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type stsTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

type stsTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

func (t accessToken) usableAt(now time.Time) bool {
	return t.value != "" && now.Before(t.expiresAt.Add(-tokenRefreshBuffer))
}

// STSClient hands out client-credentials access tokens for the channel API.
// One token is cached and shared by all senders.
type STSClient struct {
	config     STSConfig
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	cached accessToken
}

// NewSTSClient creates a new STS client with token caching.
func NewSTSClient(config STSConfig) *STSClient {
	return &STSClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		now:        time.Now,
	}
}

// GetToken returns the cached token, or fetches a new one when the cached
// token is missing or close to expiry. Concurrent callers wait for a single
// fetch.
func (c *STSClient) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached.usableAt(c.now()) {
		return c.cached.value, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token from STS: %w", err)
	}
	c.cached = token
	return token.value, nil
}

func (c *STSClient) fetch(ctx context.Context) (accessToken, error) {
	issuedAt := c.now()

	var resp stsTokenResponse
	err := postJSON(ctx, c.httpClient, c.config.Endpoint, "", stsTokenRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		GrantType:    "client_credentials",
	}, &resp)
	if err != nil {
		return accessToken{}, err
	}
	if resp.AccessToken == "" {
		return accessToken{}, errors.New("empty access token in response")
	}

	return accessToken{
		value:     resp.AccessToken,
		expiresAt: issuedAt.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// Package api implements the small slice of the marketplace REST API that the
// realtime core consumes: the token refresh contract. Everything else (auth,
// orders, menu, profile) belongs to the embedding app.
package api

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/savorly/partnerlink/pkg/logger"
	"github.com/savorly/partnerlink/pkg/types"
)

const requestTimeout = 15 * time.Second

// Client calls the marketplace HTTP API.
type Client struct {
	http *resty.Client
}

// New creates an API client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(requestTimeout),
	}
}

// RefreshTokens exchanges a refresh token for a fresh token pair via
// POST /auth/refresh-token.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (types.AuthTokens, error) {
	var tokens types.AuthTokens

	logger.Debugf("api: refreshing access token")
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&tokens).
		Post("/auth/refresh-token")
	if err != nil {
		return types.AuthTokens{}, fmt.Errorf("refresh request: %w", err)
	}
	if resp.IsError() {
		return types.AuthTokens{}, fmt.Errorf("refresh failed: %s", resp.Status())
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return types.AuthTokens{}, fmt.Errorf("refresh response missing tokens")
	}
	return tokens, nil
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.http.Close()
}

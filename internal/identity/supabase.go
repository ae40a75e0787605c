package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenResult is a successful token exchange. RefreshToken is empty
// when the provider did not rotate the refresh token.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// TokenRefresher exchanges a refresh token for a fresh access token at
// the external identity provider.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error)
}

// ErrRefreshRejected means the provider answered and declined the
// token. Callers treat any RefreshToken error as grounds for defensive
// session revocation; this sentinel only distinguishes rejection from
// transport failure in logs and metrics.
var ErrRefreshRejected = errors.New("identity provider rejected refresh token")

// SupabaseClient talks to Supabase Auth (GoTrue). One blocking call
// per refresh, no retries: a failed exchange revokes the session.
type SupabaseClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseClient(baseURL, serviceKey string, timeout time.Duration) *SupabaseClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *SupabaseClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("marshal refresh request: %w", err)
	}

	url := c.baseURL + "/auth/v1/token?grant_type=refresh_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The body may carry provider error detail; it is never
		// decoded into responses for non-admin callers.
		return nil, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrRefreshRejected)
	}

	expiresAt := body.ExpiresAt
	if expiresAt == 0 && body.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + body.ExpiresIn
	}
	return &TokenResult{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

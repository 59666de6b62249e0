// Package client is a typed HTTP client for the collabo API. It implements the
// collaborator interfaces the session monitor needs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
	"github.com/Laffyyy/collabo-tool-sub001/internal/monitor"
)

// Error is a non-auth 4xx answer from the API.
type Error struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s (%d): %s %v", e.Code, e.Status, e.Message, e.Fields)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

var (
	_ monitor.SessionInfoProvider = (*Client)(nil)
	_ monitor.Authenticator       = (*Client)(nil)
)

type Client struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	tokens models.AuthTokens

	refreshes singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokens(t models.AuthTokens) Option {
	return func(c *Client) { c.tokens = t }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Tokens() models.AuthTokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *Client) setTokens(t models.AuthTokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, identifier, password string) (*models.AuthTokens, error) {
	var tokens models.AuthTokens
	req := models.LoginRequest{Identifier: identifier, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", req, &tokens, false); err != nil {
		return nil, err
	}
	c.setTokens(tokens)
	return &tokens, nil
}

func (c *Client) GetSessionInfo(ctx context.Context) (monitor.SessionInfo, error) {
	var info models.SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/session", nil, &info, true); err != nil {
		if errors.Is(err, errMalformed) {
			return monitor.SessionInfo{}, fmt.Errorf("%w: %v", monitor.ErrMalformedResponse, err)
		}
		return monitor.SessionInfo{}, err
	}
	return monitor.SessionInfo{
		ExpiresAt:     info.ExpiresAt,
		TimeRemaining: time.Duration(info.TimeRemainingMs) * time.Millisecond,
		IsActive:      info.IsActive,
	}, nil
}

func (c *Client) RefreshSession(ctx context.Context) (monitor.RefreshResult, error) {
	var refreshed models.SessionRefresh
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/session/refresh", nil, &refreshed, true); err != nil {
		return monitor.RefreshResult{}, err
	}
	return monitor.RefreshResult{
		ExpiresAt:     refreshed.ExpiresAt,
		TimeRemaining: time.Duration(refreshed.TimeRemainingMs) * time.Millisecond,
	}, nil
}

// Logout ends the server session and forgets local tokens. A session the
// server already dropped counts as logged out.
func (c *Client) Logout(ctx context.Context) error {
	tokens := c.Tokens()
	defer c.setTokens(models.AuthTokens{})

	err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", models.RefreshRequest{RefreshToken: tokens.RefreshToken}, nil, true)
	if errors.Is(err, monitor.ErrAuth) || errors.Is(err, monitor.ErrSessionExpired) {
		return nil
	}
	return err
}

func (c *Client) Heartbeat(ctx context.Context) (*models.UserPresence, error) {
	var p models.UserPresence
	if err := c.do(ctx, http.MethodPost, "/api/v1/presence/heartbeat", nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SetStatus(ctx context.Context, status string) (*models.UserPresence, error) {
	var p models.UserPresence
	if err := c.do(ctx, http.MethodPut, "/api/v1/presence/status", models.SetStatusRequest{Status: status}, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) MyPresence(ctx context.Context) (*models.UserPresence, error) {
	var p models.UserPresence
	if err := c.do(ctx, http.MethodGet, "/api/v1/presence/me", nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Presence(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error) {
	var p models.UserPresence
	if err := c.do(ctx, http.MethodGet, "/api/v1/presence/"+userID.String(), nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListPresence(ctx context.Context) ([]models.UserPresence, error) {
	var out struct {
		Users []models.UserPresence `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/presence", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Users, nil
}

var (
	errTokenExpired = fmt.Errorf("%w: access token expired", monitor.ErrAuth)
	errMalformed    = errors.New("malformed response body")
)

// do sends one request. With auth set, an expired access token is refreshed
// once and the request retried.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, auth bool) error {
	if !auth {
		return c.send(ctx, method, path, "", in, out)
	}

	stale := c.Tokens().AccessToken
	err := c.send(ctx, method, path, stale, in, out)
	if !errors.Is(err, errTokenExpired) {
		return err
	}
	if err := c.refreshAccessToken(ctx, stale); err != nil {
		return err
	}
	return c.send(ctx, method, path, c.Tokens().AccessToken, in, out)
}

// refreshAccessToken trades the refresh token for a new pair unless another
// caller already replaced stale. Refresh tokens are single-use, so concurrent
// callers share one exchange.
func (c *Client) refreshAccessToken(ctx context.Context, stale string) error {
	if c.Tokens().AccessToken != stale {
		return nil
	}

	_, err, _ := c.refreshes.Do("refresh", func() (interface{}, error) {
		current := c.Tokens()
		if current.AccessToken != stale {
			return nil, nil
		}
		if current.RefreshToken == "" {
			return nil, fmt.Errorf("%w: no refresh token", monitor.ErrAuth)
		}

		var tokens models.AuthTokens
		if err := c.send(ctx, http.MethodPost, "/api/v1/auth/refresh", "", models.RefreshRequest{RefreshToken: current.RefreshToken}, &tokens); err != nil {
			return nil, err
		}
		c.setTokens(tokens)
		return nil, nil
	})
	return err
}

// send performs a single request. An empty bearer sends no Authorization
// header.
func (c *Client) send(ctx context.Context, method, path, bearer string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", monitor.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w: failed to decode %s response: %v", monitor.ErrNetwork, errMalformed, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope models.ErrorResponse
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope)
	apiErr := envelope.Error

	switch {
	case resp.StatusCode == http.StatusUnauthorized && apiErr.Code == "SESSION_EXPIRED":
		return fmt.Errorf("%w: %s", monitor.ErrSessionExpired, apiErr.Message)
	case resp.StatusCode == http.StatusUnauthorized && apiErr.Code == "TOKEN_EXPIRED":
		return errTokenExpired
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", monitor.ErrAuth, apiErr.Message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server returned %d %s", monitor.ErrNetwork, resp.StatusCode, apiErr.Code)
	}

	return &Error{
		Status:  resp.StatusCode,
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Fields:  apiErr.Fields,
	}
}

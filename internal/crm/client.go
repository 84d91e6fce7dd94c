// Package crm calls the Follow Up Boss REST API on behalf of an account,
// refreshing its OAuth pair at most once per call.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rogeecn/fub-assistant/internal/oauth"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL     = "https://api.followupboss.com/v1"
	defaultHTTPTimeout = 30 * time.Second
)

// Tokens is the account's CRM OAuth pair as one value.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenRefresher mints a new pair from a refresh token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

type Config struct {
	BaseURL    string
	System     string
	SystemKey  string
	MaxRPS     float64
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	refresher  TokenRefresher
	limiter    *rate.Limiter
	headers    headerBuilder
}

func NewClient(cfg Config, refresher TokenRefresher) *Client {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	var limiter *rate.Limiter
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		refresher:  refresher,
		limiter:    limiter,
		headers:    newHeaderBuilder(cfg.System, cfg.SystemKey),
	}
}

// Call performs one authenticated request. A 401 on the first attempt
// triggers exactly one refresh and one retry with the new pair; nothing
// else is retried. Once a refresh succeeds the returned Tokens are the new
// pair, even when the retry fails, and the caller must persist them.
func (c *Client) Call(ctx context.Context, tokens Tokens, method, path string, query url.Values, body any) ([]byte, Tokens, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, tokens, fmt.Errorf("crm %s %s: encode body: %w", method, path, err)
		}
		payload = encoded
	}

	status, respBody, err := c.do(ctx, tokens.Access, method, path, query, payload)
	if err != nil {
		return nil, tokens, fmt.Errorf("%w: %s %s: %v", ErrAuthentication, method, path, err)
	}
	if isSuccess(status) {
		return respBody, tokens, nil
	}
	if status != http.StatusUnauthorized {
		return nil, tokens, fmt.Errorf("%s %s: %w", method, path, newAPIError(status, respBody))
	}

	log.Debug().Str("method", method).Str("path", path).Msg("crm: access token rejected, refreshing")

	refreshed, err := c.refresh(ctx, tokens.Refresh)
	if err != nil {
		return nil, tokens, fmt.Errorf("%w: %s %s: %w", ErrCredentialsRejected, method, path, err)
	}

	status, respBody, err = c.do(ctx, refreshed.Access, method, path, query, payload)
	if err != nil {
		return nil, refreshed, fmt.Errorf("%w: %s %s after refresh: %v", ErrAuthentication, method, path, err)
	}
	if isSuccess(status) {
		return respBody, refreshed, nil
	}
	if status == http.StatusUnauthorized {
		return nil, refreshed, fmt.Errorf("%w: %s %s after refresh: %w", ErrCredentialsRejected, method, path, newAPIError(status, respBody))
	}
	return nil, refreshed, fmt.Errorf("%s %s after refresh: %w", method, path, newAPIError(status, respBody))
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if c.refresher == nil {
		return Tokens{}, fmt.Errorf("no token refresher configured")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return Tokens{}, fmt.Errorf("no refresh token")
	}

	token, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: token.AccessToken, Refresh: token.RefreshToken}, nil
}

func (c *Client) do(ctx context.Context, accessToken, method, path string, query url.Values, payload []byte) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	reqURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	c.headers.apply(req.Header, accessToken, payload != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	content, err := readDecodedBody(resp)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("crm request")

	return resp.StatusCode, content, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

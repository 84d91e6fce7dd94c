package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var ErrRefreshFailed = errors.New("oauth token refresh failed")

var ErrExchangeFailed = errors.New("oauth code exchange failed")

const defaultHTTPTimeout = 30 * time.Second

// Config describes the CRM's OAuth application.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	HTTPClient   *http.Client
}

// Client talks to the CRM's OAuth endpoints.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// Token is one access/refresh pair. Callers store both halves together.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrExchangeFailed)
	}

	tok, err := c.config.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExchangeFailed, describeTokenError(err))
	}
	return fromOAuth2(tok, "")
}

// Refresh exchanges refreshToken for a new pair. When the provider does not
// rotate the refresh token, the old one is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrRefreshFailed)
	}

	src := c.config.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRefreshFailed, describeTokenError(err))
	}

	token, err := fromOAuth2(tok, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return token, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func fromOAuth2(tok *oauth2.Token, fallbackRefresh string) (*Token, error) {
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return nil, errors.New("missing access_token")
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	if refresh == "" {
		return nil, errors.New("missing refresh_token")
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// describeTokenError keeps provider error codes but never echoes the
// response body, which may contain credentials.
func describeTokenError(err error) string {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		if rErr.ErrorCode != "" {
			return fmt.Sprintf("status=%d error=%s", status, rErr.ErrorCode)
		}
		return fmt.Sprintf("status=%d", status)
	}
	return err.Error()
}

package crm

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rogeecn/fub-assistant/internal/oauth"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type fakeRefresher struct {
	refreshFn func(refreshToken string) (*oauth.Token, error)
	calls     int32
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth.Token, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.refreshFn(refreshToken)
}

func okRefresher() *fakeRefresher {
	return &fakeRefresher{refreshFn: func(string) (*oauth.Token, error) {
		return &oauth.Token{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
	}}
}

func newTestClient(refresher TokenRefresher, transport roundTripFunc) *Client {
	return NewClient(Config{
		BaseURL:    "https://crm.example.com/v1/",
		HTTPClient: &http.Client{Transport: transport},
	}, refresher)
}

var oldTokens = Tokens{Access: "old-access", Refresh: "old-refresh"}

func TestCallSuccessKeepsTokens(t *testing.T) {
	var downstream int32
	refresher := okRefresher()
	c := newTestClient(refresher, func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&downstream, 1)
		if r.URL.String() != "https://crm.example.com/v1/people/7" {
			t.Fatalf("url = %s", r.URL)
		}
		if r.Header.Get("Authorization") != "Bearer old-access" {
			t.Fatalf("Authorization = %q", r.Header.Get("Authorization"))
		}
		return newResponse(http.StatusOK, `{"id":7}`), nil
	})

	body, tokens, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(body) != `{"id":7}` {
		t.Fatalf("body = %s", body)
	}
	if tokens != oldTokens {
		t.Fatalf("tokens = %+v, want unchanged", tokens)
	}
	if downstream != 1 || refresher.calls != 0 {
		t.Fatalf("downstream = %d refreshes = %d, want 1/0", downstream, refresher.calls)
	}
}

func TestCallRefreshesOnceThenRetries(t *testing.T) {
	var downstream int32
	refresher := okRefresher()
	c := newTestClient(refresher, func(r *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&downstream, 1)
		switch n {
		case 1:
			if r.Header.Get("Authorization") != "Bearer old-access" {
				t.Fatalf("attempt 1 Authorization = %q", r.Header.Get("Authorization"))
			}
			return newResponse(http.StatusUnauthorized, `{"errorMessage":"expired"}`), nil
		default:
			if r.Header.Get("Authorization") != "Bearer new-access" {
				t.Fatalf("attempt 2 Authorization = %q", r.Header.Get("Authorization"))
			}
			return newResponse(http.StatusOK, `{"ok":true}`), nil
		}
	})

	body, tokens, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %s", body)
	}
	if tokens != (Tokens{Access: "new-access", Refresh: "new-refresh"}) {
		t.Fatalf("tokens = %+v, want refreshed pair", tokens)
	}
	if downstream != 2 {
		t.Fatalf("downstream calls = %d, want 2", downstream)
	}
	if refresher.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresher.calls)
	}
}

func TestCallFailsAfterSecondUnauthorized(t *testing.T) {
	var downstream int32
	refresher := okRefresher()
	c := newTestClient(refresher, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&downstream, 1)
		return newResponse(http.StatusUnauthorized, `{}`), nil
	})

	_, tokens, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrCredentialsRejected) {
		t.Fatalf("Call() error = %v, want ErrCredentialsRejected", err)
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Call() error = %v, want ErrAuthentication", err)
	}
	if downstream != 2 {
		t.Fatalf("downstream calls = %d, want 2 (no third attempt)", downstream)
	}
	if refresher.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresher.calls)
	}
	if tokens.Access != "new-access" || tokens.Refresh != "new-refresh" {
		t.Fatalf("tokens = %+v, want the refreshed pair", tokens)
	}
}

func TestCallRefreshFailure(t *testing.T) {
	var downstream int32
	refresher := &fakeRefresher{refreshFn: func(string) (*oauth.Token, error) {
		return nil, oauth.ErrRefreshFailed
	}}
	c := newTestClient(refresher, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&downstream, 1)
		return newResponse(http.StatusUnauthorized, `{}`), nil
	})

	_, _, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrCredentialsRejected) {
		t.Fatalf("Call() error = %v, want ErrCredentialsRejected", err)
	}
	if !errors.Is(err, oauth.ErrRefreshFailed) {
		t.Fatalf("Call() error = %v, want wrapped ErrRefreshFailed", err)
	}
	if downstream != 1 {
		t.Fatalf("downstream calls = %d, want 1", downstream)
	}
}

func TestCallNonUnauthorizedFailureIsNotRetried(t *testing.T) {
	var downstream int32
	refresher := okRefresher()
	c := newTestClient(refresher, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&downstream, 1)
		return newResponse(http.StatusInternalServerError, `boom`), nil
	})

	_, _, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Call() error = %v, want ErrAuthentication", err)
	}
	if errors.Is(err, ErrCredentialsRejected) {
		t.Fatalf("Call() error = %v, should not be ErrCredentialsRejected", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError || apiErr.Body != "boom" {
		t.Fatalf("APIError = %+v", apiErr)
	}
	if downstream != 1 || refresher.calls != 0 {
		t.Fatalf("downstream = %d refreshes = %d, want 1/0", downstream, refresher.calls)
	}
}

func TestCallRetryNonUnauthorizedFailure(t *testing.T) {
	var downstream int32
	c := newTestClient(okRefresher(), func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&downstream, 1) == 1 {
			return newResponse(http.StatusUnauthorized, `{}`), nil
		}
		return newResponse(http.StatusNotFound, `{}`), nil
	})

	_, tokens, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrAuthentication) || errors.Is(err, ErrCredentialsRejected) {
		t.Fatalf("Call() error = %v, want plain ErrAuthentication", err)
	}
	if downstream != 2 {
		t.Fatalf("downstream calls = %d, want 2", downstream)
	}
	if want := (Tokens{Access: "new-access", Refresh: "new-refresh"}); tokens != want {
		t.Fatalf("Call() tokens = %+v, want refreshed pair %+v", tokens, want)
	}
}

func TestCallRetryTransportErrorKeepsRefreshedPair(t *testing.T) {
	var downstream int32
	c := newTestClient(okRefresher(), func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&downstream, 1) == 1 {
			return newResponse(http.StatusUnauthorized, `{}`), nil
		}
		return nil, errors.New("connection reset")
	})

	_, tokens, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Call() error = %v, want ErrAuthentication", err)
	}
	if tokens.Access != "new-access" || tokens.Refresh != "new-refresh" {
		t.Fatalf("Call() tokens = %+v, want refreshed pair", tokens)
	}
}

func TestCallTransportError(t *testing.T) {
	c := newTestClient(okRefresher(), func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})

	_, _, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Call() error = %v, want ErrAuthentication", err)
	}
}

func TestCallWithoutRefreshToken(t *testing.T) {
	refresher := okRefresher()
	c := newTestClient(refresher, func(*http.Request) (*http.Response, error) {
		return newResponse(http.StatusUnauthorized, `{}`), nil
	})

	_, _, err := c.Call(context.Background(), Tokens{Access: "a"}, http.MethodGet, "/people/7", nil, nil)
	if !errors.Is(err, ErrCredentialsRejected) {
		t.Fatalf("Call() error = %v, want ErrCredentialsRejected", err)
	}
	if refresher.calls != 0 {
		t.Fatalf("refresh calls = %d, want 0", refresher.calls)
	}
}

func TestCallSendsHeadersAndBody(t *testing.T) {
	c := NewClient(Config{
		BaseURL:   "https://crm.example.com/v1",
		System:    "FUBAssistant",
		SystemKey: "system-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Method != http.MethodPost {
				t.Fatalf("method = %s", r.Method)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Fatalf("Content-Type = %q", r.Header.Get("Content-Type"))
			}
			if r.Header.Get("X-System") != "FUBAssistant" || r.Header.Get("X-System-Key") != "system-key" {
				t.Fatalf("system headers = %q/%q", r.Header.Get("X-System"), r.Header.Get("X-System-Key"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"content":"hi"}` {
				t.Fatalf("body = %s", body)
			}
			return newResponse(http.StatusCreated, `{}`), nil
		})},
	}, nil)

	_, _, err := c.Call(context.Background(), oldTokens, http.MethodPost, "notes", nil, map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}

func TestCallDecodesGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`{"id":1}`))
	_ = gz.Close()

	c := newTestClient(nil, func(*http.Request) (*http.Response, error) {
		resp := newResponse(http.StatusOK, "")
		resp.Header.Set("Content-Encoding", "gzip")
		resp.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
		return resp, nil
	})

	body, _, err := c.Call(context.Background(), oldTokens, http.MethodGet, "/people/1", nil, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(body) != `{"id":1}` {
		t.Fatalf("body = %s", body)
	}
}

func TestAPIErrorTruncatesBody(t *testing.T) {
	err := newAPIError(http.StatusBadGateway, []byte(strings.Repeat("x", 2000)))
	if len(err.Body) != maxErrorBody+3 {
		t.Fatalf("len(Body) = %d", len(err.Body))
	}
}

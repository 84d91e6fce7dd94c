package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rogeecn/fub-assistant/internal/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	defaultMaxBodySize             = 1 << 20
)

// principal is the authenticated caller of a request.
type principal struct {
	token   string
	session *auth.Session
	account *account.Account
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		start := time.Now()
		next.ServeHTTP(rec, r)

		event := accessLogEvent(r.URL.Path, rec.statusCode)
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.statusCode).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Dur("duration", time.Since(start)).
			Msg("http request completed")
	})
}

// AuthMiddleware admits requests carrying a valid session token for an
// existing account.
func AuthMiddleware(codec *auth.Codec, accounts AccountStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if codec == nil || accounts == nil {
				writeAPIError(w, http.StatusInternalServerError, "server misconfigured", "internal_error", "internal_error")
				return
			}

			token, ok := parseBearerToken(r.Header.Get("Authorization"))
			if !ok {
				log.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("request rejected: missing or invalid bearer token")
				writeAPIError(w, http.StatusUnauthorized, "missing or invalid authorization header", "authentication_error", "invalid_token")
				return
			}

			session, err := codec.Validate(token)
			if err != nil {
				log.Warn().
					Err(err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("session_token", maskToken(token)).
					Msg("request rejected: session token invalid")
				code := "invalid_token"
				if errors.Is(err, auth.ErrExpiredToken) {
					code = "token_expired"
				}
				writeAPIError(w, http.StatusUnauthorized, "invalid or expired session token", "authentication_error", code)
				return
			}

			acct, err := accounts.Get(r.Context(), session.AccountID)
			if errors.Is(err, account.ErrNotFound) {
				log.Warn().Int64("account_id", session.AccountID).Msg("request rejected: account not found")
				writeAPIError(w, http.StatusUnauthorized, "account not found", "authentication_error", "invalid_token")
				return
			}
			if err != nil {
				log.Error().Err(err).Int64("account_id", session.AccountID).Msg("account lookup failed")
				writeAPIError(w, http.StatusInternalServerError, "internal server error", "internal_error", "internal_error")
				return
			}

			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int64("account_id", acct.ID).
				Msg("request authenticated")

			ctx := context.WithValue(r.Context(), principalContextKey, &principal{
				token:   token,
				session: session,
				account: acct,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestSizeLimitMiddleware(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = defaultMaxBodySize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func principalFromContext(ctx context.Context) (*principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*principal)
	if !ok || p == nil || p.account == nil {
		return nil, false
	}
	return p, true
}

// clientIP returns the caller's address. Forwarding headers count only when
// the server sits behind a trusted proxy.
func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func accessLogEvent(path string, statusCode int) *zerolog.Event {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return log.Error()
	case statusCode >= http.StatusBadRequest:
		return log.Warn()
	case path == "/health":
		return log.Debug()
	default:
		return log.Info()
	}
}

func maskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, statusCode int, message, errType, code string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rogeecn/fub-assistant/internal/chat"
	"github.com/rogeecn/fub-assistant/internal/crm"
	"github.com/rogeecn/fub-assistant/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

const (
	maxQuestionLength    = 1000
	maxNoteLength        = 2000
	oauthStateTTL        = 10 * time.Minute
	errTypeInvalid       = "invalid_request_error"
	errTypeAuth          = "authentication_error"
	errTypeInternal      = "internal_error"
	errTypeUpstream      = "api_error"
	errMethodNotAllowed  = "method not allowed"
	codeMethodNotAllowed = "method_not_allowed"
)

var errMalformedContext = errors.New("malformed iframe context")

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeAPIError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, errTypeInvalid, codeMethodNotAllowed)
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type iframeLoginRequest struct {
	Context   string `json:"context"`
	Signature string `json:"signature"`
}

type iframeLoginResponse struct {
	AccountID          int64     `json:"account_id"`
	FUBAccountID       string    `json:"fub_account_id"`
	SubscriptionStatus string    `json:"subscription_status"`
	Token              string    `json:"token"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func (s *Server) handleIframeLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req iframeLoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if !s.deps.Verifier.Verify(req.Context, req.Signature) {
		log.Warn().Int("context_length", len(req.Context)).Msg("iframe login rejected: bad signature")
		writeAPIError(w, http.StatusUnauthorized, "invalid signature", errTypeAuth, "invalid_signature")
		return
	}

	fubAccountID, err := fubAccountIDFromContext(req.Context)
	if err != nil {
		log.Warn().Err(err).Msg("iframe login rejected: bad context")
		writeAPIError(w, http.StatusBadRequest, err.Error(), errTypeInvalid, "invalid_context")
		return
	}

	acct, err := s.deps.Accounts.Upsert(r.Context(), fubAccountID)
	if err != nil {
		log.Error().Err(err).Str("fub_account_id", fubAccountID).Msg("iframe login: account upsert failed")
		writeAPIError(w, http.StatusInternalServerError, "authentication failed", errTypeInternal, "internal_error")
		return
	}

	token, session, err := s.deps.Sessions.Issue(acct.ID, acct.FUBAccountID)
	if err != nil {
		log.Error().Err(err).Int64("account_id", acct.ID).Msg("iframe login: issue session token failed")
		writeAPIError(w, http.StatusInternalServerError, "authentication failed", errTypeInternal, "internal_error")
		return
	}

	log.Info().Int64("account_id", acct.ID).Str("fub_account_id", acct.FUBAccountID).Msg("iframe login succeeded")
	writeJSON(w, http.StatusOK, iframeLoginResponse{
		AccountID:          acct.ID,
		FUBAccountID:       acct.FUBAccountID,
		SubscriptionStatus: string(acct.SubscriptionStatus),
		Token:              token,
		ExpiresAt:          session.ExpiresAt,
	})
}

// fubAccountIDFromContext reads account.id from the signed iframe context,
// which is either JSON or base64-encoded JSON. Numeric ids keep their exact
// decimal text.
func fubAccountIDFromContext(raw string) (string, error) {
	payload, err := decodeIframeContext(raw)
	if err != nil {
		return "", err
	}

	var ctx struct {
		Account struct {
			ID json.RawMessage `json:"id"`
		} `json:"account"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&ctx); err != nil {
		return "", errMalformedContext
	}

	id := bytes.TrimSpace(ctx.Account.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return "", errors.New("missing account id in context")
	}

	var value any
	idDec := json.NewDecoder(bytes.NewReader(id))
	idDec.UseNumber()
	if err := idDec.Decode(&value); err != nil {
		return "", errMalformedContext
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", errors.New("missing account id in context")
		}
		return strings.TrimSpace(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil && f == 0 {
			return "", errors.New("missing account id in context")
		}
		return v.String(), nil
	default:
		return "", errMalformedContext
	}
}

func decodeIframeContext(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errMalformedContext
	}
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}

	unpadded := strings.TrimRight(trimmed, "=")
	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.RawURLEncoding} {
		decoded, err := enc.DecodeString(unpadded)
		if err != nil {
			continue
		}
		decoded = bytes.TrimSpace(decoded)
		if len(decoded) > 0 && decoded[0] == '{' {
			return decoded, nil
		}
	}
	return nil, errMalformedContext
}

type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Refreshed bool      `json:"refreshed"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	p, ok := principalFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "missing account context", errTypeAuth, "invalid_token")
		return
	}

	if !s.deps.Sessions.ShouldRefresh(p.session) {
		writeJSON(w, http.StatusOK, refreshResponse{Token: p.token, ExpiresAt: p.session.ExpiresAt})
		return
	}

	token, session, err := s.deps.Sessions.Issue(p.account.ID, p.account.FUBAccountID)
	if err != nil {
		log.Error().Err(err).Int64("account_id", p.account.ID).Msg("refresh: issue session token failed")
		writeAPIError(w, http.StatusInternalServerError, "token refresh failed", errTypeInternal, "internal_error")
		return
	}

	log.Info().Int64("account_id", p.account.ID).Msg("session token refreshed")
	writeJSON(w, http.StatusOK, refreshResponse{Token: token, ExpiresAt: session.ExpiresAt, Refreshed: true})
}

type chatRequest struct {
	PersonID string `json:"person_id"`
	Question string `json:"question"`
}

type chatResponse struct {
	Answer   string `json:"answer"`
	PersonID string `json:"person_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	p, ok := principalFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "missing account context", errTypeAuth, "invalid_token")
		return
	}
	acct := p.account

	var req chatRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if !acct.IsSubscribed() {
		log.Warn().Int64("account_id", acct.ID).Str("status", string(acct.SubscriptionStatus)).Msg("chat rejected: inactive subscription")
		writeAPIError(w, http.StatusForbidden, "subscription required. current status: "+string(acct.SubscriptionStatus), "permission_error", "subscription_inactive")
		return
	}

	if !s.admitChat(w, r, acct.ID) {
		return
	}

	personID := strings.TrimSpace(req.PersonID)
	question := strings.TrimSpace(req.Question)
	switch {
	case question == "":
		writeAPIError(w, http.StatusBadRequest, "question cannot be empty", errTypeInvalid, "bad_request")
		return
	case personID == "":
		writeAPIError(w, http.StatusBadRequest, "person id cannot be empty", errTypeInvalid, "bad_request")
		return
	case utf8.RuneCountInString(req.Question) > maxQuestionLength:
		writeAPIError(w, http.StatusBadRequest, "question must be at most 1000 characters", errTypeInvalid, "bad_request")
		return
	}

	answer, err := s.deps.Advisor.Advise(r.Context(), acct, personID, question)
	if errors.Is(err, chat.ErrInvalidRequest) {
		writeAPIError(w, http.StatusBadRequest, err.Error(), errTypeInvalid, "bad_request")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("account_id", acct.ID).Str("person_id", personID).Msg("chat: advice failed")
		writeAPIError(w, http.StatusInternalServerError, "failed to generate response", errTypeUpstream, "upstream_error")
		return
	}

	log.Info().Int64("account_id", acct.ID).Str("person_id", personID).Msg("chat response generated")
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, PersonID: personID})
}

// admitChat applies the per-account limit and then the per-IP limit.
func (s *Server) admitChat(w http.ResponseWriter, r *http.Request, accountID int64) bool {
	window := s.config.RateLimitWindow
	ip := clientIP(r, s.config.TrustProxyHeaders)

	denied, ok := s.deps.Limiter.AdmitAll(r.Context(),
		ratelimit.Check{Key: ratelimit.AccountKey(accountID), Limit: s.config.RateLimitPerAccount, Window: window},
		ratelimit.Check{Key: ratelimit.IPKey(ip), Limit: s.config.RateLimitPerIP, Window: window},
	)
	if ok {
		return true
	}

	scope := "account"
	if strings.HasPrefix(denied.Key, "ip:") {
		scope = "ip"
	}
	log.Warn().Int64("account_id", accountID).Str("scope", scope).Str("client_ip", ip).Msg("chat rejected: rate limit exceeded")

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(window)))
	writeAPIError(w, http.StatusTooManyRequests, scope+" rate limit exceeded, please wait before making another request", "rate_limit_error", "rate_limit_exceeded")
	return false
}

func retryAfterSeconds(window time.Duration) int {
	seconds := int((window + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

type createNoteRequest struct {
	PersonID string `json:"person_id"`
	Content  string `json:"content"`
}

type createNoteResponse struct {
	NoteID   string `json:"note_id"`
	PersonID string `json:"person_id"`
	Success  bool   `json:"success"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	p, ok := principalFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "missing account context", errTypeAuth, "invalid_token")
		return
	}
	acct := p.account

	var req createNoteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	personID := strings.TrimSpace(req.PersonID)
	switch {
	case strings.TrimSpace(req.Content) == "":
		writeAPIError(w, http.StatusBadRequest, "note content cannot be empty", errTypeInvalid, "bad_request")
		return
	case personID == "":
		writeAPIError(w, http.StatusBadRequest, "person id cannot be empty", errTypeInvalid, "bad_request")
		return
	case utf8.RuneCountInString(req.Content) > maxNoteLength:
		writeAPIError(w, http.StatusBadRequest, "note content must be at most 2000 characters", errTypeInvalid, "bad_request")
		return
	}

	if !acct.HasCRMCredentials() {
		writeAPIError(w, http.StatusUnauthorized, "account not connected to Follow Up Boss", errTypeAuth, "crm_not_connected")
		return
	}

	stored := crm.Tokens{Access: acct.AccessToken, Refresh: acct.RefreshToken}
	noteID, tokens, err := s.deps.Notes.CreateNote(r.Context(), stored, personID, req.Content)
	s.persistCRMTokens(r, acct.ID, stored, tokens)
	if errors.Is(err, crm.ErrCredentialsRejected) {
		log.Warn().Err(err).Int64("account_id", acct.ID).Msg("create note: crm rejected credentials")
		writeAPIError(w, http.StatusUnauthorized, "failed to authenticate with Follow Up Boss", errTypeAuth, "crm_auth_failed")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("account_id", acct.ID).Str("person_id", personID).Msg("create note failed")
		writeAPIError(w, http.StatusInternalServerError, "failed to create note", errTypeUpstream, "upstream_error")
		return
	}

	log.Info().Int64("account_id", acct.ID).Str("person_id", personID).Str("note_id", noteID).Msg("note created")
	writeJSON(w, http.StatusOK, createNoteResponse{NoteID: noteID, PersonID: personID, Success: true})
}

func (s *Server) persistCRMTokens(r *http.Request, accountID int64, stored, current crm.Tokens) {
	if current == stored || current.Access == "" || current.Refresh == "" {
		return
	}
	if err := s.deps.Accounts.UpdateTokens(r.Context(), accountID, current.Access, current.Refresh); err != nil {
		log.Error().Err(err).Int64("account_id", accountID).Msg("persist refreshed crm tokens failed")
	}
}

func (s *Server) handleFUBConnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	p, ok := principalFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "missing account context", errTypeAuth, "invalid_token")
		return
	}
	if s.deps.OAuth == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "Follow Up Boss OAuth is not configured", errTypeInternal, "not_configured")
		return
	}

	state, _, err := s.deps.Sessions.IssueWithTTL(p.account.ID, p.account.FUBAccountID, oauthStateTTL)
	if err != nil {
		log.Error().Err(err).Int64("account_id", p.account.ID).Msg("fub connect: issue state failed")
		writeAPIError(w, http.StatusInternalServerError, "internal server error", errTypeInternal, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": s.deps.OAuth.AuthCodeURL(state)})
}

func (s *Server) handleFUBCallback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.OAuth == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "Follow Up Boss OAuth is not configured", errTypeInternal, "not_configured")
		return
	}

	query := r.URL.Query()
	if oauthErr := query.Get("error"); oauthErr != "" {
		log.Warn().Str("error", oauthErr).Msg("fub callback: authorization denied")
		writeAPIError(w, http.StatusBadRequest, "authorization failed: "+oauthErr, errTypeInvalid, "oauth_denied")
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	state := strings.TrimSpace(query.Get("state"))
	if code == "" || state == "" {
		writeAPIError(w, http.StatusBadRequest, "code and state are required", errTypeInvalid, "bad_request")
		return
	}

	session, err := s.deps.Sessions.Validate(state)
	if err != nil {
		log.Warn().Err(err).Msg("fub callback: invalid state")
		writeAPIError(w, http.StatusUnauthorized, "invalid or expired state", errTypeAuth, "invalid_state")
		return
	}

	token, err := s.deps.OAuth.Exchange(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Int64("account_id", session.AccountID).Msg("fub callback: code exchange failed")
		writeAPIError(w, http.StatusBadGateway, "Follow Up Boss token exchange failed", errTypeUpstream, "upstream_error")
		return
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		log.Error().Int64("account_id", session.AccountID).Msg("fub callback: exchange returned an incomplete pair")
		writeAPIError(w, http.StatusBadGateway, "Follow Up Boss returned incomplete tokens", errTypeUpstream, "upstream_error")
		return
	}

	if err := s.deps.Accounts.UpdateTokens(r.Context(), session.AccountID, token.AccessToken, token.RefreshToken); err != nil {
		log.Error().Err(err).Int64("account_id", session.AccountID).Msg("fub callback: store tokens failed")
		writeAPIError(w, http.StatusInternalServerError, "internal server error", errTypeInternal, "internal_error")
		return
	}

	log.Info().Int64("account_id", session.AccountID).Msg("follow up boss connected")
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// decodeJSONBody writes the error response itself and reports whether the
// handler may continue.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeAPIError(w, http.StatusBadRequest, "request body is required", errTypeInvalid, "bad_request")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if isBodyTooLarge(err) {
			writeAPIError(w, http.StatusRequestEntityTooLarge, "request body too large", errTypeInvalid, "request_too_large")
			return false
		}
		writeAPIError(w, http.StatusBadRequest, "invalid request body", errTypeInvalid, "bad_request")
		return false
	}
	return true
}

func isBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}

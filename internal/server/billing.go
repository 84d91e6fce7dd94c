package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/rogeecn/fub-assistant/internal/billing"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.deps.Webhooks == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "billing is not configured", errTypeInternal, "not_configured")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			writeAPIError(w, http.StatusRequestEntityTooLarge, "request body too large", errTypeInvalid, "request_too_large")
			return
		}
		writeAPIError(w, http.StatusBadRequest, "invalid request body", errTypeInvalid, "bad_request")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		log.Warn().Msg("stripe webhook rejected: missing signature header")
		writeAPIError(w, http.StatusBadRequest, "missing signature header", errTypeInvalid, "missing_signature")
		return
	}

	event, err := s.deps.Webhooks.ConstructEvent(payload, signature)
	if errors.Is(err, billing.ErrNotConfigured) {
		log.Error().Msg("stripe webhook: secret not configured")
		writeAPIError(w, http.StatusServiceUnavailable, "billing is not configured", errTypeInternal, "not_configured")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("stripe webhook rejected: signature verification failed")
		writeAPIError(w, http.StatusBadRequest, "invalid signature", errTypeInvalid, "invalid_signature")
		return
	}

	if err := s.deps.Webhooks.Handle(r.Context(), event); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("stripe webhook processing failed")
		writeAPIError(w, http.StatusInternalServerError, "webhook processing failed", errTypeInternal, "internal_error")
		return
	}

	log.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("stripe webhook processed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	p, ok := principalFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "missing account context", errTypeAuth, "invalid_token")
		return
	}
	if s.deps.Billing == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "billing is not configured", errTypeInternal, "not_configured")
		return
	}

	url, err := s.deps.Billing.CreateCheckoutSession(r.Context(), p.account)
	if err != nil {
		writeBillingError(w, p.account.ID, "checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	p, ok := principalFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "missing account context", errTypeAuth, "invalid_token")
		return
	}
	if s.deps.Billing == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "billing is not configured", errTypeInternal, "not_configured")
		return
	}

	url, err := s.deps.Billing.CreatePortalSession(r.Context(), p.account)
	if err != nil {
		writeBillingError(w, p.account.ID, "portal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func writeBillingError(w http.ResponseWriter, accountID int64, op string, err error) {
	switch {
	case errors.Is(err, billing.ErrNoCustomer):
		writeAPIError(w, http.StatusBadRequest, "no billing account yet, complete checkout first", errTypeInvalid, "no_customer")
	case errors.Is(err, billing.ErrNotConfigured):
		writeAPIError(w, http.StatusServiceUnavailable, "billing is not configured", errTypeInternal, "not_configured")
	default:
		log.Error().Err(err).Int64("account_id", accountID).Str("op", op).Msg("stripe session creation failed")
		writeAPIError(w, http.StatusBadGateway, "billing provider request failed", errTypeUpstream, "upstream_error")
	}
}

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid stripe webhook signature")
	ErrNotConfigured    = errors.New("stripe is not configured")
)

// AccountStore is the part of the account directory billing events touch.
type AccountStore interface {
	GetByFUBAccountID(ctx context.Context, fubAccountID string) (*account.Account, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*account.Account, error)
	UpdateSubscription(ctx context.Context, id int64, status account.SubscriptionStatus) error
	LinkStripeCustomer(ctx context.Context, id int64, customerID string, status account.SubscriptionStatus) error
}

// WebhookHandler verifies Stripe webhook deliveries and reconciles the
// subscription state they carry onto accounts.
type WebhookHandler struct {
	secret   string
	accounts AccountStore
}

func NewWebhookHandler(secret string, accounts AccountStore) *WebhookHandler {
	return &WebhookHandler{
		secret:   strings.TrimSpace(secret),
		accounts: accounts,
	}
}

// ConstructEvent checks sigHeader against the raw payload.
func (h *WebhookHandler) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if h.secret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Handle applies one verified event. Events for unknown accounts and event
// types nobody reconciles are acknowledged without error.
func (h *WebhookHandler) Handle(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("stripe event %s: missing data", event.ID)
	}

	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = h.checkoutCompleted(ctx, event.Data.Raw)
	case "customer.subscription.updated":
		err = h.subscriptionUpdated(ctx, event.Data.Raw)
	case "customer.subscription.deleted":
		err = h.subscriptionDeleted(ctx, event.Data.Raw)
	case "invoice.payment_succeeded", "invoice.paid":
		err = h.invoiceStatus(ctx, event.Data.Raw, account.StatusActive)
	case "invoice.payment_failed":
		err = h.invoiceStatus(ctx, event.Data.Raw, account.StatusPastDue)
	default:
		log.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("stripe webhook: unhandled event type")
		return nil
	}
	if err != nil {
		return fmt.Errorf("stripe event %s (%s): %w", event.ID, event.Type, err)
	}
	return nil
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}

	fubAccountID := strings.TrimSpace(cs.Metadata["fub_account_id"])
	if fubAccountID == "" {
		log.Error().Str("checkout_session", cs.ID).Msg("stripe webhook: checkout session without fub_account_id metadata")
		return nil
	}

	acct, err := h.accounts.GetByFUBAccountID(ctx, fubAccountID)
	if errors.Is(err, account.ErrNotFound) {
		log.Error().Str("fub_account_id", fubAccountID).Msg("stripe webhook: checkout for unknown account")
		return nil
	}
	if err != nil {
		return err
	}

	customerID := customerIDOf(cs.Customer)
	if customerID == "" {
		return h.accounts.UpdateSubscription(ctx, acct.ID, account.StatusActive)
	}
	return h.accounts.LinkStripeCustomer(ctx, acct.ID, customerID, account.StatusActive)
}

func (h *WebhookHandler) subscriptionUpdated(ctx context.Context, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	return h.setStatus(ctx, customerIDOf(sub.Customer), MapSubscriptionStatus(sub.Status), false)
}

func (h *WebhookHandler) subscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	return h.setStatus(ctx, customerIDOf(sub.Customer), account.StatusCancelled, false)
}

func (h *WebhookHandler) invoiceStatus(ctx context.Context, raw json.RawMessage, status account.SubscriptionStatus) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	return h.setStatus(ctx, customerIDOf(invoice.Customer), status, true)
}

// setStatus moves the customer's account to status. With skipSame an account
// already in that state is left untouched.
func (h *WebhookHandler) setStatus(ctx context.Context, customerID string, status account.SubscriptionStatus, skipSame bool) error {
	if customerID == "" {
		log.Warn().Str("status", string(status)).Msg("stripe webhook: event without customer")
		return nil
	}

	acct, err := h.accounts.GetByStripeCustomerID(ctx, customerID)
	if errors.Is(err, account.ErrNotFound) {
		log.Error().Str("customer_id", customerID).Msg("stripe webhook: account not found for customer")
		return nil
	}
	if err != nil {
		return err
	}

	if skipSame && acct.SubscriptionStatus == status {
		return nil
	}
	return h.accounts.UpdateSubscription(ctx, acct.ID, status)
}

// MapSubscriptionStatus converts a Stripe subscription status. States with
// no local counterpart count as cancelled.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) account.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return account.StatusActive
	case stripe.SubscriptionStatusCanceled:
		return account.StatusCancelled
	case stripe.SubscriptionStatusIncomplete:
		return account.StatusIncomplete
	case stripe.SubscriptionStatusPastDue:
		return account.StatusPastDue
	case stripe.SubscriptionStatusTrialing:
		return account.StatusTrialing
	case stripe.SubscriptionStatusUnpaid:
		return account.StatusUnpaid
	default:
		return account.StatusCancelled
	}
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.ID)
}

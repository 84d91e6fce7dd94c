package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
)

var ErrNoCustomer = errors.New("account has no billing customer")

type CheckoutConfig struct {
	SecretKey       string
	PriceID         string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// Checkout starts Stripe-hosted subscription checkout and customer-portal
// sessions.
type Checkout struct {
	cfg CheckoutConfig

	newCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// NewCheckout sets the process-wide Stripe key when one is configured.
func NewCheckout(cfg CheckoutConfig) *Checkout {
	if key := strings.TrimSpace(cfg.SecretKey); key != "" {
		stripe.Key = key
	}
	return &Checkout{
		cfg:                cfg,
		newCheckoutSession: checkoutsession.New,
		newPortalSession:   portalsession.New,
	}
}

// CreateCheckoutSession returns the hosted checkout URL for a monthly
// subscription tagged with the account's CRM id.
func (c *Checkout) CreateCheckoutSession(_ context.Context, acct *account.Account) (string, error) {
	if strings.TrimSpace(c.cfg.SecretKey) == "" || strings.TrimSpace(c.cfg.PriceID) == "" {
		return "", ErrNotConfigured
	}
	if acct == nil {
		return "", errors.New("create checkout session: account is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(acct.FUBAccountID),
	}
	if acct.StripeCustomerID != "" {
		params.Customer = stripe.String(acct.StripeCustomerID)
	}
	params.AddMetadata("fub_account_id", acct.FUBAccountID)

	session, err := c.newCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	log.Info().Int64("account_id", acct.ID).Str("checkout_session", session.ID).Msg("stripe checkout session created")
	return session.URL, nil
}

// CreatePortalSession returns the customer-portal URL for an account that
// has completed checkout.
func (c *Checkout) CreatePortalSession(_ context.Context, acct *account.Account) (string, error) {
	if strings.TrimSpace(c.cfg.SecretKey) == "" {
		return "", ErrNotConfigured
	}
	if acct == nil || strings.TrimSpace(acct.StripeCustomerID) == "" {
		return "", ErrNoCustomer
	}

	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(acct.StripeCustomerID),
	}
	if c.cfg.PortalReturnURL != "" {
		params.ReturnURL = stripe.String(c.cfg.PortalReturnURL)
	}

	session, err := c.newPortalSession(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return session.URL, nil
}

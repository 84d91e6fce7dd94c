package billing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestDirectory(t *testing.T) *account.Directory {
	t.Helper()

	store, err := account.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	dir := account.NewDirectory(store)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func eventPayload(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_test","object":"event","api_version":"2020-08-27","type":%q,"data":{"object":%s}}`, eventType, object))
}

func signedEvent(t *testing.T, h *WebhookHandler, payload []byte) stripe.Event {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})
	event, err := h.ConstructEvent(signed.Payload, signed.Header)
	require.NoError(t, err)
	return event
}

func TestConstructEventSignature(t *testing.T) {
	h := NewWebhookHandler(testWebhookSecret, nil)
	payload := eventPayload("invoice.paid", `{"id":"in_1","object":"invoice","customer":"cus_1"}`)

	event := signedEvent(t, h, payload)
	require.Equal(t, stripe.EventType("invoice.paid"), event.Type)

	_, err := h.ConstructEvent(payload, "")
	require.ErrorIs(t, err, ErrInvalidSignature)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	_, err = h.ConstructEvent(payload, signed.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-3] = ' '
	good := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	_, err = h.ConstructEvent(tampered, good.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewWebhookHandler("", nil).ConstructEvent(payload, good.Header)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestHandleSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	h := NewWebhookHandler(testWebhookSecret, dir)

	acct, err := dir.Upsert(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, account.StatusTrialing, acct.SubscriptionStatus)

	steps := []struct {
		eventType string
		object    string
		want      account.SubscriptionStatus
	}{
		{"checkout.session.completed", `{"id":"cs_1","object":"checkout.session","customer":"cus_42","metadata":{"fub_account_id":"42"}}`, account.StatusActive},
		{"invoice.payment_failed", `{"id":"in_1","object":"invoice","customer":"cus_42"}`, account.StatusPastDue},
		{"invoice.payment_succeeded", `{"id":"in_2","object":"invoice","customer":"cus_42"}`, account.StatusActive},
		{"customer.subscription.updated", `{"id":"sub_1","object":"subscription","customer":"cus_42","status":"unpaid"}`, account.StatusUnpaid},
		{"invoice.paid", `{"id":"in_3","object":"invoice","customer":"cus_42"}`, account.StatusActive},
		{"customer.subscription.updated", `{"id":"sub_1","object":"subscription","customer":"cus_42","status":"paused"}`, account.StatusCancelled},
		{"customer.subscription.updated", `{"id":"sub_1","object":"subscription","customer":"cus_42","status":"active"}`, account.StatusActive},
		{"customer.subscription.deleted", `{"id":"sub_1","object":"subscription","customer":"cus_42","status":"canceled"}`, account.StatusCancelled},
	}

	for _, step := range steps {
		event := signedEvent(t, h, eventPayload(step.eventType, step.object))
		require.NoError(t, h.Handle(ctx, event), step.eventType)

		got, err := dir.Get(ctx, acct.ID)
		require.NoError(t, err)
		require.Equal(t, step.want, got.SubscriptionStatus, step.eventType)
		require.Equal(t, "cus_42", got.StripeCustomerID)
	}
}

func TestHandleAcknowledgesUnknownTargets(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	h := NewWebhookHandler(testWebhookSecret, dir)

	events := [][]byte{
		eventPayload("checkout.session.completed", `{"id":"cs_1","object":"checkout.session","customer":"cus_1","metadata":{}}`),
		eventPayload("checkout.session.completed", `{"id":"cs_2","object":"checkout.session","customer":"cus_1","metadata":{"fub_account_id":"missing"}}`),
		eventPayload("customer.subscription.deleted", `{"id":"sub_1","object":"subscription","customer":"cus_unknown"}`),
		eventPayload("customer.created", `{"id":"cus_1","object":"customer"}`),
	}
	for _, payload := range events {
		require.NoError(t, h.Handle(ctx, signedEvent(t, h, payload)))
	}
}

type failingStore struct {
	AccountStore
}

func (failingStore) GetByStripeCustomerID(context.Context, string) (*account.Account, error) {
	return nil, errors.New("connection reset")
}

func TestHandleStoreFailure(t *testing.T) {
	h := NewWebhookHandler(testWebhookSecret, failingStore{})

	event := signedEvent(t, h, eventPayload("invoice.payment_failed", `{"id":"in_1","object":"invoice","customer":"cus_1"}`))
	err := h.Handle(context.Background(), event)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

func TestMapSubscriptionStatus(t *testing.T) {
	require.Equal(t, account.StatusCancelled, MapSubscriptionStatus(stripe.SubscriptionStatusCanceled))
	require.Equal(t, account.StatusPastDue, MapSubscriptionStatus(stripe.SubscriptionStatusPastDue))
	require.Equal(t, account.StatusCancelled, MapSubscriptionStatus(stripe.SubscriptionStatusIncompleteExpired))
}

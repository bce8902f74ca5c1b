package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	testSecret          = "whsec_test_secret"
	testPriceIndividual = "price_individual"
	testPricePremium    = "price_premium"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testPrices() Prices { return NewPrices(testPriceIndividual, testPricePremium) }

func subscriptionEvent(eventType, customer, status, priceID string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     "evt_" + eventType,
		"object": "event",
		"type":   eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":       "sub_123",
				"object":   "subscription",
				"customer": customer,
				"status":   status,
				"items": map[string]any{
					"data": []map[string]any{{"price": map[string]any{"id": priceID}}},
				},
			},
		},
	})
	return body
}

func checkoutEvent(customer, clientRef string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     "evt_checkout",
		"object": "event",
		"type":   EventCheckoutCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "cs_1",
				"object":              "checkout.session",
				"customer":            customer,
				"client_reference_id": clientRef,
			},
		},
	})
	return body
}

func signedRequest(payload []byte, secret string) *http.Request {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func webhookRouter(h *WebhookHandler) *gin.Engine {
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func setupLinkedAccount(t *testing.T) *account.MemoryStore {
	t.Helper()
	store := account.NewMemoryStore(account.DefaultsFor(false))
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "user_1")
	require.NoError(t, err)
	require.NoError(t, store.SetBillingCustomerRef(ctx, "user_1", "cus_1"))
	return store
}

func TestWebhook_SubscriptionUpdated_PremiumPrice(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionUpdated, "cus_1", "active", testPricePremium), testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	a, err := store.GetOrCreate(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, account.TierPremium, a.Tier)
	assert.Equal(t, account.StatusActive, a.Status)
	assert.Equal(t, "sub_123", a.BillingSubscriptionRef)
}

func TestWebhook_SubscriptionCreated_StatusMirrored(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionCreated, "cus_1", "trialing", testPriceIndividual), testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	a, _ := store.GetOrCreate(context.Background(), "user_1")
	assert.Equal(t, account.TierIndividual, a.Tier)
	assert.Equal(t, account.Status("trialing"), a.Status)
}

func TestWebhook_UnknownPriceMapsToFree(t *testing.T) {
	store := setupLinkedAccount(t)
	ctx := context.Background()
	_, err := store.ApplyBillingUpdate(ctx, account.BillingUpdate{CustomerRef: "cus_1", Tier: account.TierPremium, Status: account.StatusActive})
	require.NoError(t, err)

	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionUpdated, "cus_1", "active", "price_legacy"), testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	a, _ := store.GetOrCreate(ctx, "user_1")
	assert.Equal(t, account.TierFree, a.Tier)
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	store := setupLinkedAccount(t)
	ctx := context.Background()
	_, err := store.ApplyBillingUpdate(ctx, account.BillingUpdate{CustomerRef: "cus_1", Tier: account.TierPremium, Status: account.StatusActive})
	require.NoError(t, err)

	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionDeleted, "cus_1", "canceled", testPricePremium), testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	a, _ := store.GetOrCreate(ctx, "user_1")
	assert.Equal(t, account.TierFree, a.Tier)
	assert.Equal(t, account.StatusCanceled, a.Status)
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))
	payload := subscriptionEvent(EventSubscriptionUpdated, "cus_1", "past_due", testPricePremium)

	var states []account.Account
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, signedRequest(payload, testSecret))
		require.Equal(t, http.StatusOK, w.Code)
		a, err := store.GetOrCreate(context.Background(), "user_1")
		require.NoError(t, err)
		states = append(states, *a)
	}
	assert.Equal(t, states[0].Tier, states[1].Tier)
	assert.Equal(t, states[0].Status, states[1].Status)
	assert.Equal(t, states[0].BillingSubscriptionRef, states[1].BillingSubscriptionRef)
}

func TestWebhook_UnmatchedCustomerAcknowledged(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionUpdated, "cus_unknown", "active", testPricePremium), testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	a, _ := store.GetOrCreate(context.Background(), "user_1")
	assert.Equal(t, account.TierFree, a.Tier)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))
	payload := subscriptionEvent(EventSubscriptionUpdated, "cus_1", "active", testPricePremium)

	t.Run("wrong secret", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, signedRequest(payload, "whsec_other"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("forged header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	a, _ := store.GetOrCreate(context.Background(), "user_1")
	assert.Equal(t, account.TierFree, a.Tier)
	assert.Empty(t, a.BillingSubscriptionRef)
}

func TestWebhook_MissingSecret(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler("", store, testPrices()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionUpdated, "cus_1", "active", testPricePremium), testSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "configuration_error")
}

func TestWebhook_CheckoutCompletedLinksCustomer(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "user_2")
	require.NoError(t, err)

	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(checkoutEvent("cus_2", "user_2"), testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	a, _ := store.GetOrCreate(ctx, "user_2")
	assert.Equal(t, "cus_2", a.BillingCustomerRef)
	assert.Equal(t, account.TierFree, a.Tier, "checkout completion does not change tier")

	// Unknown identity is acknowledged.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(checkoutEvent("cus_3", "user_ghost"), testSecret))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_UnhandledTypeAcknowledged(t *testing.T) {
	store := setupLinkedAccount(t)
	r := webhookRouter(NewWebhookHandler(testSecret, store, testPrices()))
	payload, _ := json.Marshal(map[string]any{
		"id": "evt_inv", "object": "event", "type": "invoice.paid",
		"data": map[string]any{"object": map[string]any{"id": "in_1"}},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(payload, testSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
}

type failingBillingStore struct{ account.Store }

func (failingBillingStore) ApplyBillingUpdate(context.Context, account.BillingUpdate) (bool, error) {
	return false, apierror.Storage("apply billing update", errors.New("db down"))
}

func TestWebhook_StorageFailureIsServerError(t *testing.T) {
	r := webhookRouter(NewWebhookHandler(testSecret, failingBillingStore{}, testPrices()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(subscriptionEvent(EventSubscriptionUpdated, "cus_1", "active", testPricePremium), testSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPrices(t *testing.T) {
	p := testPrices()
	assert.Equal(t, account.TierIndividual, p.TierFor(testPriceIndividual))
	assert.Equal(t, account.TierPremium, p.TierFor(" "+testPricePremium))
	assert.Equal(t, account.TierFree, p.TierFor("price_other"))
	assert.Equal(t, account.TierFree, p.TierFor(""))
	assert.True(t, p.Known(testPricePremium))
	assert.False(t, p.Known("price_other"))

	empty := NewPrices("", "")
	assert.False(t, empty.Known(""))
}

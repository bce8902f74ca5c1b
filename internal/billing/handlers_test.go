package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	customers     int
	lastCheckout  CheckoutParams
	lastPortal    string
	lastReturnURL string
	err           error
}

func (f *fakePayments) CreateCustomer(_ context.Context, identityRef string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.customers++
	return "cus_new_" + identityRef, nil
}

func (f *fakePayments) CreateCheckoutSession(_ context.Context, p CheckoutParams) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastCheckout = p
	return "https://checkout.stripe.test/c/pay/cs_1", nil
}

func (f *fakePayments) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastPortal = customerID
	f.lastReturnURL = returnURL
	return "https://billing.stripe.test/p/session/1", nil
}

func billingRouter(h *Handler, ref string) *gin.Engine {
	r := gin.New()
	api := r.Group("/api")
	api.Use(func(c *gin.Context) {
		c.Set(identity.ContextKeyIdentity, &identity.Identity{Ref: ref})
		c.Next()
	})
	h.RegisterProtectedRoutes(api, true)
	return r
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCheckout_CreatesCustomerOnce(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	pay := &fakePayments{}
	r := billingRouter(NewHandler(store, pay, testPrices(), "https://app.example.com/"), "user_1")

	w := postJSON(r, "/api/create-checkout", map[string]string{"priceId": testPricePremium, "tier": "premium"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"https://checkout.stripe.test/c/pay/cs_1"}`, w.Body.String())

	a, err := store.GetOrCreate(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_new_user_1", a.BillingCustomerRef)
	assert.Equal(t, account.TierFree, a.Tier, "tier changes only via webhook")

	assert.Equal(t, "cus_new_user_1", pay.lastCheckout.CustomerID)
	assert.Equal(t, testPricePremium, pay.lastCheckout.PriceID)
	assert.Equal(t, "user_1", pay.lastCheckout.ClientReferenceID)
	assert.Equal(t, "premium", pay.lastCheckout.Metadata["tier"])
	assert.Contains(t, pay.lastCheckout.SuccessURL, "https://app.example.com/dashboard")
	assert.Contains(t, pay.lastCheckout.CancelURL, "https://app.example.com/pricing")

	// Second checkout reuses the stored customer.
	w = postJSON(r, "/api/create-checkout", map[string]string{"priceId": testPriceIndividual})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, pay.customers)
	assert.Equal(t, "individual", pay.lastCheckout.Metadata["tier"])
}

func TestCreateCheckout_Validation(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	pay := &fakePayments{}
	r := billingRouter(NewHandler(store, pay, testPrices(), "https://app.example.com"), "user_1")

	w := postJSON(r, "/api/create-checkout", map[string]string{"tier": "premium"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/api/create-checkout", map[string]string{"priceId": "price_unknown"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")

	assert.Zero(t, pay.customers)
}

func TestCreateCheckout_PaymentsNotConfigured(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	r := billingRouter(NewHandler(store, NewStripePayments(""), testPrices(), "https://app.example.com"), "user_1")

	w := postJSON(r, "/api/create-checkout", map[string]string{"priceId": testPricePremium})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "configuration_error")
}

func TestCreateCheckout_UpstreamFailure(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	pay := &fakePayments{err: &apierror.UpstreamError{Status: http.StatusPaymentRequired, Message: "card declined"}}
	r := billingRouter(NewHandler(store, pay, testPrices(), "https://app.example.com"), "user_1")

	w := postJSON(r, "/api/create-checkout", map[string]string{"priceId": testPricePremium})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "card declined")
}

func TestCreatePortalSession(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	pay := &fakePayments{}
	r := billingRouter(NewHandler(store, pay, testPrices(), "https://app.example.com"), "user_1")

	t.Run("no customer", func(t *testing.T) {
		w := postJSON(r, "/api/create-portal-session", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "No billing account found")
	})

	t.Run("with customer", func(t *testing.T) {
		require.NoError(t, store.SetBillingCustomerRef(context.Background(), "user_1", "cus_7"))
		w := postJSON(r, "/api/create-portal-session", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"url":"https://billing.stripe.test/p/session/1"}`, w.Body.String())
		assert.Equal(t, "cus_7", pay.lastPortal)
		assert.Equal(t, "https://app.example.com/dashboard", pay.lastReturnURL)
	})
}

func TestRegisterProtectedRoutes_PortalDisabled(t *testing.T) {
	store := account.NewMemoryStore(account.DefaultsFor(false))
	r := gin.New()
	NewHandler(store, &fakePayments{}, testPrices(), "").RegisterProtectedRoutes(r.Group("/api"), false)

	w := postJSON(r, "/api/create-portal-session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

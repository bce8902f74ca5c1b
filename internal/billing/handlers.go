package billing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/identity"
	"github.com/mbd888/coachgate/internal/logging"
)

// Handler provides the checkout and customer-portal endpoints.
type Handler struct {
	store    account.Store
	payments Payments
	prices   Prices
	appURL   string
}

// NewHandler creates a billing handler. appURL is the public base URL used
// for Stripe redirects.
func NewHandler(store account.Store, payments Payments, prices Prices, appURL string) *Handler {
	return &Handler{
		store:    store,
		payments: payments,
		prices:   prices,
		appURL:   strings.TrimSuffix(appURL, "/"),
	}
}

// RegisterProtectedRoutes sets up routes that require a verified identity.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup, portalEnabled bool) {
	r.POST("/create-checkout", h.CreateCheckout)
	if portalEnabled {
		r.POST("/create-portal-session", h.CreatePortalSession)
	}
}

type checkoutRequest struct {
	PriceID string `json:"priceId" binding:"required"`
	Tier    string `json:"tier"`
}

// CreateCheckout handles POST /api/create-checkout.
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Invalid("priceId", "is required"))
		return
	}
	if !h.prices.Known(req.PriceID) {
		apierror.Respond(c, apierror.Invalid("priceId", "is not an available plan"))
		return
	}

	ctx := c.Request.Context()
	ref := identity.Ref(c)
	acct, err := h.store.GetOrCreate(ctx, ref)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	customerID := acct.BillingCustomerRef
	if customerID == "" {
		customerID, err = h.payments.CreateCustomer(ctx, ref)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if err := h.store.SetBillingCustomerRef(ctx, ref, customerID); err != nil {
			apierror.Respond(c, err)
			return
		}
		logging.L(ctx).Info("billing customer created", "customer_ref", customerID)
	}

	tier := h.prices.TierFor(req.PriceID)
	url, err := h.payments.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:        customerID,
		PriceID:           req.PriceID,
		ClientReferenceID: ref,
		SuccessURL:        h.appURL + "/dashboard?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         h.appURL + "/pricing?checkout=canceled",
		Metadata: map[string]string{
			"identity_ref": ref,
			"tier":         string(tier),
		},
	})
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// CreatePortalSession handles POST /api/create-portal-session.
func (h *Handler) CreatePortalSession(c *gin.Context) {
	ctx := c.Request.Context()
	acct, err := h.store.GetOrCreate(ctx, identity.Ref(c))
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	if acct.BillingCustomerRef == "" {
		apierror.Respond(c, apierror.Invalid("", "No billing account found. Subscribe to a plan first."))
		return
	}

	url, err := h.payments.CreatePortalSession(ctx, acct.BillingCustomerRef, h.appURL+"/dashboard")
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

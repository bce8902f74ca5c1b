package account

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/identity"
)

// Handler provides the subscription read endpoint.
type Handler struct {
	store Store
}

// NewHandler creates a new account handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterProtectedRoutes sets up routes that require a verified identity.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/subscription", h.GetSubscription)
}

// GetSubscription handles GET /api/subscription. The account is created on
// first access.
func (h *Handler) GetSubscription(c *gin.Context) {
	ref := identity.Ref(c)
	a, err := h.store.GetOrCreate(c.Request.Context(), ref)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	resp := gin.H{
		"tier":        a.Tier,
		"status":      a.Status,
		"usage_count": a.UsageCount,
	}
	if a.BillingCustomerRef != "" {
		resp["stripe_customer_id"] = a.BillingCustomerRef
	}
	c.JSON(http.StatusOK, resp)
}

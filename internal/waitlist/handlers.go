package waitlist

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/metrics"
	"github.com/mbd888/coachgate/internal/validation"
)

const (
	notifyTimeout = 5 * time.Second
	maxNameLength = 200
)

// Handler provides the public waitlist endpoint.
type Handler struct {
	store    Store
	notifier Notifier
}

// NewHandler creates a waitlist handler. A nil notifier sends nothing.
func NewHandler(store Store, notifier Notifier) *Handler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Handler{store: store, notifier: notifier}
}

// RegisterRoutes sets up the public waitlist route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/waitlist", h.Join)
}

type joinRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"max=200"`
	Tier  string `json:"tier" binding:"omitempty,oneof=free individual premium"`
}

// Join handles POST /api/waitlist.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Invalid("email", "a valid email address is required"))
		return
	}

	entry := &Entry{
		Email: req.Email,
		Name:  validation.SanitizeString(req.Name, maxNameLength),
		Tier:  req.Tier,
	}
	ctx := c.Request.Context()
	created, err := h.store.Add(ctx, entry)
	if err != nil {
		apierror.Respond(c, err)
		return
	}

	if !created {
		metrics.WaitlistSignupsTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Already on waitlist!"})
		return
	}

	metrics.WaitlistSignupsTotal.WithLabelValues("created").Inc()
	logging.L(ctx).Info("waitlist signup", "entry_id", entry.ID, "tier", entry.Tier)

	// Email is best effort; the signup already succeeded.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := h.notifier.Welcome(notifyCtx, *entry); err != nil {
		logging.L(ctx).Warn("waitlist welcome email failed", "entry_id", entry.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Successfully joined the waitlist!"})
}

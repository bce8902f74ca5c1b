package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/metrics"
	"github.com/mbd888/coachgate/internal/traces"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Handled event types.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutCompleted   = "checkout.session.completed"
)

var errMalformedEvent = errors.New("malformed event")

// WebhookHandler reconciles account tier and status from Stripe events.
type WebhookHandler struct {
	secret string
	store  account.Store
	prices Prices
}

// NewWebhookHandler creates a Stripe webhook handler.
func NewWebhookHandler(secret string, store account.Store, prices Prices) *WebhookHandler {
	return &WebhookHandler{secret: secret, store: store, prices: prices}
}

// RegisterRoutes mounts the webhook. It must not sit behind identity checks.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe-webhook", h.Handle)
}

// subscription is the subset of a Stripe subscription object the listener reads.
type subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscription) firstPriceID() string {
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

type checkoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	ClientReferenceID string `json:"client_reference_id"`
}

// Handle handles POST /api/stripe-webhook.
func (h *WebhookHandler) Handle(c *gin.Context) {
	eventType := "unknown"
	result := "ok"
	defer func() {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
	}()

	if strings.TrimSpace(h.secret) == "" {
		result = "not_configured"
		apierror.Respond(c, &apierror.ConfigurationError{Setting: "STRIPE_WEBHOOK_SECRET"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit))
	if err != nil {
		result = "bad_request"
		apierror.Respond(c, apierror.Invalid("", "failed to read request body"))
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		result = "bad_signature"
		apierror.Respond(c, apierror.Invalid("Stripe-Signature", "missing signature"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		result = "bad_signature"
		apierror.Respond(c, apierror.Invalid("Stripe-Signature", "invalid signature"))
		return
	}
	eventType = string(event.Type)

	ctx, span := traces.StartSpan(c.Request.Context(), "billing.webhook", traces.EventType(eventType))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if err := h.handleEvent(c, &event); err != nil {
		traces.RecordError(span, err)
		if errors.Is(err, errMalformedEvent) {
			result = "malformed"
			apierror.Respond(c, apierror.Invalid("data.object", err.Error()))
			return
		}
		result = "error"
		logging.L(ctx).Error("stripe webhook processing failed",
			"event_id", event.ID, "type", eventType, "error", err)
		apierror.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) handleEvent(c *gin.Context, event *stripe.Event) error {
	switch string(event.Type) {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: decode subscription: %v", errMalformedEvent, err)
		}
		return h.apply(c, event, account.BillingUpdate{
			CustomerRef:     strings.TrimSpace(sub.Customer),
			Tier:            h.prices.TierFor(sub.firstPriceID()),
			Status:          account.Status(sub.Status),
			SubscriptionRef: sub.ID,
		})

	case EventSubscriptionDeleted:
		var sub subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: decode subscription: %v", errMalformedEvent, err)
		}
		return h.apply(c, event, account.BillingUpdate{
			CustomerRef:     strings.TrimSpace(sub.Customer),
			Tier:            account.TierFree,
			Status:          account.StatusCanceled,
			SubscriptionRef: sub.ID,
		})

	case EventCheckoutCompleted:
		var sess checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("%w: decode checkout session: %v", errMalformedEvent, err)
		}
		return h.linkCustomer(c, event, sess)

	default:
		logging.L(c.Request.Context()).Info("stripe webhook ignored (unhandled type)",
			"event_id", event.ID, "type", string(event.Type))
		return nil
	}
}

func (h *WebhookHandler) apply(c *gin.Context, event *stripe.Event, u account.BillingUpdate) error {
	ctx := c.Request.Context()
	matched, err := h.store.ApplyBillingUpdate(ctx, u)
	if err != nil {
		return err
	}
	logger := logging.L(ctx).With("event_id", event.ID, "type", string(event.Type), "customer_ref", u.CustomerRef)
	if !matched {
		logger.Info("stripe webhook: no account for customer")
		return nil
	}
	logger.Info("account billing updated", "tier", u.Tier, "status", u.Status)
	return nil
}

func (h *WebhookHandler) linkCustomer(c *gin.Context, event *stripe.Event, sess checkoutSession) error {
	ctx := c.Request.Context()
	ref := strings.TrimSpace(sess.ClientReferenceID)
	customer := strings.TrimSpace(sess.Customer)
	if ref == "" || customer == "" {
		return nil
	}
	err := h.store.SetBillingCustomerRef(ctx, ref, customer)
	if errors.Is(err, account.ErrNotFound) {
		logging.L(ctx).Info("stripe webhook: checkout for unknown identity", "event_id", event.ID)
		return nil
	}
	return err
}

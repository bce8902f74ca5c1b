// Package billing implements Stripe checkout, the customer portal and the
// webhook listener that keeps account tiers in sync with subscriptions.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// CheckoutParams describes a subscription checkout session.
type CheckoutParams struct {
	CustomerID        string
	PriceID           string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
}

// Payments is the part of Stripe the handlers use.
type Payments interface {
	CreateCustomer(ctx context.Context, identityRef string) (customerID string, err error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (url string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
}

// StripePayments calls the Stripe API through an injected client.
type StripePayments struct {
	api *client.API
}

// NewStripePayments creates a Stripe client for secretKey. Without a key every
// call returns a ConfigurationError.
func NewStripePayments(secretKey string) *StripePayments {
	return newStripePayments(secretKey, "")
}

func newStripePayments(secretKey, baseURL string) *StripePayments {
	if secretKey == "" {
		return &StripePayments{}
	}
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripePayments{api: api}
}

// Configured reports whether a secret key was provided.
func (s *StripePayments) Configured() bool { return s.api != nil }

var errNotConfigured = &apierror.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}

func (s *StripePayments) CreateCustomer(ctx context.Context, identityRef string) (string, error) {
	if s.api == nil {
		return "", errNotConfigured
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata("identity_ref", identityRef)
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", stripeError("create customer", err)
	}
	return c.ID, nil
}

func (s *StripePayments) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	if s.api == nil {
		return "", errNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(p.CustomerID),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", stripeError("create checkout session", err)
	}
	if sess.URL == "" {
		return "", &apierror.UpstreamError{Status: 502, Message: "Payments provider returned no checkout URL"}
	}
	return sess.URL, nil
}

func (s *StripePayments) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if s.api == nil {
		return "", errNotConfigured
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", stripeError("create portal session", err)
	}
	return sess.URL, nil
}

// stripeError converts a Stripe API failure into an UpstreamError keeping
// Stripe's status and message.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = "Payments provider request failed"
		}
		return &apierror.UpstreamError{Status: se.HTTPStatusCode, Message: msg, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &apierror.UpstreamError{Status: 502, Message: "Payments provider unreachable", Err: fmt.Errorf("%s: %w", op, err)}
}

var _ Payments = (*StripePayments)(nil)

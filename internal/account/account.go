// Package account persists the per-identity subscription record: tier,
// status, usage counter and billing references.
package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrNotFound        = errors.New("account: not found")
	ErrInvalidIdentity = errors.New("account: identity ref is required")
)

// Tier identifies the subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierIndividual Tier = "individual"
	TierPremium    Tier = "premium"
)

// ParseTier normalizes a tier name. ok is false for unrecognized names.
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierIndividual, TierPremium:
		return t, true
	default:
		return TierFree, false
	}
}

// Status mirrors the payments provider's subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// Account is the persisted record for one external identity.
type Account struct {
	ID                     string    `json:"id"`
	IdentityRef            string    `json:"identity_ref"`
	Tier                   Tier      `json:"tier"`
	Status                 Status    `json:"status"`
	UsageCount             int64     `json:"usage_count"`
	BillingCustomerRef     string    `json:"billing_customer_ref,omitempty"`
	BillingSubscriptionRef string    `json:"billing_subscription_ref,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Defaults controls what a lazily created account starts with.
type Defaults struct {
	Tier   Tier
	Status Status
}

// DefaultsFor returns creation defaults. Beta mode starts accounts on premium.
func DefaultsFor(betaMode bool) Defaults {
	if betaMode {
		return Defaults{Tier: TierPremium, Status: StatusActive}
	}
	return Defaults{Tier: TierFree, Status: StatusActive}
}

// BillingUpdate is the tier/status change derived from a billing lifecycle event.
type BillingUpdate struct {
	CustomerRef     string
	Tier            Tier
	Status          Status
	SubscriptionRef string // empty leaves the stored reference unchanged
}

// Store persists accounts. Every method is its own unit of work.
type Store interface {
	// GetOrCreate returns the account for identityRef, creating it with the
	// store's defaults if absent. Concurrent first calls yield one row.
	GetOrCreate(ctx context.Context, identityRef string) (*Account, error)

	// SetBillingCustomerRef records the payments customer for an identity.
	SetBillingCustomerRef(ctx context.Context, identityRef, customerRef string) error

	// ApplyBillingUpdate updates the account owning u.CustomerRef. A missing
	// account is not an error; matched reports whether a row changed.
	ApplyBillingUpdate(ctx context.Context, u BillingUpdate) (matched bool, err error)

	// IncrementUsage atomically adds one to usage_count and returns the new value.
	IncrementUsage(ctx context.Context, identityRef string) (int64, error)
}

func normalizeIdentity(identityRef string) (string, error) {
	ref := strings.TrimSpace(identityRef)
	if ref == "" {
		return "", ErrInvalidIdentity
	}
	return ref, nil
}

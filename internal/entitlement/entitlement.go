// Package entitlement decides whether an account may make another chat call.
package entitlement

import (
	"math"

	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/apierror"
)

// Unlimited is the quota for tiers without a call cap.
const Unlimited int64 = math.MaxInt64

// DefaultFreeQuota is the number of chat calls allowed on the free tier.
const DefaultFreeQuota int64 = 3

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Tier    account.Tier
	Usage   int64
	Limit   int64
}

// Unlimited reports whether the account's tier has no call cap.
func (d Decision) Unlimited() bool { return d.Limit == Unlimited }

// Err returns apierror.ErrQuotaExceeded for a denied decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apierror.ErrQuotaExceeded
}

// Resolver maps tiers to quotas. Unrecognized tiers get the free quota.
type Resolver struct {
	quotas map[account.Tier]int64
}

// NewResolver builds a resolver with the given free-tier quota.
// Negative values are treated as zero.
func NewResolver(freeQuota int64) *Resolver {
	if freeQuota < 0 {
		freeQuota = 0
	}
	return &Resolver{quotas: map[account.Tier]int64{
		account.TierFree:       freeQuota,
		account.TierIndividual: Unlimited,
		account.TierPremium:    Unlimited,
	}}
}

// Quota returns the call limit for tier.
func (r *Resolver) Quota(tier account.Tier) int64 {
	if q, ok := r.quotas[tier]; ok {
		return q
	}
	return r.quotas[account.TierFree]
}

// Check compares the account's usage with its tier quota. It never mutates a.
func (r *Resolver) Check(a *account.Account) Decision {
	limit := r.Quota(a.Tier)
	return Decision{
		Allowed: a.UsageCount < limit,
		Tier:    a.Tier,
		Usage:   a.UsageCount,
		Limit:   limit,
	}
}

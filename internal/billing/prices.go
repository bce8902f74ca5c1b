package billing

import (
	"strings"

	"github.com/mbd888/coachgate/internal/account"
)

// Prices maps configured Stripe price ids to tiers.
type Prices struct {
	byID map[string]account.Tier
}

// NewPrices builds the price table. Empty ids are skipped.
func NewPrices(individualPriceID, premiumPriceID string) Prices {
	p := Prices{byID: make(map[string]account.Tier, 2)}
	if id := strings.TrimSpace(individualPriceID); id != "" {
		p.byID[id] = account.TierIndividual
	}
	if id := strings.TrimSpace(premiumPriceID); id != "" {
		p.byID[id] = account.TierPremium
	}
	return p
}

// TierFor returns the tier for priceID. Unknown prices map to free.
func (p Prices) TierFor(priceID string) account.Tier {
	if t, ok := p.byID[strings.TrimSpace(priceID)]; ok {
		return t
	}
	return account.TierFree
}

// Known reports whether priceID is one of the configured prices.
func (p Prices) Known(priceID string) bool {
	_, ok := p.byID[strings.TrimSpace(priceID)]
	return ok
}

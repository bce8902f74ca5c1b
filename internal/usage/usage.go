// Package usage records consumed chat calls against an account.
package usage

import (
	"context"
	"fmt"

	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/traces"
)

// Incrementer is the slice of account.Store the accountant needs.
type Incrementer interface {
	IncrementUsage(ctx context.Context, identityRef string) (int64, error)
}

// Accountant counts successful provider calls.
type Accountant struct {
	store Incrementer
}

// NewAccountant creates an Accountant backed by store.
func NewAccountant(store Incrementer) *Accountant {
	return &Accountant{store: store}
}

// RecordSuccess adds one to the account's usage and returns the new count.
// Call it once per request, after the provider call has succeeded.
func (a *Accountant) RecordSuccess(ctx context.Context, identityRef string) (int64, error) {
	ctx, span := traces.StartSpan(ctx, "usage.RecordSuccess", traces.IdentityRef(identityRef))
	defer span.End()

	n, err := a.store.IncrementUsage(ctx, identityRef)
	if err != nil {
		traces.RecordError(span, err)
		return 0, fmt.Errorf("record usage: %w", err)
	}
	logging.L(ctx).Debug("usage recorded", "usage_count", n)
	return n, nil
}

var _ Incrementer = (account.Store)(nil)

// Package chat serves the usage-gated chat endpoint: resolve the caller's
// account, check the tier quota, forward to the AI provider, then count the call.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/entitlement"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/metrics"
	"github.com/mbd888/coachgate/internal/provider"
	"github.com/mbd888/coachgate/internal/traces"
)

// Forwarder sends a chat request upstream.
type Forwarder interface {
	Forward(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Recorder counts a successful call.
type Recorder interface {
	RecordSuccess(ctx context.Context, identityRef string) (int64, error)
}

// QuotaError is returned when the account has used its tier's quota.
type QuotaError struct {
	Decision entitlement.Decision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: tier=%s usage=%d limit=%d", e.Decision.Tier, e.Decision.Usage, e.Decision.Limit)
}

func (e *QuotaError) Unwrap() error { return apierror.ErrQuotaExceeded }

// Result is a completed chat call.
type Result struct {
	Response   *provider.Response
	UsageCount int64
}

// Service runs one chat call end to end.
type Service struct {
	accounts account.Store
	resolver *entitlement.Resolver
	upstream Forwarder
	usage    Recorder
}

// NewService wires the chat path.
func NewService(accounts account.Store, resolver *entitlement.Resolver, upstream Forwarder, usage Recorder) *Service {
	return &Service{
		accounts: accounts,
		resolver: resolver,
		upstream: upstream,
		usage:    usage,
	}
}

// Chat resolves the account for identityRef, checks its quota, forwards req and
// records usage. Usage changes only when the upstream call succeeded.
func (s *Service) Chat(ctx context.Context, identityRef string, req provider.Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "chat.Chat", traces.IdentityRef(identityRef))
	defer span.End()

	res, err := s.chat(ctx, identityRef, req)
	metrics.ChatRequestsTotal.WithLabelValues(outcome(err)).Inc()
	traces.RecordError(span, err)
	return res, err
}

func (s *Service) chat(ctx context.Context, identityRef string, req provider.Request) (*Result, error) {
	acct, err := s.accounts.GetOrCreate(ctx, identityRef)
	if err != nil {
		return nil, err
	}

	decision := s.resolver.Check(acct)
	if !decision.Allowed {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(acct.Tier)).Inc()
		return nil, &QuotaError{Decision: decision}
	}

	resp, err := s.upstream.Forward(ctx, req)
	if err != nil {
		return nil, err
	}

	// The reply is already in hand; if it cannot be counted the request fails
	// rather than handing out an unmetered call.
	n, err := s.usage.RecordSuccess(ctx, identityRef)
	if err != nil {
		logging.L(ctx).Error("usage increment failed after successful upstream call", "error", err)
		return nil, err
	}

	return &Result{Response: resp, UsageCount: n}, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		upErr  *apierror.UpstreamError
		cfgErr *apierror.ConfigurationError
		stErr  *apierror.StorageError
	)
	switch {
	case errors.Is(err, apierror.ErrQuotaExceeded):
		return "limit_reached"
	case errors.As(err, &upErr):
		return "upstream_error"
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &stErr):
		return "storage_error"
	default:
		return "error"
	}
}

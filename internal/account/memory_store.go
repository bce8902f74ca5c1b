package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory account store for development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	defaults   Defaults
	byIdentity map[string]*Account
	byCustomer map[string]string // billing customer ref → identity ref
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore(defaults Defaults) *MemoryStore {
	return &MemoryStore{
		defaults:   defaults,
		byIdentity: make(map[string]*Account),
		byCustomer: make(map[string]string),
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, identityRef string) (*Account, error) {
	ref, err := normalizeIdentity(identityRef)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.byIdentity[ref]; ok {
		cp := *a
		return &cp, nil
	}

	now := time.Now().UTC()
	a := &Account{
		ID:          uuid.NewString(),
		IdentityRef: ref,
		Tier:        m.defaults.Tier,
		Status:      m.defaults.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.byIdentity[ref] = a
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) SetBillingCustomerRef(_ context.Context, identityRef, customerRef string) error {
	ref, err := normalizeIdentity(identityRef)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byIdentity[ref]
	if !ok {
		return ErrNotFound
	}
	if a.BillingCustomerRef == customerRef {
		return nil
	}
	if a.BillingCustomerRef != "" {
		delete(m.byCustomer, a.BillingCustomerRef)
	}
	a.BillingCustomerRef = customerRef
	a.UpdatedAt = time.Now().UTC()
	if customerRef != "" {
		m.byCustomer[customerRef] = ref
	}
	return nil
}

func (m *MemoryStore) ApplyBillingUpdate(_ context.Context, u BillingUpdate) (bool, error) {
	if u.CustomerRef == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.byCustomer[u.CustomerRef]
	if !ok {
		return false, nil
	}
	a := m.byIdentity[ref]
	a.Tier = u.Tier
	a.Status = u.Status
	if u.SubscriptionRef != "" {
		a.BillingSubscriptionRef = u.SubscriptionRef
	}
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, identityRef string) (int64, error) {
	ref, err := normalizeIdentity(identityRef)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byIdentity[ref]
	if !ok {
		return 0, ErrNotFound
	}
	a.UsageCount++
	a.UpdatedAt = time.Now().UTC()
	return a.UsageCount, nil
}

var _ Store = (*MemoryStore)(nil)

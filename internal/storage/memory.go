package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/blockadesystems/acmeforge/internal/model"
)

// MemoryStorage is the in-process reference backend. A single mutex guards all
// tables; every operation is in-memory and CPU-bound, so per-entry locking
// buys nothing here.
type MemoryStorage struct {
	mu              sync.Mutex
	nonces          map[string]*model.Nonce
	accountsByID    map[string]*model.Account
	accountsByThumb map[string]*model.Account
	accountSeq      int64
	orders          map[string]*model.Order
	authorizations  map[string]*model.Authorization
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store. Tests construct isolated
// instances per case instead of sharing process-wide state.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		nonces:          make(map[string]*model.Nonce),
		accountsByID:    make(map[string]*model.Account),
		accountsByThumb: make(map[string]*model.Account),
		orders:          make(map[string]*model.Order),
		authorizations:  make(map[string]*model.Authorization),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStorage) Close() error { return nil }

// --- Nonces ---

func (s *MemoryStorage) SaveNonce(ctx context.Context, nonce *model.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := *nonce
	s.nonces[n.Value] = &n
	return nil
}

// TakeNonce removes the nonce under the lock so two concurrent takers of the
// same value can never both receive it.
func (s *MemoryStorage) TakeNonce(ctx context.Context, value string) (*model.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nonces[value]
	if !ok {
		return nil, nil
	}
	delete(s.nonces, value)
	return n, nil
}

func (s *MemoryStorage) GetNonce(ctx context.Context, value string) (*model.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nonces[value]
	if !ok {
		return nil, nil
	}
	copied := *n
	return &copied, nil
}

func (s *MemoryStorage) DeleteNoncesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for value, n := range s.nonces {
		if n.IssuedAt.Before(cutoff) {
			delete(s.nonces, value)
			removed++
		}
	}
	return removed, nil
}

// DeleteOldestNonce removes the entry with the earliest issuance timestamp,
// ties broken arbitrarily.
func (s *MemoryStorage) DeleteOldestNonce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldestValue string
	var oldestAt time.Time
	for value, n := range s.nonces {
		if oldestValue == "" || n.IssuedAt.Before(oldestAt) {
			oldestValue = value
			oldestAt = n.IssuedAt
		}
	}
	if oldestValue != "" {
		delete(s.nonces, oldestValue)
	}
	return nil
}

func (s *MemoryStorage) CountNonces(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces), nil
}

// --- Accounts ---

// CreateAccount registers the candidate account unless one already exists for
// its thumbprint, in which case the existing record wins and the candidate is
// discarded. The check and the insert happen under one lock, so a race between
// two identical keys yields exactly one account.
func (s *MemoryStorage) CreateAccount(ctx context.Context, acct *model.Account) (*model.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accountsByThumb[acct.Thumbprint]; ok {
		copied := *existing
		return &copied, false, nil
	}
	s.accountSeq++
	stored := *acct
	stored.ID = strconv.FormatInt(s.accountSeq, 10)
	s.accountsByThumb[stored.Thumbprint] = &stored
	s.accountsByID[stored.ID] = &stored
	copied := stored
	return &copied, true, nil
}

func (s *MemoryStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accountsByID[id]
	if !ok {
		return nil, nil
	}
	copied := *acct
	return &copied, nil
}

func (s *MemoryStorage) GetAccountByThumbprint(ctx context.Context, thumbprint string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accountsByThumb[thumbprint]
	if !ok {
		return nil, nil
	}
	copied := *acct
	return &copied, nil
}

// --- Orders ---

func (s *MemoryStorage) SaveOrder(ctx context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *order
	s.orders[copied.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (s *MemoryStorage) GetOrdersByAccountID(ctx context.Context, accountID string) ([]*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]*model.Order, 0)
	for _, order := range s.orders {
		if order.AccountID == accountID {
			copied := *order
			orders = append(orders, &copied)
		}
	}
	return orders, nil
}

// --- Authorizations ---

func (s *MemoryStorage) SaveAuthorization(ctx context.Context, authz *model.Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *authz
	s.authorizations[copied.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetAuthorization(ctx context.Context, id string) (*model.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authz, ok := s.authorizations[id]
	if !ok {
		return nil, nil
	}
	copied := *authz
	return &copied, nil
}

func (s *MemoryStorage) GetAuthorizationsByOrderID(ctx context.Context, orderID string) ([]*model.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authzs := make([]*model.Authorization, 0)
	for _, authz := range s.authorizations {
		if authz.OrderID == orderID {
			copied := *authz
			authzs = append(authzs, &copied)
		}
	}
	return authzs, nil
}

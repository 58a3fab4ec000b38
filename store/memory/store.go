// Package memory provides an in-memory Store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/coins"
	"github.com/xraph/coins/balance"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/store"
	"github.com/xraph/coins/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Balance storage
	balances map[string]*balance.Balance

	// Reservation storage, keyed by transaction ID
	reservations map[string]*reservation.Reservation

	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source so resolution timestamps
// follow the same clock the wallet was given.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		balances:     make(map[string]*balance.Balance),
		reservations: make(map[string]*reservation.Reservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(_ context.Context, userID string) (*balance.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coins.ErrStoreClosed
	}

	b, ok := s.balances[userID]
	if !ok {
		return nil, coins.ErrBalanceNotFound
	}

	cp := *b
	return &cp, nil
}

func (s *Store) CreateBalance(_ context.Context, userID string, initial types.Coins) (*balance.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, coins.ErrStoreClosed
	}
	if _, exists := s.balances[userID]; exists {
		return nil, coins.ErrBalanceExists
	}

	b := &balance.Balance{
		Entity:  types.NewEntity(),
		UserID:  userID,
		Amount:  initial,
		Version: 1,
	}
	s.balances[userID] = b

	cp := *b
	return &cp, nil
}

func (s *Store) TryDebit(_ context.Context, userID string, amount types.Coins, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, coins.ErrStoreClosed
	}

	b, ok := s.balances[userID]
	if !ok {
		return 0, coins.ErrBalanceNotFound
	}
	if b.Version != expectedVersion {
		return 0, coins.ErrVersionConflict
	}
	if b.Amount < amount {
		return 0, coins.ErrInsufficientFunds
	}

	b.Amount -= amount
	b.Version++
	b.Touch()
	return b.Version, nil
}

func (s *Store) Credit(_ context.Context, userID string, amount types.Coins) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, coins.ErrStoreClosed
	}

	b, ok := s.balances[userID]
	if !ok {
		return 0, coins.ErrBalanceNotFound
	}

	b.Amount += amount
	b.Version++
	b.Touch()
	return b.Version, nil
}

// ==================== Reservation Store ====================

func (s *Store) CreatePending(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return coins.ErrStoreClosed
	}

	key := r.TransactionID.String()
	if _, exists := s.reservations[key]; exists {
		return coins.ErrDuplicateTransaction
	}

	cp := *r
	s.reservations[key] = &cp
	return nil
}

func (s *Store) GetReservation(_ context.Context, txnID id.TransactionID) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coins.ErrStoreClosed
	}

	r, ok := s.reservations[txnID.String()]
	if !ok {
		return nil, coins.ErrReservationNotFound
	}

	cp := *r
	return &cp, nil
}

func (s *Store) CommitReservation(_ context.Context, txnID id.TransactionID, resultMeta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return coins.ErrStoreClosed
	}

	r, ok := s.reservations[txnID.String()]
	if !ok || r.Status != reservation.StatusPending {
		return coins.ErrNotPending
	}

	now := s.now()
	r.Status = reservation.StatusCommitted
	r.ResolvedAt = &now
	for k, v := range resultMeta {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata[k] = v
	}
	r.UpdatedAt = now
	return nil
}

func (s *Store) CompensateReservation(_ context.Context, txnID id.TransactionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return coins.ErrStoreClosed
	}

	r, ok := s.reservations[txnID.String()]
	if !ok || r.Status != reservation.StatusPending {
		return coins.ErrNotPending
	}

	now := s.now()
	r.Status = reservation.StatusCompensated
	r.ResolvedAt = &now
	r.Reason = reason
	r.UpdatedAt = now
	return nil
}

func (s *Store) ListStalePending(_ context.Context, olderThan time.Time) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coins.ErrStoreClosed
	}

	result := make([]*reservation.Reservation, 0)
	for _, r := range s.reservations {
		if r.Status == reservation.StatusPending && r.CreatedAt.Before(olderThan) {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListReservations(_ context.Context, userID string, opts reservation.ListOpts) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, coins.ErrStoreClosed
	}

	result := make([]*reservation.Reservation, 0)
	for _, r := range s.reservations {
		if r.UserID != userID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	// Newest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return coins.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

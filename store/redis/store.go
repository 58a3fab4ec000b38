// Package redis provides a Redis-backed coin store.
//
// Balances and reservations are stored in Redis hashes with atomic Lua
// scripts for the debit compare-and-swap and the reservation status
// transitions. This makes it safe for multi-instance deployments.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	coins "github.com/xraph/coins"
	"github.com/xraph/coins/action"
	"github.com/xraph/coins/balance"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	coinsstore "github.com/xraph/coins/store"
	"github.com/xraph/coins/types"
)

// compile-time interface check
var _ coinsstore.Store = (*Store)(nil)

// Store is a Redis-backed coin store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	closer    func() error
}

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "coins:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithCloser sets the function invoked by Close. Use it when the store
// owns the client connection.
func WithCloser(fn func() error) Option {
	return func(s *Store) { s.closer = fn }
}

// New creates a new Redis-backed coin store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "coins:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) balanceKey(userID string) string {
	return s.keyPrefix + "balance:" + userID
}

func (s *Store) reservationKey(txnID string) string {
	return s.keyPrefix + "reservation:" + txnID
}

// pendingKey is a zset of pending transaction ids scored by creation
// time (unix milliseconds) so the sweep can range-query by age.
func (s *Store) pendingKey() string {
	return s.keyPrefix + "pending"
}

// userKey is a zset of a user's transaction ids scored by creation time.
func (s *Store) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID
}

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close invokes the configured closer, if any.
func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// ==================== Balance Store ====================

// createBalanceScript creates a balance hash only if it does not exist.
// KEYS[1] = balance hash key
// ARGV[1] = initial amount
// ARGV[2] = now (unix milliseconds)
//
// Returns 1 on create, 0 if the key already exists.
var createBalanceScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "amount", ARGV[1],
    "version", "1",
    "created_at", ARGV[2],
    "updated_at", ARGV[2])
return 1
`)

// tryDebitScript is the debit compare-and-swap.
// KEYS[1] = balance hash key
// ARGV[1] = amount
// ARGV[2] = expected version
// ARGV[3] = now (unix milliseconds)
//
// Returns:
//
//	>0 = new version (debited OK)
//	-1 = balance not found
//	-2 = version conflict
//	-3 = insufficient funds
var tryDebitScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
local version = tonumber(redis.call("HGET", KEYS[1], "version"))
if version ~= tonumber(ARGV[2]) then
    return -2
end
local amount = tonumber(redis.call("HGET", KEYS[1], "amount"))
if amount < tonumber(ARGV[1]) then
    return -3
end
redis.call("HINCRBY", KEYS[1], "amount", -tonumber(ARGV[1]))
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
return redis.call("HINCRBY", KEYS[1], "version", 1)
`)

// creditScript adds coins unconditionally (existing balance required).
// KEYS[1] = balance hash key
// ARGV[1] = amount
// ARGV[2] = now (unix milliseconds)
//
// Returns the new version, or -1 if the balance does not exist.
var creditScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
redis.call("HINCRBY", KEYS[1], "amount", tonumber(ARGV[1]))
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return redis.call("HINCRBY", KEYS[1], "version", 1)
`)

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	vals, err := s.client.HMGet(ctx, s.balanceKey(userID),
		"amount", "version", "created_at", "updated_at").Result()
	if err != nil {
		return nil, fmt.Errorf("coins/redis: get balance: %w", err)
	}
	if vals[0] == nil {
		return nil, coins.ErrBalanceNotFound
	}

	amount, _ := strconv.ParseInt(vals[0].(string), 10, 64)
	version, _ := strconv.ParseInt(vals[1].(string), 10, 64)
	createdAt := parseMilli(vals[2])
	updatedAt := parseMilli(vals[3])

	return &balance.Balance{
		Entity: types.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		UserID:  userID,
		Amount:  types.Coins(amount),
		Version: version,
	}, nil
}

func (s *Store) CreateBalance(ctx context.Context, userID string, initial types.Coins) (*balance.Balance, error) {
	t := now()
	created, err := createBalanceScript.Run(ctx, s.client,
		[]string{s.balanceKey(userID)},
		initial.Int64(), t.UnixMilli(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("coins/redis: create balance: %w", err)
	}
	if created == 0 {
		return nil, coins.ErrBalanceExists
	}

	return &balance.Balance{
		Entity: types.Entity{
			CreatedAt: t,
			UpdatedAt: t,
		},
		UserID:  userID,
		Amount:  initial,
		Version: 1,
	}, nil
}

func (s *Store) TryDebit(ctx context.Context, userID string, amount types.Coins, expectedVersion int64) (int64, error) {
	result, err := tryDebitScript.Run(ctx, s.client,
		[]string{s.balanceKey(userID)},
		amount.Int64(), expectedVersion, now().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("coins/redis: debit balance: %w", err)
	}

	switch {
	case result > 0:
		return result, nil
	case result == -1:
		return 0, coins.ErrBalanceNotFound
	case result == -2:
		return 0, coins.ErrVersionConflict
	case result == -3:
		return 0, coins.ErrInsufficientFunds
	default:
		return 0, fmt.Errorf("coins/redis: unexpected debit result: %d", result)
	}
}

func (s *Store) Credit(ctx context.Context, userID string, amount types.Coins) (int64, error) {
	result, err := creditScript.Run(ctx, s.client,
		[]string{s.balanceKey(userID)},
		amount.Int64(), now().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("coins/redis: credit balance: %w", err)
	}
	if result == -1 {
		return 0, coins.ErrBalanceNotFound
	}
	return result, nil
}

// ==================== Reservation Store ====================

// createPendingScript creates a reservation hash and indexes it.
// KEYS[1] = reservation hash key
// KEYS[2] = pending zset key
// KEYS[3] = user zset key
// ARGV[1..] = hash field/value pairs, then txn id and created_at score
//
// Returns 1 on create, 0 if the transaction id already exists.
var createPendingScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "user_id", ARGV[1],
    "kind", ARGV[2],
    "amount", ARGV[3],
    "status", ARGV[4],
    "reason", "",
    "metadata", ARGV[5],
    "created_at", ARGV[6],
    "updated_at", ARGV[6])
redis.call("ZADD", KEYS[2], tonumber(ARGV[6]), ARGV[7])
redis.call("ZADD", KEYS[3], tonumber(ARGV[6]), ARGV[7])
return 1
`)

// resolveScript transitions a pending reservation to a terminal status.
// KEYS[1] = reservation hash key
// KEYS[2] = pending zset key
// ARGV[1] = new status
// ARGV[2] = reason
// ARGV[3] = metadata JSON to merge ("" to skip)
// ARGV[4] = now (unix milliseconds)
// ARGV[5] = txn id
//
// Returns:
//
//	 1 = resolved OK
//	-1 = reservation not found
//	-2 = not pending
var resolveScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
if redis.call("HGET", KEYS[1], "status") ~= "pending" then
    return -2
end
redis.call("HSET", KEYS[1],
    "status", ARGV[1],
    "reason", ARGV[2],
    "resolved_at", ARGV[4],
    "updated_at", ARGV[4])
if ARGV[3] ~= "" then
    local meta = cjson.decode(redis.call("HGET", KEYS[1], "metadata"))
    for k, v in pairs(cjson.decode(ARGV[3])) do
        meta[k] = v
    end
    redis.call("HSET", KEYS[1], "metadata", cjson.encode(meta))
end
redis.call("ZREM", KEYS[2], ARGV[5])
return 1
`)

func (s *Store) CreatePending(ctx context.Context, r *reservation.Reservation) error {
	meta := "{}"
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("coins/redis: encode reservation metadata: %w", err)
		}
		meta = string(raw)
	}

	txn := r.TransactionID.String()
	created, err := createPendingScript.Run(ctx, s.client,
		[]string{s.reservationKey(txn), s.pendingKey(), s.userKey(r.UserID)},
		r.UserID, string(r.Kind), r.Amount.Int64(), string(r.Status),
		meta, r.CreatedAt.UnixMilli(), txn,
	).Int64()
	if err != nil {
		return fmt.Errorf("coins/redis: create reservation: %w", err)
	}
	if created == 0 {
		return coins.ErrDuplicateTransaction
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, txnID id.TransactionID) (*reservation.Reservation, error) {
	fields, err := s.client.HGetAll(ctx, s.reservationKey(txnID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("coins/redis: get reservation: %w", err)
	}
	if len(fields) == 0 {
		return nil, coins.ErrReservationNotFound
	}
	return reservationFromFields(txnID, fields)
}

func (s *Store) CommitReservation(ctx context.Context, txnID id.TransactionID, resultMeta map[string]string) error {
	meta := ""
	if len(resultMeta) > 0 {
		raw, err := json.Marshal(resultMeta)
		if err != nil {
			return fmt.Errorf("coins/redis: marshal result metadata: %w", err)
		}
		meta = string(raw)
	}
	return s.resolve(ctx, txnID, reservation.StatusCommitted, "", meta)
}

func (s *Store) CompensateReservation(ctx context.Context, txnID id.TransactionID, reason string) error {
	return s.resolve(ctx, txnID, reservation.StatusCompensated, reason, "")
}

func (s *Store) resolve(ctx context.Context, txnID id.TransactionID, status reservation.Status, reason, meta string) error {
	txn := txnID.String()
	result, err := resolveScript.Run(ctx, s.client,
		[]string{s.reservationKey(txn), s.pendingKey()},
		string(status), reason, meta, now().UnixMilli(), txn,
	).Int64()
	if err != nil {
		return fmt.Errorf("coins/redis: resolve reservation: %w", err)
	}

	switch result {
	case 1:
		return nil
	case -1:
		return coins.ErrReservationNotFound
	case -2:
		return coins.ErrNotPending
	default:
		return fmt.Errorf("coins/redis: unexpected resolve result: %d", result)
	}
}

func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time) ([]*reservation.Reservation, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.pendingKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("coins/redis: list stale reservations: %w", err)
	}
	return s.loadReservations(ctx, ids, "")
}

func (s *Store) ListReservations(ctx context.Context, userID string, opts reservation.ListOpts) ([]*reservation.Reservation, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	// Offset/limit apply to the index; a status filter on top is
	// applied after loading, so pages may come back short.
	if opts.Limit > 0 && opts.Status == "" {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("coins/redis: list reservations: %w", err)
	}

	result, err := s.loadReservations(ctx, ids, opts.Status)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) loadReservations(ctx context.Context, ids []string, status reservation.Status) ([]*reservation.Reservation, error) {
	result := make([]*reservation.Reservation, 0, len(ids))
	for _, raw := range ids {
		txnID, err := id.ParseTransactionID(raw)
		if err != nil {
			return nil, fmt.Errorf("coins/redis: corrupt index entry %q: %w", raw, err)
		}

		r, err := s.GetReservation(ctx, txnID)
		if err != nil {
			// Raced with a concurrent resolution; skip.
			if coins.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if status != "" && r.Status != status {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func reservationFromFields(txnID id.TransactionID, fields map[string]string) (*reservation.Reservation, error) {
	amount, _ := strconv.ParseInt(fields["amount"], 10, 64)

	var meta map[string]string
	if raw := fields["metadata"]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("coins/redis: decode reservation metadata: %w", err)
		}
	}

	var resolvedAt *time.Time
	if raw := fields["resolved_at"]; raw != "" {
		t := parseMilli(raw)
		resolvedAt = &t
	}

	return &reservation.Reservation{
		Entity: types.Entity{
			CreatedAt: parseMilli(fields["created_at"]),
			UpdatedAt: parseMilli(fields["updated_at"]),
		},
		TransactionID: txnID,
		UserID:        fields["user_id"],
		Kind:          action.Kind(fields["kind"]),
		Amount:        types.Coins(amount),
		Status:        reservation.Status(fields["status"]),
		ResolvedAt:    resolvedAt,
		Reason:        fields["reason"],
		Metadata:      meta,
	}, nil
}

func now() time.Time {
	return time.Now().UTC()
}

func parseMilli(v any) time.Time {
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	default:
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

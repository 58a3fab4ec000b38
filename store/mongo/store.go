package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	coins "github.com/xraph/coins"
	"github.com/xraph/coins/balance"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	coinsstore "github.com/xraph/coins/store"
	"github.com/xraph/coins/types"
)

// Collection name constants.
const (
	colBalances     = "coins_balances"
	colReservations = "coins_reservations"
)

// compile-time interface check
var _ coinsstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for the coin collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("coins/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	var m balanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coins.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("coins/mongo: get balance: %w", err)
	}
	return fromBalanceModel(&m), nil
}

func (s *Store) CreateBalance(ctx context.Context, userID string, initial types.Coins) (*balance.Balance, error) {
	t := now()
	m := &balanceModel{
		UserID:    userID,
		Amount:    initial.Int64(),
		Version:   1,
		CreatedAt: t,
		UpdatedAt: t,
	}

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, coins.ErrBalanceExists
		}
		return nil, fmt.Errorf("coins/mongo: create balance: %w", err)
	}
	return fromBalanceModel(m), nil
}

// TryDebit filters on user, version, and available amount at once, so
// the $inc only applies when the compare-and-swap holds. A zero match
// count is disambiguated by rereading the document.
func (s *Store) TryDebit(ctx context.Context, userID string, amount types.Coins, expectedVersion int64) (int64, error) {
	res, err := s.mdb.NewUpdate((*balanceModel)(nil)).
		Filter(bson.M{
			"_id":     userID,
			"version": expectedVersion,
			"amount":  bson.M{"$gte": amount.Int64()},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"amount": -amount.Int64(), "version": 1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("coins/mongo: debit balance: %w", err)
	}
	if res.MatchedCount() > 0 {
		return expectedVersion + 1, nil
	}

	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if b.Version != expectedVersion {
		return 0, coins.ErrVersionConflict
	}
	if b.Amount < amount {
		return 0, coins.ErrInsufficientFunds
	}
	return 0, coins.ErrVersionConflict
}

func (s *Store) Credit(ctx context.Context, userID string, amount types.Coins) (int64, error) {
	res, err := s.mdb.NewUpdate((*balanceModel)(nil)).
		Filter(bson.M{"_id": userID}).
		SetUpdate(bson.M{
			"$inc": bson.M{"amount": amount.Int64(), "version": 1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("coins/mongo: credit balance: %w", err)
	}
	if res.MatchedCount() == 0 {
		return 0, coins.ErrBalanceNotFound
	}

	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.Version, nil
}

// ==================== Reservation Store ====================

func (s *Store) CreatePending(ctx context.Context, r *reservation.Reservation) error {
	m := toReservationModel(r)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coins.ErrDuplicateTransaction
		}
		return fmt.Errorf("coins/mongo: create reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, txnID id.TransactionID) (*reservation.Reservation, error) {
	var m reservationModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": txnID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coins.ErrReservationNotFound
		}
		return nil, fmt.Errorf("coins/mongo: get reservation: %w", err)
	}
	return fromReservationModel(&m)
}

// CommitReservation is a one-shot transition: the status filter makes
// concurrent resolution attempts lose cleanly.
func (s *Store) CommitReservation(ctx context.Context, txnID id.TransactionID, resultMeta map[string]string) error {
	t := now()

	set := bson.M{
		"status":      string(reservation.StatusCommitted),
		"resolved_at": t,
		"updated_at":  t,
	}
	for k, v := range resultMeta {
		set["metadata."+k] = v
	}

	res, err := s.mdb.NewUpdate((*reservationModel)(nil)).
		Filter(bson.M{
			"_id":    txnID.String(),
			"status": string(reservation.StatusPending),
		}).
		SetUpdate(bson.M{"$set": set}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("coins/mongo: commit reservation: %w", err)
	}
	if res.MatchedCount() == 0 {
		return coins.ErrNotPending
	}
	return nil
}

func (s *Store) CompensateReservation(ctx context.Context, txnID id.TransactionID, reason string) error {
	t := now()
	res, err := s.mdb.NewUpdate((*reservationModel)(nil)).
		Filter(bson.M{
			"_id":    txnID.String(),
			"status": string(reservation.StatusPending),
		}).
		SetUpdate(bson.M{"$set": bson.M{
			"status":      string(reservation.StatusCompensated),
			"resolved_at": t,
			"updated_at":  t,
			"reason":      reason,
		}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("coins/mongo: compensate reservation: %w", err)
	}
	if res.MatchedCount() == 0 {
		return coins.ErrNotPending
	}
	return nil
}

func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time) ([]*reservation.Reservation, error) {
	var models []reservationModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(reservation.StatusPending),
			"created_at": bson.M{"$lt": olderThan},
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("coins/mongo: list stale reservations: %w", err)
	}

	result := make([]*reservation.Reservation, len(models))
	for i := range models {
		r, err := fromReservationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) ListReservations(ctx context.Context, userID string, opts reservation.ListOpts) ([]*reservation.Reservation, error) {
	var models []reservationModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("coins/mongo: list reservations: %w", err)
	}

	result := make([]*reservation.Reservation, len(models))
	for i := range models {
		r, err := fromReservationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the coin collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colBalances: {},
		colReservations: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetPartialFilterExpression(bson.M{"status": "pending"}),
			},
		},
	}
}

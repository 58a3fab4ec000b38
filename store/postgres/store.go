package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	coins "github.com/xraph/coins"
	"github.com/xraph/coins/balance"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	coinsstore "github.com/xraph/coins/store"
	"github.com/xraph/coins/types"
)

// compile-time interface check
var _ coinsstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("coins/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("coins/postgres: migration failed: %w", err)
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
	m := new(balanceModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, coins.ErrBalanceNotFound
		}
		return nil, err
	}
	return fromBalanceModel(m), nil
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

	res, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, coins.ErrBalanceExists
	}
	return fromBalanceModel(m), nil
}

// TryDebit is a single conditional UPDATE: the version match is the
// compare-and-swap, the amount guard rejects overdrafts at the same
// time. A zero row count is disambiguated by rereading the row.
func (s *Store) TryDebit(ctx context.Context, userID string, amount types.Coins, expectedVersion int64) (int64, error) {
	res, err := s.pg.NewUpdate((*balanceModel)(nil)).
		Set("amount = amount - $1", amount.Int64()).
		Set("version = version + 1").
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Where("version = $4", expectedVersion).
		Where("amount >= $5", amount.Int64()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows > 0 {
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
	// Version and amount both matched on the reread: the row changed
	// between the update and the reread.
	return 0, coins.ErrVersionConflict
}

func (s *Store) Credit(ctx context.Context, userID string, amount types.Coins) (int64, error) {
	res, err := s.pg.NewUpdate((*balanceModel)(nil)).
		Set("amount = amount + $1", amount.Int64()).
		Set("version = version + 1").
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return coins.ErrDuplicateTransaction
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, txnID id.TransactionID) (*reservation.Reservation, error) {
	m := new(reservationModel)
	err := s.pg.NewSelect(m).
		Where("transaction_id = $1", txnID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, coins.ErrReservationNotFound
		}
		return nil, err
	}
	return fromReservationModel(m)
}

// CommitReservation is a one-shot transition: the status guard in the
// WHERE clause makes concurrent resolution attempts lose cleanly.
func (s *Store) CommitReservation(ctx context.Context, txnID id.TransactionID, resultMeta map[string]string) error {
	t := now()

	meta, err := json.Marshal(resultMeta)
	if err != nil {
		return fmt.Errorf("coins/postgres: marshal result metadata: %w", err)
	}

	res, err := s.pg.NewUpdate((*reservationModel)(nil)).
		Set("status = $1", string(reservation.StatusCommitted)).
		Set("resolved_at = $2", t).
		Set("updated_at = $3", t).
		Set("metadata = metadata || $4::jsonb", meta).
		Where("transaction_id = $5", txnID.String()).
		Where("status = $6", string(reservation.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return coins.ErrNotPending
	}
	return nil
}

func (s *Store) CompensateReservation(ctx context.Context, txnID id.TransactionID, reason string) error {
	t := now()
	res, err := s.pg.NewUpdate((*reservationModel)(nil)).
		Set("status = $1", string(reservation.StatusCompensated)).
		Set("resolved_at = $2", t).
		Set("updated_at = $3", t).
		Set("reason = $4", reason).
		Where("transaction_id = $5", txnID.String()).
		Where("status = $6", string(reservation.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return coins.ErrNotPending
	}
	return nil
}

func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time) ([]*reservation.Reservation, error) {
	var models []reservationModel
	err := s.pg.NewSelect(&models).
		Where("status = $1", string(reservation.StatusPending)).
		Where("created_at < $2", olderThan).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

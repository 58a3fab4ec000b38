package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/coins/action"
	"github.com/xraph/coins/balance"
	"github.com/xraph/coins/id"
	"github.com/xraph/coins/reservation"
	"github.com/xraph/coins/types"
)

// ==================== Balance models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:coins_balances"`

	UserID    string    `grove:"user_id,pk" bson:"_id"`
	Amount    int64     `grove:"amount"     bson:"amount"`
	Version   int64     `grove:"version"    bson:"version"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func fromBalanceModel(m *balanceModel) *balance.Balance {
	return &balance.Balance{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		UserID:  m.UserID,
		Amount:  types.Coins(m.Amount),
		Version: m.Version,
	}
}

// ==================== Reservation models ====================

type reservationModel struct {
	grove.BaseModel `grove:"table:coins_reservations"`

	TransactionID string            `grove:"transaction_id,pk" bson:"_id"`
	UserID        string            `grove:"user_id"           bson:"user_id"`
	Kind          string            `grove:"kind"              bson:"kind"`
	Amount        int64             `grove:"amount"            bson:"amount"`
	Status        string            `grove:"status"            bson:"status"`
	ResolvedAt    *time.Time        `grove:"resolved_at"       bson:"resolved_at,omitempty"`
	Reason        string            `grove:"reason"            bson:"reason"`
	Metadata      map[string]string `grove:"metadata"          bson:"metadata,omitempty"`
	CreatedAt     time.Time         `grove:"created_at"        bson:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"        bson:"updated_at"`
}

func toReservationModel(r *reservation.Reservation) *reservationModel {
	return &reservationModel{
		TransactionID: r.TransactionID.String(),
		UserID:        r.UserID,
		Kind:          string(r.Kind),
		Amount:        r.Amount.Int64(),
		Status:        string(r.Status),
		ResolvedAt:    r.ResolvedAt,
		Reason:        r.Reason,
		Metadata:      r.Metadata,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromReservationModel(m *reservationModel) (*reservation.Reservation, error) {
	txnID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, err
	}

	return &reservation.Reservation{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TransactionID: txnID,
		UserID:        m.UserID,
		Kind:          action.Kind(m.Kind),
		Amount:        types.Coins(m.Amount),
		Status:        reservation.Status(m.Status),
		ResolvedAt:    m.ResolvedAt,
		Reason:        m.Reason,
		Metadata:      m.Metadata,
	}, nil
}

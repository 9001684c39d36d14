package reconciliation

import (
	"context"
	"database/sql"
	"time"

	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	"github.com/shopspring/decimal"
)

// Transfer is an incoming on-chain payment observed at a monitored address.
// Transfers are ephemeral: they are read from the chain on every scan and
// never persisted here.
type Transfer struct {
	TxHash        string
	Amount        decimal.Decimal
	ObservedAt    time.Time
	Confirmations int64
}

// ReservationStore is the persistence surface the reconciler needs. It is
// satisfied by *db.Store; tests supply fakes.
//
// AttachTransactionHash and UpdateReservationStatus are conditional writes
// (compare-and-set) and report the number of rows they touched. A zero row
// count is a benign conflict: another process got there first.
type ReservationStore interface {
	GetReservation(ctx context.Context, id int64) (db.Reservation, error)
	GetPendingReservations(ctx context.Context, arg db.GetPendingReservationsParams) ([]db.Reservation, error)
	GetReservationsWithSameAmount(ctx context.Context, arg db.GetReservationsWithSameAmountParams) ([]db.Reservation, error)
	GetUsedTransactionHashes(ctx context.Context) ([]sql.NullString, error)
	AttachTransactionHash(ctx context.Context, arg db.AttachTransactionHashParams) (int64, error)
	UpdateReservationStatus(ctx context.Context, arg db.UpdateReservationStatusParams) (int64, error)
	GetWalletAddress(ctx context.Context, currency string) (db.WalletAddress, error)
}

// TransferSource lists recent incoming transfers to an address. The network
// is implied by the currency; lookbackDepth is in network-specific units.
// Implementations must return an error on transport failure, never a silent
// empty list, so callers can tell "no transfers" from "could not check".
type TransferSource interface {
	Scan(ctx context.Context, address string, currency Currency, lookbackDepth int64) ([]Transfer, error)
}

// TransactionCheck is the report of a single-transaction lookup.
type TransactionCheck struct {
	Exists           bool
	Confirmations    int64
	Amount           decimal.Decimal
	RecipientMatches bool
}

// TransactionChecker resolves a user-submitted transaction hash against the
// chain, for the manual verification path.
type TransactionChecker interface {
	CheckTransaction(ctx context.Context, hash string, expectedAddress string, currency Currency) (TransactionCheck, error)
}

// Alerter surfaces conditions that need a human, currently only expected-
// amount collisions between pending reservations.
type Alerter interface {
	AmountCollision(reservation db.Reservation, others []db.Reservation)
}

// StatsRecorder persists pass statistics for observability.
type StatsRecorder interface {
	RecordPass(ctx context.Context, stats PassStats) error
}

// TransferCache memoizes scan results for a short window so that a guest
// double-submitting an on-demand check does not trigger duplicate scans.
type TransferCache interface {
	Insert(key string, value interface{})
	Get(key string) (interface{}, error)
}

package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	"github.com/VillaPay/VillaPay-Backend/models"
	"github.com/shopspring/decimal"
)

// Hash shapes per network. Loose on purpose: the chain lookup is the real
// validation, this only rejects obvious garbage before an external call.
var hashPatterns = map[Network]*regexp.Regexp{
	NetworkBitcoin:  regexp.MustCompile(`^[0-9a-fA-F]{64}$`),
	NetworkTron:     regexp.MustCompile(`^[0-9a-fA-F]{64}$`),
	NetworkEthereum: regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`),
}

// VerifyResult is the outcome of a manual transaction verification.
type VerifyResult struct {
	ReservationID  int64                    `json:"reservation_id"`
	Valid          bool                     `json:"valid"`
	Confirmed      bool                     `json:"confirmed"`
	Confirmations  int64                    `json:"confirmations"`
	ObservedAmount string                   `json:"observed_amount,omitempty"`
	Status         models.ReservationStatus `json:"status"`
}

// SubmitTransactionHash records a guest-submitted transaction hash on a
// reservation via the conditional attach. Submitting the same hash twice is
// a no-op; submitting a different hash when one is already attached is a
// conflict the guest cannot resolve themselves.
func (s *ReconciliationService) SubmitTransactionHash(ctx context.Context, reservationID int64, hash string) error {
	r, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReservationNotFound
	} else if err != nil {
		return err
	}

	currency := Currency(r.Currency)
	if IsCurrencyInvalid(r.Currency) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, r.Currency)
	}

	pattern, ok := hashPatterns[currency.ChainNetwork()]
	if !ok || !pattern.MatchString(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionHash, hash)
	}

	if r.TransactionHash.Valid {
		if r.TransactionHash.String == hash {
			return nil
		}
		return ErrHashConflict
	}

	rows, err := s.store.AttachTransactionHash(ctx, db.AttachTransactionHashParams{
		ID:              reservationID,
		TransactionHash: sql.NullString{String: hash, Valid: true},
	})
	if err != nil {
		if db.IsDuplicateEntry(err) {
			return fmt.Errorf("%w: %s", ErrHashAlreadyUsed, hash)
		}
		return err
	}
	if rows == 0 {
		// Lost a race with another attach; re-read and compare.
		current, err := s.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if current.TransactionHash.Valid && current.TransactionHash.String == hash {
			return nil
		}
		return ErrHashConflict
	}

	return nil
}

// VerifyManualTransaction checks the reservation's submitted transaction
// hash against the chain: the transaction must exist, pay the configured
// wallet address, match the expected amount within tolerance, and be buried
// under the currency's confirmation depth. When all of that holds and the
// reservation is still pending, it advances to paid.
//
// Verification is idempotent: running it again on an already-paid
// reservation repeats the check and reports the unchanged status.
func (s *ReconciliationService) VerifyManualTransaction(ctx context.Context, reservationID int64) (VerifyResult, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return VerifyResult{}, ErrReservationNotFound
	} else if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{
		ReservationID: r.ID,
		Status:        models.ReservationStatus(r.Status),
	}

	if !r.TransactionHash.Valid {
		return result, ErrMissingTransactionHash
	}

	currency := Currency(r.Currency)
	if IsCurrencyInvalid(r.Currency) {
		return result, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, r.Currency)
	}

	expected, err := decimal.NewFromString(r.ExpectedAmount)
	if err != nil {
		return result, fmt.Errorf("parsing expected amount %q: %w", r.ExpectedAmount, err)
	}

	addr, err := s.store.GetWalletAddress(ctx, currency.String())
	if errors.Is(err, sql.ErrNoRows) {
		return result, fmt.Errorf("%w: %s", ErrNoWalletAddress, currency)
	} else if err != nil {
		return result, err
	}

	checker, ok := s.checkers[currency.ChainNetwork()]
	if !ok {
		return result, fmt.Errorf("%w: no checker for network %s", ErrVerificationUnavailable, currency.ChainNetwork())
	}

	check, err := checker.CheckTransaction(ctx, r.TransactionHash.String, addr.Address, currency)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	if !check.Exists {
		s.logger.Info(fmt.Sprintf("reservation %d: submitted hash %s not found on %s",
			r.ID, r.TransactionHash.String, currency.ChainNetwork()))
		return result, nil
	}

	result.Confirmations = check.Confirmations
	result.Confirmed = check.Confirmations >= currency.MinConfirmations()
	result.ObservedAmount = check.Amount.String()

	amountOK := AmountWithinTolerance(expected, check.Amount, currency)
	result.Valid = check.RecipientMatches && amountOK

	if result.Valid && result.Confirmed && r.Status == models.StatusPending.String() {
		advanced, err := s.advanceStatus(ctx, r, models.StatusPaid)
		if err != nil {
			return result, err
		}
		if advanced {
			result.Status = models.StatusPaid
			s.logger.Info(fmt.Sprintf("reservation %d: manually verified via %s, now paid", r.ID, r.TransactionHash.String))
		} else {
			// Someone else moved the status first; report what it is now.
			current, err := s.store.GetReservation(ctx, reservationID)
			if err == nil {
				result.Status = models.ReservationStatus(current.Status)
			}
		}
	}

	return result, nil
}

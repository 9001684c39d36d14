package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/VillaPay/VillaPay-Backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tronHash = "b8a3f7c2d1e09a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3"
	ethHash  = "0xb8a3f7c2d1e09a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3"
)

func TestSubmitTransactionHash(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	svc := newTestService(store)
	require.NoError(t, svc.SubmitTransactionHash(context.Background(), 1, tronHash))

	r, _ := store.GetReservation(context.Background(), 1)
	assert.Equal(t, tronHash, r.TransactionHash.String)
}

func TestSubmitTransactionHashNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	err := svc.SubmitTransactionHash(context.Background(), 404, tronHash)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestSubmitTransactionHashRejectsMalformed(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))
	store.addReservation(pendingReservation(2, CurrencyUSDTERC20, "120.37", created))

	svc := newTestService(store)

	// Not hex, wrong length, empty.
	for _, bad := range []string{"not-a-hash", tronHash[:40], ""} {
		err := svc.SubmitTransactionHash(context.Background(), 1, bad)
		assert.ErrorIs(t, err, ErrInvalidTransactionHash, "hash %q", bad)
	}

	// Ethereum hashes need the 0x prefix; tron hashes must not have it.
	assert.ErrorIs(t, svc.SubmitTransactionHash(context.Background(), 2, tronHash), ErrInvalidTransactionHash)
	assert.ErrorIs(t, svc.SubmitTransactionHash(context.Background(), 1, ethHash), ErrInvalidTransactionHash)
	assert.NoError(t, svc.SubmitTransactionHash(context.Background(), 2, ethHash))
}

func TestSubmitTransactionHashIdempotent(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	svc := newTestService(store)
	require.NoError(t, svc.SubmitTransactionHash(context.Background(), 1, tronHash))
	// Same hash again is a no-op, not an error.
	assert.NoError(t, svc.SubmitTransactionHash(context.Background(), 1, tronHash))

	// A different hash on a reservation that already has one is a conflict.
	other := strings.Replace(tronHash, "b8a3", "c9b4", 1)
	assert.ErrorIs(t, svc.SubmitTransactionHash(context.Background(), 1, other), ErrHashConflict)
}

func TestSubmitTransactionHashUniqueAcrossReservations(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))
	store.addReservation(pendingReservation(2, CurrencyUSDTTRC20, "240.74", created))

	svc := newTestService(store)
	require.NoError(t, svc.SubmitTransactionHash(context.Background(), 1, tronHash))
	assert.ErrorIs(t, svc.SubmitTransactionHash(context.Background(), 2, tronHash), ErrHashAlreadyUsed)
}

func TestVerifyManualTransactionConfirmsPayment(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	checker := &fakeChecker{check: TransactionCheck{
		Exists:           true,
		Confirmations:    25,
		Amount:           amt("120.37"),
		RecipientMatches: true,
	}}

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, checker)

	result, err := svc.VerifyManualTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.Confirmed)
	assert.Equal(t, models.StatusPaid, result.Status)

	current, _ := store.GetReservation(context.Background(), 1)
	assert.Equal(t, models.StatusPaid.String(), current.Status)
}

func TestVerifyManualTransactionRequiresHash(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	svc := newTestService(store)
	_, err := svc.VerifyManualTransaction(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMissingTransactionHash)
}

func TestVerifyManualTransactionNotFoundOnChain(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, &fakeChecker{check: TransactionCheck{Exists: false}})

	result, err := svc.VerifyManualTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Confirmed)
	assert.Equal(t, models.StatusPending, result.Status)
}

func TestVerifyManualTransactionInsufficientConfirmations(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	checker := &fakeChecker{check: TransactionCheck{
		Exists:           true,
		Confirmations:    5, // tron needs 20
		Amount:           amt("120.37"),
		RecipientMatches: true,
	}}

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, checker)

	result, err := svc.VerifyManualTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.Confirmed)
	// Not buried deep enough yet, so no status change.
	assert.Equal(t, models.StatusPending, result.Status)
}

func TestVerifyManualTransactionAmountMismatch(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	checker := &fakeChecker{check: TransactionCheck{
		Exists:           true,
		Confirmations:    25,
		Amount:           amt("100.00"),
		RecipientMatches: true,
	}}

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, checker)

	result, err := svc.VerifyManualTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, models.StatusPending, result.Status)
}

func TestVerifyManualTransactionWrongRecipient(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	checker := &fakeChecker{check: TransactionCheck{
		Exists:           true,
		Confirmations:    25,
		Amount:           amt("120.37"),
		RecipientMatches: false,
	}}

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, checker)

	result, err := svc.VerifyManualTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyManualTransactionCheckerUnavailable(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	// No checker registered at all.
	svc := newTestService(store)
	_, err := svc.VerifyManualTransaction(context.Background(), 1)
	assert.ErrorIs(t, err, ErrVerificationUnavailable)

	// Registered but failing.
	svc.RegisterChecker(NetworkTron, &fakeChecker{err: errors.New("upstream 502")})
	_, err = svc.VerifyManualTransaction(context.Background(), 1)
	assert.ErrorIs(t, err, ErrVerificationUnavailable)
}

func TestVerifyManualTransactionIdempotentOnPaid(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	r.Status = models.StatusPaid.String()
	store.addReservation(r)

	checker := &fakeChecker{check: TransactionCheck{
		Exists:           true,
		Confirmations:    25,
		Amount:           amt("120.37"),
		RecipientMatches: true,
	}}

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, checker)

	result, err := svc.VerifyManualTransaction(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, models.StatusPaid, result.Status)

	current, _ := store.GetReservation(context.Background(), 1)
	assert.Equal(t, models.StatusPaid.String(), current.Status)
}

func TestVerifyManualTransactionNoWalletAddress(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.TransactionHash = sql.NullString{String: tronHash, Valid: true}
	store.addReservation(r)

	svc := newTestService(store)
	svc.RegisterChecker(NetworkTron, &fakeChecker{})

	_, err := svc.VerifyManualTransaction(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoWalletAddress)
}

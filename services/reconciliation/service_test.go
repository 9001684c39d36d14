package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	"github.com/VillaPay/VillaPay-Backend/models"
	"github.com/VillaPay/VillaPay-Backend/services/monitoring/logging"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mimics the reservation persistence layer in memory, including
// the conditional-write semantics of the real queries.
type fakeStore struct {
	mtx          sync.Mutex
	reservations map[int64]db.Reservation
	addresses    map[string]db.WalletAddress
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reservations: make(map[int64]db.Reservation),
		addresses:    make(map[string]db.WalletAddress),
	}
}

func (f *fakeStore) addReservation(r db.Reservation) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.reservations[r.ID] = r
}

func (f *fakeStore) addAddress(currency Currency, address string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.addresses[currency.String()] = db.WalletAddress{
		Currency: currency.String(),
		Network:  string(currency.ChainNetwork()),
		Address:  address,
		Active:   true,
	}
}

func (f *fakeStore) GetReservation(ctx context.Context, id int64) (db.Reservation, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return db.Reservation{}, sql.ErrNoRows
	}
	return r, nil
}

func (f *fakeStore) GetPendingReservations(ctx context.Context, arg db.GetPendingReservationsParams) ([]db.Reservation, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	wanted := make(map[string]bool)
	for _, c := range arg.Currencies {
		wanted[c] = true
	}
	var out []db.Reservation
	for _, r := range f.reservations {
		if r.Status != models.StatusPending.String() || r.TransactionHash.Valid {
			continue
		}
		if !wanted[r.Currency] || r.CreatedAt.Before(arg.CreatedAfter) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetReservationsWithSameAmount(ctx context.Context, arg db.GetReservationsWithSameAmountParams) ([]db.Reservation, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var out []db.Reservation
	for _, r := range f.reservations {
		if r.ID == arg.ExcludeID || r.Status != models.StatusPending.String() {
			continue
		}
		if r.Currency == arg.Currency && r.ExpectedAmount == arg.ExpectedAmount {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUsedTransactionHashes(ctx context.Context) ([]sql.NullString, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var out []sql.NullString
	for _, r := range f.reservations {
		if r.TransactionHash.Valid {
			out = append(out, r.TransactionHash)
		}
	}
	return out, nil
}

func (f *fakeStore) AttachTransactionHash(ctx context.Context, arg db.AttachTransactionHashParams) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, r := range f.reservations {
		if r.ID != arg.ID && r.TransactionHash.Valid && r.TransactionHash.String == arg.TransactionHash.String {
			return 0, &pq.Error{Code: db.DuplicateEntry}
		}
	}
	r, ok := f.reservations[arg.ID]
	if !ok || r.TransactionHash.Valid {
		return 0, nil
	}
	r.TransactionHash = arg.TransactionHash
	r.MatchMetadata = arg.MatchMetadata
	f.reservations[arg.ID] = r
	return 1, nil
}

func (f *fakeStore) UpdateReservationStatus(ctx context.Context, arg db.UpdateReservationStatusParams) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	r, ok := f.reservations[arg.ID]
	if !ok || r.Status != arg.FromStatus {
		return 0, nil
	}
	r.Status = arg.ToStatus
	f.reservations[arg.ID] = r
	return 1, nil
}

func (f *fakeStore) GetWalletAddress(ctx context.Context, currency string) (db.WalletAddress, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	a, ok := f.addresses[currency]
	if !ok {
		return db.WalletAddress{}, sql.ErrNoRows
	}
	return a, nil
}

// fakeSource serves canned transfers per currency and counts scans.
type fakeSource struct {
	transfers map[Currency][]Transfer
	err       error
	scans     int
}

func (f *fakeSource) Scan(ctx context.Context, address string, currency Currency, lookbackDepth int64) ([]Transfer, error) {
	f.scans++
	if f.err != nil {
		return nil, f.err
	}
	return f.transfers[currency], nil
}

type fakeChecker struct {
	check TransactionCheck
	err   error
	calls int
}

func (f *fakeChecker) CheckTransaction(ctx context.Context, hash string, expectedAddress string, currency Currency) (TransactionCheck, error) {
	f.calls++
	if f.err != nil {
		return TransactionCheck{}, f.err
	}
	return f.check, nil
}

type fakeAlerter struct {
	collisions int
}

func (f *fakeAlerter) AmountCollision(reservation db.Reservation, others []db.Reservation) {
	f.collisions++
}

type fakeCache struct {
	entries map[string]interface{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]interface{})}
}

func (f *fakeCache) Insert(key string, value interface{}) {
	f.entries[key] = value
}

func (f *fakeCache) Get(key string) (interface{}, error) {
	v, ok := f.entries[key]
	if !ok {
		return nil, errors.New("no item found")
	}
	return v, nil
}

func pendingReservation(id int64, currency Currency, amount string, createdAt time.Time) db.Reservation {
	return db.Reservation{
		ID:             id,
		GuestID:        id * 10,
		VillaID:        7,
		Currency:       currency.String(),
		ExpectedAmount: amount,
		Status:         models.StatusPending.String(),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func newTestService(store *fakeStore) *ReconciliationService {
	return NewReconciliationService(store, logging.NewSilentLogger())
}

func TestRunReconciliationPassMatchesAndConfirms(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")

	source := &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyUSDTTRC20: {
			{TxHash: "tx-1", Amount: amt("120.37"), ObservedAt: created.Add(time.Hour), Confirmations: 30},
		},
	}}

	svc := newTestService(store)
	svc.WithClock(func() time.Time { return created.Add(2 * time.Hour) })
	svc.RegisterSource(NetworkTron, source)

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 0, stats.Failures)

	r, err := store.GetReservation(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid.String(), r.Status)
	assert.Equal(t, "tx-1", r.TransactionHash.String)
	assert.True(t, r.MatchMetadata.Valid)
}

func TestRunReconciliationPassOneScanPerCurrency(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	for i := int64(1); i <= 5; i++ {
		store.addReservation(pendingReservation(i, CurrencyUSDTTRC20, fmt.Sprintf("120.%02d", i), created))
	}

	source := &fakeSource{}
	svc := newTestService(store)
	svc.WithClock(func() time.Time { return created.Add(time.Hour) })
	svc.RegisterSource(NetworkTron, source)

	_, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, source.scans)
}

func TestRunReconciliationPassSkipsScanWithoutPending(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}
	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, source)
	svc.RegisterSource(NetworkBitcoin, source)
	svc.RegisterSource(NetworkEthereum, source)

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Examined)
	assert.Equal(t, 0, source.scans)
}

func TestRunReconciliationPassExcludesHashWithinPass(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	// Two reservations expecting the same amount, one matching transfer.
	// Whichever is processed first claims the transfer; the other must not.
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))
	store.addReservation(pendingReservation(2, CurrencyUSDTTRC20, "120.37", created.Add(time.Minute)))

	source := &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyUSDTTRC20: {
			{TxHash: "tx-1", Amount: amt("120.37"), ObservedAt: created.Add(10 * time.Minute), Confirmations: 30},
		},
	}}

	alerter := &fakeAlerter{}
	svc := newTestService(store)
	svc.WithClock(func() time.Time { return created.Add(time.Hour) })
	svc.WithAlerter(alerter)
	svc.RegisterSource(NetworkTron, source)

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
	// The first reservation sees the second as a collision; by the time the
	// second is processed the first is already paid and out of the query.
	assert.Equal(t, 1, stats.Collisions)
	assert.Equal(t, 1, alerter.collisions)

	r1, _ := store.GetReservation(context.Background(), 1)
	r2, _ := store.GetReservation(context.Background(), 2)
	attached := 0
	for _, r := range []db.Reservation{r1, r2} {
		if r.TransactionHash.Valid {
			attached++
			assert.Equal(t, "tx-1", r.TransactionHash.String)
		}
	}
	assert.Equal(t, 1, attached)
}

func TestRunReconciliationPassIsolatesNetworkFailures(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyBTC, "bc1qaddr")
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyBTC, "0.00512345", created))
	store.addReservation(pendingReservation(2, CurrencyUSDTTRC20, "120.37", created))

	broken := &fakeSource{err: errors.New("upstream 502")}
	working := &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyUSDTTRC20: {
			{TxHash: "tx-2", Amount: amt("120.37"), ObservedAt: created.Add(time.Minute), Confirmations: 30},
		},
	}}

	svc := newTestService(store)
	svc.WithClock(func() time.Time { return created.Add(time.Hour) })
	svc.RegisterSource(NetworkBitcoin, broken)
	svc.RegisterSource(NetworkTron, working)

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Examined)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.Failures)

	r2, _ := store.GetReservation(context.Background(), 2)
	assert.Equal(t, models.StatusPaid.String(), r2.Status)
}

func TestRunReconciliationPassSkipsMissingWalletAddress(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyBTC, "0.00512345", created))

	source := &fakeSource{}
	svc := newTestService(store)
	svc.WithClock(func() time.Time { return created.Add(time.Hour) })
	svc.RegisterSource(NetworkBitcoin, source)

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, source.scans)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 0, stats.Matched)
}

func TestRunReconciliationPassIgnoresOldReservations(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", now.Add(-30*24*time.Hour)))

	source := &fakeSource{}
	svc := newTestService(store)
	svc.WithClock(func() time.Time { return now })
	svc.RegisterSource(NetworkTron, source)

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Examined)
	assert.Equal(t, 0, source.scans)
}

func TestCheckReservationPaymentAttachesWithoutConfirming(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	source := &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyUSDTTRC20: {
			{TxHash: "tx-1", Amount: amt("120.37"), ObservedAt: created.Add(time.Minute), Confirmations: 30},
		},
	}}

	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, source)

	result, err := svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "tx-1", result.TransactionHash)

	// The on-demand path is not trusted to confirm: still pending.
	r, _ := store.GetReservation(context.Background(), 1)
	assert.Equal(t, models.StatusPending.String(), r.Status)
	assert.Equal(t, "tx-1", r.TransactionHash.String)
}

func TestCheckReservationPaymentShortCircuitsResolved(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	r := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	r.Status = models.StatusPaid.String()
	r.TransactionHash = sql.NullString{String: "tx-1", Valid: true}
	store.addReservation(r)

	source := &fakeSource{}
	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, source)

	result, err := svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.AlreadyResolved)
	assert.Equal(t, "tx-1", result.TransactionHash)
	// Resolved reservations never reach the chain.
	assert.Equal(t, 0, source.scans)
}

func TestCheckReservationPaymentNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.CheckReservationPayment(context.Background(), 404)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestCheckReservationPaymentNoWalletAddress(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, &fakeSource{})

	_, err := svc.CheckReservationPayment(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoWalletAddress)
}

func TestCheckReservationPaymentScanUnavailable(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, &fakeSource{err: errors.New("timeout")})

	_, err := svc.CheckReservationPayment(context.Background(), 1)
	assert.ErrorIs(t, err, ErrScanUnavailable)
}

func TestCheckReservationPaymentNoMatchStaysPending(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))

	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyUSDTTRC20: {
			{TxHash: "other", Amount: amt("99.99"), ObservedAt: created.Add(time.Minute)},
		},
	}})

	result, err := svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, models.StatusPending, result.Status)
}

func TestCheckReservationPaymentSkipsUsedHash(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))
	claimed := pendingReservation(2, CurrencyUSDTTRC20, "120.38", created)
	claimed.TransactionHash = sql.NullString{String: "tx-1", Valid: true}
	store.addReservation(claimed)

	svc := newTestService(store)
	svc.RegisterSource(NetworkTron, &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyUSDTTRC20: {
			{TxHash: "tx-1", Amount: amt("120.37"), ObservedAt: created.Add(time.Minute)},
		},
	}})

	result, err := svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Matched)

	r, _ := store.GetReservation(context.Background(), 1)
	assert.False(t, r.TransactionHash.Valid)
}

func TestCheckReservationPaymentUsesScanCache(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "999.99", created))

	source := &fakeSource{}
	svc := newTestService(store)
	svc.WithTransferCache(newFakeCache())
	svc.RegisterSource(NetworkTron, source)

	_, err := svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, source.scans)
}

func TestCheckReservationPaymentReportsCollision(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addAddress(CurrencyUSDTTRC20, "TTronAddr")
	store.addReservation(pendingReservation(1, CurrencyUSDTTRC20, "120.37", created))
	store.addReservation(pendingReservation(2, CurrencyUSDTTRC20, "120.37", created))

	alerter := &fakeAlerter{}
	svc := newTestService(store)
	svc.WithAlerter(alerter)
	svc.RegisterSource(NetworkTron, &fakeSource{})

	result, err := svc.CheckReservationPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.CollisionDetected)
	assert.Equal(t, 1, alerter.collisions)

	// Collision is reported, never auto-resolved: both stay pending.
	r1, _ := store.GetReservation(context.Background(), 1)
	r2, _ := store.GetReservation(context.Background(), 2)
	assert.Equal(t, models.StatusPending.String(), r1.Status)
	assert.Equal(t, models.StatusPending.String(), r2.Status)
}

func TestAdvanceStatusHonorsTransitionTable(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	svc := newTestService(store)

	cancelled := pendingReservation(1, CurrencyUSDTTRC20, "120.37", created)
	cancelled.Status = models.StatusCancelled.String()
	store.addReservation(cancelled)

	// A terminal reservation can never move to paid, and the store must not
	// be written at all.
	_, err := svc.advanceStatus(context.Background(), cancelled, models.StatusPaid)
	require.Error(t, err)
	current, _ := store.GetReservation(context.Background(), 1)
	assert.Equal(t, models.StatusCancelled.String(), current.Status)

	// The legal move works and reports that it happened.
	pending := pendingReservation(2, CurrencyUSDTTRC20, "240.74", created)
	store.addReservation(pending)
	advanced, err := svc.advanceStatus(context.Background(), pending, models.StatusPaid)
	require.NoError(t, err)
	assert.True(t, advanced)

	// Replaying with the stale pending snapshot loses the conditional write
	// without error.
	advanced, err = svc.advanceStatus(context.Background(), pending, models.StatusPaid)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestReconcileDecimalAmountsStayExact(t *testing.T) {
	// Matching runs on decimals end to end: an amount that is not float-
	// representable still matches exactly.
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expected := decimal.RequireFromString("0.10000001")
	store := newFakeStore()
	store.addAddress(CurrencyBTC, "bc1qaddr")
	store.addReservation(pendingReservation(1, CurrencyBTC, expected.String(), created))

	svc := newTestService(store)
	svc.WithClock(func() time.Time { return created.Add(time.Hour) })
	svc.RegisterSource(NetworkBitcoin, &fakeSource{transfers: map[Currency][]Transfer{
		CurrencyBTC: {
			{TxHash: "tx-btc", Amount: expected, ObservedAt: created.Add(time.Minute), Confirmations: 3},
		},
	}})

	stats, err := svc.RunReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
}

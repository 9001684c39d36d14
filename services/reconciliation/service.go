package reconciliation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	"github.com/VillaPay/VillaPay-Backend/models"
	"github.com/VillaPay/VillaPay-Backend/services/monitoring/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

// DefaultMaxPendingAge bounds how far back the scheduler looks for pending
// reservations. Older ones are left for manual handling rather than being
// scanned forever.
const DefaultMaxPendingAge = 7 * 24 * time.Hour

func scanCacheKey(currency Currency, address string) string {
	return fmt.Sprintf("scan:%s:%s", currency, address)
}

// PassStats summarizes one reconciliation pass.
type PassStats struct {
	PassID     string    `json:"pass_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Examined   int       `json:"examined"`
	Matched    int       `json:"matched"`
	Collisions int       `json:"collisions"`
	Failures   int       `json:"failures"`
}

// CheckResult is the outcome of a single-reservation payment check.
type CheckResult struct {
	ReservationID     int64                    `json:"reservation_id"`
	Status            models.ReservationStatus `json:"status"`
	TransactionHash   string                   `json:"transaction_hash,omitempty"`
	Matched           bool                     `json:"matched"`
	AlreadyResolved   bool                     `json:"already_resolved"`
	CollisionDetected bool                     `json:"collision_detected"`
}

type ReconciliationService struct {
	store    ReservationStore
	sources  map[Network]TransferSource
	checkers map[Network]TransactionChecker
	alerter  Alerter
	stats    StatsRecorder
	cache    TransferCache
	logger   *logging.Logger
	maxAge   time.Duration
	now      func() time.Time
}

func NewReconciliationService(store ReservationStore, logger *logging.Logger) *ReconciliationService {
	return &ReconciliationService{
		store:    store,
		sources:  make(map[Network]TransferSource),
		checkers: make(map[Network]TransactionChecker),
		logger:   logger,
		maxAge:   DefaultMaxPendingAge,
		now:      time.Now,
	}
}

// RegisterSource wires the transfer source for one network.
func (s *ReconciliationService) RegisterSource(network Network, source TransferSource) {
	s.sources[network] = source
}

// RegisterChecker wires the transaction checker for one network.
func (s *ReconciliationService) RegisterChecker(network Network, checker TransactionChecker) {
	s.checkers[network] = checker
}

func (s *ReconciliationService) WithAlerter(a Alerter) *ReconciliationService {
	s.alerter = a
	return s
}

func (s *ReconciliationService) WithStatsRecorder(r StatsRecorder) *ReconciliationService {
	s.stats = r
	return s
}

func (s *ReconciliationService) WithTransferCache(c TransferCache) *ReconciliationService {
	s.cache = c
	return s
}

func (s *ReconciliationService) WithMaxPendingAge(d time.Duration) *ReconciliationService {
	s.maxAge = d
	return s
}

// WithClock injects a clock, for tests.
func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	s.now = now
	return s
}

// RunReconciliationPass walks every eligible pending reservation, scans each
// network's address once, and commits matches. This is the trusted scheduled
// path: a match advances the reservation straight to paid.
//
// A failure on one reservation or one network never aborts the pass; it is
// counted and the pass moves on.
func (s *ReconciliationService) RunReconciliationPass(ctx context.Context) (PassStats, error) {
	stats := PassStats{
		PassID:    uuid.NewString(),
		StartedAt: s.now(),
	}

	used, err := s.loadUsedHashes(ctx)
	if err != nil {
		return stats, fmt.Errorf("load used transaction hashes: %w", err)
	}

	createdAfter := s.now().Add(-s.maxAge)
	groups := CurrenciesByNetwork()

	for _, network := range Networks() {
		currencies := groups[network]
		codes := make([]string, len(currencies))
		for i, c := range currencies {
			codes[i] = c.String()
		}

		pending, err := s.store.GetPendingReservations(ctx, db.GetPendingReservationsParams{
			Currencies:   codes,
			CreatedAfter: createdAfter,
		})
		if err != nil {
			s.logger.Error(fmt.Sprintf("pass %s: selecting pending reservations for %s: %v", stats.PassID, network, err))
			stats.Failures++
			continue
		}

		// No candidates on this network, skip the scan entirely.
		if len(pending) == 0 {
			continue
		}

		// One scan per currency group, reused across every reservation in
		// the group. External call volume stays bounded by the number of
		// currencies, not the number of reservations.
		transfers := s.scanCurrencies(ctx, network, pending, &stats)

		for _, r := range pending {
			stats.Examined++
			if err := s.reconcileReservation(ctx, r, transfers, used, true, &stats); err != nil {
				s.logger.Error(fmt.Sprintf("pass %s: reservation %d: %v", stats.PassID, r.ID, err))
				stats.Failures++
			}
		}
	}

	stats.FinishedAt = s.now()
	s.logger.Info(fmt.Sprintf("reconciliation pass %s finished: examined=%d matched=%d collisions=%d failures=%d",
		stats.PassID, stats.Examined, stats.Matched, stats.Collisions, stats.Failures))

	if s.stats != nil {
		if err := s.stats.RecordPass(ctx, stats); err != nil {
			s.logger.Warn(fmt.Sprintf("pass %s: recording stats: %v", stats.PassID, err))
		}
	}

	return stats, nil
}

// scanCurrencies fetches the transfer list once for every currency that has
// at least one pending reservation on the network. Currencies whose address
// is missing or whose scan fails are simply absent from the returned map.
func (s *ReconciliationService) scanCurrencies(ctx context.Context, network Network, pending []db.Reservation, stats *PassStats) map[Currency][]Transfer {
	needed := make(map[Currency]bool)
	for _, r := range pending {
		needed[Currency(r.Currency)] = true
	}

	source, ok := s.sources[network]
	if !ok {
		s.logger.Error(fmt.Sprintf("no transfer source registered for network %s", network))
		stats.Failures++
		return nil
	}

	out := make(map[Currency][]Transfer)
	for currency := range needed {
		addr, err := s.store.GetWalletAddress(ctx, currency.String())
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Error(fmt.Sprintf("no wallet address configured for %s", currency))
			stats.Failures++
			continue
		} else if err != nil {
			s.logger.Error(fmt.Sprintf("resolving wallet address for %s: %v", currency, err))
			stats.Failures++
			continue
		}

		transfers, err := source.Scan(ctx, addr.Address, currency, currency.LookbackDepth())
		if err != nil {
			s.logger.Error(fmt.Sprintf("scanning %s address %s: %v", currency, addr.Address, err))
			stats.Failures++
			continue
		}
		out[currency] = transfers
	}
	return out
}

// reconcileReservation runs the shared matching path for one reservation.
// autoConfirm decides whether a match also advances the status to paid; only
// the scheduled server-internal pass is trusted to do that. The on-demand
// path attaches the hash and leaves confirmation to an administrator or the
// manual verifier.
//
// Every hash attached here is added to used, so reservations processed later
// in the same pass can no longer claim the same transfer.
func (s *ReconciliationService) reconcileReservation(ctx context.Context, r db.Reservation, transfers map[Currency][]Transfer, used map[string]bool, autoConfirm bool, stats *PassStats) error {
	currency := Currency(r.Currency)
	if IsCurrencyInvalid(r.Currency) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, r.Currency)
	}

	expected, err := decimal.NewFromString(r.ExpectedAmount)
	if err != nil {
		return fmt.Errorf("parsing expected amount %q: %w", r.ExpectedAmount, err)
	}

	if s.detectCollision(ctx, r) && stats != nil {
		stats.Collisions++
	}

	candidates, ok := transfers[currency]
	if !ok {
		// Scan failed or address missing; already counted by the scanner.
		return nil
	}

	match := MatchTransfer(candidates, expected, currency, r.CreatedAt, used)
	if match == nil {
		return nil
	}

	attached, err := s.attachMatch(ctx, r, match, "scheduler")
	if err != nil {
		if errors.Is(err, ErrHashAlreadyUsed) {
			// Another process bound this hash while the pass was running.
			used[match.TxHash] = true
			s.logger.Info(fmt.Sprintf("reservation %d: hash %s claimed elsewhere", r.ID, match.TxHash))
			return nil
		}
		return err
	}
	if !attached {
		s.logger.Info(fmt.Sprintf("reservation %d: already has a transaction hash, leaving as-is", r.ID))
		return nil
	}

	used[match.TxHash] = true
	if stats != nil {
		stats.Matched++
	}

	if autoConfirm {
		advanced, err := s.advanceStatus(ctx, r, models.StatusPaid)
		if err != nil {
			return err
		}
		if !advanced {
			s.logger.Info(fmt.Sprintf("reservation %d: status changed concurrently, not advancing", r.ID))
		}
	}

	return nil
}

// advanceStatus moves a reservation to a new status. The transition table is
// consulted before any write; the conditional update then re-checks the
// from-status inside the database, so a concurrent move loses cleanly (false,
// nil) rather than corrupting the lifecycle.
func (s *ReconciliationService) advanceStatus(ctx context.Context, r db.Reservation, to models.ReservationStatus) (bool, error) {
	from := models.ReservationStatus(r.Status)
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal status transition %s -> %s for reservation %d", from, to, r.ID)
	}

	rows, err := s.store.UpdateReservationStatus(ctx, db.UpdateReservationStatusParams{
		ID:         r.ID,
		FromStatus: from.String(),
		ToStatus:   to.String(),
	})
	if err != nil {
		return false, fmt.Errorf("advancing reservation %d to %s: %w", r.ID, to, err)
	}
	return rows > 0, nil
}

// CheckReservationPayment is the on-demand flavour of reconciliation, scoped
// to one reservation. A match attaches the transaction hash but does not
// advance the status; this path is reachable by the reservation's owner and
// is therefore not trusted to auto-confirm.
func (s *ReconciliationService) CheckReservationPayment(ctx context.Context, reservationID int64) (CheckResult, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckResult{}, ErrReservationNotFound
	} else if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{
		ReservationID:   r.ID,
		Status:          models.ReservationStatus(r.Status),
		TransactionHash: r.TransactionHash.String,
	}

	// Already resolved one way or another; scanning would be wasted work.
	if r.Status != models.StatusPending.String() || r.TransactionHash.Valid {
		result.AlreadyResolved = true
		return result, nil
	}

	currency := Currency(r.Currency)
	if IsCurrencyInvalid(r.Currency) {
		return result, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, r.Currency)
	}

	expected, err := decimal.NewFromString(r.ExpectedAmount)
	if err != nil {
		return result, fmt.Errorf("parsing expected amount %q: %w", r.ExpectedAmount, err)
	}

	result.CollisionDetected = s.detectCollision(ctx, r)

	addr, err := s.store.GetWalletAddress(ctx, currency.String())
	if errors.Is(err, sql.ErrNoRows) {
		return result, fmt.Errorf("%w: %s", ErrNoWalletAddress, currency)
	} else if err != nil {
		return result, err
	}

	transfers, err := s.scanWithCache(ctx, addr.Address, currency)
	if err != nil {
		return result, err
	}

	used, err := s.loadUsedHashes(ctx)
	if err != nil {
		return result, err
	}

	match := MatchTransfer(transfers, expected, currency, r.CreatedAt, used)
	if match == nil {
		return result, nil
	}

	attached, err := s.attachMatch(ctx, r, match, "on_demand")
	if err != nil {
		if errors.Is(err, ErrHashAlreadyUsed) {
			// Benign: the transfer was claimed concurrently.
			return result, nil
		}
		return result, err
	}
	if !attached {
		// Another check attached a hash first; report the now-current state.
		current, err := s.store.GetReservation(ctx, reservationID)
		if err == nil {
			result.Status = models.ReservationStatus(current.Status)
			result.TransactionHash = current.TransactionHash.String
			result.AlreadyResolved = true
		}
		return result, nil
	}

	result.Matched = true
	result.TransactionHash = match.TxHash
	return result, nil
}

// scanWithCache consults the short-TTL transfer cache before hitting the
// chain, so double-submitted checks do not double-scan.
func (s *ReconciliationService) scanWithCache(ctx context.Context, address string, currency Currency) ([]Transfer, error) {
	key := scanCacheKey(currency, address)
	if s.cache != nil {
		if cached, err := s.cache.Get(key); err == nil {
			if transfers, ok := cached.([]Transfer); ok {
				return transfers, nil
			}
		}
	}

	source, ok := s.sources[currency.ChainNetwork()]
	if !ok {
		return nil, fmt.Errorf("%w: no transfer source for network %s", ErrScanUnavailable, currency.ChainNetwork())
	}

	transfers, err := source.Scan(ctx, address, currency, currency.LookbackDepth())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}

	if s.cache != nil {
		s.cache.Insert(key, transfers)
	}
	return transfers, nil
}

// detectCollision flags other pending reservations that expect the exact
// same amount in the same currency. The condition is reported, never
// auto-resolved: a single transfer of that amount is ambiguous and needs a
// human decision.
func (s *ReconciliationService) detectCollision(ctx context.Context, r db.Reservation) bool {
	others, err := s.store.GetReservationsWithSameAmount(ctx, db.GetReservationsWithSameAmountParams{
		Currency:       r.Currency,
		ExpectedAmount: r.ExpectedAmount,
		ExcludeID:      r.ID,
	})
	if err != nil {
		s.logger.Warn(fmt.Sprintf("collision check for reservation %d: %v", r.ID, err))
		return false
	}
	if len(others) == 0 {
		return false
	}

	ids := make([]int64, len(others))
	for i, o := range others {
		ids[i] = o.ID
	}
	s.logger.Warn(fmt.Sprintf("reservation %d: amount collision (%s %s) with reservations %v",
		r.ID, r.ExpectedAmount, r.Currency, ids))

	if s.alerter != nil {
		s.alerter.AmountCollision(r, others)
	}
	return true
}

// attachMatch performs the conditional hash attachment. It returns false
// when the reservation already carries a hash (benign conflict) and
// ErrHashAlreadyUsed when the unique index rejects the hash because another
// reservation owns it.
func (s *ReconciliationService) attachMatch(ctx context.Context, r db.Reservation, match *Transfer, via string) (bool, error) {
	meta, err := json.Marshal(matchMetadata{
		ObservedAmount: match.Amount.String(),
		ObservedAt:     match.ObservedAt,
		Confirmations:  match.Confirmations,
		Via:            via,
	})
	if err != nil {
		return false, fmt.Errorf("encoding match metadata: %w", err)
	}

	rows, err := s.store.AttachTransactionHash(ctx, db.AttachTransactionHashParams{
		ID:              r.ID,
		TransactionHash: sql.NullString{String: match.TxHash, Valid: true},
		MatchMetadata:   pqtype.NullRawMessage{RawMessage: meta, Valid: true},
	})
	if err != nil {
		if db.IsDuplicateEntry(err) {
			return false, fmt.Errorf("%w: %s", ErrHashAlreadyUsed, match.TxHash)
		}
		return false, fmt.Errorf("attaching hash to reservation %d: %w", r.ID, err)
	}

	return rows > 0, nil
}

func (s *ReconciliationService) loadUsedHashes(ctx context.Context) (map[string]bool, error) {
	hashes, err := s.store.GetUsedTransactionHashes(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if h.Valid {
			used[h.String] = true
		}
	}
	return used, nil
}

type matchMetadata struct {
	ObservedAmount string    `json:"observed_amount"`
	ObservedAt     time.Time `json:"observed_at"`
	Confirmations  int64     `json:"confirmations"`
	Via            string    `json:"via"`
}

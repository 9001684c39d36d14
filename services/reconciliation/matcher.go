package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchGracePeriod absorbs clock and propagation skew between reservation
// creation and chain timestamping. A transfer observed slightly before the
// reservation was created can still belong to it.
const MatchGracePeriod = 15 * time.Minute

// MatchTransfer selects at most one transfer that pays for a reservation.
//
// Candidates observed before since minus the grace period are discarded, as
// are candidates whose hash is in the used set. Of the survivors, the one
// whose amount is closest to expected wins, provided the difference is
// within the currency's tolerance. Exact ties go to the earliest-observed
// transfer.
//
// The function is pure: no state, no clock, no randomness. The scheduler,
// the on-demand check and tests all call it and must agree on the result.
func MatchTransfer(candidates []Transfer, expected decimal.Decimal, currency Currency, since time.Time, used map[string]bool) *Transfer {
	cutoff := since.Add(-MatchGracePeriod)
	tolerance := currency.Tolerance()

	var best *Transfer
	var bestDiff decimal.Decimal

	for i := range candidates {
		c := candidates[i]
		if c.ObservedAt.Before(cutoff) {
			continue
		}
		if used[c.TxHash] {
			continue
		}

		diff := c.Amount.Sub(expected).Abs()
		if diff.GreaterThan(tolerance) {
			continue
		}

		switch {
		case best == nil:
			best = &candidates[i]
			bestDiff = diff
		case diff.LessThan(bestDiff):
			best = &candidates[i]
			bestDiff = diff
		case diff.Equal(bestDiff) && c.ObservedAt.Before(best.ObservedAt):
			best = &candidates[i]
		}
	}

	if best == nil {
		return nil
	}

	matched := *best
	return &matched
}

// AmountWithinTolerance reports whether observed pays expected at the
// currency's tracked precision. The manual verifier applies the same rule
// as the matcher.
func AmountWithinTolerance(expected, observed decimal.Decimal, currency Currency) bool {
	return observed.Sub(expected).Abs().LessThanOrEqual(currency.Tolerance())
}

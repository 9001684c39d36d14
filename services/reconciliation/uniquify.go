package reconciliation

import (
	"math/rand"

	"github.com/shopspring/decimal"
)

// Uniquify perturbs a computed payment amount so reservations priced the
// same stay distinguishable by amount alone. Stable tokens make this
// necessary: two bookings at the same nightly rate would otherwise expect
// identical amounts and any transfer of that amount would be ambiguous.
//
// The offset is a random count of 1..99 at two decimal places below the
// currency's tracked precision, so it is always strictly smaller than one
// unit at that precision while remaining visible in the on-chain amount.
//
// Call this exactly once per reservation, before persisting it. Repeated
// calls legitimately produce different values; re-stamping an already
// stamped amount would drift it. Collisions remain possible and are
// detected, not prevented (see the collision check in the reconciler).
func Uniquify(base decimal.Decimal, currency Currency) decimal.Decimal {
	k := int64(rand.Intn(99) + 1)
	offset := decimal.New(k, -(currency.Precision() + 2))
	return base.Add(offset)
}

package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VillaPay/VillaPay-Backend/services/monitoring/logging"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	"github.com/shopspring/decimal"
)

// DefaultRatesTTL is how long fetched rates stay fresh. Crypto prices move,
// but a reservation quote does not need tick-level accuracy.
const DefaultRatesTTL = 10 * time.Minute

// RatesFetcher pulls current USD rates for all supported currencies.
type RatesFetcher interface {
	FetchUSDRates(ctx context.Context) (map[reconciliation.Currency]decimal.Decimal, error)
}

// fallbackUSDRates are the static rates used when the oracle has never been
// reachable. Stale quotes beat no quotes; the numbers only need to be the
// right order of magnitude since a wrong quote is detected at matching time.
var fallbackUSDRates = map[reconciliation.Currency]decimal.Decimal{
	reconciliation.CurrencyBTC:       decimal.NewFromInt(65000),
	reconciliation.CurrencyTRX:       decimal.NewFromFloat(0.12),
	reconciliation.CurrencyUSDTTRC20: decimal.NewFromInt(1),
	reconciliation.CurrencyUSDTERC20: decimal.NewFromInt(1),
}

// PricingService caches USD exchange rates with a TTL and converts fiat
// prices into uniquified crypto payment amounts.
//
// The cache is process-wide mutable state shared by every caller. Refresh is
// plain replacement after expiry; two concurrent cache-miss callers may both
// fetch, which is harmless since the fetch is a read.
type PricingService struct {
	mtx       sync.Mutex
	fetcher   RatesFetcher
	rates     map[reconciliation.Currency]decimal.Decimal
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

func NewPricingService(fetcher RatesFetcher, logger *logging.Logger) *PricingService {
	return &PricingService{
		fetcher: fetcher,
		ttl:     DefaultRatesTTL,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock injects a clock, for tests.
func (p *PricingService) WithClock(now func() time.Time) *PricingService {
	p.now = now
	return p
}

func (p *PricingService) WithTTL(ttl time.Duration) *PricingService {
	p.ttl = ttl
	return p
}

// USDRate returns the cached USD rate for a currency, refreshing the cache
// first when it has gone stale. On fetch failure the previous rates keep
// serving; with no previous fetch the static fallback applies.
func (p *PricingService) USDRate(ctx context.Context, currency reconciliation.Currency) (decimal.Decimal, error) {
	if reconciliation.IsCurrencyInvalid(currency.String()) {
		return decimal.Zero, fmt.Errorf("unsupported currency: %s", currency)
	}

	rates := p.currentRates(ctx)
	rate, ok := rates[currency]
	if !ok || rate.IsZero() {
		return decimal.Zero, fmt.Errorf("no USD rate available for %s", currency)
	}
	return rate, nil
}

// AllUSDRates returns the full cached rate table, refreshing if stale.
func (p *PricingService) AllUSDRates(ctx context.Context) map[reconciliation.Currency]decimal.Decimal {
	rates := p.currentRates(ctx)
	out := make(map[reconciliation.Currency]decimal.Decimal, len(rates))
	for c, r := range rates {
		out[c] = r
	}
	return out
}

// QuoteExpectedAmount converts a USD price into the amount a guest must pay
// in the given currency, stamped with the uniquifying offset. This is the
// single place the booking flow obtains an expected amount, so the offset
// is applied exactly once per reservation.
func (p *PricingService) QuoteExpectedAmount(ctx context.Context, usdPrice decimal.Decimal, currency reconciliation.Currency) (decimal.Decimal, error) {
	if !usdPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("usd price must be positive, got %s", usdPrice)
	}

	rate, err := p.USDRate(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}

	base := usdPrice.DivRound(rate, currency.Precision())
	return reconciliation.Uniquify(base, currency), nil
}

func (p *PricingService) currentRates(ctx context.Context) map[reconciliation.Currency]decimal.Decimal {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.rates != nil && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.rates
	}

	fresh, err := p.fetcher.FetchUSDRates(ctx)
	if err != nil {
		if p.rates != nil {
			p.logger.Warn(fmt.Sprintf("rate fetch failed, serving stale rates from %s: %v", p.fetchedAt, err))
			return p.rates
		}
		p.logger.Warn(fmt.Sprintf("rate fetch failed with empty cache, serving static fallback: %v", err))
		return fallbackUSDRates
	}

	p.rates = fresh
	p.fetchedAt = p.now()
	return p.rates
}

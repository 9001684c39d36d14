package reconciliation

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Currency is a payment currency a reservation can be priced in.
type Currency string

// Network is the chain a currency settles on.
type Network string

const (
	CurrencyBTC       Currency = "BTC"
	CurrencyTRX       Currency = "TRX"
	CurrencyUSDTTRC20 Currency = "USDT_TRC20"
	CurrencyUSDTERC20 Currency = "USDT_ERC20"
)

const (
	NetworkBitcoin  Network = "bitcoin"
	NetworkTron     Network = "tron"
	NetworkEthereum Network = "ethereum"
)

type currencySpec struct {
	network Network
	// precision is the number of fractional digits tracked for matching.
	// Stable tokens are priced 1:1 with USD so two digits are enough,
	// the uniquifying offset lives below this precision.
	precision int32
	// minConfirmations is the depth at which a transaction counts as
	// final for manual verification on this chain.
	minConfirmations int64
	// lookbackDepth bounds a scan in network-specific units (blocks).
	// Chosen to comfortably cover the pending lifetime of a reservation
	// at the chain's block cadence.
	lookbackDepth int64
}

var currencySpecs = map[Currency]currencySpec{
	CurrencyBTC:       {network: NetworkBitcoin, precision: 8, minConfirmations: 2, lookbackDepth: 144},
	CurrencyTRX:       {network: NetworkTron, precision: 6, minConfirmations: 20, lookbackDepth: 28800},
	CurrencyUSDTTRC20: {network: NetworkTron, precision: 2, minConfirmations: 20, lookbackDepth: 28800},
	CurrencyUSDTERC20: {network: NetworkEthereum, precision: 2, minConfirmations: 12, lookbackDepth: 7200},
}

// IsCurrencyValid reports whether the code is one of the supported currencies.
func IsCurrencyValid(request string) bool {
	_, ok := currencySpecs[Currency(request)]
	return ok
}

func IsCurrencyInvalid(request string) bool {
	return !IsCurrencyValid(request)
}

// SupportedCurrencies lists all currencies in stable order.
func SupportedCurrencies() []Currency {
	out := make([]Currency, 0, len(currencySpecs))
	for c := range currencySpecs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CurrenciesByNetwork groups supported currencies by the chain they settle on.
func CurrenciesByNetwork() map[Network][]Currency {
	groups := make(map[Network][]Currency)
	for _, c := range SupportedCurrencies() {
		n := c.ChainNetwork()
		groups[n] = append(groups[n], c)
	}
	return groups
}

// Networks lists the chains with at least one supported currency, in stable order.
func Networks() []Network {
	seen := make(map[Network]bool)
	var out []Network
	for _, c := range SupportedCurrencies() {
		n := c.ChainNetwork()
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Currency) String() string {
	return string(c)
}

// ChainNetwork returns the network the currency settles on.
func (c Currency) ChainNetwork() Network {
	return currencySpecs[c].network
}

// Precision returns the number of tracked fractional digits.
func (c Currency) Precision() int32 {
	return currencySpecs[c].precision
}

// MinConfirmations returns the confirmation depth required for finality.
func (c Currency) MinConfirmations() int64 {
	return currencySpecs[c].minConfirmations
}

// LookbackDepth returns how far back a scan should reach, in blocks.
func (c Currency) LookbackDepth() int64 {
	return currencySpecs[c].lookbackDepth
}

// Tolerance is the maximum amount difference still considered a match:
// half of one unit at the currency's tracked precision.
func (c Currency) Tolerance() decimal.Decimal {
	return decimal.New(5, -(currencySpecs[c].precision + 1))
}

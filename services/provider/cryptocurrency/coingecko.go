package cryptocurrency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VillaPay/VillaPay-Backend/services/provider"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	"github.com/VillaPay/VillaPay-Backend/utils"
	"github.com/shopspring/decimal"
)

// CoinGecko coin ids for the supported currencies. Both USDT variants price
// off the same tether id.
var coinGeckoIDs = map[reconciliation.Currency]string{
	reconciliation.CurrencyBTC:       "bitcoin",
	reconciliation.CurrencyTRX:       "tron",
	reconciliation.CurrencyUSDTTRC20: "tether",
	reconciliation.CurrencyUSDTERC20: "tether",
}

type CoinGeckoProvider struct {
	provider.BaseProvider
	config *RatesProviderConfig
}

type RatesProviderConfig struct {
	RatesProviderName  string `mapstructure:"RATES_PROVIDER_NAME"`
	CoinGeckoBaseUrl   string `mapstructure:"COINGECKO_BASE_URL"`
	CoinGeckoAccessKey string `mapstructure:"COINGECKO_ACCESS_KEY"`
}

func NewRatesProvider() *CoinGeckoProvider {

	var c RatesProviderConfig

	err := utils.LoadCustomConfig(utils.EnvPath, &c)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	return &CoinGeckoProvider{
		BaseProvider: provider.BaseProvider{
			Name:    c.RatesProviderName,
			BaseURL: c.CoinGeckoBaseUrl,
			APIKey:  c.CoinGeckoAccessKey,
			Client: &http.Client{
				Timeout: time.Second * 30,
			},
		},
		config: &c,
	}
}

// FetchUSDRates pulls the USD price of every supported currency in a single
// call. Implements the pricing rates-fetcher contract.
func (c *CoinGeckoProvider) FetchUSDRates(ctx context.Context) (map[reconciliation.Currency]decimal.Decimal, error) {

	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rates provider URL: %w", err)
	}

	ids := make(map[string]bool)
	for _, id := range coinGeckoIDs {
		ids[id] = true
	}
	var idList []string
	for id := range ids {
		idList = append(idList, id)
	}

	// Path params
	base.Path += "/simple/price"
	// Query params
	params := url.Values{}
	params.Add("ids", strings.Join(idList, ","))
	params.Add("vs_currencies", "usd")
	base.RawQuery = params.Encode()

	resp, err := c.MakeRequest(ctx, "GET", base.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Check the status code
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	// Decode the response body
	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	decoder := json.NewDecoder(resp.Body)
	err = decoder.Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("error decoding response body: %w", err)
	}

	rates := make(map[reconciliation.Currency]decimal.Decimal)
	for currency, id := range coinGeckoIDs {
		entry, ok := payload[id]
		if !ok {
			return nil, fmt.Errorf("rates provider response missing %s", id)
		}
		rates[currency] = decimal.NewFromFloat(entry.USD)
	}

	return rates, nil
}

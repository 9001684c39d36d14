package cryptocurrency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/VillaPay/VillaPay-Backend/services/provider"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	"github.com/VillaPay/VillaPay-Backend/utils"
	"github.com/shopspring/decimal"
)

// tronBlockCadence is how often tron produces a block. Confirmation depth is
// derived from transfer age because the account endpoints do not report it.
const tronBlockCadence = 3 * time.Second

// The reconciliation scan covers the recent pending window; a manually
// submitted hash may be much older, so the check path pages deeper and looks
// further back.
const (
	scanPageSize        = "50"
	checkPageSize       = "200"
	checkLookbackFactor = 7
)

// TronGridProvider reads TRX and TRC20 transfers from TronGrid. It serves
// both currencies on the tron network; which asset a scan looks at follows
// from the currency.
type TronGridProvider struct {
	provider.BaseProvider
	config *TronGridConfig
}

type TronGridConfig struct {
	TronGridProviderName string `mapstructure:"TRONGRID_PROVIDER_NAME"`
	TronGridBaseUrl      string `mapstructure:"TRONGRID_BASE_URL"`
	TronGridAccessKey    string `mapstructure:"TRONGRID_API_KEY"`
	USDTContractAddress  string `mapstructure:"TRON_USDT_CONTRACT"`
}

func NewTronGridProvider() *TronGridProvider {

	var c TronGridConfig

	err := utils.LoadCustomConfig(utils.EnvPath, &c)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	return &TronGridProvider{
		BaseProvider: provider.BaseProvider{
			Name:    c.TronGridProviderName,
			BaseURL: c.TronGridBaseUrl,
			APIKey:  c.TronGridAccessKey,
			Client: &http.Client{
				Timeout: time.Second * 30,
			},
		},
		config: &c,
	}
}

func (p *TronGridProvider) Scan(ctx context.Context, address string, currency reconciliation.Currency, lookbackDepth int64) ([]reconciliation.Transfer, error) {
	return p.scan(ctx, address, currency, lookbackDepth, scanPageSize)
}

func (p *TronGridProvider) scan(ctx context.Context, address string, currency reconciliation.Currency, lookbackDepth int64, limit string) ([]reconciliation.Transfer, error) {
	switch currency {
	case reconciliation.CurrencyTRX:
		return p.scanNative(ctx, address, lookbackDepth, limit)
	case reconciliation.CurrencyUSDTTRC20:
		return p.scanTRC20(ctx, address, lookbackDepth, limit)
	default:
		return nil, fmt.Errorf("trongrid does not serve currency %s", currency)
	}
}

type tronNativeResponse struct {
	Data []struct {
		TxID           string `json:"txID"`
		BlockTimestamp int64  `json:"block_timestamp"`
		RawData        struct {
			Contract []struct {
				Type      string `json:"type"`
				Parameter struct {
					Value struct {
						Amount int64 `json:"amount"`
					} `json:"value"`
				} `json:"parameter"`
			} `json:"contract"`
		} `json:"raw_data"`
		Ret []struct {
			ContractRet string `json:"contractRet"`
		} `json:"ret"`
	} `json:"data"`
}

func (p *TronGridProvider) scanNative(ctx context.Context, address string, lookbackDepth int64, limit string) ([]reconciliation.Transfer, error) {
	endpoint, err := p.buildURL(fmt.Sprintf("/v1/accounts/%s/transactions", address), url.Values{
		"only_to":        {"true"},
		"only_confirmed": {"true"},
		"limit":          {limit},
	})
	if err != nil {
		return nil, err
	}

	var payload tronNativeResponse
	if err := p.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	cutoff := p.lookbackCutoff(lookbackDepth)
	var transfers []reconciliation.Transfer
	for _, tx := range payload.Data {
		if len(tx.RawData.Contract) == 0 || tx.RawData.Contract[0].Type != "TransferContract" {
			continue
		}
		if len(tx.Ret) > 0 && tx.Ret[0].ContractRet != "SUCCESS" {
			continue
		}
		observed := time.UnixMilli(tx.BlockTimestamp).UTC()
		if observed.Before(cutoff) {
			continue
		}
		transfers = append(transfers, reconciliation.Transfer{
			TxHash:        tx.TxID,
			Amount:        decimal.New(tx.RawData.Contract[0].Parameter.Value.Amount, -6),
			ObservedAt:    observed,
			Confirmations: p.ageConfirmations(observed),
		})
	}
	return transfers, nil
}

type tronTRC20Response struct {
	Data []struct {
		TransactionID  string `json:"transaction_id"`
		BlockTimestamp int64  `json:"block_timestamp"`
		Value          string `json:"value"`
		TokenInfo      struct {
			Decimals int32 `json:"decimals"`
		} `json:"token_info"`
	} `json:"data"`
}

func (p *TronGridProvider) scanTRC20(ctx context.Context, address string, lookbackDepth int64, limit string) ([]reconciliation.Transfer, error) {
	endpoint, err := p.buildURL(fmt.Sprintf("/v1/accounts/%s/transactions/trc20", address), url.Values{
		"only_to":          {"true"},
		"only_confirmed":   {"true"},
		"limit":            {limit},
		"contract_address": {p.config.USDTContractAddress},
	})
	if err != nil {
		return nil, err
	}

	var payload tronTRC20Response
	if err := p.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	cutoff := p.lookbackCutoff(lookbackDepth)
	var transfers []reconciliation.Transfer
	for _, tx := range payload.Data {
		observed := time.UnixMilli(tx.BlockTimestamp).UTC()
		if observed.Before(cutoff) {
			continue
		}
		raw, err := decimal.NewFromString(tx.Value)
		if err != nil {
			continue
		}
		decimals := tx.TokenInfo.Decimals
		if decimals == 0 {
			decimals = 6
		}
		transfers = append(transfers, reconciliation.Transfer{
			TxHash:        tx.TransactionID,
			Amount:        raw.Shift(-decimals),
			ObservedAt:    observed,
			Confirmations: p.ageConfirmations(observed),
		})
	}
	return transfers, nil
}

// CheckTransaction looks the hash up in the incoming transfer list of the
// expected address, paging deeper and looking back further than a scan.
// Finding it there makes the recipient check implicit; a hash older than the
// widened window still reports as not found and is left to manual review.
func (p *TronGridProvider) CheckTransaction(ctx context.Context, hash string, expectedAddress string, currency reconciliation.Currency) (reconciliation.TransactionCheck, error) {
	transfers, err := p.scan(ctx, expectedAddress, currency, currency.LookbackDepth()*checkLookbackFactor, checkPageSize)
	if err != nil {
		return reconciliation.TransactionCheck{}, err
	}

	for _, t := range transfers {
		if t.TxHash == hash {
			return reconciliation.TransactionCheck{
				Exists:           true,
				Confirmations:    t.Confirmations,
				Amount:           t.Amount,
				RecipientMatches: true,
			}, nil
		}
	}
	return reconciliation.TransactionCheck{Exists: false}, nil
}

func (p *TronGridProvider) buildURL(path string, params url.Values) (string, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid trongrid URL: %w", err)
	}
	base.Path += path
	base.RawQuery = params.Encode()
	return base.String(), nil
}

func (p *TronGridProvider) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["TRON-PRO-API-KEY"] = p.APIKey
	}

	resp, err := p.MakeRequest(ctx, "GET", endpoint, nil, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("error decoding response body: %w", err)
	}
	return nil
}

func (p *TronGridProvider) lookbackCutoff(lookbackDepth int64) time.Time {
	return time.Now().Add(-time.Duration(lookbackDepth) * tronBlockCadence)
}

func (p *TronGridProvider) ageConfirmations(observed time.Time) int64 {
	c := int64(time.Since(observed) / tronBlockCadence)
	if c < 0 {
		return 0
	}
	return c
}

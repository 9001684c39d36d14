package cryptocurrency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/VillaPay/VillaPay-Backend/services/provider"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	"github.com/VillaPay/VillaPay-Backend/utils"
	"github.com/shopspring/decimal"
)

// EtherscanProvider reads USDT ERC20 transfers from the Etherscan API. It is
// the transfer source and transaction checker for the ethereum network.
type EtherscanProvider struct {
	provider.BaseProvider
	config *EtherscanConfig
}

type EtherscanConfig struct {
	EtherscanProviderName string `mapstructure:"ETHERSCAN_PROVIDER_NAME"`
	EtherscanBaseUrl      string `mapstructure:"ETHERSCAN_BASE_URL"`
	EtherscanAccessKey    string `mapstructure:"ETHERSCAN_API_KEY"`
	USDTContractAddress   string `mapstructure:"ETH_USDT_CONTRACT"`
}

func NewEtherscanProvider() *EtherscanProvider {

	var c EtherscanConfig

	err := utils.LoadCustomConfig(utils.EnvPath, &c)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	return &EtherscanProvider{
		BaseProvider: provider.BaseProvider{
			Name:    c.EtherscanProviderName,
			BaseURL: c.EtherscanBaseUrl,
			APIKey:  c.EtherscanAccessKey,
			Client: &http.Client{
				Timeout: time.Second * 30,
			},
		},
		config: &c,
	}
}

type etherscanTokenTxResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		Hash          string `json:"hash"`
		To            string `json:"to"`
		Value         string `json:"value"`
		TokenDecimal  string `json:"tokenDecimal"`
		TimeStamp     string `json:"timeStamp"`
		Confirmations string `json:"confirmations"`
	} `json:"result"`
}

// Scan lists recent incoming USDT transfers to the address. Etherscan's
// "No transactions found" answer is a normal empty result, not a failure.
func (p *EtherscanProvider) Scan(ctx context.Context, address string, currency reconciliation.Currency, lookbackDepth int64) ([]reconciliation.Transfer, error) {
	return p.scan(ctx, address, lookbackDepth, scanPageSize)
}

func (p *EtherscanProvider) scan(ctx context.Context, address string, lookbackDepth int64, pageSize string) ([]reconciliation.Transfer, error) {

	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid etherscan URL: %w", err)
	}

	params := url.Values{}
	params.Add("module", "account")
	params.Add("action", "tokentx")
	params.Add("address", address)
	params.Add("contractaddress", p.config.USDTContractAddress)
	params.Add("page", "1")
	params.Add("offset", pageSize)
	params.Add("sort", "desc")
	params.Add("apikey", p.APIKey)
	base.RawQuery = params.Encode()

	resp, err := p.MakeRequest(ctx, "GET", base.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	var payload etherscanTokenTxResponse
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding response body: %w", err)
	}

	if payload.Status != "1" && payload.Message != "No transactions found" {
		return nil, fmt.Errorf("etherscan error: %s", payload.Message)
	}

	var transfers []reconciliation.Transfer
	for _, tx := range payload.Result {
		if !strings.EqualFold(tx.To, address) {
			continue
		}
		confirmations, _ := strconv.ParseInt(tx.Confirmations, 10, 64)
		if confirmations > lookbackDepth {
			continue
		}
		ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
		if err != nil {
			continue
		}
		raw, err := decimal.NewFromString(tx.Value)
		if err != nil {
			continue
		}
		decimals, err := strconv.ParseInt(tx.TokenDecimal, 10, 32)
		if err != nil {
			decimals = 6
		}
		transfers = append(transfers, reconciliation.Transfer{
			TxHash:        tx.Hash,
			Amount:        raw.Shift(int32(-decimals)),
			ObservedAt:    time.Unix(ts, 0).UTC(),
			Confirmations: confirmations,
		})
	}

	return transfers, nil
}

// CheckTransaction looks the hash up among the address's incoming token
// transfers, paging deeper and looking back further than a scan; a transfer
// found this way pays the right recipient by construction.
func (p *EtherscanProvider) CheckTransaction(ctx context.Context, hash string, expectedAddress string, currency reconciliation.Currency) (reconciliation.TransactionCheck, error) {
	// The token-transfer listing carries amount and confirmations in one
	// call, unlike the proxy endpoints which need three.
	transfers, err := p.scan(ctx, expectedAddress, currency.LookbackDepth()*checkLookbackFactor, checkPageSize)
	if err != nil {
		return reconciliation.TransactionCheck{}, err
	}

	for _, t := range transfers {
		if strings.EqualFold(t.TxHash, hash) {
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

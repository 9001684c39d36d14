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
	"github.com/shopspring/decimal"

	"github.com/VillaPay/VillaPay-Backend/utils"
)

// BlockbookProvider reads bitcoin transfers from a Blockbook instance. It is
// the transfer source and transaction checker for the bitcoin network.
type BlockbookProvider struct {
	provider.BaseProvider
	config *BlockbookConfig
}

type BlockbookConfig struct {
	BlockbookProviderName string `mapstructure:"BLOCKBOOK_PROVIDER_NAME"`
	BlockbookBaseUrl      string `mapstructure:"BLOCKBOOK_BASE_URL"`
	BlockbookAccessKey    string `mapstructure:"BLOCKBOOK_ACCESS_KEY"`
}

func NewBlockbookProvider() *BlockbookProvider {

	var c BlockbookConfig

	err := utils.LoadCustomConfig(utils.EnvPath, &c)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	return &BlockbookProvider{
		BaseProvider: provider.BaseProvider{
			Name:    c.BlockbookProviderName,
			BaseURL: c.BlockbookBaseUrl,
			APIKey:  c.BlockbookAccessKey,
			Client: &http.Client{
				Timeout: time.Second * 30,
			},
		},
		config: &c,
	}
}

type blockbookTx struct {
	Txid          string          `json:"txid"`
	Vout          []blockbookVout `json:"vout"`
	BlockTime     int64           `json:"blockTime"`
	Confirmations int64           `json:"confirmations"`
}

type blockbookVout struct {
	Value     string   `json:"value"`
	Addresses []string `json:"addresses"`
}

type blockbookAddressResponse struct {
	Transactions []blockbookTx `json:"transactions"`
}

// Scan lists incoming transfers to the address, bounded to transactions no
// deeper than lookbackDepth blocks.
func (p *BlockbookProvider) Scan(ctx context.Context, address string, currency reconciliation.Currency, lookbackDepth int64) ([]reconciliation.Transfer, error) {

	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid blockbook URL: %w", err)
	}

	base.Path += fmt.Sprintf("/api/v2/address/%s", address)
	params := url.Values{}
	params.Add("details", "txs")
	params.Add("pageSize", "50")
	base.RawQuery = params.Encode()

	resp, err := p.MakeRequest(ctx, "GET", base.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	var payload blockbookAddressResponse
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding response body: %w", err)
	}

	var transfers []reconciliation.Transfer
	for _, tx := range payload.Transactions {
		if tx.Confirmations > lookbackDepth {
			continue
		}
		amount, ok := incomingValue(tx, address)
		if !ok {
			continue
		}
		transfers = append(transfers, reconciliation.Transfer{
			TxHash:        tx.Txid,
			Amount:        amount,
			ObservedAt:    time.Unix(tx.BlockTime, 0).UTC(),
			Confirmations: tx.Confirmations,
		})
	}

	return transfers, nil
}

// CheckTransaction resolves a single transaction for the manual
// verification path.
func (p *BlockbookProvider) CheckTransaction(ctx context.Context, hash string, expectedAddress string, currency reconciliation.Currency) (reconciliation.TransactionCheck, error) {

	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return reconciliation.TransactionCheck{}, fmt.Errorf("invalid blockbook URL: %w", err)
	}

	base.Path += fmt.Sprintf("/api/v2/tx/%s", hash)

	resp, err := p.MakeRequest(ctx, "GET", base.String(), nil, nil)
	if err != nil {
		return reconciliation.TransactionCheck{}, err
	}
	defer resp.Body.Close()

	// Blockbook answers 400 for a hash it does not know.
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return reconciliation.TransactionCheck{Exists: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return reconciliation.TransactionCheck{}, fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	var tx blockbookTx
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&tx); err != nil {
		return reconciliation.TransactionCheck{}, fmt.Errorf("error decoding response body: %w", err)
	}

	amount, recipientMatches := incomingValue(tx, expectedAddress)
	return reconciliation.TransactionCheck{
		Exists:           true,
		Confirmations:    tx.Confirmations,
		Amount:           amount,
		RecipientMatches: recipientMatches,
	}, nil
}

// incomingValue sums the outputs paying the given address, in BTC.
func incomingValue(tx blockbookTx, address string) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, vout := range tx.Vout {
		for _, a := range vout.Addresses {
			if a == address {
				satoshi, err := decimal.NewFromString(vout.Value)
				if err != nil {
					continue
				}
				total = total.Add(satoshi.Shift(-8))
				found = true
				break
			}
		}
	}
	return total, found
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"custodian/internal/config"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SourcesFromConfig builds the prioritized source list: Binance first, then
// CoinGecko, then Coinbase.
func SourcesFromConfig(cfg *config.OracleConfig) []Source {
	httpClient := &http.Client{Timeout: cfg.PerSourceTimeout}
	return []Source{
		NewBinanceSource(binance.NewClient("", ""), cfg.Symbol, cfg.PerSourceTimeout),
		NewCoinGeckoSource(httpClient, cfg.AssetID),
		NewCoinbaseSource(httpClient, cfg.AssetID),
	}
}

// BinanceSource reads the spot ticker from the Binance public API; no
// credentials required.
type BinanceSource struct {
	client  *binance.Client
	symbol  string
	timeout time.Duration
}

func NewBinanceSource(client *binance.Client, symbol string, timeout time.Duration) *BinanceSource {
	return &BinanceSource{client: client, symbol: symbol, timeout: timeout}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prices, err := s.client.NewListPricesService().Symbol(s.symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("binance returned no price for %s", s.symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

// CoinGeckoSource queries the CoinGecko simple-price endpoint.
type CoinGeckoSource struct {
	client  *http.Client
	assetID string
}

func NewCoinGeckoSource(client *http.Client, assetID string) *CoinGeckoSource {
	return &CoinGeckoSource{client: client, assetID: assetID}
}

func (s *CoinGeckoSource) Name() string { return "coingecko" }

func (s *CoinGeckoSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd", s.assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, errors.Errorf("coingecko status %d", resp.StatusCode)
	}

	var body map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "decode coingecko response")
	}

	price, ok := body[s.assetID]["usd"]
	if !ok {
		return decimal.Decimal{}, errors.Errorf("coingecko response missing %s", s.assetID)
	}
	return decimal.NewFromString(price.String())
}

// CoinbaseSource queries the Coinbase spot-price endpoint.
type CoinbaseSource struct {
	client  *http.Client
	assetID string
}

// coinbase wants a currency pair like ETH-USD; map from the CoinGecko asset id.
var coinbasePairs = map[string]string{
	"ethereum": "ETH-USD",
	"bitcoin":  "BTC-USD",
	"solana":   "SOL-USD",
}

func NewCoinbaseSource(client *http.Client, assetID string) *CoinbaseSource {
	return &CoinbaseSource{client: client, assetID: assetID}
}

func (s *CoinbaseSource) Name() string { return "coinbase" }

func (s *CoinbaseSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	pair, ok := coinbasePairs[s.assetID]
	if !ok {
		return decimal.Decimal{}, errors.Errorf("no coinbase pair for asset %s", s.assetID)
	}

	url := fmt.Sprintf("https://api.coinbase.com/v2/prices/%s/spot", pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, errors.Errorf("coinbase status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "decode coinbase response")
	}
	return decimal.NewFromString(body.Data.Amount)
}

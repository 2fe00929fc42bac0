package addrbook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// chain names as CoinGecko's platforms map spells them
var coingeckoPlatforms = map[string]string{
	"binance_smart_chain": "binance-smart-chain",
	"ethereum":            "ethereum",
	"polygon":             "polygon-pos",
}

// CoinGecko resolves symbols via /coins/list + /coins/{id}, and exposes
// the per-coin exchange listing data used by the recon pipeline.
type CoinGecko struct {
	BaseURL string
	Client  *http.Client
}

func NewCoinGecko(baseURL string) *CoinGecko {
	return &CoinGecko{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

// coinID finds the CoinGecko id for a ticker. The /coins/list payload is
// large; this is the only way the public API maps symbol -> id.
func (c *CoinGecko) coinID(ctx context.Context, symbol string) (string, error) {
	var coins []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := getJSON(ctx, c.Client, c.BaseURL+"/coins/list", nil, &coins); err != nil {
		return "", fmt.Errorf("coingecko list: %w", err)
	}
	symbol = strings.ToLower(symbol)
	for _, coin := range coins {
		if coin.Symbol == symbol {
			return coin.ID, nil
		}
	}
	return "", fmt.Errorf("coingecko: unknown symbol %q", symbol)
}

func (c *CoinGecko) coinURL(id string) string {
	q := url.Values{
		"tickers":        {"true"},
		"market_data":    {"false"},
		"community_data": {"false"},
		"developer_data": {"false"},
		"sparkline":      {"false"},
	}
	return fmt.Sprintf("%s/coins/%s?%s", c.BaseURL, url.PathEscape(id), q.Encode())
}

func (c *CoinGecko) ContractAddress(ctx context.Context, symbol, tokenName, chain string) (common.Address, error) {
	id, err := c.coinID(ctx, symbol)
	if err != nil {
		return common.Address{}, err
	}

	platform, ok := coingeckoPlatforms[chain]
	if !ok {
		return common.Address{}, fmt.Errorf("coingecko: no platform name for chain %q", chain)
	}

	var resp struct {
		Platforms map[string]string `json:"platforms"`
	}
	if err := getJSON(ctx, c.Client, c.coinURL(id), nil, &resp); err != nil {
		return common.Address{}, fmt.Errorf("coingecko coin %s: %w", id, err)
	}

	addr := resp.Platforms[platform]
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("coingecko: no %s address for %s", platform, symbol)
	}
	return common.HexToAddress(addr), nil
}

// ExchangeTicker describes one venue currently listing a coin.
type ExchangeTicker struct {
	Exchange    string
	Base        string
	Target      string
	Volume      float64
	VolumeUSD   float64
	TrustScore  string
	LastTraded  string
	SpreadPct   float64
	FetchedAt   time.Time
}

// venue names as CoinGecko spells them -> our venue identifiers
var coingeckoVenues = map[string]string{
	"Binance":          "binance",
	"PancakeSwap (v2)": "pancakeswapv2",
	"Uniswap (v2)":     "uniswapv2",
	"Uniswap (v3)":     "uniswapv3",
}

// ExchangesListing returns the venues CoinGecko reports as trading the
// symbol, filtered to venues this system knows how to talk to.
func (c *CoinGecko) ExchangesListing(ctx context.Context, symbol string) ([]ExchangeTicker, error) {
	id, err := c.coinID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Tickers []struct {
			Base   string `json:"base"`
			Target string `json:"target"`
			Market struct {
				Name string `json:"name"`
			} `json:"market"`
			Volume          float64 `json:"volume"`
			ConvertedVolume struct {
				USD float64 `json:"usd"`
			} `json:"converted_volume"`
			TrustScore   string  `json:"trust_score"`
			SpreadPct    float64 `json:"bid_ask_spread_percentage"`
			LastTradedAt string  `json:"last_traded_at"`
		} `json:"tickers"`
	}
	if err := getJSON(ctx, c.Client, c.coinURL(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("coingecko coin %s: %w", id, err)
	}

	now := time.Now().UTC()
	var out []ExchangeTicker
	for _, tk := range resp.Tickers {
		venue, ok := coingeckoVenues[tk.Market.Name]
		if !ok {
			continue
		}
		out = append(out, ExchangeTicker{
			Exchange:   venue,
			Base:       tk.Base,
			Target:     tk.Target,
			Volume:     tk.Volume,
			VolumeUSD:  tk.ConvertedVolume.USD,
			TrustScore: tk.TrustScore,
			SpreadPct:  tk.SpreadPct,
			LastTraded: tk.LastTradedAt,
			FetchedAt:  now,
		})
	}
	return out, nil
}

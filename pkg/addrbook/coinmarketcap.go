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

// CoinMarketCap resolves symbols via the /v1/cryptocurrency/map endpoint.
type CoinMarketCap struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewCoinMarketCap(baseURL, apiKey string) *CoinMarketCap {
	return &CoinMarketCap{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CoinMarketCap) Name() string { return "coinmarketcap" }

type cmcMapEntry struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Platform *struct {
		TokenAddress string `json:"token_address"`
	} `json:"platform"`
}

// ContractAddress returns the token address CoinMarketCap reports for
// symbol. When several tokens share a ticker the human-readable token
// name disambiguates; with no name match the first listed entry wins.
func (c *CoinMarketCap) ContractAddress(ctx context.Context, symbol, tokenName, chain string) (common.Address, error) {
	symbol = strings.ToUpper(symbol)
	u := fmt.Sprintf("%s/v1/cryptocurrency/map?symbol=%s", c.BaseURL, url.QueryEscape(symbol))

	var resp struct {
		Data []cmcMapEntry `json:"data"`
	}
	header := http.Header{"X-CMC_PRO_API_KEY": []string{c.APIKey}}
	if err := getJSON(ctx, c.Client, u, header, &resp); err != nil {
		return common.Address{}, fmt.Errorf("coinmarketcap: %w", err)
	}
	if len(resp.Data) == 0 {
		return common.Address{}, fmt.Errorf("coinmarketcap: no entries for %s", symbol)
	}

	candidates := resp.Data
	if len(candidates) > 1 {
		if byName := filterByName(candidates, symbol, NameFormats(tokenName)); len(byName) == 1 {
			candidates = byName
		}
	}
	for _, entry := range candidates {
		if entry.Platform == nil || !common.IsHexAddress(entry.Platform.TokenAddress) {
			continue
		}
		return common.HexToAddress(entry.Platform.TokenAddress), nil
	}
	return common.Address{}, fmt.Errorf("coinmarketcap: no token address for %s", symbol)
}

func filterByName(entries []cmcMapEntry, symbol string, nameFormats []string) []cmcMapEntry {
	if len(nameFormats) == 0 {
		return nil
	}
	var out []cmcMapEntry
	for _, e := range entries {
		if !strings.EqualFold(e.Symbol, symbol) {
			continue
		}
		if containsFold(nameFormats, e.Slug) || containsFold(nameFormats, e.Name) {
			out = append(out, e)
		}
	}
	return out
}

package addrbook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BscScan is the block-explorer client. It is not an address Provider,
// since the explorer cannot map symbols to contracts, but recon needs
// its ABI lookup and block-by-timestamp endpoints.
type BscScan struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewBscScan(baseURL, apiKey string) *BscScan {
	return &BscScan{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BscScan) get(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", b.APIKey)
	return getJSON(ctx, b.Client, b.BaseURL+"?"+params.Encode(), nil, out)
}

// ABI fetches the verified contract ABI as a JSON string.
func (b *BscScan) ABI(ctx context.Context, contract common.Address) (string, error) {
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  string `json:"result"`
	}
	err := b.get(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getabi"},
		"address": {contract.Hex()},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("bscscan getabi: %w", err)
	}
	if resp.Status != "1" {
		return "", fmt.Errorf("bscscan getabi %s: %s", contract.Hex(), resp.Message)
	}
	return resp.Result, nil
}

// BlockByTime returns the block number closest to t. closest must be
// "before" or "after".
func (b *BscScan) BlockByTime(ctx context.Context, t time.Time, closest string) (uint64, error) {
	if closest != "before" && closest != "after" {
		return 0, fmt.Errorf("bscscan: closest must be \"before\" or \"after\", got %q", closest)
	}
	var resp struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	err := b.get(ctx, url.Values{
		"module":    {"block"},
		"action":    {"getblocknobytime"},
		"timestamp": {strconv.FormatInt(t.Unix(), 10)},
		"closest":   {closest},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("bscscan getblocknobytime: %w", err)
	}
	n, err := strconv.ParseUint(resp.Result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bscscan getblocknobytime: bad result %q", resp.Result)
	}
	return n, nil
}

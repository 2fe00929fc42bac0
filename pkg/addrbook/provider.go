package addrbook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Provider looks a trading symbol up on one external data source and
// returns the token's contract address on the given chain.
type Provider interface {
	Name() string
	ContractAddress(ctx context.Context, symbol, tokenName, chain string) (common.Address, error)
}

var nameSplit = regexp.MustCompile(`[\s\-_]+`)

// NameFormats generates the naming variants data providers use for the
// same token, e.g. "basic attention token" vs "basic-attention-token" vs
// "Basic Attention Token".
func NameFormats(tokenName string) []string {
	if strings.TrimSpace(tokenName) == "" {
		return nil
	}
	words := nameSplit.Split(strings.TrimSpace(tokenName), -1)
	lower := make([]string, len(words))
	upper := make([]string, len(words))
	capped := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
		upper[i] = strings.ToUpper(w)
		capped[i] = capitalize(strings.ToLower(w))
	}
	var formats []string
	for _, ws := range [][]string{lower, upper, capped} {
		for _, sep := range []string{"_", "-", " "} {
			formats = append(formats, strings.Join(ws, sep))
		}
	}
	return formats
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// getJSON issues a GET and decodes the JSON body into out. Non-2xx
// statuses are returned as errors with the body included for context.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

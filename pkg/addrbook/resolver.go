package addrbook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/retry"
)

// ErrNoConsensus is returned when the external providers disagree about
// a token's contract address, or none of them can resolve it. The
// resolver never guesses: swapping the wrong token is unrecoverable once
// a transaction is signed and broadcast.
var ErrNoConsensus = errors.New("no provider consensus on contract address")

// ResolutionError carries the per-provider answers for diagnostics.
type ResolutionError struct {
	Symbol      string
	Suggestions map[string]string // provider name -> address or error text
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: no provider consensus: %v", e.Symbol, e.Suggestions)
}

func (e *ResolutionError) Unwrap() error { return ErrNoConsensus }

// Resolver maps trading symbols to contract addresses: local cache
// first, then the external providers, accepting an answer only when
// every provider succeeds and all agree.
type Resolver struct {
	cache     *Cache
	providers []Provider
	chain     string
	network   string
	policy    retry.Policy
	log       *zap.SugaredLogger
}

func NewResolver(cache *Cache, providers []Provider, chain, network string, policy retry.Policy, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		cache:     cache,
		providers: providers,
		chain:     chain,
		network:   network,
		policy:    policy,
		log:       log,
	}
}

func (r *Resolver) key(symbol string) Key {
	return Key{Chain: r.chain, Network: r.network, Symbol: strings.ToUpper(symbol)}
}

// Resolve returns the contract address for symbol. tokenName is an
// optional human-readable name used to disambiguate shared tickers on
// providers that need it.
func (r *Resolver) Resolve(ctx context.Context, symbol, tokenName string) (common.Address, error) {
	k := r.key(symbol)

	if addr, ok, err := r.cache.Get(k); err != nil {
		return common.Address{}, err
	} else if ok {
		return addr, nil
	}

	suggestions := make(map[string]string, len(r.providers))
	var (
		consensus common.Address
		agreed    = true
		resolved  = 0
	)
	for _, p := range r.providers {
		var addr common.Address
		err := r.policy.Do(ctx, func() error {
			var perr error
			addr, perr = p.ContractAddress(ctx, symbol, tokenName, r.chain)
			return perr
		})
		if err != nil {
			suggestions[p.Name()] = "error: " + err.Error()
			agreed = false
			continue
		}
		suggestions[p.Name()] = addr.Hex()
		if resolved == 0 {
			consensus = addr
		} else if addr != consensus {
			agreed = false
		}
		resolved++
	}

	if resolved == 0 || !agreed {
		r.log.Warnw("address_resolution_failed",
			"symbol", symbol, "chain", r.chain, "network", r.network,
			"suggestions", suggestions)
		return common.Address{}, &ResolutionError{Symbol: strings.ToUpper(symbol), Suggestions: suggestions}
	}

	if err := r.cache.Put(k, consensus); err != nil {
		return common.Address{}, err
	}
	r.log.Debugw("address_resolved",
		"symbol", symbol, "chain", r.chain, "network", r.network,
		"address", consensus.Hex())
	return consensus, nil
}

package storage

import "fmt"

// Key schema for the recon store:
//
//	lst:<SYMBOL>                      → Listing
//	exl:<SYMBOL>                      → []ExchangeListing (latest snapshot)
//	swap:<SYMBOL>:<block>:<logIndex>  → SwapSample
//	trade:<SYMBOL>:<timestamp>:<id>   → TradeSample
//
// Numeric key parts are zero-padded (20 digits) so iteration order is
// chronological.
const (
	prefixListing   = "lst:"
	prefixExchanges = "exl:"
	prefixSwap      = "swap:"
	prefixTrade     = "trade:"
)

func listingKey(symbol string) []byte {
	return []byte(prefixListing + symbol)
}

func exchangesKey(symbol string) []byte {
	return []byte(prefixExchanges + symbol)
}

func swapKey(symbol string, block uint64, logIndex uint) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%06d", prefixSwap, symbol, block, logIndex))
}

func swapPrefix(symbol string) []byte {
	return []byte(prefixSwap + symbol + ":")
}

func tradeKey(symbol string, timestampMillis int64, tradeID int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%d", prefixTrade, symbol, timestampMillis, tradeID))
}

func tradePrefix(symbol string) []byte {
	return []byte(prefixTrade + symbol + ":")
}

func listingPrefix() []byte { return []byte(prefixListing) }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

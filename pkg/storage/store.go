// Package storage persists recon output: which venues list a new coin,
// and raw trading samples from the first hours after the announcement.
package storage

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"github.com/quantfish/listingsniper/pkg/addrbook"
)

// Listing marks one detected listing announcement and tracks how far
// recon has gotten with it.
type Listing struct {
	Symbol     string    `json:"symbol"`
	TokenName  string    `json:"token_name"`
	Source     string    `json:"source"`
	Text       string    `json:"text"`
	DetectedAt time.Time `json:"detected_at"`
	Sampled    bool      `json:"sampled"`
}

// SwapSample is one on-chain pool swap, raw token units as emitted.
type SwapSample struct {
	Symbol      string   `json:"symbol"`
	TxHash      string   `json:"tx_hash"`
	BlockNumber uint64   `json:"block_number"`
	LogIndex    uint     `json:"log_index"`
	Sender      string   `json:"sender"`
	To          string   `json:"to"`
	Amount0In   *big.Int `json:"amount0_in"`
	Amount1In   *big.Int `json:"amount1_in"`
	Amount0Out  *big.Int `json:"amount0_out"`
	Amount1Out  *big.Int `json:"amount1_out"`
}

// TradeSample is one aggregated CEX trade.
type TradeSample struct {
	Symbol       string          `json:"symbol"`
	TradeID      int64           `json:"trade_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TradeTime    int64           `json:"trade_time"` // unix millis
	BuyerIsMaker bool            `json:"buyer_is_maker"`
}

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open recon store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveListing persists a listing record, overwriting any previous state
// for the same symbol.
func (s *Store) SaveListing(l Listing) error {
	l.Symbol = strings.ToUpper(l.Symbol)
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal listing %s: %w", l.Symbol, err)
	}
	if err := s.db.Set(listingKey(l.Symbol), data, pebble.Sync); err != nil {
		return fmt.Errorf("save listing %s: %w", l.Symbol, err)
	}
	return nil
}

// LoadListing returns the record for symbol, reporting a miss when the
// symbol has never been seen.
func (s *Store) LoadListing(symbol string) (Listing, bool, error) {
	symbol = strings.ToUpper(symbol)
	data, closer, err := s.db.Get(listingKey(symbol))
	if err == pebble.ErrNotFound {
		return Listing{}, false, nil
	}
	if err != nil {
		return Listing{}, false, fmt.Errorf("get listing %s: %w", symbol, err)
	}
	defer closer.Close()

	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return Listing{}, false, fmt.Errorf("unmarshal listing %s: %w", symbol, err)
	}
	return l, true, nil
}

// LoadListings returns every listing record, symbol order.
func (s *Store) LoadListings() ([]Listing, error) {
	prefix := listingPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Listing
	for iter.First(); iter.Valid(); iter.Next() {
		var l Listing
		if err := json.Unmarshal(iter.Value(), &l); err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// SaveExchangeListings stores the latest venue snapshot for a symbol.
func (s *Store) SaveExchangeListings(symbol string, tickers []addrbook.ExchangeTicker) error {
	symbol = strings.ToUpper(symbol)
	data, err := json.Marshal(tickers)
	if err != nil {
		return fmt.Errorf("marshal exchange listings %s: %w", symbol, err)
	}
	if err := s.db.Set(exchangesKey(symbol), data, pebble.Sync); err != nil {
		return fmt.Errorf("save exchange listings %s: %w", symbol, err)
	}
	return nil
}

// LoadExchangeListings returns the stored venue snapshot for a symbol.
func (s *Store) LoadExchangeListings(symbol string) ([]addrbook.ExchangeTicker, bool, error) {
	symbol = strings.ToUpper(symbol)
	data, closer, err := s.db.Get(exchangesKey(symbol))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get exchange listings %s: %w", symbol, err)
	}
	defer closer.Close()

	var out []addrbook.ExchangeTicker
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("unmarshal exchange listings %s: %w", symbol, err)
	}
	return out, true, nil
}

// SaveSwapSample appends one pool swap. NoSync: samples arrive in bursts
// and a lost tail on crash is acceptable.
func (s *Store) SaveSwapSample(sample SwapSample) error {
	sample.Symbol = strings.ToUpper(sample.Symbol)
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal swap sample %s: %w", sample.TxHash, err)
	}
	key := swapKey(sample.Symbol, sample.BlockNumber, sample.LogIndex)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("save swap sample %s: %w", sample.TxHash, err)
	}
	return nil
}

// LoadSwapSamples returns all swap samples for a symbol in block order.
func (s *Store) LoadSwapSamples(symbol string) ([]SwapSample, error) {
	prefix := swapPrefix(strings.ToUpper(symbol))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []SwapSample
	for iter.First(); iter.Valid(); iter.Next() {
		var sample SwapSample
		if err := json.Unmarshal(iter.Value(), &sample); err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

// SaveTradeSample appends one aggregated trade. NoSync for the same
// reason as swaps.
func (s *Store) SaveTradeSample(sample TradeSample) error {
	sample.Symbol = strings.ToUpper(sample.Symbol)
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal trade sample %d: %w", sample.TradeID, err)
	}
	key := tradeKey(sample.Symbol, sample.TradeTime, sample.TradeID)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("save trade sample %d: %w", sample.TradeID, err)
	}
	return nil
}

// LoadRecentTradeSamples returns the most recent trades for a symbol,
// newest first.
func (s *Store) LoadRecentTradeSamples(symbol string, limit int) ([]TradeSample, error) {
	prefix := tradePrefix(strings.ToUpper(symbol))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TradeSample
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var sample TradeSample
		if err := json.Unmarshal(iter.Value(), &sample); err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

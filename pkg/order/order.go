// Package order defines the trade request passed from strategies to the
// dispatcher. An Order is validated once at construction and treated as
// immutable afterwards; resubmission goes through NextAttempt, which
// produces a fresh value with a bumped attempt counter.
package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Type string

const (
	Market Type = "market"
	Limit  Type = "limit"
)

type AssetClass string

const (
	Spot   AssetClass = "spot"
	Future AssetClass = "future"
	Perp   AssetClass = "perp"
)

// Venue aliases expanded at construction time.
const (
	AliasCEX = "cex"
	AliasDEX = "dex"
)

// ErrInvalidOrder is the sentinel wrapped by every construction failure.
var ErrInvalidOrder = errors.New("invalid order")

// InvalidOrderError names the violated invariant.
type InvalidOrderError struct {
	Field  string
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}

func (e *InvalidOrderError) Unwrap() error { return ErrInvalidOrder }

func invalid(field, format string, args ...any) error {
	return &InvalidOrderError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Aliases maps the "cex"/"dex" venue aliases to configured concrete venues.
type Aliases struct {
	CEX []string
	DEX []string
}

// Spec carries the raw constructor inputs for New.
type Spec struct {
	BuySymbol  string
	SellSymbol string
	Type       Type
	Asset      AssetClass

	// Exactly one of the two quantities must be non-zero.
	QuantityToBuy  decimal.Decimal
	QuantityToSell decimal.Decimal

	// PriceInSell is quoted in sell asset per buy asset, e.g. selling
	// USDT for BTC the price is x USDT/BTC. Required for limit orders,
	// ignored for market orders.
	PriceInSell decimal.Decimal

	Venues []string
	Notes  map[string]string
}

// Order is a validated, immutable trade request.
type Order struct {
	BuySymbol      string
	SellSymbol     string
	Type           Type
	Asset          AssetClass
	QuantityToBuy  decimal.Decimal
	QuantityToSell decimal.Decimal
	PriceInSell    decimal.Decimal
	Venues         []string
	Notes          map[string]string

	// AttemptCount starts at 0 and is bumped only via NextAttempt.
	AttemptCount int
}

// New validates s, expands venue aliases eagerly, and returns the Order.
// No network or file I/O happens here.
func New(s Spec, aliases Aliases) (Order, error) {
	switch s.Type {
	case Market, Limit:
	default:
		return Order{}, invalid("order_type", "unrecognized value %q", s.Type)
	}

	switch s.Asset {
	case Spot, Future, Perp:
	default:
		return Order{}, invalid("asset_class", "unrecognized value %q", s.Asset)
	}

	buy := strings.ToUpper(strings.TrimSpace(s.BuySymbol))
	sell := strings.ToUpper(strings.TrimSpace(s.SellSymbol))
	if buy == "" || sell == "" {
		return Order{}, invalid("symbols", "buy and sell symbols must be non-empty")
	}
	if buy == sell {
		return Order{}, invalid("symbols", "buy and sell symbols must differ, both are %q", buy)
	}

	if s.QuantityToBuy.IsNegative() || s.QuantityToSell.IsNegative() {
		return Order{}, invalid("quantity", "quantities must be non-negative")
	}
	buyZero := s.QuantityToBuy.IsZero()
	sellZero := s.QuantityToSell.IsZero()
	if buyZero && sellZero {
		return Order{}, invalid("quantity", "one of quantity_to_buy and quantity_to_sell must be non-zero")
	}
	if !buyZero && !sellZero {
		return Order{}, invalid("quantity", "quantity_to_buy and quantity_to_sell cannot both be non-zero: %s and %s",
			s.QuantityToBuy, s.QuantityToSell)
	}

	if s.Type == Limit && s.PriceInSell.IsZero() {
		return Order{}, invalid("price_in_sell", "price cannot be zero for a limit order")
	}

	if len(s.Venues) == 0 {
		return Order{}, invalid("venues", "at least one venue is required")
	}
	venues := expandVenues(s.Venues, aliases)

	notes := make(map[string]string, len(s.Notes))
	for k, v := range s.Notes {
		notes[k] = v
	}

	return Order{
		BuySymbol:      buy,
		SellSymbol:     sell,
		Type:           s.Type,
		Asset:          s.Asset,
		QuantityToBuy:  s.QuantityToBuy,
		QuantityToSell: s.QuantityToSell,
		PriceInSell:    s.PriceInSell,
		Venues:         venues,
		Notes:          notes,
	}, nil
}

// expandVenues replaces the cex/dex aliases with their configured venue
// lists and deduplicates, preserving first-seen order. Expansion is
// idempotent: expanding an already-expanded list is a no-op.
func expandVenues(in []string, aliases Aliases) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range in {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case AliasCEX:
			for _, c := range aliases.CEX {
				add(c)
			}
		case AliasDEX:
			for _, d := range aliases.DEX {
				add(d)
			}
		default:
			add(v)
		}
	}
	return out
}

// HasVenue reports whether the order may be routed to the named venue.
func (o Order) HasVenue(name string) bool {
	for _, v := range o.Venues {
		if v == name {
			return true
		}
	}
	return false
}

// Note returns the named sidecar hint, or "" when absent.
func (o Order) Note(key string) string { return o.Notes[key] }

// NextAttempt returns a copy of the order with AttemptCount incremented.
// The receiver is left untouched; venue and note storage is not shared.
func (o Order) NextAttempt() Order {
	next := o
	next.Venues = append([]string(nil), o.Venues...)
	next.Notes = make(map[string]string, len(o.Notes))
	for k, v := range o.Notes {
		next.Notes[k] = v
	}
	next.AttemptCount = o.AttemptCount + 1
	return next
}

func (o Order) String() string {
	return fmt.Sprintf("%s/%s %s %s buy=%s sell=%s price=%s venues=%v attempt=%d",
		o.BuySymbol, o.SellSymbol, o.Type, o.Asset,
		o.QuantityToBuy, o.QuantityToSell, o.PriceInSell, o.Venues, o.AttemptCount)
}

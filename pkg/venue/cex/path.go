package cex

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantfish/listingsniper/pkg/order"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Leg is one venue-native order: a single pair, side, and base-asset
// quantity. Price is zero for market legs.
type Leg struct {
	Symbol   string // concatenated pair, e.g. "FOOUSDT"
	Side     Side
	Type     order.Type
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// PriceFunc returns the current price of a pair in quote asset per base
// asset.
type PriceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Amounts are the order-level quantities the planned legs resolve to,
// in the order's own sell and buy assets. Whichever side the order left
// open is filled in from the limit price or the market quote.
type Amounts struct {
	Sell decimal.Decimal
	Buy  decimal.Decimal
}

func pair(base, quote string) string { return base + quote }

// PlanPath decomposes an order into one or two legs tradable on the
// venue. Only BASE/quote pairs are used; when neither side of the order
// is the quote asset, the path goes sell asset -> quote -> buy asset.
//
// For a two-hop limit order the deviation between the implied market
// price and the limit price is split evenly across the hops, so the two
// legs together fill at exactly the limit price.
//
// The returned Amounts carry the sell and buy quantities the plan
// resolved, including the side the order left open.
func PlanPath(ctx context.Context, o order.Order, quote string, price PriceFunc) ([]Leg, Amounts, error) {
	switch {
	case o.SellSymbol == quote:
		return singleBuyLeg(ctx, o, quote, price)
	case o.BuySymbol == quote:
		return singleSellLeg(ctx, o, quote, price)
	default:
		return twoHopLegs(ctx, o, quote, price)
	}
}

// singleBuyLeg: selling the quote asset directly for the buy asset.
func singleBuyLeg(ctx context.Context, o order.Order, quote string, price PriceFunc) ([]Leg, Amounts, error) {
	sym := pair(o.BuySymbol, quote)

	// quote (= sell asset) per buy asset: the limit price is already in
	// venue terms, market orders convert at the current quote
	px := o.PriceInSell
	if o.Type != order.Limit {
		var err error
		if px, err = price(ctx, sym); err != nil {
			return nil, Amounts{}, fmt.Errorf("price %s: %w", sym, err)
		}
	}
	if px.Sign() <= 0 {
		return nil, Amounts{}, fmt.Errorf("non-positive price for %s", sym)
	}

	buyQty := o.QuantityToBuy
	sellQty := o.QuantityToSell
	if buyQty.IsZero() {
		buyQty = sellQty.Div(px)
	} else if sellQty.IsZero() {
		sellQty = buyQty.Mul(px)
	}

	leg := Leg{Symbol: sym, Side: SideBuy, Type: o.Type, Quantity: buyQty}
	if o.Type == order.Limit {
		leg.Price = px
	}
	return []Leg{leg}, Amounts{Sell: sellQty, Buy: buyQty}, nil
}

// singleSellLeg: the buy asset is the quote asset, one sell does it.
func singleSellLeg(ctx context.Context, o order.Order, quote string, price PriceFunc) ([]Leg, Amounts, error) {
	sym := pair(o.SellSymbol, quote)

	// quote (= buy asset) per sell asset; the venue prices the pair the
	// other way round from price_in_sell, so the limit inverts
	var px decimal.Decimal
	if o.Type == order.Limit {
		if o.PriceInSell.Sign() <= 0 {
			return nil, Amounts{}, fmt.Errorf("non-positive limit price")
		}
		px = decimal.NewFromInt(1).Div(o.PriceInSell)
	} else {
		var err error
		if px, err = price(ctx, sym); err != nil {
			return nil, Amounts{}, fmt.Errorf("price %s: %w", sym, err)
		}
		if px.Sign() <= 0 {
			return nil, Amounts{}, fmt.Errorf("non-positive price for %s", sym)
		}
	}

	sellQty := o.QuantityToSell
	buyQty := o.QuantityToBuy
	if sellQty.IsZero() {
		sellQty = buyQty.Div(px)
	} else if buyQty.IsZero() {
		buyQty = sellQty.Mul(px)
	}

	leg := Leg{Symbol: sym, Side: SideSell, Type: o.Type, Quantity: sellQty}
	if o.Type == order.Limit {
		leg.Price = px
	}
	return []Leg{leg}, Amounts{Sell: sellQty, Buy: buyQty}, nil
}

// twoHopLegs: sell the sell asset for quote, then spend quote on the
// buy asset.
func twoHopLegs(ctx context.Context, o order.Order, quote string, price PriceFunc) ([]Leg, Amounts, error) {
	sellSym := pair(o.SellSymbol, quote)
	buySym := pair(o.BuySymbol, quote)

	m1, err := price(ctx, sellSym) // quote per sell asset
	if err != nil {
		return nil, Amounts{}, fmt.Errorf("price %s: %w", sellSym, err)
	}
	m2, err := price(ctx, buySym) // quote per buy asset
	if err != nil {
		return nil, Amounts{}, fmt.Errorf("price %s: %w", buySym, err)
	}
	if m1.Sign() <= 0 || m2.Sign() <= 0 {
		return nil, Amounts{}, fmt.Errorf("non-positive market price: %s=%s %s=%s", sellSym, m1, buySym, m2)
	}

	switch o.Type {
	case order.Market:
		impliedPrice := m2.Div(m1) // sell asset per buy asset
		buyQty := o.QuantityToBuy
		sellQty := o.QuantityToSell
		if buyQty.IsZero() {
			buyQty = sellQty.Div(impliedPrice)
		} else {
			sellQty = buyQty.Mul(impliedPrice)
		}
		return []Leg{
			{Symbol: sellSym, Side: SideSell, Type: order.Market, Quantity: sellQty},
			{Symbol: buySym, Side: SideBuy, Type: order.Market, Quantity: buyQty},
		}, Amounts{Sell: sellQty, Buy: buyQty}, nil

	case order.Limit:
		limit := o.PriceInSell // sell asset per buy asset
		buyQty := o.QuantityToBuy
		sellQty := o.QuantityToSell
		if buyQty.IsZero() {
			buyQty = sellQty.Div(limit)
		} else {
			sellQty = buyQty.Mul(limit)
		}

		// Deviation of the limit from the implied market, in quote
		// units per buy asset. Positive when the limit asks for a
		// better-than-market fill.
		two := decimal.NewFromInt(2)
		deviation := m2.Sub(limit.Mul(m1))

		// Each hop absorbs half: the sell leg prices above its market,
		// the buy leg below its market. p2/p1 then equals the limit
		// exactly.
		p2 := m2.Sub(deviation.Div(two))
		p1 := m1.Add(deviation.Div(two).Div(limit))
		if p1.Sign() <= 0 || p2.Sign() <= 0 {
			return nil, Amounts{}, fmt.Errorf("limit %s prices a hop non-positive: %s, %s", limit, p1, p2)
		}

		return []Leg{
			{Symbol: sellSym, Side: SideSell, Type: order.Limit, Quantity: sellQty, Price: p1},
			{Symbol: buySym, Side: SideBuy, Type: order.Limit, Quantity: buyQty, Price: p2},
		}, Amounts{Sell: sellQty, Buy: buyQty}, nil
	}
	return nil, Amounts{}, fmt.Errorf("unsupported order type %q", o.Type)
}

package cex

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantfish/listingsniper/pkg/order"
)

func fixedPrices(prices map[string]string) PriceFunc {
	return func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		p, ok := prices[symbol]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("no market %s", symbol)
		}
		return decimal.RequireFromString(p), nil
	}
}

func mustOrder(t *testing.T, s order.Spec) order.Order {
	t.Helper()
	s.Asset = order.Spot
	if len(s.Venues) == 0 {
		s.Venues = []string{"binance"}
	}
	o, err := order.New(s, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestPlanPath_SellingQuoteIsOneLeg(t *testing.T) {
	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "USDT",
		Type:          order.Limit,
		QuantityToBuy: decimal.NewFromInt(100),
		PriceInSell:   decimal.RequireFromString("2.5"),
	})

	legs, amounts, err := PlanPath(context.Background(), o, "USDT", fixedPrices(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 1 {
		t.Fatalf("got %d legs, want 1", len(legs))
	}
	leg := legs[0]
	if leg.Symbol != "FOOUSDT" || leg.Side != SideBuy {
		t.Errorf("leg = %+v, want buy FOOUSDT", leg)
	}
	if !leg.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("quantity = %s, want 100", leg.Quantity)
	}
	// sell asset is the quote asset, price passes through unchanged
	if !leg.Price.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("price = %s, want 2.5", leg.Price)
	}
	// the open sell side is resolved at the limit: 100 * 2.5
	if !amounts.Sell.Equal(decimal.NewFromInt(250)) || !amounts.Buy.Equal(decimal.NewFromInt(100)) {
		t.Errorf("amounts = %+v, want sell 250 buy 100", amounts)
	}
}

func TestPlanPath_SellQuantityConvertsAtLimit(t *testing.T) {
	o := mustOrder(t, order.Spec{
		BuySymbol:      "FOO",
		SellSymbol:     "USDT",
		Type:           order.Limit,
		QuantityToSell: decimal.NewFromInt(250),
		PriceInSell:    decimal.RequireFromString("2.5"),
	})

	legs, _, err := PlanPath(context.Background(), o, "USDT", fixedPrices(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !legs[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("quantity = %s, want 250/2.5 = 100", legs[0].Quantity)
	}
}

func TestPlanPath_BuyingQuoteInvertsPrice(t *testing.T) {
	o := mustOrder(t, order.Spec{
		BuySymbol:      "USDT",
		SellSymbol:     "BNB",
		Type:           order.Limit,
		QuantityToSell: decimal.NewFromInt(3),
		PriceInSell:    decimal.RequireFromString("0.004"), // BNB per USDT
	})

	legs, amounts, err := PlanPath(context.Background(), o, "USDT", fixedPrices(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 1 {
		t.Fatalf("got %d legs, want 1", len(legs))
	}
	leg := legs[0]
	if leg.Symbol != "BNBUSDT" || leg.Side != SideSell {
		t.Errorf("leg = %+v, want sell BNBUSDT", leg)
	}
	// venue prices BNBUSDT in USDT per BNB
	if !leg.Price.Equal(decimal.NewFromInt(250)) {
		t.Errorf("price = %s, want 1/0.004 = 250", leg.Price)
	}
	// 3 BNB at 250 USDT each
	if !amounts.Buy.Equal(decimal.NewFromInt(750)) {
		t.Errorf("buy amount = %s, want 750", amounts.Buy)
	}
}

func TestPlanPath_CrossPairIsTwoLegs(t *testing.T) {
	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "BNB",
		Type:          order.Market,
		QuantityToBuy: decimal.NewFromInt(10),
	})

	legs, amounts, err := PlanPath(context.Background(), o, "USDT", fixedPrices(map[string]string{
		"BNBUSDT": "500",
		"FOOUSDT": "5",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 2 {
		t.Fatalf("got %d legs, want 2", len(legs))
	}
	if legs[0].Symbol != "BNBUSDT" || legs[0].Side != SideSell {
		t.Errorf("leg 1 = %+v, want sell BNBUSDT", legs[0])
	}
	if legs[1].Symbol != "FOOUSDT" || legs[1].Side != SideBuy {
		t.Errorf("leg 2 = %+v, want buy FOOUSDT", legs[1])
	}
	// implied market: 5/500 = 0.01 BNB per FOO, so 10 FOO sells 0.1 BNB
	if !legs[0].Quantity.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("sell quantity = %s, want 0.1", legs[0].Quantity)
	}
	if !legs[1].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("buy quantity = %s, want 10", legs[1].Quantity)
	}
	if !legs[0].Price.IsZero() || !legs[1].Price.IsZero() {
		t.Error("market legs carry no price")
	}
	if !amounts.Sell.Equal(decimal.RequireFromString("0.1")) || !amounts.Buy.Equal(decimal.NewFromInt(10)) {
		t.Errorf("amounts = %+v, want sell 0.1 buy 10", amounts)
	}
}

func TestPlanPath_TwoHopLimitSplitsDeviation(t *testing.T) {
	// market: BNB at 500, FOO at 5, implied 0.01 BNB per FOO
	// limit asks 0.008 BNB per FOO, deviation = 5 - 0.008*500 = 1 USDT
	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "BNB",
		Type:          order.Limit,
		QuantityToBuy: decimal.NewFromInt(10),
		PriceInSell:   decimal.RequireFromString("0.008"),
	})

	legs, _, err := PlanPath(context.Background(), o, "USDT", fixedPrices(map[string]string{
		"BNBUSDT": "500",
		"FOOUSDT": "5",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 2 {
		t.Fatalf("got %d legs, want 2", len(legs))
	}

	// buy leg: half the deviation below its market
	if !legs[1].Price.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("buy leg price = %s, want 4.5", legs[1].Price)
	}
	// sell leg: half the deviation above its market, per sell unit
	if !legs[0].Price.Equal(decimal.RequireFromString("562.5")) {
		t.Errorf("sell leg price = %s, want 562.5", legs[0].Price)
	}
	// combined, the hops reproduce the limit exactly
	effective := legs[1].Price.Div(legs[0].Price)
	if !effective.Equal(decimal.RequireFromString("0.008")) {
		t.Errorf("effective price = %s, want the 0.008 limit", effective)
	}
	// 10 FOO at the limit costs 0.08 BNB
	if !legs[0].Quantity.Equal(decimal.RequireFromString("0.08")) {
		t.Errorf("sell quantity = %s, want 0.08", legs[0].Quantity)
	}
}

func TestPlanPath_MissingMarketFails(t *testing.T) {
	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "BNB",
		Type:          order.Market,
		QuantityToBuy: decimal.NewFromInt(10),
	})
	if _, _, err := PlanPath(context.Background(), o, "USDT", fixedPrices(nil)); err == nil {
		t.Fatal("expected error when no market price is available")
	}
}

package cex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/retry"
	"github.com/quantfish/listingsniper/pkg/venue"
)

type fakeExchange struct {
	prices map[string]string

	submitted []Leg
	// errs is consumed one per SubmitLeg call; nil entries succeed.
	errs   []error
	nextID int64
}

func (f *fakeExchange) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no market %s", symbol)
	}
	return decimal.RequireFromString(p), nil
}

func (f *fakeExchange) SubmitLeg(ctx context.Context, leg Leg) (int64, error) {
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return 0, err
	}
	f.submitted = append(f.submitted, leg)
	f.nextID++
	return f.nextID, nil
}

func newTestCEX(ex *fakeExchange) *Client {
	policy := retry.Policy{MaxAttempts: 3}
	return NewWithExchange("binance", ex, "USDT", policy, zap.NewNop().Sugar())
}

func TestPlace_SubmitsLegsInPathOrder(t *testing.T) {
	ex := &fakeExchange{prices: map[string]string{"BNBUSDT": "500", "FOOUSDT": "5"}}
	c := newTestCEX(ex)

	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "BNB",
		Type:          order.Market,
		QuantityToBuy: decimal.NewFromInt(10),
	})

	rcpt, err := c.Place(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if rcpt.NeedsConfirmation {
		t.Error("CEX receipts settle synchronously")
	}
	if len(rcpt.LegIDs) != 2 {
		t.Fatalf("got %d leg IDs, want 2", len(rcpt.LegIDs))
	}
	if len(ex.submitted) != 2 || ex.submitted[0].Symbol != "BNBUSDT" || ex.submitted[1].Symbol != "FOOUSDT" {
		t.Errorf("submitted = %+v, want sell hop before buy hop", ex.submitted)
	}
}

func TestPlace_ReceiptCarriesPlannedAmounts(t *testing.T) {
	ex := &fakeExchange{prices: map[string]string{"BNBUSDT": "500", "FOOUSDT": "5"}}
	c := newTestCEX(ex)

	// only the buy side is specified; the receipt must still report the
	// sell amount the plan resolved, not the order's zero
	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "BNB",
		Type:          order.Market,
		QuantityToBuy: decimal.NewFromInt(10),
	})

	rcpt, err := c.Place(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	// implied 0.01 BNB per FOO
	if !rcpt.SellQuantity.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("sell quantity = %s, want 0.1", rcpt.SellQuantity)
	}
	if !rcpt.MinBuyQuantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("min buy quantity = %s, want 10", rcpt.MinBuyQuantity)
	}
}

func TestPlace_APIErrorIsRejectionNotRetried(t *testing.T) {
	ex := &fakeExchange{
		prices: map[string]string{"FOOUSDT": "5"},
		errs:   []error{&common.APIError{Code: -1013, Message: "Invalid quantity."}},
	}
	c := newTestCEX(ex)

	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "USDT",
		Type:          order.Market,
		QuantityToBuy: decimal.NewFromInt(10),
	})

	_, err := c.Place(context.Background(), o)
	if !errors.Is(err, venue.ErrVenueRejected) {
		t.Fatalf("expected ErrVenueRejected, got %v", err)
	}
	if len(ex.submitted) != 0 {
		t.Errorf("rejected leg submitted %d times, want 0", len(ex.submitted))
	}
}

func TestPlace_TransientErrorRetried(t *testing.T) {
	ex := &fakeExchange{
		prices: map[string]string{"FOOUSDT": "5"},
		errs:   []error{errors.New("connection reset"), nil},
	}
	c := newTestCEX(ex)

	o := mustOrder(t, order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "USDT",
		Type:          order.Market,
		QuantityToBuy: decimal.NewFromInt(10),
	})

	rcpt, err := c.Place(context.Background(), o)
	if err != nil {
		t.Fatalf("transient failure must be retried: %v", err)
	}
	if len(rcpt.LegIDs) != 1 {
		t.Errorf("got %d leg IDs, want 1", len(rcpt.LegIDs))
	}
}

func TestPlace_RejectsNonSpot(t *testing.T) {
	c := newTestCEX(&fakeExchange{})

	o, err := order.New(order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "USDT",
		Type:          order.Market,
		Asset:         order.Future,
		QuantityToBuy: decimal.NewFromInt(1),
		Venues:        []string{"binance"},
	}, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Place(context.Background(), o); !errors.Is(err, venue.ErrVenueRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

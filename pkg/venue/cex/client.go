// Package cex places orders on Binance spot through the exchange's
// REST API, decomposing cross pairs into legs through a quote asset.
package cex

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/retry"
	"github.com/quantfish/listingsniper/pkg/venue"
)

// Exchange is the REST surface the client needs, kept narrow so tests
// can stand in for Binance.
type Exchange interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	SubmitLeg(ctx context.Context, leg Leg) (int64, error)
}

type binanceExchange struct {
	api *binance.Client
}

func (b *binanceExchange) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, fmt.Errorf("no price for %s", symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

func (b *binanceExchange) SubmitLeg(ctx context.Context, leg Leg) (int64, error) {
	svc := b.api.NewCreateOrderService().
		Symbol(leg.Symbol).
		Quantity(leg.Quantity.String())

	if leg.Side == SideBuy {
		svc.Side(binance.SideTypeBuy)
	} else {
		svc.Side(binance.SideTypeSell)
	}

	if leg.Type == order.Limit {
		svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(leg.Price.String())
	} else {
		svc.Type(binance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

// Client routes orders to Binance spot. Legs are submitted in path
// order; a failure between legs leaves the earlier fills in place and
// is reported, not rolled back.
type Client struct {
	name   string
	ex     Exchange
	quote  string
	policy retry.Policy
	log    *zap.SugaredLogger
}

func New(cfg params.CEX, policy retry.Policy, log *zap.SugaredLogger) *Client {
	policy.Retryable = isTransient
	return &Client{
		name:   "binance",
		ex:     &binanceExchange{api: binance.NewClient(cfg.APIKey, cfg.APISecret)},
		quote:  cfg.QuoteAsset,
		policy: policy,
		log:    log,
	}
}

// NewWithExchange wires a custom Exchange, used by tests.
func NewWithExchange(name string, ex Exchange, quote string, policy retry.Policy, log *zap.SugaredLogger) *Client {
	policy.Retryable = isTransient
	return &Client{name: name, ex: ex, quote: quote, policy: policy, log: log}
}

// isTransient reports whether a submission error may be retried. An
// APIError means the venue understood the request and refused it, so
// retrying the same payload cannot succeed.
func isTransient(err error) bool {
	return !common.IsAPIError(err)
}

func (c *Client) Name() string { return c.name }

// Place plans the path through the quote asset and submits each leg
// sequentially. The receipt carries the venue order IDs; CEX fills are
// immediate, no confirmation watcher is involved.
func (c *Client) Place(ctx context.Context, o order.Order) (venue.Receipt, error) {
	if o.Asset != order.Spot {
		return venue.Receipt{}, &venue.RejectionError{
			Venue:  c.name,
			Reason: fmt.Sprintf("only spot orders are supported, got %s", o.Asset),
		}
	}

	legs, amounts, err := PlanPath(ctx, o, c.quote, c.ex.Price)
	if err != nil {
		return venue.Receipt{}, fmt.Errorf("plan path: %w", err)
	}
	c.log.Debugw("order_path_planned",
		"venue", c.name,
		"buy_symbol", o.BuySymbol,
		"sell_symbol", o.SellSymbol,
		"legs", len(legs))

	ids := make([]int64, 0, len(legs))
	for i, leg := range legs {
		var id int64
		err := c.policy.Do(ctx, func() error {
			var serr error
			id, serr = c.ex.SubmitLeg(ctx, leg)
			return serr
		})
		if err != nil {
			if common.IsAPIError(err) {
				err = &venue.RejectionError{Venue: c.name, Reason: err.Error()}
			}
			return venue.Receipt{}, fmt.Errorf("leg %d/%d %s %s: %w",
				i+1, len(legs), leg.Side, leg.Symbol, err)
		}
		ids = append(ids, id)
		c.log.Infow("leg_submitted",
			"venue", c.name,
			"symbol", leg.Symbol,
			"side", leg.Side,
			"type", leg.Type,
			"quantity", leg.Quantity,
			"price", leg.Price,
			"order_id", id)
	}

	// the planned amounts, not the raw order fields: one of those is
	// zero whenever the caller specified only one side
	return venue.Receipt{
		Venue:          c.name,
		LegIDs:         ids,
		SellQuantity:   amounts.Sell,
		MinBuyQuantity: amounts.Buy,
	}, nil
}

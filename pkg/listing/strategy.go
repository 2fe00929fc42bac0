package listing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/order"
)

// Sink receives the orders the strategy produces.
type Sink interface {
	Enqueue(ctx context.Context, o order.Order) error
}

// Strategy watches announcement text and fires a market buy of the
// listed symbol, spending a fixed budget of the funding asset.
type Strategy struct {
	sellSymbol string
	spend      decimal.Decimal
	venues     []string
	aliases    order.Aliases
	sink       Sink
	log        *zap.SugaredLogger
}

func NewStrategy(sellSymbol string, spend decimal.Decimal, venues []string, aliases order.Aliases, sink Sink, log *zap.SugaredLogger) *Strategy {
	return &Strategy{
		sellSymbol: strings.ToUpper(sellSymbol),
		spend:      spend,
		venues:     venues,
		aliases:    aliases,
		sink:       sink,
		log:        log,
	}
}

// Run consumes announcement texts until the channel closes or ctx is
// cancelled.
func (s *Strategy) Run(ctx context.Context, texts <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-texts:
			if !ok {
				return nil
			}
			s.Handle(ctx, text)
		}
	}
}

// Handle inspects one text and enqueues an order when it announces a
// listing of a symbol we can buy.
func (s *Strategy) Handle(ctx context.Context, text string) {
	ann, ok := Detect(text)
	if !ok {
		return
	}
	symbol := strings.ToUpper(ann.Symbol)
	if symbol == s.sellSymbol {
		s.log.Debugw("listing_is_funding_asset", "symbol", symbol)
		return
	}
	s.log.Infow("new_listing_detected", "symbol", symbol, "token_name", ann.TokenName)

	o, err := order.New(order.Spec{
		BuySymbol:      symbol,
		SellSymbol:     s.sellSymbol,
		Type:           order.Market,
		Asset:          order.Spot,
		QuantityToSell: s.spend,
		Venues:         s.venues,
		Notes:          map[string]string{"buy_token_name": ann.TokenName},
	}, s.aliases)
	if err != nil {
		s.log.Errorw("listing_order_invalid", "symbol", symbol, "err", err)
		return
	}

	if err := s.sink.Enqueue(ctx, o); err != nil {
		s.log.Errorw("listing_order_enqueue_failed", "symbol", symbol, "err", err)
		return
	}
	s.log.Infow("listing_order_enqueued", "order", o.String())
}

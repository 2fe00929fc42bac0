package recon

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/addrbook"
	"github.com/quantfish/listingsniper/pkg/storage"
	"github.com/quantfish/listingsniper/pkg/util"
)

// DefaultBinanceStreamURL is the production market-data websocket
// endpoint.
const DefaultBinanceStreamURL = "wss://stream.binance.com:9443/ws"

// tradeReconnectWait paces websocket redials after a drop.
const tradeReconnectWait = 5 * time.Second

type tradeStore interface {
	SaveTradeSample(storage.TradeSample) error
}

// TradeSampler records Binance aggregated trades for a listing's pair
// against the quote asset, for a fixed window after the announcement.
type TradeSampler struct {
	streamURL string
	quote     string
	store     tradeStore
	clock     util.Clock
	log       *zap.SugaredLogger

	window time.Duration
}

func NewTradeSampler(streamURL, quote string, store tradeStore, clock util.Clock, log *zap.SugaredLogger) *TradeSampler {
	return &TradeSampler{
		streamURL: streamURL,
		quote:     strings.ToUpper(quote),
		store:     store,
		clock:     clock,
		log:       log,
		window:    4 * time.Hour,
	}
}

func (t *TradeSampler) Name() string { return "binance" }

// aggTrade is the payload of one <symbol>@aggTrade stream message.
type aggTrade struct {
	Event        string          `json:"e"`
	Symbol       string          `json:"s"`
	TradeID      int64           `json:"a"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
}

// Sample streams aggregated trades for the listing's pair until the
// sampling window closes, reconnecting through drops.
func (t *TradeSampler) Sample(ctx context.Context, l storage.Listing, _ addrbook.ExchangeTicker) error {
	ctx, cancel := context.WithTimeout(ctx, t.window)
	defer cancel()

	stream := strings.ToLower(l.Symbol+t.quote) + "@aggTrade"
	url := t.streamURL + "/" + stream

	for {
		err := t.streamOnce(ctx, url, l.Symbol)
		if ctx.Err() != nil {
			// window elapsed or caller cancelled; either way done
			return nil
		}
		t.log.Warnw("trade_stream_disconnected",
			"symbol", l.Symbol, "err", err, "reconnect_in", tradeReconnectWait)
		select {
		case <-ctx.Done():
			return nil
		case <-t.clock.After(tradeReconnectWait):
		}
	}
}

func (t *TradeSampler) streamOnce(ctx context.Context, url, symbol string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	t.log.Infow("trade_stream_connected", "url", url)

	// unblock ReadMessage when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var trade aggTrade
		if err := json.Unmarshal(msg, &trade); err != nil {
			t.log.Warnw("trade_message_unparseable", "err", err)
			continue
		}
		if trade.Event != "aggTrade" {
			continue
		}
		sample := storage.TradeSample{
			Symbol:       symbol,
			TradeID:      trade.TradeID,
			Price:        trade.Price,
			Quantity:     trade.Quantity,
			TradeTime:    trade.TradeTime,
			BuyerIsMaker: trade.BuyerIsMaker,
		}
		if err := t.store.SaveTradeSample(sample); err != nil {
			return err
		}
	}
}

// Package recon collects data around new coin listings without trading
// on them: which venues already list the coin at announcement time, and
// raw trade flow for the hours around the listing. Announcements
// usually land hours before trading opens, so there is time to set
// samplers up.
package recon

import (
	"context"

	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/addrbook"
	"github.com/quantfish/listingsniper/pkg/listing"
	"github.com/quantfish/listingsniper/pkg/storage"
	"github.com/quantfish/listingsniper/pkg/util"
)

// Lister reports the venues currently trading a symbol.
type Lister interface {
	ExchangesListing(ctx context.Context, symbol string) ([]addrbook.ExchangeTicker, error)
}

// Sampler downloads trade data for a listing on one venue. Name must
// match the venue identifiers the Lister reports.
type Sampler interface {
	Name() string
	Sample(ctx context.Context, l storage.Listing, tk addrbook.ExchangeTicker) error
}

type pipelineStore interface {
	SaveListing(storage.Listing) error
	LoadListing(symbol string) (storage.Listing, bool, error)
	SaveExchangeListings(symbol string, tickers []addrbook.ExchangeTicker) error
}

// Pipeline turns announcement texts into stored listings and sampled
// trade data. Listings are processed one at a time.
type Pipeline struct {
	lister   Lister
	store    pipelineStore
	samplers map[string]Sampler
	clock    util.Clock
	log      *zap.SugaredLogger
}

func NewPipeline(lister Lister, store pipelineStore, clock util.Clock, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		lister:   lister,
		store:    store,
		samplers: make(map[string]Sampler),
		clock:    clock,
		log:      log,
	}
}

func (p *Pipeline) Register(s Sampler) { p.samplers[s.Name()] = s }

// Run consumes raw announcement texts until the channel closes or ctx
// is cancelled.
func (p *Pipeline) Run(ctx context.Context, texts <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-texts:
			if !ok {
				return nil
			}
			p.Handle(ctx, text)
		}
	}
}

// Handle processes one announcement text end to end: detect, record,
// look up venues, sample each venue in turn.
func (p *Pipeline) Handle(ctx context.Context, text string) {
	ann, ok := listing.Detect(text)
	if !ok {
		return
	}

	if prev, found, err := p.store.LoadListing(ann.Symbol); err != nil {
		p.log.Errorw("listing_lookup_failed", "symbol", ann.Symbol, "err", err)
		return
	} else if found && prev.Sampled {
		p.log.Debugw("listing_already_sampled", "symbol", ann.Symbol)
		return
	}

	l := storage.Listing{
		Symbol:     ann.Symbol,
		TokenName:  ann.TokenName,
		Source:     "twitter",
		Text:       text,
		DetectedAt: p.clock.Now().UTC(),
	}
	if err := p.store.SaveListing(l); err != nil {
		p.log.Errorw("listing_save_failed", "symbol", l.Symbol, "err", err)
		return
	}
	p.log.Infow("listing_recorded", "symbol", l.Symbol, "token_name", l.TokenName)

	tickers, err := p.lister.ExchangesListing(ctx, l.Symbol)
	if err != nil {
		p.log.Errorw("exchange_lookup_failed", "symbol", l.Symbol, "err", err)
		return
	}
	if err := p.store.SaveExchangeListings(l.Symbol, tickers); err != nil {
		p.log.Errorw("exchange_listings_save_failed", "symbol", l.Symbol, "err", err)
	}
	p.log.Infow("exchanges_found", "symbol", l.Symbol, "venues", venueNames(tickers))

	for _, tk := range tickers {
		s, ok := p.samplers[tk.Exchange]
		if !ok {
			p.log.Debugw("no_sampler_for_venue", "venue", tk.Exchange, "symbol", l.Symbol)
			continue
		}
		p.log.Infow("sampling_started",
			"venue", tk.Exchange, "symbol", l.Symbol, "pair", tk.Base+"/"+tk.Target)
		if err := s.Sample(ctx, l, tk); err != nil {
			p.log.Errorw("sampling_failed", "venue", tk.Exchange, "symbol", l.Symbol, "err", err)
			continue
		}
		p.log.Infow("sampling_finished", "venue", tk.Exchange, "symbol", l.Symbol)
	}

	l.Sampled = true
	if err := p.store.SaveListing(l); err != nil {
		p.log.Errorw("listing_save_failed", "symbol", l.Symbol, "err", err)
	}
}

func venueNames(tickers []addrbook.ExchangeTicker) []string {
	names := make([]string, len(tickers))
	for i, tk := range tickers {
		names[i] = tk.Exchange
	}
	return names
}

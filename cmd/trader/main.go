package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/addrbook"
	"github.com/quantfish/listingsniper/pkg/api"
	"github.com/quantfish/listingsniper/pkg/dispatch"
	"github.com/quantfish/listingsniper/pkg/listing"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/retry"
	"github.com/quantfish/listingsniper/pkg/twitter"
	"github.com/quantfish/listingsniper/pkg/util"
	"github.com/quantfish/listingsniper/pkg/venue/cex"
	"github.com/quantfish/listingsniper/pkg/venue/dex"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Address book ----
	cache, err := addrbook.OpenCache(filepath.Join(cfg.DataDir, "addrbook"))
	if err != nil {
		sugar.Fatalw("address_cache_open_failed", "err", err)
	}
	defer cache.Close()

	providers := []addrbook.Provider{
		addrbook.NewCoinMarketCap(cfg.Providers.CoinMarketCapURL, cfg.Providers.CoinMarketCapAPIKey),
		addrbook.NewCoinGecko(cfg.Providers.CoinGeckoURL),
	}
	resolver := addrbook.NewResolver(cache, providers, cfg.Chain.Name, cfg.Chain.Network,
		retry.Default(), sugar)

	// ---- Venues ----
	eth, err := dex.Dial(ctx, cfg.Chain.Nodes, cfg.Chain.ChainID, sugar)
	if err != nil {
		sugar.Fatalw("node_dial_failed", "err", err)
	}
	defer eth.Close()

	dexName := "pancakeswapv2"
	if len(cfg.Dispatch.DEXVenues) > 0 {
		dexName = cfg.Dispatch.DEXVenues[0]
	}
	dexClient, err := dex.New(dexName, cfg.Chain, cfg.DEX, eth, resolver, util.RealClock{}, sugar)
	if err != nil {
		sugar.Fatalw("dex_client_init_failed", "err", err)
	}
	cexClient := cex.New(cfg.CEX, retry.Default(), sugar)

	// ---- Dispatcher ----
	dispatcher := dispatch.New(cfg.Dispatch, util.RealClock{}, sugar)
	dispatcher.Register(cexClient)
	dispatcher.RegisterConfirmable(dexClient, dexClient)

	aliases := order.Aliases{CEX: cfg.Dispatch.CEXVenues, DEX: cfg.Dispatch.DEXVenues}

	// ---- Listing detection ----
	tw := twitter.NewClient(cfg.Twitter, util.RealClock{}, sugar)
	if err := tw.ResetRules(ctx, twitter.ListingRule(cfg.Twitter.UserHandle)); err != nil {
		sugar.Fatalw("stream_rules_failed", "err", err)
	}

	tweets := make(chan twitter.Tweet, 16)
	go func() {
		if err := tw.Listen(ctx, tweets); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Errorw("stream_stopped", "err", err)
		}
	}()

	// Only content the account wrote itself can announce a listing.
	texts := make(chan string, 16)
	go func() {
		defer close(texts)
		for tweet := range tweets {
			if !tweet.IsAuthored() {
				sugar.Debugw("tweet_skipped", "kind", tweet.Kind, "id", tweet.ID)
				continue
			}
			texts <- tweet.Text
		}
	}()

	strat := listing.NewStrategy(cfg.Strategy.SellSymbol, cfg.Strategy.Spend,
		cfg.Strategy.Venues, aliases, dispatcher, sugar)
	go func() {
		if err := strat.Run(ctx, texts); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Errorw("strategy_stopped", "err", err)
		}
	}()

	// ---- Ops API ----
	srv := api.NewServer(dispatcher, resolver, nil, aliases, sugar)
	go func() {
		if err := srv.Run(ctx, cfg.APIAddr); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Errorw("api_stopped", "err", err)
		}
	}()

	sugar.Infow("trader_started",
		"chain", cfg.Chain.Name, "network", cfg.Chain.Network,
		"dex_venue", dexName, "watching", cfg.Twitter.UserHandle)

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("dispatcher_stopped", "err", err)
	}
	sugar.Infow("shutdown_complete")
}

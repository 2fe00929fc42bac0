package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/addrbook"
	"github.com/quantfish/listingsniper/pkg/recon"
	"github.com/quantfish/listingsniper/pkg/retry"
	"github.com/quantfish/listingsniper/pkg/storage"
	"github.com/quantfish/listingsniper/pkg/twitter"
	"github.com/quantfish/listingsniper/pkg/util"
	"github.com/quantfish/listingsniper/pkg/venue/dex"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(filepath.Join(cfg.DataDir, "recon.log"), cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(filepath.Join(cfg.DataDir, "recon"))
	if err != nil {
		sugar.Fatalw("recon_store_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Address book ----
	cache, err := addrbook.OpenCache(filepath.Join(cfg.DataDir, "addrbook"))
	if err != nil {
		sugar.Fatalw("address_cache_open_failed", "err", err)
	}
	defer cache.Close()

	gecko := addrbook.NewCoinGecko(cfg.Providers.CoinGeckoURL)
	scan := addrbook.NewBscScan(cfg.Providers.BscScanURL, cfg.Providers.BscScanAPIKey)
	providers := []addrbook.Provider{
		addrbook.NewCoinMarketCap(cfg.Providers.CoinMarketCapURL, cfg.Providers.CoinMarketCapAPIKey),
		gecko,
	}
	resolver := addrbook.NewResolver(cache, providers, cfg.Chain.Name, cfg.Chain.Network,
		retry.Default(), sugar)

	// ---- Samplers ----
	eth, err := dex.Dial(ctx, cfg.Chain.Nodes, cfg.Chain.ChainID, sugar)
	if err != nil {
		sugar.Fatalw("node_dial_failed", "err", err)
	}
	defer eth.Close()

	chain := dex.NewReadOnly("pancakeswapv2", cfg.Chain, eth, resolver, util.RealClock{}, sugar)
	wrapped := common.HexToAddress(cfg.Chain.WBNBAddress)

	pipeline := recon.NewPipeline(gecko, store, util.RealClock{}, sugar)
	chainSampler := recon.NewChainSampler("pancakeswapv2", chain, resolver, wrapped,
		store, util.RealClock{}, sugar)
	chainSampler.AnchorAtAnnouncement(scan)
	pipeline.Register(chainSampler)
	pipeline.Register(recon.NewTradeSampler(recon.DefaultBinanceStreamURL, cfg.CEX.QuoteAsset,
		store, util.RealClock{}, sugar))

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

	texts := make(chan string, 16)
	go func() {
		defer close(texts)
		for tweet := range tweets {
			if !tweet.IsAuthored() {
				continue
			}
			texts <- tweet.Text
		}
	}()

	sugar.Infow("recon_started", "watching", cfg.Twitter.UserHandle)
	if err := pipeline.Run(ctx, texts); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("pipeline_stopped", "err", err)
	}
	sugar.Infow("shutdown_complete")
}

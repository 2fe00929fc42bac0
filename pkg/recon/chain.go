package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/pkg/addrbook"
	"github.com/quantfish/listingsniper/pkg/storage"
	"github.com/quantfish/listingsniper/pkg/util"
	"github.com/quantfish/listingsniper/pkg/venue/dex"
)

// chainVenue is the slice of the DEX client the sampler needs.
type chainVenue interface {
	LatestBlock(ctx context.Context) (uint64, error)
	PairAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
	SwapEvents(ctx context.Context, pair common.Address, fromBlock, toBlock uint64) ([]dex.SwapEvent, error)
}

type swapStore interface {
	SaveSwapSample(storage.SwapSample) error
}

// blockFinder maps a wall-clock time to a block number.
type blockFinder interface {
	BlockByTime(ctx context.Context, t time.Time, closest string) (uint64, error)
}

// ChainSampler pulls a pool's Swap history in block windows, starting
// shortly before the announcement and following the chain head for a
// few hours after.
type ChainSampler struct {
	name     string
	venue    chainVenue
	resolver dex.AddressResolver
	quote    common.Address
	store    swapStore
	blocks   blockFinder
	clock    util.Clock
	log      *zap.SugaredLogger

	// lookback stays under the 5000-block cap public BSC nodes put on
	// eth_getLogs ranges measured from head.
	lookback  uint64
	window    uint64
	forward   time.Duration
	blockTime time.Duration
}

// NewChainSampler builds a sampler for one V2 pool venue. quote is the
// token every sampled pool is paired against, normally the wrapped
// native token.
func NewChainSampler(name string, v chainVenue, resolver dex.AddressResolver, quote common.Address,
	store swapStore, clock util.Clock, log *zap.SugaredLogger) *ChainSampler {
	return &ChainSampler{
		name:      name,
		venue:     v,
		resolver:  resolver,
		quote:     quote,
		store:     store,
		clock:     clock,
		log:       log,
		lookback:  4800,
		window:    1000,
		forward:   4 * time.Hour,
		blockTime: 3 * time.Second,
	}
}

func (s *ChainSampler) Name() string { return s.name }

// AnchorAtAnnouncement makes the sampler derive its block range from
// the listing's detection time instead of the current head, so a
// replayed announcement samples the window around the event.
func (s *ChainSampler) AnchorAtAnnouncement(f blockFinder) { s.blocks = f }

// Sample walks the pool's Swap logs from lookback blocks before now to
// forward hours after, waiting for blocks that are not mined yet.
func (s *ChainSampler) Sample(ctx context.Context, l storage.Listing, _ addrbook.ExchangeTicker) error {
	token, err := s.resolver.Resolve(ctx, l.Symbol, l.TokenName)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.Symbol, err)
	}
	pair, err := s.venue.PairAddress(ctx, token, s.quote)
	if err != nil {
		return fmt.Errorf("pair for %s: %w", l.Symbol, err)
	}

	anchor, err := s.anchorBlock(ctx, l)
	if err != nil {
		return err
	}
	start := uint64(0)
	if anchor > s.lookback {
		start = anchor - s.lookback
	}
	end := anchor + uint64(s.forward/s.blockTime)

	s.log.Infow("swap_sampling_range",
		"symbol", l.Symbol, "pair", pair.Hex(), "from_block", start, "to_block", end)

	var total int
	for from := start; from <= end; from += s.window {
		to := from + s.window - 1
		if to > end {
			to = end
		}
		if err := s.waitForBlock(ctx, to); err != nil {
			return err
		}
		events, err := s.venue.SwapEvents(ctx, pair, from, to)
		if err != nil {
			return fmt.Errorf("swap events %d-%d: %w", from, to, err)
		}
		for _, ev := range events {
			sample := storage.SwapSample{
				Symbol:      l.Symbol,
				TxHash:      ev.TxHash.Hex(),
				BlockNumber: ev.BlockNumber,
				LogIndex:    ev.LogIndex,
				Sender:      ev.Sender.Hex(),
				To:          ev.To.Hex(),
				Amount0In:   ev.Amount0In,
				Amount1In:   ev.Amount1In,
				Amount0Out:  ev.Amount0Out,
				Amount1Out:  ev.Amount1Out,
			}
			if err := s.store.SaveSwapSample(sample); err != nil {
				return fmt.Errorf("save swap sample: %w", err)
			}
		}
		total += len(events)
		s.log.Debugw("swap_window_sampled",
			"symbol", l.Symbol, "from_block", from, "to_block", to, "swaps", len(events))
	}

	s.log.Infow("swap_sampling_done", "symbol", l.Symbol, "swaps", total)
	return nil
}

// anchorBlock is the block the sampling range centers on: the block at
// the announcement time when a finder is attached, the current head
// otherwise.
func (s *ChainSampler) anchorBlock(ctx context.Context, l storage.Listing) (uint64, error) {
	if s.blocks != nil && !l.DetectedAt.IsZero() {
		block, err := s.blocks.BlockByTime(ctx, l.DetectedAt, "before")
		if err == nil {
			return block, nil
		}
		s.log.Warnw("block_by_time_failed", "symbol", l.Symbol, "err", err)
	}
	head, err := s.venue.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return head, nil
}

// waitForBlock sleeps in block-time increments until the chain head
// reaches block.
func (s *ChainSampler) waitForBlock(ctx context.Context, block uint64) error {
	for {
		head, err := s.venue.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("latest block: %w", err)
		}
		if block <= head {
			return nil
		}
		wait := time.Duration(block-head) * s.blockTime
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(wait):
		}
	}
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/util"
	"github.com/quantfish/listingsniper/pkg/venue"
)

type fakeClient struct {
	mu      sync.Mutex
	name    string
	placed  []order.Order
	receipt venue.Receipt
	err     error
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Place(ctx context.Context, o order.Order) (venue.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, o)
	return f.receipt, f.err
}

func (f *fakeClient) placements() []order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.Order(nil), f.placed...)
}

type fakeConfirmer struct {
	mu        sync.Mutex
	confirmed bool
	errs      []error
}

func (f *fakeConfirmer) Confirmed(ctx context.Context, txHash common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return false, err
	}
	return f.confirmed, nil
}

func testOrder(t *testing.T, venues ...string) order.Order {
	t.Helper()
	o, err := order.New(order.Spec{
		BuySymbol:      "FOO",
		SellSymbol:     "WBNB",
		Type:           order.Market,
		Asset:          order.Spot,
		QuantityToSell: decimal.NewFromInt(1),
		Venues:         venues,
	}, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func fastCfg() params.Dispatch {
	return params.Dispatch{
		ConfirmTimeout: 50 * time.Millisecond,
		ConfirmPoll:    5 * time.Millisecond,
		MaxAttempts:    3,
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		stop()
		<-done
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatch_RoutesByVenueList(t *testing.T) {
	cexClient := &fakeClient{name: "binance", receipt: venue.Receipt{Venue: "binance"}}
	dexClient := &fakeClient{name: "pancakeswapv2", receipt: venue.Receipt{Venue: "pancakeswapv2"}}

	d := New(fastCfg(), util.RealClock{}, zap.NewNop().Sugar())
	d.Register(cexClient)
	d.Register(dexClient)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "binance")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(cexClient.placements()) == 1 })
	if len(dexClient.placements()) != 0 {
		t.Error("order leaked to a venue not on its list")
	}
}

func TestDispatch_UnknownVenueDropped(t *testing.T) {
	client := &fakeClient{name: "binance"}
	d := New(fastCfg(), util.RealClock{}, zap.NewNop().Sugar())
	d.Register(client)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "kraken")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return d.Depth() == 0 })
	time.Sleep(20 * time.Millisecond)
	if len(client.placements()) != 0 {
		t.Error("order must not be routed to an unlisted venue")
	}
}

func TestDispatch_ConfirmedOrderNotResubmitted(t *testing.T) {
	client := &fakeClient{
		name:    "pancakeswapv2",
		receipt: venue.Receipt{Venue: "pancakeswapv2", TxHash: "0xaa", NeedsConfirmation: true},
	}
	conf := &fakeConfirmer{confirmed: true}

	d := New(fastCfg(), util.RealClock{}, zap.NewNop().Sugar())
	d.RegisterConfirmable(client, conf)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "pancakeswapv2")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(client.placements()) == 1 })

	// past the confirmation window nothing new may arrive
	time.Sleep(100 * time.Millisecond)
	if got := len(client.placements()); got != 1 {
		t.Errorf("placed %d times, want 1", got)
	}
}

func TestDispatch_TimeoutResubmitsFreshAttempt(t *testing.T) {
	client := &fakeClient{
		name:    "pancakeswapv2",
		receipt: venue.Receipt{Venue: "pancakeswapv2", TxHash: "0xaa", NeedsConfirmation: true},
	}
	conf := &fakeConfirmer{confirmed: false}

	d := New(fastCfg(), util.RealClock{}, zap.NewNop().Sugar())
	d.RegisterConfirmable(client, conf)
	stop := runDispatcher(t, d)
	defer stop()

	original := testOrder(t, "pancakeswapv2")
	if err := d.Enqueue(context.Background(), original); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(client.placements()) >= 2 })
	placed := client.placements()
	if placed[0].AttemptCount != 0 {
		t.Errorf("first attempt count = %d, want 0", placed[0].AttemptCount)
	}
	if placed[1].AttemptCount != 1 {
		t.Errorf("resubmitted attempt count = %d, want exactly one greater", placed[1].AttemptCount)
	}
	if original.AttemptCount != 0 {
		t.Error("original order must stay untouched")
	}
}

func TestDispatch_TransientPollErrorKeepsWatching(t *testing.T) {
	client := &fakeClient{
		name:    "pancakeswapv2",
		receipt: venue.Receipt{Venue: "pancakeswapv2", TxHash: "0xaa", NeedsConfirmation: true},
	}
	// one flaky poll, then the transaction turns out fine
	conf := &fakeConfirmer{confirmed: true, errs: []error{errors.New("502 bad gateway")}}

	cfg := fastCfg()
	cfg.ConfirmTimeout = 10 * time.Second
	d := New(cfg, util.RealClock{}, zap.NewNop().Sugar())
	d.RegisterConfirmable(client, conf)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "pancakeswapv2")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(client.placements()) == 1 })

	// a node hiccup must not manufacture a second fill
	time.Sleep(100 * time.Millisecond)
	if got := len(client.placements()); got != 1 {
		t.Errorf("placed %d times after a flaky poll, want 1", got)
	}
}

func TestDispatch_ExecutionFailureResubmitsImmediately(t *testing.T) {
	client := &fakeClient{
		name:    "pancakeswapv2",
		receipt: venue.Receipt{Venue: "pancakeswapv2", TxHash: "0xaa", NeedsConfirmation: true},
	}
	conf := &fakeConfirmer{errs: []error{
		fmt.Errorf("swap transaction reverted: %w: 0xaa", venue.ErrExecutionFailed),
	}}

	// timeout far away; only the settled failure can trigger the retry
	cfg := fastCfg()
	cfg.ConfirmTimeout = 10 * time.Second
	d := New(cfg, util.RealClock{}, zap.NewNop().Sugar())
	d.RegisterConfirmable(client, conf)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "pancakeswapv2")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(client.placements()) == 2 })
	if got := client.placements()[1].AttemptCount; got != 1 {
		t.Errorf("resubmitted attempt count = %d, want 1", got)
	}
}

func TestDispatch_MaxAttemptsCapsResubmission(t *testing.T) {
	client := &fakeClient{
		name:    "pancakeswapv2",
		receipt: venue.Receipt{Venue: "pancakeswapv2", TxHash: "0xaa", NeedsConfirmation: true},
	}
	conf := &fakeConfirmer{confirmed: false}

	cfg := fastCfg()
	cfg.MaxAttempts = 2
	d := New(cfg, util.RealClock{}, zap.NewNop().Sugar())
	d.RegisterConfirmable(client, conf)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "pancakeswapv2")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(client.placements()) == 2 })
	// a third attempt would exceed the cap
	time.Sleep(150 * time.Millisecond)
	if got := len(client.placements()); got != 2 {
		t.Errorf("placed %d times, want attempts capped at 2", got)
	}
}

func TestDispatch_RejectionNotRetried(t *testing.T) {
	client := &fakeClient{
		name: "binance",
		err:  &venue.RejectionError{Venue: "binance", Reason: "Invalid quantity."},
	}
	d := New(fastCfg(), util.RealClock{}, zap.NewNop().Sugar())
	d.Register(client)
	stop := runDispatcher(t, d)
	defer stop()

	if err := d.Enqueue(context.Background(), testOrder(t, "binance")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(client.placements()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := len(client.placements()); got != 1 {
		t.Errorf("rejected order placed %d times, want 1", got)
	}
}

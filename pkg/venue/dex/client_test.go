package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/venue"
)

var (
	tokenFOO  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenWBNB = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEF60aF814a3f6F0Ee75")
	poolAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	// throwaway key, never funded
	testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

type fakeResolver struct{ addrs map[string]common.Address }

func (f *fakeResolver) Resolve(ctx context.Context, symbol, tokenName string) (common.Address, error) {
	addr, ok := f.addrs[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown symbol %q", symbol)
	}
	return addr, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                         { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// fakeEth answers contract calls by method selector and records
// submitted transactions.
type fakeEth struct {
	pair     common.Address
	decimals map[common.Address]uint8
	// quoteOut is the terminal amount getAmountsOut reports; quoteIn is
	// the initial amount getAmountsIn reports.
	quoteOut *big.Int
	quoteIn  *big.Int

	gasPrice *big.Int
	pending  uint64

	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
}

func (f *fakeEth) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(56), nil }

func (f *fakeEth) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	sel := msg.Data[:4]
	switch {
	case bytes.Equal(sel, factoryABI.Methods["getPair"].ID):
		return factoryABI.Methods["getPair"].Outputs.Pack(f.pair)
	case bytes.Equal(sel, erc20ABI.Methods["decimals"].ID):
		return erc20ABI.Methods["decimals"].Outputs.Pack(f.decimals[*msg.To])
	case bytes.Equal(sel, routerABI.Methods["getAmountsOut"].ID):
		in, err := routerABI.Methods["getAmountsOut"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return routerABI.Methods["getAmountsOut"].Outputs.Pack([]*big.Int{in[0].(*big.Int), f.quoteOut})
	case bytes.Equal(sel, routerABI.Methods["getAmountsIn"].ID):
		in, err := routerABI.Methods["getAmountsIn"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return routerABI.Methods["getAmountsIn"].Outputs.Pack([]*big.Int{f.quoteIn, in[0].(*big.Int)})
	}
	return nil, fmt.Errorf("unexpected call %x", sel)
}

func (f *fakeEth) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeEth) BlockNumber(ctx context.Context) (uint64, error) {
	return 11_000_000, nil
}

func (f *fakeEth) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.pending, nil
}

func (f *fakeEth) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEth) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	rcpt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rcpt, nil
}

func (f *fakeEth) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

func newTestClient(t *testing.T, eth *fakeEth) *Client {
	t.Helper()
	chain := params.Default().Chain
	chain.TraderKeyHex = testKeyHex
	cfg := params.Default().DEX
	c, err := New("pancakeswapv2", chain, cfg, eth, &fakeResolver{addrs: map[string]common.Address{
		"FOO":  tokenFOO,
		"WBNB": tokenWBNB,
	}}, fixedClock{t: time.Unix(1_700_000_000, 0)}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func marketBuyFOO(t *testing.T, sellQty string) order.Order {
	t.Helper()
	o, err := order.New(order.Spec{
		BuySymbol:      "FOO",
		SellSymbol:     "WBNB",
		Type:           order.Market,
		Asset:          order.Spot,
		QuantityToSell: decimal.RequireFromString(sellQty),
		Venues:         []string{"pancakeswapv2"},
	}, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestPlace_MarketOrderBuildsSwap(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	eth := &fakeEth{
		pair:     poolAddr,
		decimals: map[common.Address]uint8{tokenFOO: 18, tokenWBNB: 18},
		quoteOut: new(big.Int).Mul(big.NewInt(100), scale),
		gasPrice: big.NewInt(5_000_000_000),
		pending:  4,
	}
	c := newTestClient(t, eth)

	rcpt, err := c.Place(context.Background(), marketBuyFOO(t, "10"))
	if err != nil {
		t.Fatal(err)
	}
	if !rcpt.NeedsConfirmation {
		t.Error("on-chain receipt must need confirmation")
	}
	if rcpt.Venue != "pancakeswapv2" {
		t.Errorf("venue = %q", rcpt.Venue)
	}
	// 2% slippage off the 100-token quote
	if !rcpt.MinBuyQuantity.Equal(decimal.NewFromInt(98)) {
		t.Errorf("min buy = %s, want 98", rcpt.MinBuyQuantity)
	}

	if len(eth.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(eth.sent))
	}
	tx := eth.sent[0]
	if *tx.To() != common.HexToAddress(params.Default().Chain.RouterAddress) {
		t.Errorf("tx target = %s, want router", tx.To().Hex())
	}
	if tx.Nonce() != 4 {
		t.Errorf("nonce = %d, want pending count 4", tx.Nonce())
	}
	// suggested 5 gwei scaled by the 1.4 multiplier
	if tx.GasPrice().Cmp(big.NewInt(7_000_000_000)) != 0 {
		t.Errorf("gas price = %s, want 7000000000", tx.GasPrice())
	}

	method := routerABI.Methods["swapExactTokensForTokens"]
	if !bytes.Equal(tx.Data()[:4], method.ID) {
		t.Fatal("calldata is not swapExactTokensForTokens")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatal(err)
	}
	amountIn := args[0].(*big.Int)
	amountOutMin := args[1].(*big.Int)
	path := args[2].([]common.Address)
	deadline := args[4].(*big.Int)

	wantIn := new(big.Int).Mul(big.NewInt(10), scale)
	if amountIn.Cmp(wantIn) != 0 {
		t.Errorf("amountIn = %s, want %s", amountIn, wantIn)
	}
	wantMin := new(big.Int).Mul(big.NewInt(98), scale)
	if amountOutMin.Cmp(wantMin) != 0 {
		t.Errorf("amountOutMin = %s, want %s", amountOutMin, wantMin)
	}
	if len(path) != 2 || path[0] != tokenWBNB || path[1] != tokenFOO {
		t.Errorf("path = %v, want [sell, buy]", path)
	}
	wantDeadline := time.Unix(1_700_000_000, 0).Add(params.Default().DEX.SwapDeadline).Unix()
	if deadline.Int64() != wantDeadline {
		t.Errorf("deadline = %d, want %d", deadline.Int64(), wantDeadline)
	}
}

func TestPlace_LimitOrderMinOutFromPrice(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	eth := &fakeEth{
		pair:     poolAddr,
		decimals: map[common.Address]uint8{tokenFOO: 18, tokenWBNB: 18},
		gasPrice: big.NewInt(5_000_000_000),
	}
	c := newTestClient(t, eth)

	o, err := order.New(order.Spec{
		BuySymbol:      "FOO",
		SellSymbol:     "WBNB",
		Type:           order.Limit,
		Asset:          order.Spot,
		QuantityToSell: decimal.NewFromInt(10),
		PriceInSell:    decimal.RequireFromString("0.5"),
		Venues:         []string{"pancakeswapv2"},
	}, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}

	rcpt, err := c.Place(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	// min output comes from the limit price, not a router quote
	if !rcpt.MinBuyQuantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("min buy = %s, want 20", rcpt.MinBuyQuantity)
	}

	args, err := routerABI.Methods["swapExactTokensForTokens"].Inputs.Unpack(eth.sent[0].Data()[4:])
	if err != nil {
		t.Fatal(err)
	}
	wantMin := new(big.Int).Mul(big.NewInt(20), scale)
	if args[1].(*big.Int).Cmp(wantMin) != 0 {
		t.Errorf("amountOutMin = %s, want %s", args[1], wantMin)
	}
}

func TestPlace_BuyQuantityDerivesSellSide(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	eth := &fakeEth{
		pair:     poolAddr,
		decimals: map[common.Address]uint8{tokenFOO: 18, tokenWBNB: 18},
		quoteIn:  new(big.Int).Mul(big.NewInt(7), scale),
		quoteOut: new(big.Int).Mul(big.NewInt(50), scale),
		gasPrice: big.NewInt(5_000_000_000),
	}
	c := newTestClient(t, eth)

	o, err := order.New(order.Spec{
		BuySymbol:     "FOO",
		SellSymbol:    "WBNB",
		Type:          order.Market,
		Asset:         order.Spot,
		QuantityToBuy: decimal.NewFromInt(50),
		Venues:        []string{"pancakeswapv2"},
	}, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}

	rcpt, err := c.Place(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if !rcpt.SellQuantity.Equal(decimal.NewFromInt(7)) {
		t.Errorf("derived sell quantity = %s, want router's 7", rcpt.SellQuantity)
	}
}

func TestPlace_NoPoolFails(t *testing.T) {
	eth := &fakeEth{
		pair:     common.Address{},
		decimals: map[common.Address]uint8{tokenFOO: 18, tokenWBNB: 18},
		gasPrice: big.NewInt(1),
	}
	c := newTestClient(t, eth)

	_, err := c.Place(context.Background(), marketBuyFOO(t, "10"))
	if !errors.Is(err, ErrNoLiquidityPool) {
		t.Fatalf("expected ErrNoLiquidityPool, got %v", err)
	}
	if len(eth.sent) != 0 {
		t.Error("no transaction may be sent without a pool")
	}
}

func TestPlace_RejectsNonSpot(t *testing.T) {
	c := newTestClient(t, &fakeEth{pair: poolAddr, gasPrice: big.NewInt(1)})

	o, err := order.New(order.Spec{
		BuySymbol:      "FOO",
		SellSymbol:     "WBNB",
		Type:           order.Market,
		Asset:          order.Perp,
		QuantityToSell: decimal.NewFromInt(1),
		Venues:         []string{"pancakeswapv2"},
	}, order.Aliases{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Place(context.Background(), o); !errors.Is(err, venue.ErrVenueRejected) {
		t.Fatalf("expected rejection for non-spot order, got %v", err)
	}
}

func TestPlace_NodeRefusalIsRejection(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	eth := &fakeEth{
		pair:     poolAddr,
		decimals: map[common.Address]uint8{tokenFOO: 18, tokenWBNB: 18},
		quoteOut: new(big.Int).Mul(big.NewInt(100), scale),
		gasPrice: big.NewInt(5_000_000_000),
		sendErr:  errors.New("insufficient funds for gas * price + value"),
	}
	c := newTestClient(t, eth)

	_, err := c.Place(context.Background(), marketBuyFOO(t, "10"))
	if !errors.Is(err, venue.ErrVenueRejected) {
		t.Fatalf("expected ErrVenueRejected, got %v", err)
	}
}

func TestPlace_FailedSendDoesNotBurnNonce(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	eth := &fakeEth{
		pair:     poolAddr,
		decimals: map[common.Address]uint8{tokenFOO: 18, tokenWBNB: 18},
		quoteOut: new(big.Int).Mul(big.NewInt(100), scale),
		gasPrice: big.NewInt(5_000_000_000),
		sendErr:  errors.New("connection reset by peer"),
	}
	c := newTestClient(t, eth)

	if _, err := c.Place(context.Background(), marketBuyFOO(t, "10")); err == nil {
		t.Fatal("expected the failed send to surface")
	}

	// The rejected transaction never reached the mempool; the next one
	// must carry the chain's pending nonce, not the one after it.
	eth.sendErr = nil
	if _, err := c.Place(context.Background(), marketBuyFOO(t, "10")); err != nil {
		t.Fatal(err)
	}
	if got := eth.sent[0].Nonce(); got != 0 {
		t.Errorf("nonce after failed send = %d, want pending count 0", got)
	}
}

func TestConfirmed(t *testing.T) {
	hashOK := common.HexToHash("0xaa")
	hashRevert := common.HexToHash("0xbb")
	eth := &fakeEth{
		receipts: map[common.Hash]*types.Receipt{
			hashOK:     {Status: types.ReceiptStatusSuccessful},
			hashRevert: {Status: types.ReceiptStatusFailed},
		},
	}
	c := newTestClient(t, eth)

	ok, err := c.Confirmed(context.Background(), hashOK)
	if err != nil || !ok {
		t.Errorf("mined transaction: ok=%v err=%v", ok, err)
	}

	ok, err = c.Confirmed(context.Background(), common.HexToHash("0xcc"))
	if err != nil || ok {
		t.Errorf("pending transaction must be (false, nil): ok=%v err=%v", ok, err)
	}

	if _, err = c.Confirmed(context.Background(), hashRevert); !errors.Is(err, ErrSwapReverted) {
		t.Errorf("expected ErrSwapReverted, got %v", err)
	} else if !errors.Is(err, venue.ErrExecutionFailed) {
		t.Errorf("reverted swap must read as a settled execution failure, got %v", err)
	}
}

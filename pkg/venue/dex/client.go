// Package dex places swaps on UniswapV2-family automated market makers.
// The one deployment wired in by default is PancakeSwapV2 on Binance
// Smart Chain; the factory/router addresses are configuration, so any
// V2 fork works unchanged.
package dex

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/util"
	"github.com/quantfish/listingsniper/pkg/venue"
)

var (
	// ErrNoLiquidityPool means the factory has no pair deployed for the
	// two tokens. For a brand new listing this is common in the first
	// seconds; the caller decides whether to retry.
	ErrNoLiquidityPool = errors.New("no liquidity pool for token pair")

	// ErrSwapReverted means the transaction was mined but the swap did
	// not execute, typically because the pool moved past the min-output.
	// It wraps venue.ErrExecutionFailed so the dispatcher can tell a
	// dead attempt from a flaky poll.
	ErrSwapReverted = fmt.Errorf("swap transaction reverted: %w", venue.ErrExecutionFailed)
)

// EthClient is the node surface the venue needs. *ethclient.Client
// satisfies it.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// AddressResolver maps a trading symbol to its token contract.
type AddressResolver interface {
	Resolve(ctx context.Context, symbol, tokenName string) (common.Address, error)
}

// Dial connects to the first healthy node in the list, verifying it
// serves the expected chain.
func Dial(ctx context.Context, nodes []string, chainID int64, log *zap.SugaredLogger) (*ethclient.Client, error) {
	var lastErr error
	for _, node := range nodes {
		eth, err := ethclient.DialContext(ctx, node)
		if err != nil {
			lastErr = err
			log.Debugw("node_dial_failed", "node", node, "err", err)
			continue
		}
		id, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			lastErr = err
			log.Debugw("node_health_check_failed", "node", node, "err", err)
			continue
		}
		if id.Int64() != chainID {
			eth.Close()
			lastErr = fmt.Errorf("node %s serves chain %d, want %d", node, id.Int64(), chainID)
			log.Warnw("node_wrong_chain", "node", node, "chain_id", id.Int64(), "want", chainID)
			continue
		}
		log.Infow("node_connected", "node", node, "chain_id", chainID)
		return eth, nil
	}
	return nil, fmt.Errorf("all %d nodes unreachable: %w", len(nodes), lastErr)
}

// Client places spot swaps through a V2 router. Safe for concurrent
// use; nonce allocation is serialized internally.
type Client struct {
	name     string
	eth      EthClient
	resolver AddressResolver

	router  common.Address
	factory common.Address
	wrapped common.Address

	key    *ecdsa.PrivateKey
	wallet common.Address
	signer types.Signer

	slippage      decimal.Decimal
	gasMultiplier decimal.Decimal
	gasLimit      uint64
	swapDeadline  time.Duration

	nonces nonceSource
	clock  util.Clock
	log    *zap.SugaredLogger
}

func New(name string, chain params.Chain, cfg params.DEX, eth EthClient, resolver AddressResolver, clock util.Clock, log *zap.SugaredLogger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(chain.TraderKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse trader key: %w", err)
	}
	return &Client{
		name:          name,
		eth:           eth,
		resolver:      resolver,
		router:        common.HexToAddress(chain.RouterAddress),
		factory:       common.HexToAddress(chain.FactoryAddress),
		wrapped:       common.HexToAddress(chain.WBNBAddress),
		key:           key,
		wallet:        crypto.PubkeyToAddress(key.PublicKey),
		signer:        types.LatestSignerForChainID(big.NewInt(chain.ChainID)),
		slippage:      cfg.Slippage,
		gasMultiplier: decimal.NewFromFloat(cfg.GasMultiplier),
		gasLimit:      cfg.GasLimit,
		swapDeadline:  cfg.SwapDeadline,
		clock:         clock,
		log:           log,
	}, nil
}

// NewReadOnly builds a client without a trading key, for callers that
// only read the chain. Place fails on a read-only client.
func NewReadOnly(name string, chain params.Chain, eth EthClient, resolver AddressResolver, clock util.Clock, log *zap.SugaredLogger) *Client {
	return &Client{
		name:     name,
		eth:      eth,
		resolver: resolver,
		router:   common.HexToAddress(chain.RouterAddress),
		factory:  common.HexToAddress(chain.FactoryAddress),
		wrapped:  common.HexToAddress(chain.WBNBAddress),
		signer:   types.LatestSignerForChainID(big.NewInt(chain.ChainID)),
		clock:    clock,
		log:      log,
	}
}

func (c *Client) Name() string { return c.name }

// LatestBlock returns the node's current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// Wallet returns the trading account's address.
func (c *Client) Wallet() common.Address { return c.wallet }

// call executes a read-only contract method and unpacks the outputs.
func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// PairAddress asks the factory for the pool holding the two tokens.
// Argument order does not matter.
func (c *Client) PairAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	out, err := c.call(ctx, c.factory, factoryABI, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	pair := out[0].(common.Address)
	if pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: [%s, %s]", ErrNoLiquidityPool, tokenA.Hex(), tokenB.Hex())
	}
	return pair, nil
}

// PairTokens returns token0 and token1 of a pool, in the pool's
// canonical (address-sorted) order.
func (c *Client) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	out0, err := c.call(ctx, pair, pairABI, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	out1, err := c.call(ctx, pair, pairABI, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return out0[0].(common.Address), out1[0].(common.Address), nil
}

// Reserves returns the pool's reserves in token0/token1 order.
func (c *Client) Reserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	out, err := c.call(ctx, pair, pairABI, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// TokenDecimals reads a token's precision from its contract.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// AmountsOut asks the router how many path-terminal tokens selling
// amountIn of the path-initial token yields, net of pool fees.
func (c *Client) AmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.router, routerABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts := out[0].([]*big.Int)
	return amounts[len(amounts)-1], nil
}

// AmountsIn asks the router how many path-initial tokens are needed to
// receive amountOut of the path-terminal token.
func (c *Client) AmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.router, routerABI, "getAmountsIn", amountOut, path)
	if err != nil {
		return nil, err
	}
	amounts := out[0].([]*big.Int)
	return amounts[0], nil
}

// CurrentPrice returns the pool's marginal price in sell tokens per buy
// token, the price an infinitesimally small swap would achieve.
func (c *Client) CurrentPrice(ctx context.Context, buyToken, sellToken common.Address) (decimal.Decimal, error) {
	pair, err := c.PairAddress(ctx, buyToken, sellToken)
	if err != nil {
		return decimal.Decimal{}, err
	}
	token0, _, err := c.PairTokens(ctx, pair)
	if err != nil {
		return decimal.Decimal{}, err
	}
	r0, r1, err := c.Reserves(ctx, pair)
	if err != nil {
		return decimal.Decimal{}, err
	}
	buyDec, err := c.TokenDecimals(ctx, buyToken)
	if err != nil {
		return decimal.Decimal{}, err
	}
	sellDec, err := c.TokenDecimals(ctx, sellToken)
	if err != nil {
		return decimal.Decimal{}, err
	}
	buyReserve, sellReserve := r0, r1
	if token0 != buyToken {
		buyReserve, sellReserve = r1, r0
	}
	buyQ := FromUnits(buyReserve, buyDec)
	if buyQ.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("empty %s reserve in pool %s", buyToken.Hex(), pair.Hex())
	}
	return FromUnits(sellReserve, sellDec).Div(buyQ), nil
}

// Place submits a spot swap of the order's sell asset for its buy
// asset. Market orders take the router quote minus slippage as the
// min-output; limit orders derive it from the limit price. The receipt
// carries the transaction hash and needs async confirmation.
func (c *Client) Place(ctx context.Context, o order.Order) (venue.Receipt, error) {
	if c.key == nil {
		return venue.Receipt{}, fmt.Errorf("%s: read-only client has no trading key", c.name)
	}
	if o.Asset != order.Spot {
		return venue.Receipt{}, &venue.RejectionError{
			Venue:  c.name,
			Reason: fmt.Sprintf("only spot orders are supported, got %s", o.Asset),
		}
	}

	buyToken, err := c.resolver.Resolve(ctx, o.BuySymbol, o.Note("buy_token_name"))
	if err != nil {
		return venue.Receipt{}, fmt.Errorf("resolve buy symbol %s: %w", o.BuySymbol, err)
	}
	sellToken, err := c.resolver.Resolve(ctx, o.SellSymbol, o.Note("sell_token_name"))
	if err != nil {
		return venue.Receipt{}, fmt.Errorf("resolve sell symbol %s: %w", o.SellSymbol, err)
	}

	// The swap cannot clear without a deployed pool.
	if _, err := c.PairAddress(ctx, buyToken, sellToken); err != nil {
		return venue.Receipt{}, err
	}

	buyDec, err := c.TokenDecimals(ctx, buyToken)
	if err != nil {
		return venue.Receipt{}, err
	}
	sellDec, err := c.TokenDecimals(ctx, sellToken)
	if err != nil {
		return venue.Receipt{}, err
	}

	path := []common.Address{sellToken, buyToken}

	// A buy-quantity order is converted to its sell-quantity equivalent
	// before building the swap; the contract call takes an exact input.
	sellQty := o.QuantityToSell
	if sellQty.IsZero() {
		sellUnits, err := c.AmountsIn(ctx, ToUnits(o.QuantityToBuy, buyDec), path)
		if err != nil {
			return venue.Receipt{}, fmt.Errorf("derive sell quantity: %w", err)
		}
		sellQty = FromUnits(sellUnits, sellDec)
	}
	sellUnits := ToUnits(sellQty, sellDec)

	var minBuy decimal.Decimal
	switch o.Type {
	case order.Limit:
		minBuy, err = LimitMinBuy(sellQty, o.PriceInSell)
		if err != nil {
			return venue.Receipt{}, err
		}
	default:
		quotedUnits, err := c.AmountsOut(ctx, sellUnits, path)
		if err != nil {
			return venue.Receipt{}, fmt.Errorf("quote swap: %w", err)
		}
		minBuy = MarketMinBuy(FromUnits(quotedUnits, buyDec), c.slippage)
	}
	minBuyUnits := ToUnits(minBuy, buyDec)

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return venue.Receipt{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice = decimal.NewFromBigInt(gasPrice, 0).Mul(c.gasMultiplier).Truncate(0).BigInt()

	nonce, err := c.nonces.Next(ctx, c.eth, c.wallet)
	if err != nil {
		return venue.Receipt{}, fmt.Errorf("allocate nonce: %w", err)
	}

	deadline := big.NewInt(c.clock.Now().Add(c.swapDeadline).Unix())
	data, err := routerABI.Pack("swapExactTokensForTokens",
		sellUnits, minBuyUnits, path, c.wallet, deadline)
	if err != nil {
		return venue.Receipt{}, fmt.Errorf("pack swap: %w", err)
	}

	tx := types.NewTransaction(nonce, c.router, new(big.Int), c.gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		c.nonces.Reset()
		return venue.Receipt{}, fmt.Errorf("sign swap: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		// The transaction never reached the mempool, so the allocated
		// nonce was not consumed. Leaving the counter advanced would
		// gap every transaction after it.
		c.nonces.Reset()
		return venue.Receipt{}, c.classifySendError(err)
	}

	c.log.Infow("swap_submitted",
		"venue", c.name,
		"tx_hash", signed.Hash().Hex(),
		"buy_symbol", o.BuySymbol,
		"sell_symbol", o.SellSymbol,
		"sell_quantity", sellQty,
		"min_buy_quantity", minBuy,
		"gas_price", gasPrice,
		"nonce", nonce,
		"attempt", o.AttemptCount)

	return venue.Receipt{
		Venue:             c.name,
		TxHash:            signed.Hash().Hex(),
		SellQuantity:      sellQty,
		MinBuyQuantity:    minBuy,
		NeedsConfirmation: true,
	}, nil
}

// classifySendError separates the node's active refusals, which must
// not be retried as-is, from transport failures, which may be. The
// caller has already rolled the nonce back.
func (c *Client) classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "replacement transaction"):
		return &venue.RejectionError{Venue: c.name, Reason: err.Error()}
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "execution reverted"):
		return &venue.RejectionError{Venue: c.name, Reason: err.Error()}
	}
	return fmt.Errorf("send swap: %w", err)
}

// Confirmed reports whether the transaction has been mined. A missing
// receipt is not an error, the transaction is simply still pending.
func (c *Client) Confirmed(ctx context.Context, txHash common.Hash) (bool, error) {
	rcpt, err := c.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return false, fmt.Errorf("%w: %s", ErrSwapReverted, txHash.Hex())
	}
	return true, nil
}

// WrapNative converts between the chain's native asset and its wrapped
// ERC-20 form. toWrapped locks native and mints wrapped; otherwise it
// burns wrapped and unlocks native.
func (c *Client) WrapNative(ctx context.Context, quantity decimal.Decimal, toWrapped bool) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("%s: read-only client has no trading key", c.name)
	}
	const nativeDecimals = 18
	units := ToUnits(quantity, nativeDecimals)

	var (
		data  []byte
		value *big.Int
		err   error
	)
	if toWrapped {
		data, err = wrappedABI.Pack("deposit")
		value = units
	} else {
		data, err = wrappedABI.Pack("withdraw", units)
		value = new(big.Int)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack wrap call: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice = decimal.NewFromBigInt(gasPrice, 0).Mul(c.gasMultiplier).Truncate(0).BigInt()

	nonce, err := c.nonces.Next(ctx, c.eth, c.wallet)
	if err != nil {
		return common.Hash{}, fmt.Errorf("allocate nonce: %w", err)
	}

	tx := types.NewTransaction(nonce, c.wrapped, value, c.gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		c.nonces.Reset()
		return common.Hash{}, fmt.Errorf("sign wrap: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		c.nonces.Reset()
		return common.Hash{}, c.classifySendError(err)
	}

	c.log.Infow("native_wrap_submitted",
		"tx_hash", signed.Hash().Hex(), "quantity", quantity, "to_wrapped", toWrapped)
	return signed.Hash(), nil
}

// SwapEvent is one decoded Swap log from a pool.
type SwapEvent struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Sender      common.Address
	To          common.Address
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
}

// SwapEvents fetches and decodes a pool's Swap logs over a block range.
func (c *Client) SwapEvents(ctx context.Context, pair common.Address, fromBlock, toBlock uint64) ([]SwapEvent, error) {
	swapTopic := pairABI.Events["Swap"].ID
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{pair},
		Topics:    [][]common.Hash{{swapTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter swap logs: %w", err)
	}

	events := make([]SwapEvent, 0, len(logs))
	for _, lg := range logs {
		var amounts struct {
			Amount0In  *big.Int
			Amount1In  *big.Int
			Amount0Out *big.Int
			Amount1Out *big.Int
		}
		if err := pairABI.UnpackIntoInterface(&amounts, "Swap", lg.Data); err != nil {
			return nil, fmt.Errorf("decode swap log %s: %w", lg.TxHash.Hex(), err)
		}
		ev := SwapEvent{
			TxHash:      lg.TxHash,
			BlockNumber: lg.BlockNumber,
			LogIndex:    lg.Index,
			Amount0In:   amounts.Amount0In,
			Amount1In:   amounts.Amount1In,
			Amount0Out:  amounts.Amount0Out,
			Amount1Out:  amounts.Amount1Out,
		}
		if len(lg.Topics) >= 3 {
			ev.Sender = common.BytesToAddress(lg.Topics[1].Bytes())
			ev.To = common.BytesToAddress(lg.Topics[2].Bytes())
		}
		events = append(events, ev)
	}
	return events, nil
}

package dex

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToUnits converts a human-readable quantity into the token's integer
// base units. Fractional dust below the token's precision is truncated.
func ToUnits(q decimal.Decimal, decimals uint8) *big.Int {
	scaled := q.Shift(int32(decimals)).Truncate(0)
	return scaled.BigInt()
}

// FromUnits converts integer base units back to a quantity.
func FromUnits(units *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(-int32(decimals))
}

// ConstantProductOut computes the spot output of an x*y=k pool before
// fees: out = reserveOut * in / (reserveIn + in). The router's
// getAmountsOut quote is authoritative for placement; this local form
// backs price sanity checks and tests.
func ConstantProductOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(reserveOut, amountIn)
	den := new(big.Int).Add(reserveIn, amountIn)
	return num.Div(num, den)
}

// MarketMinBuy shaves the router quote by the slippage fraction. The
// transaction reverts rather than fill below this floor.
func MarketMinBuy(quoted, slippage decimal.Decimal) decimal.Decimal {
	return quoted.Mul(decimal.NewFromInt(1).Sub(slippage))
}

// LimitMinBuy converts a limit price into the AMM's min-output form:
// the full sell quantity must convert at the limit price or better.
// price is quoted in sell asset per buy asset. Because the pool's
// average fill price moves against the taker, the spot price must be
// strictly better than the limit for the swap to clear.
func LimitMinBuy(sellQuantity, priceInSell decimal.Decimal) (decimal.Decimal, error) {
	if priceInSell.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("limit price must be positive, got %s", priceInSell)
	}
	return sellQuantity.Div(priceInSell), nil
}

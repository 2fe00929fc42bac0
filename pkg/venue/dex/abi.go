package dex

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs for the UniswapV2-family contracts. PancakeSwapV2 shares
// the interface; only the deployed addresses differ.
const (
	factoryABIJSON = `[
		{"type":"function","name":"getPair","stateMutability":"view",
		 "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
		 "outputs":[{"name":"pair","type":"address"}]}
	]`

	pairABIJSON = `[
		{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],
		 "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
		{"type":"function","name":"token0","stateMutability":"view","inputs":[],
		 "outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"token1","stateMutability":"view","inputs":[],
		 "outputs":[{"name":"","type":"address"}]},
		{"type":"event","name":"Swap","anonymous":false,"inputs":[
		 {"name":"sender","type":"address","indexed":true},
		 {"name":"amount0In","type":"uint256","indexed":false},
		 {"name":"amount1In","type":"uint256","indexed":false},
		 {"name":"amount0Out","type":"uint256","indexed":false},
		 {"name":"amount1Out","type":"uint256","indexed":false},
		 {"name":"to","type":"address","indexed":true}]}
	]`

	routerABIJSON = `[
		{"type":"function","name":"getAmountsOut","stateMutability":"view",
		 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"type":"function","name":"getAmountsIn","stateMutability":"view",
		 "inputs":[{"name":"amountOut","type":"uint256"},{"name":"path","type":"address[]"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable",
		 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
		  {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
		 "outputs":[{"name":"amounts","type":"uint256[]"}]}
	]`

	erc20ABIJSON = `[
		{"type":"function","name":"decimals","stateMutability":"view","inputs":[],
		 "outputs":[{"name":"","type":"uint8"}]},
		{"type":"function","name":"balanceOf","stateMutability":"view",
		 "inputs":[{"name":"owner","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`

	// The wrapped-native contract locks the chain's native asset and
	// mints an ERC-20 claim on it. deposit wraps, withdraw unwraps.
	wrappedABIJSON = `[
		{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
		{"type":"function","name":"withdraw","stateMutability":"nonpayable",
		 "inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
	]`
)

var (
	factoryABI = mustABI(factoryABIJSON)
	pairABI    = mustABI(pairABIJSON)
	routerABI  = mustABI(routerABIJSON)
	erc20ABI   = mustABI(erc20ABIJSON)
	wrappedABI = mustABI(wrappedABIJSON)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

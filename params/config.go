package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Chain holds the blockchain connection and contract parameters for the
// DEX venue. Nodes are tried in order until one answers a health check.
type Chain struct {
	Name    string // e.g. "binance_smart_chain"
	Network string // "mainnet" or "testnet"
	ChainID int64
	Nodes   []string

	RouterAddress  string
	FactoryAddress string
	WBNBAddress    string

	// TraderKeyHex is the trading account's secp256k1 private key.
	TraderKeyHex string
}

type DEX struct {
	// Slippage as a fraction, e.g. 0.02 allows a 2% worse fill than quoted.
	Slippage decimal.Decimal
	// GasMultiplier scales the node's suggested gas price.
	GasMultiplier float64
	GasLimit      uint64
	// SwapDeadline bounds how long a submitted swap stays valid on-chain.
	SwapDeadline time.Duration
}

type CEX struct {
	APIKey    string
	APISecret string
	// QuoteAsset is the intermediate asset used when no direct pair exists.
	QuoteAsset string
}

type Providers struct {
	CoinMarketCapURL    string
	CoinMarketCapAPIKey string
	CoinGeckoURL        string
	BscScanURL          string
	BscScanAPIKey       string
}

type Twitter struct {
	BaseURL     string
	BearerToken string
	// UserHandle is the account watched for listing announcements.
	UserHandle string
}

type Dispatch struct {
	// ConfirmTimeout bounds how long the watcher waits for a DEX
	// transaction receipt before re-enqueueing a fresh order.
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	// MaxAttempts caps resubmissions of a single logical order.
	MaxAttempts int
	// CEXVenues/DEXVenues are the concrete venues the "cex"/"dex"
	// aliases expand to at order construction time.
	CEXVenues []string
	DEXVenues []string
}

type Strategy struct {
	// SellSymbol is the funding asset spent on each detected listing.
	SellSymbol string
	// Spend is the per-listing budget, in SellSymbol units.
	Spend decimal.Decimal
	// Venues the listing orders are routed to; aliases allowed.
	Venues []string
}

type Config struct {
	Chain     Chain
	DEX       DEX
	CEX       CEX
	Providers Providers
	Twitter   Twitter
	Dispatch  Dispatch
	Strategy  Strategy

	DataDir  string
	LogFile  string
	LogLevel string
	APIAddr  string
}

func Default() Config {
	return Config{
		Chain: Chain{
			Name:    "binance_smart_chain",
			Network: "mainnet",
			ChainID: 56,
			Nodes: []string{
				"https://bsc-dataseed.binance.org",
				"https://bsc-dataseed1.defibit.io",
			},
			RouterAddress:  "0x10ED43C718714eb63d5aA57B78B54704E256024E",
			FactoryAddress: "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
			WBNBAddress:    "0xbb4CdB9CBd36B01bD1cBaEF60aF814a3f6F0Ee75",
		},
		DEX: DEX{
			Slippage:      decimal.NewFromFloat(0.02),
			GasMultiplier: 1.4,
			GasLimit:      250000,
			SwapDeadline:  5 * time.Minute,
		},
		CEX: CEX{QuoteAsset: "USDT"},
		Providers: Providers{
			CoinMarketCapURL: "https://pro-api.coinmarketcap.com",
			CoinGeckoURL:     "https://api.coingecko.com/api/v3",
			BscScanURL:       "https://api.bscscan.com/api",
		},
		Twitter: Twitter{
			BaseURL:    "https://api.twitter.com/2",
			UserHandle: "binance",
		},
		Dispatch: Dispatch{
			ConfirmTimeout: 2 * time.Minute,
			ConfirmPoll:    100 * time.Millisecond,
			MaxAttempts:    3,
			CEXVenues:      []string{"binance"},
			DEXVenues:      []string{"pancakeswapv2"},
		},
		Strategy: Strategy{
			SellSymbol: "USDT",
			Spend:      decimal.NewFromInt(50),
			Venues:     []string{"cex"},
		},
		DataDir:  "data",
		LogFile:  "data/sniper.log",
		LogLevel: "info",
		APIAddr:  ":8080",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_NETWORK"); v != "" {
		cfg.Chain.Network = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}
	if v := os.Getenv("CHAIN_NODES"); v != "" {
		cfg.Chain.Nodes = splitList(v)
	}
	if v := os.Getenv("ROUTER_ADDRESS"); v != "" {
		cfg.Chain.RouterAddress = v
	}
	if v := os.Getenv("FACTORY_ADDRESS"); v != "" {
		cfg.Chain.FactoryAddress = v
	}
	if v := os.Getenv("WBNB_ADDRESS"); v != "" {
		cfg.Chain.WBNBAddress = v
	}
	cfg.Chain.TraderKeyHex = os.Getenv("TRADER_PRIVATE_KEY")

	if v := os.Getenv("DEX_SLIPPAGE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.DEX.Slippage = d
		}
	}
	if v := os.Getenv("DEX_GAS_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DEX.GasMultiplier = f
		}
	}
	if v := os.Getenv("DEX_SWAP_DEADLINE_SEC"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.DEX.SwapDeadline = time.Duration(s) * time.Second
		}
	}

	cfg.CEX.APIKey = getEnv("BINANCE_API_KEY", cfg.CEX.APIKey)
	cfg.CEX.APISecret = getEnv("BINANCE_API_SECRET", cfg.CEX.APISecret)

	cfg.Providers.CoinMarketCapAPIKey = os.Getenv("CMC_API_KEY")
	cfg.Providers.BscScanAPIKey = os.Getenv("BSCSCAN_API_KEY")
	cfg.Providers.CoinMarketCapURL = getEnv("CMC_URL", cfg.Providers.CoinMarketCapURL)
	cfg.Providers.CoinGeckoURL = getEnv("COINGECKO_URL", cfg.Providers.CoinGeckoURL)
	cfg.Providers.BscScanURL = getEnv("BSCSCAN_URL", cfg.Providers.BscScanURL)

	cfg.Twitter.BearerToken = os.Getenv("TWITTER_BEARER_TOKEN")
	cfg.Twitter.UserHandle = getEnv("TWITTER_USER_HANDLE", cfg.Twitter.UserHandle)

	if v := os.Getenv("CONFIRM_TIMEOUT_SEC"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.ConfirmTimeout = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("ORDER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxAttempts = n
		}
	}
	if v := os.Getenv("CEX_VENUES"); v != "" {
		cfg.Dispatch.CEXVenues = splitList(v)
	}
	if v := os.Getenv("DEX_VENUES"); v != "" {
		cfg.Dispatch.DEXVenues = splitList(v)
	}

	cfg.Strategy.SellSymbol = getEnv("STRAT_SELL_SYMBOL", cfg.Strategy.SellSymbol)
	if v := os.Getenv("STRAT_SPEND"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Strategy.Spend = d
		}
	}
	if v := os.Getenv("STRAT_VENUES"); v != "" {
		cfg.Strategy.Venues = splitList(v)
	}

	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)

	return cfg
}

func splitList(v string) []string {
	out := make([]string, 0, 4)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

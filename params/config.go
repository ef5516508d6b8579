package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DataDir     string // pebble directory
	LogFile     string // empty logs to stdout only
	LogLevel    string
	JournalFile string // empty disables the operation journal
	DevFaucet   bool
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Exchange struct {
	Settlement string
	Admin      string // hex address; empty falls back to the custody address
	// Assets are registered by the admin at startup if missing.
	// Format: "TICKER=0xref,TICKER=0xref"
	Assets string
}

type Token struct {
	Backend    string // "builtin" or "erc20"
	RPCURL     string
	CustodyKey string // hex private key; required for erc20
	ChainID    int64  // also the EIP-712 domain chain id
}

type Kafka struct {
	Brokers    []string // empty disables the kafka publisher
	TradeTopic string
	OrderTopic string
}

type Config struct {
	Node     Node
	API      API
	Exchange Exchange
	Token    Token
	Kafka    Kafka
}

const (
	BackendBuiltin = "builtin"
	BackendERC20   = "erc20"
)

func Default() Config {
	return Config{
		Node: Node{
			DataDir:   "data",
			LogFile:   "data/node.log",
			LogLevel:  "info",
			DevFaucet: false,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Exchange: Exchange{
			Settlement: "DAI",
		},
		Token: Token{
			Backend: BackendBuiltin,
			ChainID: 1337,
		},
		Kafka: Kafka{
			TradeTopic: "trades",
			OrderTopic: "orders",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.JournalFile = getEnv("JOURNAL_FILE", cfg.Node.JournalFile)
	if faucet := os.Getenv("DEV_FAUCET"); faucet != "" {
		cfg.Node.DevFaucet = faucet == "true"
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := splitList(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.API.CORSOrigins = origins
	}

	cfg.Exchange.Settlement = getEnv("SETTLEMENT_TICKER", cfg.Exchange.Settlement)
	cfg.Exchange.Admin = getEnv("ADMIN_ADDRESS", cfg.Exchange.Admin)
	cfg.Exchange.Assets = getEnv("ASSETS", cfg.Exchange.Assets)

	cfg.Token.Backend = getEnv("TOKEN_BACKEND", cfg.Token.Backend)
	cfg.Token.RPCURL = getEnv("ETH_RPC_URL", cfg.Token.RPCURL)
	cfg.Token.CustodyKey = getEnv("CUSTODY_KEY", cfg.Token.CustodyKey)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Token.ChainID = n
		}
	}

	if brokers := splitList(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.TradeTopic = getEnv("KAFKA_TRADE_TOPIC", cfg.Kafka.TradeTopic)
	cfg.Kafka.OrderTopic = getEnv("KAFKA_ORDER_TOPIC", cfg.Kafka.OrderTopic)

	return cfg
}

// Validate catches settings the node cannot start with
func (c Config) Validate() error {
	switch c.Token.Backend {
	case BackendBuiltin:
	case BackendERC20:
		if c.Token.RPCURL == "" || c.Token.CustodyKey == "" {
			return fmt.Errorf("erc20 backend requires ETH_RPC_URL and CUSTODY_KEY")
		}
	default:
		return fmt.Errorf("unknown TOKEN_BACKEND %q", c.Token.Backend)
	}
	if c.Exchange.Admin != "" && !common.IsHexAddress(c.Exchange.Admin) {
		return fmt.Errorf("invalid ADMIN_ADDRESS %q", c.Exchange.Admin)
	}
	if c.Exchange.Settlement == "" {
		return fmt.Errorf("SETTLEMENT_TICKER must not be empty")
	}
	if _, err := ParseAssets(c.Exchange.Assets); err != nil {
		return err
	}
	return nil
}

// AssetEntry is one bootstrap registration from ASSETS
type AssetEntry struct {
	Ticker string
	Ref    common.Address
}

// ParseAssets reads "DAI=0x..,REP=0x.." keeping the given order
func ParseAssets(s string) ([]AssetEntry, error) {
	var out []AssetEntry
	for _, entry := range splitList(s) {
		ticker, ref, ok := strings.Cut(entry, "=")
		ticker, ref = strings.TrimSpace(ticker), strings.TrimSpace(ref)
		if !ok || ticker == "" || !common.IsHexAddress(ref) {
			return nil, fmt.Errorf("invalid ASSETS entry %q, want TICKER=0xaddress", entry)
		}
		out = append(out, AssetEntry{Ticker: ticker, Ref: common.HexToAddress(ref)})
	}
	return out, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

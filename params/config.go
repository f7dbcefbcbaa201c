package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	// Address identifies this settlement engine instance. It is mixed
	// into every order digest, so two engines with different addresses
	// never accept each other's signatures.
	Address common.Address
	ChainID uint64
	FeeBps  uint64
	// Treasury receives accrued protocol fees on withdrawal.
	Treasury common.Address
}

type Node struct {
	ListenAddr string
	DBPath     string
	LogFile    string
}

type Config struct {
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Address: common.HexToAddress("0x0000000000000000000000000000000000004e58"),
			ChainID: 1337,
			FeeBps:  250,
		},
		Node: Node{
			ListenAddr: ":8651",
			DBPath:     "data/nftx",
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

	if addr := os.Getenv("EXCHANGE_ADDRESS"); addr != "" {
		cfg.Exchange.Address = common.HexToAddress(addr)
	}
	if chainID := os.Getenv("EXCHANGE_CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseUint(chainID, 10, 64); err == nil {
			cfg.Exchange.ChainID = id
		}
	}
	if bps := os.Getenv("EXCHANGE_FEE_BPS"); bps != "" {
		if v, err := strconv.ParseUint(bps, 10, 64); err == nil && v <= 10000 {
			cfg.Exchange.FeeBps = v
		}
	}
	if treasury := os.Getenv("EXCHANGE_TREASURY"); treasury != "" {
		cfg.Exchange.Treasury = common.HexToAddress(treasury)
	}

	cfg.Node.ListenAddr = getEnv("NODE_LISTEN_ADDR", cfg.Node.ListenAddr)
	cfg.Node.DBPath = getEnv("NODE_DB_PATH", cfg.Node.DBPath)
	cfg.Node.LogFile = getEnv("NODE_LOG_FILE", cfg.Node.LogFile)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

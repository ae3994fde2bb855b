// Package config loads facilitator configuration from the environment (and
// an optional .env file), following the same flat getEnv/getEnvInt
// conventions used throughout this codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything needed to stand up the HTTP server and the chain
// providers it delegates to. Chain fields are empty strings when that
// chain family is not configured; main.go skips registering handlers for
// families with no key material.
type Config struct {
	Port        int
	Environment string

	RedisURL string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	// EVM: one facilitator private key, shared across every configured
	// EVM chain, plus one RPC URL per chain (empty disables that chain).
	// Only networks with a NetworkConfig asset-table entry are wired up.
	EvmPrivateKey   string
	EthRPC          string
	BaseRPC         string
	BaseSepoliaRPC  string

	EvmUptoSpender string

	// SVM: comma-separated base58 private keys, one fee payer per RPC
	// node the process maintains; SolanaRPC covers mainnet, Solana
	// devnet is reached via SolanaDevnetRPC when present.
	SvmPrivateKeys  string
	SolanaRPC       string
	SolanaDevnetRPC string

	// Aptos: a single hex-encoded ed25519 seed, REST endpoints per
	// network, and whether the facilitator sponsors payer gas.
	AptosPrivateKey string
	AptosMainnetRPC string
	AptosTestnetRPC string
	AptosSponsorGas bool
}

// Load reads a .env file if present (ignored if missing — production
// deployments set real environment variables instead) and applies
// defaults for everything not set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 1000),
		RateLimitWindow:   time.Duration(getEnvInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		EvmPrivateKey:  getEnv("EVM_PRIVATE_KEY", ""),
		EthRPC:         getEnv("ETH_RPC", ""),
		BaseRPC:        getEnv("BASE_RPC", ""),
		BaseSepoliaRPC: getEnv("BASE_SEPOLIA_RPC", ""),
		EvmUptoSpender: getEnv("EVM_UPTO_SPENDER", ""),

		SvmPrivateKeys:  getEnv("SVM_PRIVATE_KEYS", ""),
		SolanaRPC:       getEnv("SOLANA_RPC", ""),
		SolanaDevnetRPC: getEnv("SOLANA_DEVNET_RPC", ""),

		AptosPrivateKey: getEnv("APTOS_PRIVATE_KEY", ""),
		AptosMainnetRPC: getEnv("APTOS_MAINNET_RPC", ""),
		AptosTestnetRPC: getEnv("APTOS_TESTNET_RPC", ""),
		AptosSponsorGas: getEnvBool("APTOS_SPONSOR_GAS", true),
	}
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }
func (c *Config) IsProduction() bool  { return c.Environment == "production" }

// SvmKeyList splits the comma-separated SvmPrivateKeys into a trimmed,
// non-empty slice.
func (c *Config) SvmKeyList() []string {
	var out []string
	for _, k := range strings.Split(c.SvmPrivateKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

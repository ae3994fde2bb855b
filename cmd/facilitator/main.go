// Command facilitator runs the x402 facilitator HTTP service: it verifies
// and settles payments across every chain family configured via
// environment variables, and exposes /verify, /settle, and /supported.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402go/facilitator"
	"github.com/x402go/facilitator/chain/aptos"
	"github.com/x402go/facilitator/chain/evm"
	"github.com/x402go/facilitator/chain/svm"
	aptosexact "github.com/x402go/facilitator/mechanisms/aptos/exact"
	evmexact "github.com/x402go/facilitator/mechanisms/evm/exact"
	evmupto "github.com/x402go/facilitator/mechanisms/evm/upto"
	svmexact "github.com/x402go/facilitator/mechanisms/svm/exact"
	"github.com/x402go/facilitator/types"

	"github.com/x402go/facilitator/internal/cache"
	"github.com/x402go/facilitator/internal/config"
	"github.com/x402go/facilitator/internal/logging"
	"github.com/x402go/facilitator/internal/server"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Pretty:      cfg.IsDevelopment(),
		Environment: cfg.Environment,
	})

	logger.Info().Str("environment", cfg.Environment).Int("port", cfg.Port).Msg("starting x402 facilitator")

	var redisClient *cache.Client
	if c, err := cache.NewClient(cfg.RedisURL); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without rate limiting")
	} else {
		redisClient = c
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("redis connected")
	}

	facilitator, configured, err := setupFacilitator(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure facilitator")
	}
	logger.Info().Strs("networks", configured).Msg("facilitator configured")

	facilitator.OnAfterVerify(func(ctx context.Context, info types.RequirementsInfo, resp *x402.VerifyResponse) {
		logger.Info().Str("payer", resp.Payer).Bool("valid", resp.IsValid).Str("network", info.Network).Msg("payment verified")
	})
	facilitator.OnVerifyFailure(func(ctx context.Context, info types.RequirementsInfo, err error) {
		logger.Warn().Err(err).Str("network", info.Network).Msg("verify failed")
	})
	facilitator.OnAfterSettle(func(ctx context.Context, info types.RequirementsInfo, resp *x402.SettleResponse) {
		logger.Info().Str("tx", resp.Transaction).Str("payer", resp.Payer).Msg("payment settled")
	})
	facilitator.OnSettleFailure(func(ctx context.Context, info types.RequirementsInfo, err error) {
		logger.Warn().Err(err).Str("network", info.Network).Msg("settle failed")
	})

	srv := server.New(facilitator, redisClient, cfg, logger)
	srv.Start()
}

// setupFacilitator builds the scheme registry: every (blueprint, provider)
// pair the configured key material allows. Returns the list of
// human-readable network names actually wired up, for startup logging.
func setupFacilitator(cfg *config.Config) (*x402.LocalFacilitator, []string, error) {
	facilitator := x402.NewFacilitator()
	var configured []string

	if cfg.EvmPrivateKey != "" {
		names, err := setupEVM(facilitator, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("evm: %w", err)
		}
		configured = append(configured, names...)
	}

	if len(cfg.SvmKeyList()) > 0 {
		names, err := setupSVM(facilitator, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("svm: %w", err)
		}
		configured = append(configured, names...)
	}

	if cfg.AptosPrivateKey != "" {
		names, err := setupAptos(facilitator, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("aptos: %w", err)
		}
		configured = append(configured, names...)
	}

	if len(configured) == 0 {
		return nil, nil, fmt.Errorf("no chain family configured: set EVM_PRIVATE_KEY, SVM_PRIVATE_KEYS, or APTOS_PRIVATE_KEY")
	}

	return facilitator, configured, nil
}

func setupEVM(facilitator *x402.LocalFacilitator, cfg *config.Config) ([]string, error) {
	type chainInfo struct {
		caip    string
		rpc     string
		chainID *big.Int
		name    string
	}

	chains := []chainInfo{
		{"eip155:1", cfg.EthRPC, evm.ChainIDEthereum, "Ethereum"},
		{"eip155:8453", cfg.BaseRPC, evm.ChainIDBase, "Base"},
		{"eip155:84532", cfg.BaseSepoliaRPC, evm.ChainIDBaseSepolia, "Base Sepolia"},
	}

	var configured []string
	for _, c := range chains {
		if c.rpc == "" {
			continue
		}

		provider, err := evm.NewProvider(context.Background(), c.chainID, []string{c.rpc}, []string{cfg.EvmPrivateKey}, 10)
		if err != nil {
			return nil, fmt.Errorf("build provider for %s: %w", c.name, err)
		}

		exactScheme := evmexact.New(c.caip, provider, evmexact.Config{DeployUndeployedSmartWallets: true})
		facilitator.Register(x402.NetworkPattern(c.caip), exactScheme)

		if cfg.EvmUptoSpender != "" {
			uptoScheme := evmupto.New(c.caip, provider, cfg.EvmUptoSpender)
			facilitator.Register(x402.NetworkPattern(c.caip), uptoScheme)
		}

		configured = append(configured, c.name)
	}

	return configured, nil
}

func setupSVM(facilitator *x402.LocalFacilitator, cfg *config.Config) ([]string, error) {
	var keys []solana.PrivateKey
	for _, k := range cfg.SvmKeyList() {
		key, err := solana.PrivateKeyFromBase58(k)
		if err != nil {
			return nil, fmt.Errorf("parse fee payer key: %w", err)
		}
		keys = append(keys, key)
	}

	var configured []string

	type clusterInfo struct {
		caip string
		rpc  string
		name string
	}
	clusters := []clusterInfo{
		{svm.NetworkConfigs["solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"].CAIP2, cfg.SolanaRPC, "Solana Mainnet"},
		{svm.NetworkConfigs["solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"].CAIP2, cfg.SolanaDevnetRPC, "Solana Devnet"},
	}

	for _, c := range clusters {
		if c.rpc == "" {
			continue
		}
		provider, err := svm.NewProvider(c.caip, c.rpc, keys)
		if err != nil {
			return nil, fmt.Errorf("build provider for %s: %w", c.name, err)
		}

		scheme := svmexact.New(provider, svm.DefaultInstructionPolicy())
		facilitator.Register(x402.NetworkPattern(c.caip), scheme)

		configured = append(configured, c.name)
	}

	return configured, nil
}

func setupAptos(facilitator *x402.LocalFacilitator, cfg *config.Config) ([]string, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(cfg.AptosPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key must be a %d-byte ed25519 seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	var address [32]byte
	copy(address[:], privateKey.Public().(ed25519.PublicKey))

	var configured []string

	type networkInfo struct {
		caip    string
		restURL string
		chainID uint8
		name    string
	}
	networks := []networkInfo{
		{"aptos:1", cfg.AptosMainnetRPC, 1, "Aptos Mainnet"},
		{"aptos:2", cfg.AptosTestnetRPC, 2, "Aptos Testnet"},
	}

	for _, n := range networks {
		if n.restURL == "" {
			continue
		}
		provider := aptos.NewProvider(n.caip, n.restURL, address, privateKey, cfg.AptosSponsorGas)
		scheme := aptosexact.New(n.caip, n.chainID, provider)
		facilitator.Register(x402.NetworkPattern(n.caip), scheme)

		configured = append(configured, n.name)
	}

	return configured, nil
}

// Package svm provides the Solana chain-provider primitives for the SPL
// token "exact" scheme: payload decoding, an instruction allow/deny policy,
// and the facilitator-side fee-payer signer interface.
package svm

import (
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

const (
	SchemeExact = "exact"

	// MaxComputeUnitPriceMicrolamports caps the compute-unit price a payer
	// may set (5 lamports/CU, expressed in microlamports) so a malicious
	// payload can't inflate the fee payer's priority-fee spend.
	MaxComputeUnitPriceMicrolamports = 5_000_000
)

// Payload is the SVM payment payload: a base64-encoded, partially-signed
// Solana transaction the payer built client-side.
type Payload struct {
	Transaction string `json:"transaction"`
}

// PayloadFromMap decodes a generic JSON payload map into a Payload,
// validating that the transaction field is present.
func PayloadFromMap(data map[string]interface{}) (*Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("svm: marshal payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("svm: unmarshal payload: %w", err)
	}
	if p.Transaction == "" {
		return nil, fmt.Errorf("svm: missing transaction field")
	}
	return &p, nil
}

// DecodeTransaction base64-decodes and deserializes a Solana transaction
// (the wire payload is base64 over the binary transaction envelope, not
// bincode-over-base58 as the Solana CLI itself uses).
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("svm: decode transaction: %w", err)
	}
	return tx, nil
}

// AssetInfo describes an SPL token mint.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig pairs a CAIP-2 identifier with its default settlement asset.
type NetworkConfig struct {
	CAIP2        string
	DefaultAsset AssetInfo
}

var NetworkConfigs = map[string]NetworkConfig{
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": { // mainnet-beta genesis hash, CAIP-2 reference
		CAIP2:        "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		DefaultAsset: AssetInfo{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6},
	},
	"solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z": { // devnet genesis hash
		CAIP2:        "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z",
		DefaultAsset: AssetInfo{Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Symbol: "USDC", Decimals: 6},
	},
	"solana-mainnet": {
		CAIP2:        "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		DefaultAsset: AssetInfo{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6},
	},
	"solana-devnet": {
		CAIP2:        "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z",
		DefaultAsset: AssetInfo{Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Symbol: "USDC", Decimals: 6},
	},
}

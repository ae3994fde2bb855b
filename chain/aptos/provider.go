package aptos

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider is the facilitator-side Aptos account: the network's REST
// endpoint, the facilitator's own Ed25519 keypair (used as transaction
// sender when SponsorGas is false, or as fee payer when true), and whether
// this provider sponsors gas for payer-submitted transactions.
type Provider struct {
	network    string
	restURL    string
	address    [32]byte
	privateKey ed25519.PrivateKey
	sponsorGas bool
	httpClient *http.Client
}

// NewProvider constructs a provider for one Aptos network (mainnet,
// testnet, ...). address is the facilitator account's 32-byte address,
// matching privateKey.
func NewProvider(network, restURL string, address [32]byte, privateKey ed25519.PrivateKey, sponsorGas bool) *Provider {
	return &Provider{
		network:    network,
		restURL:    strings.TrimRight(restURL, "/"),
		address:    address,
		privateKey: privateKey,
		sponsorGas: sponsorGas,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Provider) Network() string    { return p.network }
func (p *Provider) SponsorGas() bool   { return p.sponsorGas }
func (p *Provider) Address() [32]byte  { return p.address }
func (p *Provider) AddressHex() string { return hexAddr(p.address) }

// VerifyTransferPayload checks that the decoded entry function is exactly
// 0x1::primary_fungible_store::transfer(asset, recipient, amount) with
// asset/recipient/amount matching the payment requirements, and that the
// transaction is addressed to this provider's chain.
func VerifyTransferPayload(tx *RawTransaction, wantChainID uint8, wantAsset, wantRecipient [32]byte, wantAmount uint64) error {
	if tx.ChainID != wantChainID {
		return fmt.Errorf("chain_id_mismatch")
	}
	if tx.EntryFunction.ModuleName != EntryFunctionModule || tx.EntryFunction.FunctionName != EntryFunctionName {
		return fmt.Errorf("invalid_aptos_payload_unexpected_entry_function")
	}
	if tx.EntryFunction.AssetAddress != wantAsset {
		return fmt.Errorf("asset_mismatch")
	}
	if tx.EntryFunction.RecipientAddr != wantRecipient {
		return fmt.Errorf("recipient_mismatch")
	}
	if tx.EntryFunction.Amount < wantAmount {
		return fmt.Errorf("invalid_payment_amount")
	}
	return nil
}

// Submit BCS-encodes and POSTs a signed transaction to the REST
// submit-BCS endpoint, returning the committed transaction hash.
func (p *Provider) Submit(ctx context.Context, signedTxnBCS []byte) (string, error) {
	url := p.restURL + "/v1/transactions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(signedTxnBCS))
	if err != nil {
		return "", fmt.Errorf("aptos: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x.aptos.signed_transaction+bcs")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transaction_simulation: submit failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transaction_simulation: submit rejected (%d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("aptos: decode submit response: %w", err)
	}
	return result.Hash, nil
}

// SettleDirect builds and submits a plain (non-sponsored) SignedTransaction
// from the payer's own Ed25519 authenticator, used when SponsorGas is
// false — the payer's account pays its own gas.
func (p *Provider) SettleDirect(ctx context.Context, tx *RawTransaction, senderAuth *Ed25519Authenticator) (string, error) {
	authBytes := encodeEd25519TransactionAuthenticator(senderAuth)
	signed := EncodeSignedTransaction(tx.raw, authBytes)
	return p.Submit(ctx, signed)
}

// SettleSponsored builds and submits a fee-payer-sponsored
// SignedTransaction: the facilitator co-signs as fee payer over
// RawTransactionWithData::FeePayer, combining its signature with the
// payer's sender authenticator.
func (p *Provider) SettleSponsored(ctx context.Context, tx *RawTransaction, senderAuth *Ed25519Authenticator) (string, error) {
	feePayerSig := SignAsFeePayer(tx.raw, p.address, p.privateKey)
	feePayerAuth := &Ed25519Authenticator{PublicKey: p.privateKey.Public().(ed25519.PublicKey), Signature: feePayerSig}

	authBytes := encodeFeePayerAuthenticator(senderAuth, p.address, feePayerAuth)
	signed := EncodeSignedTransaction(tx.raw, authBytes)
	return p.Submit(ctx, signed)
}

// Settle dispatches to SettleSponsored or SettleDirect per the provider's
// configuration, matching the original implementation's branch on
// sponsor_gas.
func (p *Provider) Settle(ctx context.Context, tx *RawTransaction, senderAuth *Ed25519Authenticator) (string, error) {
	if p.sponsorGas {
		return p.SettleSponsored(ctx, tx, senderAuth)
	}
	return p.SettleDirect(ctx, tx, senderAuth)
}

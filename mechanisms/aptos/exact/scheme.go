// Package exact implements the Aptos "exact" scheme: the payer signs a
// RawTransaction calling 0x1::primary_fungible_store::transfer, and the
// facilitator either submits it directly (payer pays gas) or co-signs as
// fee payer and submits it sponsored.
package exact

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402go/facilitator"
	"github.com/x402go/facilitator/chain/aptos"
	"github.com/x402go/facilitator/types"
)

// Broadcaster is the chain surface this scheme needs from an
// aptos.Provider.
type Broadcaster interface {
	Network() string
	SponsorGas() bool
	Address() [32]byte
	AddressHex() string
	Settle(ctx context.Context, tx *aptos.RawTransaction, senderAuth *aptos.Ed25519Authenticator) (string, error)
}

// Scheme implements x402.SchemeNetworkFacilitator for Aptos fungible-asset
// transfers.
type Scheme struct {
	network   string
	chainID   uint8
	broadcast Broadcaster
}

// New constructs a Scheme for one Aptos network. chainID is the on-chain
// numeric chain ID the broadcast RawTransaction must carry (1 = mainnet, 2
// = testnet, ...).
func New(network string, chainID uint8, broadcast Broadcaster) *Scheme {
	return &Scheme{network: network, chainID: chainID, broadcast: broadcast}
}

func (s *Scheme) Scheme() string     { return aptos.SchemeExact }
func (s *Scheme) CaipFamily() string { return "aptos:*" }

func (s *Scheme) GetExtra(x402.Network) map[string]interface{} {
	return map[string]interface{}{"sponsorGas": s.broadcast.SponsorGas()}
}

func (s *Scheme) GetSigners(x402.Network) []string {
	return []string{s.broadcast.AddressHex()}
}

// Verify decodes the payer's signed transaction envelope and checks it is
// exactly a transfer of the required asset to the required recipient for
// at least the required amount, addressed to this facilitator's chain.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != aptos.SchemeExact || requirements.Scheme != aptos.SchemeExact {
		return nil, x402.NewVerifyError(x402.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(x402.ReasonChainIDMismatch, "", network, nil)
	}
	if !x402.RequirementsMatch(payload.Accepted, requirements) {
		return nil, x402.NewVerifyError(x402.ReasonAcceptedRequirementsMismatch, "", network, nil)
	}

	raw, err := rawPayload(payload)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, "", network, err)
	}
	tx, authBytes, err := aptos.DeserializeTransaction(raw)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, "", network, err)
	}

	auth, err := aptos.DecodeEd25519Authenticator(authBytes)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidEntryFunction, "", network, err)
	}
	payer := "0x" + hex.EncodeToString(auth.PublicKey)

	assetAddr, err := parseAddress(requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonAssetMismatch, payer, network, err)
	}
	payToAddr, err := parseAddress(requirements.PayTo)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonRecipientMismatch, payer, network, err)
	}
	wantAmount, err := strconv.ParseUint(requirements.GetAmount(), 10, 64)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentAmount, payer, network, err)
	}

	if err := aptos.VerifyTransferPayload(tx, s.chainID, assetAddr, payToAddr, wantAmount); err != nil {
		return nil, x402.NewVerifyError(err.Error(), payer, network, err)
	}

	if !aptos.VerifySenderSignature(tx.Raw(), auth) {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, payer, network, nil)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies, then submits the transaction either directly or
// sponsored depending on the configured broadcaster.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		if ve, ok := err.(*x402.VerifyError); ok {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError(x402.ReasonUnexpectedError, "", network, "", err)
	}

	raw, err := rawPayload(payload)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonInvalidFormat, verifyResp.Payer, network, "", err)
	}
	tx, authBytes, err := aptos.DeserializeTransaction(raw)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonInvalidFormat, verifyResp.Payer, network, "", err)
	}
	auth, err := aptos.DecodeEd25519Authenticator(authBytes)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonInvalidEntryFunction, verifyResp.Payer, network, "", err)
	}

	txHash, err := s.broadcast.Settle(ctx, tx, auth)
	if err != nil {
		return nil, x402.NewSettleError("transaction_simulation", verifyResp.Payer, network, "", err)
	}

	return &x402.SettleResponse{Success: true, Transaction: txHash, Network: network, Payer: verifyResp.Payer}, nil
}

func rawPayload(payload types.PaymentPayload) ([]byte, error) {
	return json.Marshal(payload.Payload)
}

func parseAddress(s string) ([32]byte, error) {
	var addr [32]byte
	s = strings.TrimPrefix(s, "0x")
	if len(s) < 64 {
		s = strings.Repeat("0", 64-len(s)) + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, err
	}
	if len(b) != 32 {
		return addr, fmt.Errorf("aptos: expected 32-byte address, got %d bytes", len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

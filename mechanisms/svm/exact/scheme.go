// Package exact implements the SVM (Solana) "exact" scheme: the payer
// builds and partially signs an SPL-token TransferChecked transaction
// client-side, and the facilitator signs as fee payer, simulates, and
// broadcasts it.
package exact

import (
	"context"
	"fmt"
	"math/rand"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402go/facilitator"
	"github.com/x402go/facilitator/chain/svm"
	"github.com/x402go/facilitator/types"
)

// FeePayerSigner is the chain surface this scheme needs from a svm.Provider
// (kept as an interface so tests can supply a fake).
type FeePayerSigner interface {
	GetAddresses(ctx context.Context, network string) []solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}

// Scheme implements x402.SchemeNetworkFacilitator for SPL-token exact
// transfers, applying an InstructionPolicy to bound what else a payer's
// transaction is allowed to carry alongside the transfer.
type Scheme struct {
	signer FeePayerSigner
	policy svm.InstructionPolicy
}

// New constructs a Scheme with the given fee-payer signer and instruction
// policy. Pass svm.DefaultInstructionPolicy() for the spec's defaults.
func New(signer FeePayerSigner, policy svm.InstructionPolicy) *Scheme {
	return &Scheme{signer: signer, policy: policy}
}

func (s *Scheme) Scheme() string     { return svm.SchemeExact }
func (s *Scheme) CaipFamily() string { return "solana:*" }

// GetExtra reports a randomly selected fee payer, distributing load across
// the signer pool the same way settlement will later pick one.
func (s *Scheme) GetExtra(network x402.Network) map[string]interface{} {
	addrs := s.signer.GetAddresses(context.Background(), string(network))
	if len(addrs) == 0 {
		return map[string]interface{}{}
	}
	return map[string]interface{}{"feePayer": addrs[rand.Intn(len(addrs))].String()}
}

func (s *Scheme) GetSigners(network x402.Network) []string {
	addrs := s.signer.GetAddresses(context.Background(), string(network))
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Verify implements the §4.5 pipeline: decode the transaction, validate
// instructions against policy, match destination/amount, then sign and
// simulate — simulation is part of verification here, since it is the only
// way to catch "would succeed structurally but revert on-chain" failures
// (insufficient balance, frozen account) before /settle is ever called.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != svm.SchemeExact || requirements.Scheme != svm.SchemeExact {
		return nil, x402.NewVerifyError(x402.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(x402.ReasonChainIDMismatch, "", network, nil)
	}
	if !x402.RequirementsMatch(payload.Accepted, requirements) {
		return nil, x402.NewVerifyError(x402.ReasonAcceptedRequirementsMismatch, "", network, nil)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return nil, x402.NewVerifyError("invalid_exact_solana_payload_missing_fee_payer", "", network, nil)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_fee_payer", "", network, err)
	}

	managed := false
	for _, addr := range s.signer.GetAddresses(ctx, string(network)) {
		if addr.Equals(feePayer) {
			managed = true
			break
		}
	}
	if !managed {
		return nil, x402.NewVerifyError("fee_payer_not_managed_by_facilitator", "", network, nil)
	}

	p, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_exact_solana_payload_transaction", "", network, err)
	}
	tx, err := svm.DecodeTransaction(p.Transaction)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_exact_solana_payload_transaction_could_not_be_decoded", "", network, err)
	}

	transfer, err := svm.CheckInstructions(tx, feePayer, s.policy)
	if err != nil {
		return nil, x402.NewVerifyError(err.Error(), "", network, err)
	}
	payer := transfer.Authority.String()

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonRecipientMismatch, payer, network, err)
	}
	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonAssetMismatch, payer, network, err)
	}
	if !transfer.Mint.Equals(mint) {
		return nil, x402.NewVerifyError(x402.ReasonAssetMismatch, payer, network, nil)
	}
	if err := svm.CheckDestinationATA(transfer, payTo, mint); err != nil {
		return nil, x402.NewVerifyError(err.Error(), payer, network, err)
	}
	if err := svm.CheckAmount(transfer, requirements.GetAmount()); err != nil {
		return nil, x402.NewVerifyError(err.Error(), payer, network, err)
	}

	if err := s.signer.SignTransaction(ctx, tx, feePayer, string(network)); err != nil {
		return nil, x402.NewVerifyError("transaction_signing_failed", payer, network, err)
	}
	if err := s.signer.SimulateTransaction(ctx, tx, string(network)); err != nil {
		return nil, x402.NewVerifyError(x402.ReasonTransactionSimulation, payer, network, err)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies (re-signing against a freshly decoded transaction,
// since solana transactions carry a short-lived recent blockhash and
// cannot be cached between verify and settle), then broadcasts and waits
// for confirmation.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		if ve, ok := err.(*x402.VerifyError); ok {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError(x402.ReasonUnexpectedError, "", network, "", err)
	}

	p, _ := svm.PayloadFromMap(payload.Payload)
	tx, err := svm.DecodeTransaction(p.Transaction)
	if err != nil {
		return nil, x402.NewSettleError("invalid_exact_solana_payload_transaction", verifyResp.Payer, network, "", err)
	}

	feePayerStr, _ := requirements.Extra["feePayer"].(string)
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, x402.NewSettleError("invalid_fee_payer", verifyResp.Payer, network, "", err)
	}
	if actual := tx.Message.AccountKeys[0]; !actual.Equals(feePayer) {
		return nil, x402.NewSettleError("fee_payer_mismatch", verifyResp.Payer, network, "",
			fmt.Errorf("expected %s, got %s", feePayer, actual))
	}

	if err := s.signer.SignTransaction(ctx, tx, feePayer, string(network)); err != nil {
		return nil, x402.NewSettleError("transaction_failed", verifyResp.Payer, network, "", err)
	}
	signature, err := s.signer.SendTransaction(ctx, tx, string(network))
	if err != nil {
		return nil, x402.NewSettleError("transaction_failed", verifyResp.Payer, network, "", err)
	}
	if err := s.signer.ConfirmTransaction(ctx, signature, string(network)); err != nil {
		return nil, x402.NewSettleError("transaction_confirmation_failed", verifyResp.Payer, network, signature.String(), err)
	}

	return &x402.SettleResponse{Success: true, Transaction: signature.String(), Network: network, Payer: verifyResp.Payer}, nil
}

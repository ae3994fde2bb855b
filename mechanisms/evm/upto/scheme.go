// Package upto implements the EVM "upto" scheme: EIP-2612 permit-then-
// transferFrom settlement, where the payer authorizes spending up to a cap
// and the facilitator settles the actual amount owed, plus the Permit2
// witness sub-variant for tokens without native permit support.
package upto

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402go/facilitator"
	"github.com/x402go/facilitator/chain/evm"
	"github.com/x402go/facilitator/types"
)

const SchemeID = "upto"

var (
	errNoDomain      = errors.New("upto: requirements.extra must carry name and version for the permit domain")
	errRejected6492  = errors.New("invalid_exact_evm_payload_erc6492_not_supported_for_permit")
	errBadSignature  = errors.New("upto: malformed permit signature")
)

// Signer is the chain surface this scheme needs. The spec pins upto to a
// single configured signer (see Scheme.spender) — a round-robin pool would
// make "verify succeeded" a poor predictor of "settle will succeed", since
// the permit's allowance belongs to one specific address.
type Signer interface {
	evm.ContractReader
	WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error)
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error)
	GetChainID() *big.Int
}

// PermitSignature is the EIP-2612 (v, r, s) signature triple.
type PermitSignature struct {
	V int    `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// PermitAuthorization is the EIP-2612 permit's signed fields.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Deadline string `json:"deadline"`
	Nonce    int    `json:"nonce"`
}

// Payload is the upto payment payload.
type Payload struct {
	Signature     PermitSignature     `json:"signature"`
	Authorization PermitAuthorization `json:"authorization"`
	PaymentNonce  string              `json:"paymentNonce"`
}

func payloadFromMap(raw map[string]interface{}) (*Payload, error) {
	p := &Payload{}
	if v, ok := raw["paymentNonce"].(string); ok {
		p.PaymentNonce = v
	}
	if sig, ok := raw["signature"].(map[string]interface{}); ok {
		if v, ok := sig["v"].(float64); ok {
			p.Signature.V = int(v)
		}
		if v, ok := sig["r"].(string); ok {
			p.Signature.R = v
		}
		if v, ok := sig["s"].(string); ok {
			p.Signature.S = v
		}
	}
	if auth, ok := raw["authorization"].(map[string]interface{}); ok {
		if v, ok := auth["owner"].(string); ok {
			p.Authorization.Owner = v
		}
		if v, ok := auth["spender"].(string); ok {
			p.Authorization.Spender = v
		}
		if v, ok := auth["value"].(string); ok {
			p.Authorization.Value = v
		}
		if v, ok := auth["deadline"].(string); ok {
			p.Authorization.Deadline = v
		}
		if v, ok := auth["nonce"].(float64); ok {
			p.Authorization.Nonce = int(v)
		}
	}
	return p, nil
}

// Scheme implements x402.SchemeNetworkFacilitator for EIP-2612 permit/
// transferFrom settlement with one pinned spender address.
type Scheme struct {
	network string
	signer  Signer
	spender string
}

func New(network string, signer Signer, spender string) *Scheme {
	return &Scheme{network: network, signer: signer, spender: spender}
}

func (s *Scheme) Scheme() string     { return SchemeID }
func (s *Scheme) CaipFamily() string { return "eip155:*" }

func (s *Scheme) GetExtra(x402.Network) map[string]interface{} {
	return map[string]interface{}{"spender": s.spender}
}

func (s *Scheme) GetSigners(x402.Network) []string { return []string{s.spender} }

// Verify implements the §4.4 pipeline: generic checks, deadline window,
// spender pinning, cap sufficiency, nonce-or-allowance freshness, and
// signature classification (EOA/EIP-1271 only — EIP-6492 is rejected,
// since token contracts don't understand 6492 inside permit()).
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != SchemeID || requirements.Scheme != SchemeID {
		return nil, x402.NewVerifyError(x402.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(x402.ReasonChainIDMismatch, "", network, nil)
	}
	if !x402.RequirementsMatch(payload.Accepted, requirements) {
		return nil, x402.NewVerifyError(x402.ReasonAcceptedRequirementsMismatch, "", network, nil)
	}

	if permit2, ok := permit2PayloadFromMap(payload.Payload); ok {
		return s.VerifyPermit2(ctx, payload, requirements, permit2)
	}

	p, err := payloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, "", network, err)
	}
	auth := p.Authorization
	payer := auth.Owner

	if ethcommon.HexToAddress(auth.Spender) != ethcommon.HexToAddress(s.spender) {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, payer, network, nil)
	}

	deadline, _ := strconv.ParseInt(auth.Deadline, 10, 64)
	if time.Now().Unix()-evm.VerifyGraceSeconds > deadline {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentExpired, payer, network, nil)
	}

	cap, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, payer, network, nil)
	}
	required, ok := new(big.Int).SetString(requirements.GetAmount(), 10)
	if !ok || cap.Cmp(required) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentAmount, payer, network, nil)
	}
	if maxAmount, ok := requirements.Extra["maxAmountRequired"].(string); ok && maxAmount != "" {
		maxRequired, ok := new(big.Int).SetString(maxAmount, 10)
		if ok && cap.Cmp(maxRequired) < 0 {
			return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentAmount, payer, network, nil)
		}
	}

	fresh, err := s.checkNonceOrAllowance(ctx, requirements.Asset, auth, required)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonUnexpectedError, payer, network, err)
	}
	if !fresh {
		return nil, x402.NewVerifyError(x402.ReasonPermit2AllowanceRequired, payer, network, nil)
	}

	if err := s.verifySignature(ctx, requirements, p); err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, payer, network, err)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// checkNonceOrAllowance reads nonces(owner): a matching nonce means the
// permit is fresh and can be submitted; a mismatched nonce means the
// permit was already consumed in a prior, legitimate batched settlement,
// and the check falls back to the existing allowance.
func (s *Scheme) checkNonceOrAllowance(ctx context.Context, token string, auth PermitAuthorization, required *big.Int) (bool, error) {
	out, err := s.signer.ReadContract(ctx, token, evm.NoncesABI, evm.FunctionNonces, ethcommon.HexToAddress(auth.Owner))
	if err != nil {
		return false, err
	}
	onChainNonce, _ := out[0].(*big.Int)
	if onChainNonce != nil && onChainNonce.Cmp(big.NewInt(int64(auth.Nonce))) == 0 {
		return true, nil
	}

	allowanceOut, err := s.signer.ReadContract(ctx, token, evm.ERC20AllowanceABI, evm.FunctionAllowance, ethcommon.HexToAddress(auth.Owner), ethcommon.HexToAddress(auth.Spender))
	if err != nil {
		return false, err
	}
	allowance, _ := allowanceOut[0].(*big.Int)
	return allowance != nil && allowance.Cmp(required) >= 0, nil
}

func (s *Scheme) verifySignature(ctx context.Context, requirements types.PaymentRequirements, p *Payload) error {
	// EIP-6492 is explicitly rejected here: permit() is evaluated by the
	// token contract itself, which has no notion of counterfactual-wallet
	// unwrapping, so only EOA/EIP-1271 signatures are meaningful.
	name, _ := requirements.Extra["name"].(string)
	version, _ := requirements.Extra["version"].(string)
	if name == "" || version == "" {
		return errNoDomain
	}

	auth := p.Authorization
	value, _ := new(big.Int).SetString(auth.Value, 10)
	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)

	digest, err := evm.HashTypedData(
		evm.TypedDataDomain{Name: name, Version: version, ChainID: s.signer.GetChainID(), VerifyingContract: requirements.Asset},
		map[string][]evm.TypedDataField{"Permit": evm.PermitTypes},
		"Permit",
		map[string]interface{}{
			"owner": ethcommon.HexToAddress(auth.Owner), "spender": ethcommon.HexToAddress(auth.Spender),
			"value": value, "nonce": big.NewInt(int64(auth.Nonce)), "deadline": deadline,
		},
	)
	if err != nil {
		return err
	}

	sig, err := vrsToSignature(p.Signature)
	if err != nil {
		return err
	}
	if evm.IsERC6492Signature(sig) {
		return errRejected6492
	}
	return evm.VerifyUniversalSignature(ctx, s.signer, ethcommon.HexToAddress(auth.Owner), digest, sig, false)
}

// Settle implements the §4.4 settlement pipeline: permit (tolerating a
// revert in the batched-reuse case), then an allowance check, then
// transferFrom. A zero-amount settlement short-circuits to success with no
// transaction hash.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	if _, ok := permit2PayloadFromMap(payload.Payload); ok {
		return s.SettlePermit2(ctx, payload, requirements)
	}

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		ve, _ := err.(*x402.VerifyError)
		if ve != nil {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError(x402.ReasonUnexpectedError, "", network, "", err)
	}

	required, _ := new(big.Int).SetString(requirements.GetAmount(), 10)
	if required.Sign() == 0 {
		return &x402.SettleResponse{Success: true, Network: network, Payer: verifyResp.Payer}, nil
	}

	p, _ := payloadFromMap(payload.Payload)
	auth := p.Authorization
	value, _ := new(big.Int).SetString(auth.Value, 10)
	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)
	v, r, sComp, _ := splitVRSParts(p.Signature)

	// Attempt permit(); a failure here is tolerated (batched reuse) as long
	// as the resulting allowance still covers the settlement amount.
	_, _ = s.signer.WriteContract(ctx, requirements.Asset, evm.PermitABI, evm.FunctionPermit,
		ethcommon.HexToAddress(auth.Owner), ethcommon.HexToAddress(auth.Spender), value, deadline, v, r, sComp)

	allowanceOut, err := s.signer.ReadContract(ctx, requirements.Asset, evm.ERC20AllowanceABI, evm.FunctionAllowance,
		ethcommon.HexToAddress(auth.Owner), ethcommon.HexToAddress(auth.Spender))
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonUnexpectedError, verifyResp.Payer, network, "", err)
	}
	allowance, _ := allowanceOut[0].(*big.Int)
	if allowance == nil || allowance.Cmp(required) < 0 {
		return nil, x402.NewSettleError(x402.ReasonPermitFailed, verifyResp.Payer, network, "", nil)
	}

	txHash, err := s.signer.WriteContract(ctx, requirements.Asset, evm.TransferFromABI, evm.FunctionTransferFrom,
		ethcommon.HexToAddress(auth.Owner), ethcommon.HexToAddress(requirements.PayTo), required)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonTransferFailed, verifyResp.Payer, network, "", err)
	}
	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil || receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(x402.ReasonTransferFailed, verifyResp.Payer, network, txHash, err)
	}

	return &x402.SettleResponse{Success: true, Transaction: txHash, Network: network, Payer: verifyResp.Payer}, nil
}

func vrsToSignature(sig PermitSignature) ([]byte, error) {
	v, r, s, err := splitVRSParts(sig)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 65)
	copy(out[0:32], r.Bytes())
	copy(out[32:64], s.Bytes())
	out[64] = byte(v.Int64())
	return out, nil
}

func splitVRSParts(sig PermitSignature) (v *big.Int, r, s [32]byte, err error) {
	rb, ok := new(big.Int).SetString(sig.R, 0)
	if !ok {
		return nil, r, s, errBadSignature
	}
	sb, ok := new(big.Int).SetString(sig.S, 0)
	if !ok {
		return nil, r, s, errBadSignature
	}
	copy(r[32-len(rb.Bytes()):], rb.Bytes())
	copy(s[32-len(sb.Bytes()):], sb.Bytes())
	return big.NewInt(int64(sig.V)), r, s, nil
}

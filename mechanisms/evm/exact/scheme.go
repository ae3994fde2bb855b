// Package exact implements the EVM "exact" scheme: EIP-3009
// transferWithAuthorization, verified and settled against a configured set
// of networks and assets, with EIP-1271/EIP-6492 smart-wallet signatures
// accepted alongside plain EOA signatures.
package exact

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402go/facilitator"
	"github.com/x402go/facilitator/chain/evm"
	"github.com/x402go/facilitator/types"
)

// Signer is the chain operations this scheme needs from an EVM provider.
type Signer interface {
	evm.ContractReader
	WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error)
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error)
	GetBalance(ctx context.Context, token, account string) (*big.Int, error)
	GetChainID() *big.Int
	GetAddresses() []string
}

// Authorization mirrors the EIP-3009 transferWithAuthorization struct
// carried in the payment payload.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the EIP-3009 payment payload: signature plus the
// authorization it covers.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Config controls optional behavior: whether to deploy an undeployed
// EIP-6492 smart wallet (direct factory calldata, not an ERC-4337 bundler
// flow) before broadcasting its payment.
type Config struct {
	DeployUndeployedSmartWallets bool
}

// Scheme implements x402.SchemeNetworkFacilitator for one (network,
// signer) pair.
type Scheme struct {
	network string
	signer  Signer
	config  Config
}

func New(network string, signer Signer, config Config) *Scheme {
	return &Scheme{network: network, signer: signer, config: config}
}

func (s *Scheme) Scheme() string     { return evm.SchemeExact }
func (s *Scheme) CaipFamily() string { return "eip155:*" }

func (s *Scheme) GetExtra(x402.Network) map[string]interface{} { return nil }

func (s *Scheme) GetSigners(x402.Network) []string { return s.signer.GetAddresses() }

func payloadFromMap(raw map[string]interface{}) (*Payload, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Verify implements the EIP-3009 checks described in C5: signature
// validity, nonce freshness, validity window, recipient/asset/amount
// match, and a pre-flight balance check.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError(x402.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(x402.ReasonChainIDMismatch, "", network, nil)
	}
	if !x402.RequirementsMatch(payload.Accepted, requirements) {
		return nil, x402.NewVerifyError(x402.ReasonAcceptedRequirementsMismatch, "", network, nil)
	}

	p, err := payloadFromMap(payload.Payload)
	if err != nil || p.Signature == "" {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, "", network, err)
	}
	auth := p.Authorization
	payer := auth.From

	if ethcommon.HexToAddress(auth.To) != ethcommon.HexToAddress(requirements.PayTo) {
		return nil, x402.NewVerifyError(x402.ReasonRecipientMismatch, payer, network, nil)
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, payer, network, nil)
	}
	required, ok := new(big.Int).SetString(requirements.GetAmount(), 10)
	if !ok || value.Cmp(required) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentAmount, payer, network, nil)
	}

	now := time.Now().Unix()
	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if now+evm.VerifyGraceSeconds < validAfter {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentEarly, payer, network, nil)
	}
	if now-evm.VerifyGraceSeconds > validBefore {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentExpired, payer, network, nil)
	}

	used, err := s.checkNonceUsed(ctx, requirements.Asset, auth.From, auth.Nonce)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonUnexpectedError, payer, network, err)
	}
	if used {
		return nil, x402.NewVerifyError(x402.ReasonNonceAlreadyUsed, payer, network, nil)
	}

	balance, err := s.signer.GetBalance(ctx, requirements.Asset, auth.From)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonUnexpectedError, payer, network, err)
	}
	if balance.Cmp(value) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonInsufficientFunds, payer, network, nil)
	}

	sigBytes, err := decodeHex(p.Signature)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, payer, network, err)
	}

	if evm.IsERC6492Signature(sigBytes) {
		if err := s.verifyEIP6492Atomic(ctx, requirements, auth, sigBytes); err != nil {
			return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, payer, network, err)
		}
	} else if err := s.verifySignature(ctx, requirements, auth, p.Signature, true); err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, payer, network, err)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// verifyEIP6492Atomic validates a counterfactual-wallet signature and
// simulates the transfer it authorizes inside a single eth_call (see
// evm.VerifyAtomicEIP6492): the wallet's deployment, performed as a side
// effect of signature validation, must be visible to the transfer
// simulation within the same call frame. Running these as two eth_calls
// would simulate the transfer against an undeployed wallet every time.
func (s *Scheme) verifyEIP6492Atomic(ctx context.Context, requirements types.PaymentRequirements, auth Authorization, sigBytes []byte) error {
	digest, err := s.authorizationDigest(requirements, auth)
	if err != nil {
		return err
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(auth.ValidBefore, 10, 64)
	var nonce [32]byte
	nb, _ := decodeHex(auth.Nonce)
	copy(nonce[:], nb)

	wrapped, err := evm.ParseERC6492Signature(sigBytes)
	if err != nil {
		return err
	}

	transferCalldata, err := evm.PackCall(evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
		ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, big.NewInt(validAfter), big.NewInt(validBefore), nonce, wrapped.InnerSignature)
	if err != nil {
		return err
	}

	valid, err := evm.VerifyAtomicEIP6492(ctx, s.signer, ethcommon.HexToAddress(auth.From), digest, sigBytes, ethcommon.HexToAddress(requirements.Asset), transferCalldata)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("evm: erc-6492 signature rejected by validator")
	}
	return nil
}

// authorizationDigest computes the EIP-712 digest for an EIP-3009
// authorization, applying any extra.name/extra.version domain override.
func (s *Scheme) authorizationDigest(requirements types.PaymentRequirements, auth Authorization) ([32]byte, error) {
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return [32]byte{}, err
	}
	if name, ok := requirements.Extra["name"].(string); ok && name != "" {
		assetInfo.Name = name
	}
	if version, ok := requirements.Extra["version"].(string); ok && version != "" {
		assetInfo.Version = version
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(auth.ValidBefore, 10, 64)
	var nonce [32]byte
	nb, _ := decodeHex(auth.Nonce)
	copy(nonce[:], nb)

	return evm.HashEIP3009Authorization(
		evm.TypedDataDomain{Name: assetInfo.Name, Version: assetInfo.Version, ChainID: s.signer.GetChainID(), VerifyingContract: requirements.Asset},
		ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, validAfter, validBefore, nonce,
	)
}

// Settle re-verifies, then broadcasts transferWithAuthorization, deploying
// an undeployed EIP-6492 smart wallet first when configured to.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		ve, _ := err.(*x402.VerifyError)
		if ve != nil {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError(x402.ReasonUnexpectedError, "", network, "", err)
	}

	p, _ := payloadFromMap(payload.Payload)
	auth := p.Authorization

	sigBytes, err := decodeHex(p.Signature)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonInvalidFormat, verifyResp.Payer, network, "", err)
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(auth.ValidBefore, 10, 64)
	var nonce [32]byte
	nb, _ := decodeHex(auth.Nonce)
	copy(nonce[:], nb)

	if evm.IsERC6492Signature(sigBytes) {
		wrapped, err := evm.ParseERC6492Signature(sigBytes)
		if err != nil {
			return nil, x402.NewSettleError(x402.ReasonInvalidSignature, verifyResp.Payer, network, "", err)
		}
		code, err := s.signer.GetCode(ctx, auth.From)
		if err != nil {
			return nil, x402.NewSettleError(x402.ReasonUnexpectedError, verifyResp.Payer, network, "", err)
		}
		if len(code) == 0 {
			if !s.config.DeployUndeployedSmartWallets || wrapped.Factory == (ethcommon.Address{}) {
				return nil, x402.NewSettleError(evm.ErrUndeployedSmartWallet, verifyResp.Payer, network, "", nil)
			}
			txHash, err := s.settleDeployAndTransferAtomic(ctx, requirements, auth, wrapped, value, validAfter, validBefore, nonce)
			if err != nil {
				return nil, x402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, verifyResp.Payer, network, "", err)
			}
			receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
			if err != nil || receipt.Status != evm.TxStatusSuccess {
				return nil, x402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, verifyResp.Payer, network, txHash, err)
			}
			return &x402.SettleResponse{Success: true, Transaction: txHash, Network: network, Payer: verifyResp.Payer}, nil
		}
		sigBytes = wrapped.InnerSignature
	}

	var txHash string
	if len(sigBytes) == 65 {
		v, r, sComp, err := evm.SplitVRS(sigBytes)
		if err != nil {
			return nil, x402.NewSettleError(x402.ReasonInvalidSignature, verifyResp.Payer, network, "", err)
		}
		txHash, err = s.signer.WriteContract(ctx, requirements.Asset, evm.TransferWithAuthorizationVRSABI, evm.FunctionTransferWithAuthorization,
			ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, big.NewInt(validAfter), big.NewInt(validBefore), nonce, v, r, sComp)
		if err != nil {
			return nil, x402.NewSettleError(x402.ReasonTransactionSimulation, verifyResp.Payer, network, "", err)
		}
	} else {
		var err error
		txHash, err = s.signer.WriteContract(ctx, requirements.Asset, evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
			ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, big.NewInt(validAfter), big.NewInt(validBefore), nonce, sigBytes)
		if err != nil {
			return nil, x402.NewSettleError(x402.ReasonTransactionSimulation, verifyResp.Payer, network, "", err)
		}
	}

	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonTransactionSimulation, verifyResp.Payer, network, txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(x402.ReasonTransactionSimulation, verifyResp.Payer, network, txHash, fmt.Errorf("transaction reverted"))
	}

	return &x402.SettleResponse{Success: true, Transaction: txHash, Network: network, Payer: verifyResp.Payer}, nil
}

// settleDeployAndTransferAtomic deploys a counterfactual EIP-6492 smart
// wallet and broadcasts its transferWithAuthorization in a single
// Multicall3 transaction. The spec requires this atomicity: deploying in
// one transaction and transferring in a second leaves a window where the
// wallet exists but the payment hasn't landed — a crash or a racing
// transaction between the two would leave settlement in an inconsistent
// half-done state, and a naive retry would re-run a deployment that
// already succeeded.
func (s *Scheme) settleDeployAndTransferAtomic(ctx context.Context, requirements types.PaymentRequirements, auth Authorization, wrapped *evm.ERC6492Signature, value *big.Int, validAfter, validBefore int64, nonce [32]byte) (string, error) {
	transferCalldata, err := evm.PackCall(evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
		ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, big.NewInt(validAfter), big.NewInt(validBefore), nonce, wrapped.InnerSignature)
	if err != nil {
		return "", err
	}

	calls := []evm.Call3{
		{Target: wrapped.Factory, AllowFailure: false, CallData: wrapped.FactoryCalldata},
		{Target: ethcommon.HexToAddress(requirements.Asset), AllowFailure: false, CallData: transferCalldata},
	}
	aggregateCalldata, err := evm.PackAggregate3(calls)
	if err != nil {
		return "", err
	}

	return s.signer.SendTransaction(ctx, evm.Multicall3Address, aggregateCalldata)
}

func (s *Scheme) checkNonceUsed(ctx context.Context, asset, authorizer, nonceHex string) (bool, error) {
	var nonce [32]byte
	nb, err := decodeHex(nonceHex)
	if err != nil {
		return false, err
	}
	copy(nonce[:], nb)

	out, err := s.signer.ReadContract(ctx, asset, evm.AuthorizationStateABI, evm.FunctionAuthorizationState, ethcommon.HexToAddress(authorizer), nonce)
	if err != nil {
		return false, err
	}
	used, _ := out[0].(bool)
	return used, nil
}

func (s *Scheme) verifySignature(ctx context.Context, requirements types.PaymentRequirements, auth Authorization, sigHex string, allowUndeployed bool) error {
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return err
	}
	if name, ok := requirements.Extra["name"].(string); ok && name != "" {
		assetInfo.Name = name
	}
	if version, ok := requirements.Extra["version"].(string); ok && version != "" {
		assetInfo.Version = version
	}

	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, _ := strconv.ParseInt(auth.ValidBefore, 10, 64)
	var nonce [32]byte
	nb, _ := decodeHex(auth.Nonce)
	copy(nonce[:], nb)

	digest, err := evm.HashEIP3009Authorization(
		evm.TypedDataDomain{Name: assetInfo.Name, Version: assetInfo.Version, ChainID: s.signer.GetChainID(), VerifyingContract: requirements.Asset},
		ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, validAfter, validBefore, nonce,
	)
	if err != nil {
		return err
	}

	sigBytes, err := decodeHex(sigHex)
	if err != nil {
		return err
	}
	if err := evm.VerifyUniversalSignature(ctx, s.signer, ethcommon.HexToAddress(auth.From), digest, sigBytes, allowUndeployed); err != nil {
		return err
	}

	// A valid signature only proves the payer authorized this transfer; it
	// doesn't prove the transfer would succeed (insufficient balance after
	// this check ran, a paused token, a blocklisted recipient, ...). Simulate
	// it via eth_call before reporting success, same as the 6492 branch does
	// inside its multicall and the same as mechanisms/svm/exact does via
	// SimulateTransaction.
	_, err = s.signer.ReadContract(ctx, requirements.Asset, evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
		ethcommon.HexToAddress(auth.From), ethcommon.HexToAddress(auth.To), value, big.NewInt(validAfter), big.NewInt(validBefore), nonce, sigBytes)
	if err != nil {
		return fmt.Errorf("evm: simulate transferWithAuthorization: %w", err)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return ethcommon.FromHex(s), nil
}

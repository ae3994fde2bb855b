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

var errPermit2BadSignature = errors.New("upto: malformed permit2 signature")

// permit2Payload is the Permit2 witness sub-variant's payload shape: a
// PermitTransferFrom wrapped with a Witness{to, validAfter, extra}, used
// for tokens that don't support EIP-2612 natively.
type permit2Payload struct {
	Signature string `json:"signature"`
	Permitted struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
	} `json:"permitted"`
	Nonce      string `json:"nonce"`
	Deadline   string `json:"deadline"`
	Owner      string `json:"owner"`
	ValidAfter string `json:"validAfter"`
	Extra      string `json:"extra"`
}

func permit2PayloadFromMap(raw map[string]interface{}) (*permit2Payload, bool) {
	witness, ok := raw["witness"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	p := &permit2Payload{}
	if v, ok := raw["signature"].(string); ok {
		p.Signature = v
	}
	if v, ok := raw["owner"].(string); ok {
		p.Owner = v
	}
	if permitted, ok := raw["permitted"].(map[string]interface{}); ok {
		if v, ok := permitted["token"].(string); ok {
			p.Permitted.Token = v
		}
		if v, ok := permitted["amount"].(string); ok {
			p.Permitted.Amount = v
		}
	}
	if v, ok := raw["nonce"].(string); ok {
		p.Nonce = v
	}
	if v, ok := raw["deadline"].(string); ok {
		p.Deadline = v
	}
	if v, ok := witness["validAfter"].(string); ok {
		p.ValidAfter = v
	}
	if v, ok := witness["extra"].(string); ok {
		p.Extra = v
	}
	return p, true
}

// VerifyPermit2 implements the Permit2 witness sub-variant described in
// §4.4: the same generic checks as native upto, but the permit lives under
// Permit2's own EIP-712 domain and the proxy address (not the facilitator)
// is the nominal spender. Unlike native upto, EIP-6492 signatures are
// accepted here — the proxy re-encodes the signature before forwarding it
// to Permit2, which the proxy contract understands but Permit2 itself
// does not.
func (s *Scheme) VerifyPermit2(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, p *permit2Payload) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)
	payer := p.Owner

	if ethcommon.HexToAddress(p.Permitted.Token) != ethcommon.HexToAddress(requirements.Asset) {
		return nil, x402.NewVerifyError(evm.ErrPermit2TokenMismatch, payer, network, nil)
	}

	if ethcommon.HexToAddress(requirements.PayTo) == (ethcommon.Address{}) {
		return nil, x402.NewVerifyError(evm.ErrPermit2InvalidDestination, payer, network, nil)
	}

	now := time.Now().Unix()
	deadline, _ := strconv.ParseInt(p.Deadline, 10, 64)
	if now-evm.Permit2DeadlineBufferSeconds > deadline {
		return nil, x402.NewVerifyError(evm.ErrPermit2DeadlineExpired, payer, network, nil)
	}
	validAfter, _ := strconv.ParseInt(p.ValidAfter, 10, 64)
	if now+evm.Permit2DeadlineBufferSeconds < validAfter {
		return nil, x402.NewVerifyError(evm.ErrPermit2NotYetValid, payer, network, nil)
	}

	cap, ok := new(big.Int).SetString(p.Permitted.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.ReasonInvalidFormat, payer, network, nil)
	}
	required, ok := new(big.Int).SetString(requirements.GetAmount(), 10)
	if !ok || cap.Cmp(required) < 0 {
		return nil, x402.NewVerifyError(x402.ReasonInvalidPaymentAmount, payer, network, nil)
	}

	if err := s.verifyPermit2Signature(ctx, requirements, p); err != nil {
		return nil, x402.NewVerifyError(x402.ReasonInvalidSignature, payer, network, err)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// verifyPermit2Signature hashes the PermitWitnessTransferFrom struct under
// Permit2's fixed domain and, when the signature carries the EIP-6492
// wrapper, validates it atomically against a simulated proxy.settle call —
// the same atomicity requirement as the EVM-exact handler's smart-wallet
// path, and for the same reason: a counterfactual wallet's deployment must
// be visible to the settle simulation within the same call.
func (s *Scheme) verifyPermit2Signature(ctx context.Context, requirements types.PaymentRequirements, p *permit2Payload) error {
	sigBytes, err := decodeHexBytes(p.Signature)
	if err != nil {
		return err
	}

	digest, err := s.permit2Digest(requirements, p)
	if err != nil {
		return err
	}

	settleCalldata, err := s.buildPermit2SettleCalldata(requirements, p, sigBytes)
	if err != nil {
		return err
	}

	if evm.IsERC6492Signature(sigBytes) {
		valid, err := evm.VerifyAtomicEIP6492(ctx, s.signer, ethcommon.HexToAddress(p.Owner), digest, sigBytes, ethcommon.HexToAddress(evm.UptoPermit2ProxyAddress), settleCalldata)
		if err != nil {
			return err
		}
		if !valid {
			return errors.New("upto: erc-6492 signature rejected by validator")
		}
		return nil
	}

	return evm.VerifyUniversalSignature(ctx, s.signer, ethcommon.HexToAddress(p.Owner), digest, sigBytes, false)
}

func (s *Scheme) permit2Digest(requirements types.PaymentRequirements, p *permit2Payload) ([32]byte, error) {
	extraBytes, _ := decodeHexBytes(p.Extra)
	nonce, _ := new(big.Int).SetString(p.Nonce, 10)
	deadline, _ := new(big.Int).SetString(p.Deadline, 10)
	validAfter, _ := new(big.Int).SetString(p.ValidAfter, 10)
	amount, _ := new(big.Int).SetString(p.Permitted.Amount, 10)

	return evm.HashTypedData(
		evm.TypedDataDomain{Name: "Permit2", ChainID: s.signer.GetChainID(), VerifyingContract: evm.Permit2Address},
		evm.Permit2WitnessTypes,
		"PermitWitnessTransferFrom",
		map[string]interface{}{
			"permitted": map[string]interface{}{
				"token": ethcommon.HexToAddress(p.Permitted.Token), "amount": amount,
			},
			"spender": ethcommon.HexToAddress(evm.UptoPermit2ProxyAddress),
			"nonce":   nonce, "deadline": deadline,
			"witness": map[string]interface{}{
				"to": ethcommon.HexToAddress(requirements.PayTo), "validAfter": validAfter, "extra": extraBytes,
			},
		},
	)
}

// buildPermit2SettleCalldata packs proxy.settle(permit, amount, owner,
// witness, signature) for either a simulated eth_call (verify) or a
// broadcast transaction (settle) — the proxy forwards the inner signature
// to Permit2 itself, so a 6492-wrapped signature is passed through as-is;
// the proxy, not Permit2, is what understands the 6492 wrapper.
func (s *Scheme) buildPermit2SettleCalldata(requirements types.PaymentRequirements, p *permit2Payload, sigBytes []byte) ([]byte, error) {
	cap, _ := new(big.Int).SetString(p.Permitted.Amount, 10)
	nonce, _ := new(big.Int).SetString(p.Nonce, 10)
	deadline, _ := new(big.Int).SetString(p.Deadline, 10)
	validAfter, _ := new(big.Int).SetString(p.ValidAfter, 10)
	extraBytes, _ := decodeHexBytes(p.Extra)
	required, _ := new(big.Int).SetString(requirements.GetAmount(), 10)

	permitTuple := struct {
		Permitted struct {
			Token  ethcommon.Address
			Amount *big.Int
		}
		Nonce    *big.Int
		Deadline *big.Int
	}{
		Nonce:    nonce,
		Deadline: deadline,
	}
	permitTuple.Permitted.Token = ethcommon.HexToAddress(p.Permitted.Token)
	permitTuple.Permitted.Amount = cap

	witnessTuple := struct {
		To         ethcommon.Address
		ValidAfter *big.Int
		Extra      []byte
	}{
		To:         ethcommon.HexToAddress(requirements.PayTo),
		ValidAfter: validAfter,
		Extra:      extraBytes,
	}

	return evm.PackCall(evm.Permit2ProxySettleABI, "settle", permitTuple, required, ethcommon.HexToAddress(p.Owner), witnessTuple, sigBytes)
}

// SettlePermit2 broadcasts proxy.settle, which internally calls Permit2's
// permitTransferFrom — there is no separate permit-then-transfer step
// here since the proxy performs both atomically on-chain in one call.
func (s *Scheme) SettlePermit2(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	p, ok := permit2PayloadFromMap(payload.Payload)
	if !ok {
		return nil, x402.NewSettleError(x402.ReasonInvalidFormat, "", network, "", errPermit2BadSignature)
	}

	verifyResp, err := s.VerifyPermit2(ctx, payload, requirements, p)
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

	sigBytes, err := decodeHexBytes(p.Signature)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonInvalidFormat, verifyResp.Payer, network, "", err)
	}
	settleCalldata, err := s.buildPermit2SettleCalldata(requirements, p, sigBytes)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonInvalidFormat, verifyResp.Payer, network, "", err)
	}

	txHash, err := s.signer.SendTransaction(ctx, evm.UptoPermit2ProxyAddress, settleCalldata)
	if err != nil {
		return nil, x402.NewSettleError(x402.ReasonTransactionSimulation, verifyResp.Payer, network, "", err)
	}
	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil || receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(x402.ReasonTransactionSimulation, verifyResp.Payer, network, txHash, err)
	}

	return &x402.SettleResponse{Success: true, Transaction: txHash, Network: network, Payer: verifyResp.Payer}, nil
}

func decodeHexBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return ethcommon.FromHex(s), nil
}

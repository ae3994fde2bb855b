// Package x402 implements the facilitator side of the x402 micropayment
// protocol: cryptographic verification and on-chain settlement of signed
// payment authorizations on behalf of a resource server.
package x402

import "fmt"

// Reason codes returned in VerifyError/SettleError and in the wire-level
// isValid/errorReason fields. Handlers should prefer these over ad-hoc
// strings so that payers and payees can build reliable retry logic.
const (
	ReasonInvalidFormat                = "invalid_format"
	ReasonInvalidPaymentAmount          = "invalid_payment_amount"
	ReasonInvalidPaymentEarly           = "invalid_payment_early"
	ReasonInvalidPaymentExpired         = "invalid_payment_expired"
	ReasonChainIDMismatch               = "chain_id_mismatch"
	ReasonRecipientMismatch             = "recipient_mismatch"
	ReasonAssetMismatch                 = "asset_mismatch"
	ReasonAcceptedRequirementsMismatch  = "accepted_requirements_mismatch"
	ReasonInvalidSignature              = "invalid_signature"
	ReasonTransactionSimulation         = "transaction_simulation"
	ReasonInsufficientFunds             = "insufficient_funds"
	ReasonPermit2AllowanceRequired      = "permit2_allowance_required"
	ReasonUnsupportedChain              = "unsupported_chain"
	ReasonUnsupportedScheme             = "unsupported_scheme"
	ReasonUnexpectedError               = "unexpected_error"
	ReasonNonceAlreadyUsed              = "nonce_already_used"
	ReasonUndeployedSmartWallet         = "undeployed_smart_wallet"
	ReasonSmartWalletDeploymentFailed   = "smart_wallet_deployment_failed"
	ReasonInvalidEntryFunction          = "invalid_entry_function"
	ReasonInstructionPolicyViolation    = "instruction_policy_violation"
	ReasonFeePayerInInstructions        = "fee_payer_in_instructions"
	ReasonPermitFailed                  = "permit_failed"
	ReasonTransferFailed                = "transfer_failed"
)

// VerifyError carries structured detail about a failed /verify call. The
// zero Err is common: most rejections are policy decisions, not faults.
type VerifyError struct {
	Reason  string
	Payer   string
	Network Network
	Err     error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify failed: %s (payer=%s network=%s): %v", e.Reason, e.Payer, e.Network, e.Err)
	}
	return fmt.Sprintf("verify failed: %s (payer=%s network=%s)", e.Reason, e.Payer, e.Network)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// NewVerifyError builds a *VerifyError. payer may be empty when the payload
// could not be decoded far enough to know who signed it.
func NewVerifyError(reason, payer string, network Network, err error) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Network: network, Err: err}
}

// SettleError is VerifyError plus an optional transaction hash, used when
// the failure happens after broadcast (e.g. the chain reverted it).
type SettleError struct {
	Reason      string
	Payer       string
	Network     Network
	Transaction string
	Err         error
}

func (e *SettleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settle failed: %s (payer=%s network=%s tx=%s): %v", e.Reason, e.Payer, e.Network, e.Transaction, e.Err)
	}
	return fmt.Sprintf("settle failed: %s (payer=%s network=%s tx=%s)", e.Reason, e.Payer, e.Network, e.Transaction)
}

func (e *SettleError) Unwrap() error { return e.Err }

// NewSettleError builds a *SettleError.
func NewSettleError(reason, payer string, network Network, transaction string, err error) *SettleError {
	return &SettleError{Reason: reason, Payer: payer, Network: network, Transaction: transaction, Err: err}
}

package svm

import solana "github.com/gagliardetto/solana-go"

// ATAProgramID is the SPL Associated Token Account program. CreateATA
// support was removed from this scheme version: an instruction targeting
// this program anywhere a transfer is expected is always rejected, and it
// is never implicitly added to an allowlist.
var ATAProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

// InstructionPolicy generalizes the teacher's hardcoded exactly-3-
// instructions check into the configurable allow/deny policy the spec
// requires: wallets like Phantom routinely inject extra instrumentation
// instructions ahead of or after the transfer, so a facilitator has to be
// able to tolerate a bounded, allowlisted set of "extra" program calls
// without widening what can move funds.
type InstructionPolicy struct {
	// AllowAdditionalInstructions permits instructions beyond the required
	// compute-budget pair + transfer, each still checked against
	// AllowedProgramIDs/BlockedProgramIDs.
	AllowAdditionalInstructions bool

	// MaxInstructionCount bounds total instruction count in the
	// transaction, additional or not.
	MaxInstructionCount int

	// AllowedProgramIDs is the explicit allowlist for additional
	// instructions when AllowAdditionalInstructions is true.
	AllowedProgramIDs []solana.PublicKey

	// BlockedProgramIDs always rejects, even if also present in
	// AllowedProgramIDs.
	BlockedProgramIDs []solana.PublicKey

	// RequireFeePayerNotInInstructions rejects any instruction (beyond the
	// implicit fee-payer role itself) whose account list names the fee
	// payer, closing off a class of "drain the facilitator's wallet"
	// attacks via a crafted additional instruction.
	RequireFeePayerNotInInstructions bool

	// MaxComputeUnitLimit caps the parsed SetComputeUnitLimit value.
	MaxComputeUnitLimit uint32

	// MaxComputeUnitPriceMicrolamports caps the parsed SetComputeUnitPrice
	// value; defaults to MaxComputeUnitPriceMicrolamports when zero.
	MaxComputeUnitPriceMicrolamports uint64
}

// DefaultInstructionPolicy matches the spec's stated defaults: additional
// instructions allowed (bounded to 10 total), a one-program allowlist for
// known wallet instrumentation, and fee-payer non-inclusion enforced.
func DefaultInstructionPolicy() InstructionPolicy {
	return InstructionPolicy{
		AllowAdditionalInstructions: true,
		MaxInstructionCount:         10,
		// Phantom's "MemoInstruction"-style wallet-simulation memo program,
		// the one widely-deployed instrumentation program that rides along
		// with Solana Pay / wallet-adapter transfers.
		AllowedProgramIDs:                []solana.PublicKey{solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")},
		BlockedProgramIDs:                nil,
		RequireFeePayerNotInInstructions: true,
		MaxComputeUnitLimit:              1_400_000,
		MaxComputeUnitPriceMicrolamports: MaxComputeUnitPriceMicrolamports,
	}
}

func (p InstructionPolicy) isAllowed(programID solana.PublicKey) bool {
	for _, blocked := range p.BlockedProgramIDs {
		if programID.Equals(blocked) {
			return false
		}
	}
	for _, allowed := range p.AllowedProgramIDs {
		if programID.Equals(allowed) {
			return true
		}
	}
	return false
}

package svm

import (
	"fmt"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
)

// TransferDetails is what CheckInstructions extracts from the validated
// transfer instruction, for the caller to compare against payment
// requirements.
type TransferDetails struct {
	Authority   solana.PublicKey
	Mint        solana.PublicKey
	Destination solana.PublicKey
	Amount      uint64
}

// CheckInstructions validates tx against policy and returns the decoded
// transfer, or an error named after the spec's reason-code table
// (invalid_exact_solana_payload_transaction_instructions_*, etc).
func CheckInstructions(tx *solana.Transaction, feePayer solana.PublicKey, policy InstructionPolicy) (*TransferDetails, error) {
	insts := tx.Message.Instructions
	if len(insts) < 3 {
		return nil, fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_length")
	}
	if len(insts) > policy.MaxInstructionCount {
		return nil, fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_length")
	}

	if err := checkComputeLimit(tx, insts[0], policy); err != nil {
		return nil, err
	}
	if err := checkComputePrice(tx, insts[1], policy); err != nil {
		return nil, err
	}

	transfer, transferIdx, err := findTransfer(tx, insts)
	if err != nil {
		return nil, err
	}

	for i, inst := range insts {
		if i == 0 || i == 1 || i == transferIdx {
			continue
		}
		progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if progID.Equals(ATAProgramID) {
			return nil, fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_ata_create_not_supported")
		}
		if !policy.AllowAdditionalInstructions {
			return nil, fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_not_allowed")
		}
		if !policy.isAllowed(progID) {
			return nil, fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_program_not_allowed")
		}
	}

	if policy.RequireFeePayerNotInInstructions {
		for i, inst := range insts {
			if i == transferIdx {
				continue // the transfer's own authority-vs-fee-payer check happens separately
			}
			accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				continue
			}
			for _, acc := range accounts {
				if acc.PublicKey.Equals(feePayer) {
					return nil, fmt.Errorf("fee_payer_in_instructions")
				}
			}
		}
	}

	if transfer.Authority.Equals(feePayer) {
		return nil, fmt.Errorf("invalid_exact_solana_payload_transaction_fee_payer_transferring_funds")
	}

	return transfer, nil
}

func checkComputeLimit(tx *solana.Transaction, inst solana.CompiledInstruction, policy InstructionPolicy) error {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) || len(inst.Data) < 1 || inst.Data[0] != 2 {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction")
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction")
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction")
	}
	limitInst, ok := decoded.Impl.(*computebudget.SetComputeUnitLimit)
	if !ok {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction")
	}
	if policy.MaxComputeUnitLimit != 0 && limitInst.Units > policy.MaxComputeUnitLimit {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_limit_too_high")
	}
	return nil
}

func checkComputePrice(tx *solana.Transaction, inst solana.CompiledInstruction, policy InstructionPolicy) error {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) || len(inst.Data) < 1 || inst.Data[0] != 3 {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction")
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction")
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction")
	}
	priceInst, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction")
	}
	max := policy.MaxComputeUnitPriceMicrolamports
	if max == 0 {
		max = MaxComputeUnitPriceMicrolamports
	}
	if priceInst.MicroLamports > max {
		return fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction_too_high")
	}
	return nil
}

// findTransfer locates instruction index 2's TransferChecked (SPL-Token or
// Token-2022); the spec requires it land at index 2 specifically, right
// after the two compute-budget instructions.
func findTransfer(tx *solana.Transaction, insts []solana.CompiledInstruction) (*TransferDetails, int, error) {
	const idx = 2
	if idx >= len(insts) {
		return nil, 0, fmt.Errorf("invalid_exact_solana_payload_no_transfer_instruction")
	}
	inst := insts[idx]
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if progID.Equals(ATAProgramID) {
		return nil, 0, fmt.Errorf("invalid_exact_solana_payload_transaction_instructions_ata_create_not_supported")
	}
	if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
		return nil, 0, fmt.Errorf("invalid_exact_solana_payload_no_transfer_instruction")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil || len(accounts) < 4 {
		return nil, 0, fmt.Errorf("invalid_exact_solana_payload_no_transfer_instruction")
	}

	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid_exact_solana_payload_no_transfer_instruction")
	}
	transferChecked, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return nil, 0, fmt.Errorf("invalid_exact_solana_payload_no_transfer_instruction")
	}

	return &TransferDetails{
		Authority:   accounts[3].PublicKey,
		Mint:        accounts[1].PublicKey,
		Destination: transferChecked.GetDestinationAccount().PublicKey,
		Amount:      *transferChecked.Amount,
	}, idx, nil
}

// CheckDestinationATA verifies the transfer's destination account is the
// canonical associated token account for (payTo, mint) — the spec dropped
// in-transaction ATA creation, so the ATA must already exist and match
// exactly.
func CheckDestinationATA(transfer *TransferDetails, payTo, mint solana.PublicKey) error {
	expected, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return fmt.Errorf("invalid_exact_solana_payload_recipient_mismatch")
	}
	if !transfer.Destination.Equals(expected) {
		return fmt.Errorf("invalid_exact_solana_payload_recipient_mismatch")
	}
	return nil
}

// CheckAmount verifies the transferred amount meets the required minimum.
func CheckAmount(transfer *TransferDetails, requiredAmount string) error {
	required, err := strconv.ParseUint(requiredAmount, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid_exact_solana_payload_amount_insufficient")
	}
	if transfer.Amount < required {
		return fmt.Errorf("invalid_exact_solana_payload_amount_insufficient")
	}
	return nil
}

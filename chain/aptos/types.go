package aptos

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	SchemeExact = "exact"

	// EntryFunctionModule and EntryFunctionName are the only entry point
	// this scheme accepts: the standard fungible-asset transfer call.
	EntryFunctionModule = "primary_fungible_store"
	EntryFunctionName   = "transfer"

	payloadVariantEntryFunction = 2

	authenticatorVariantEd25519 = 0
)

// EntryFunctionCall is the decoded, validated payload of a
// 0x1::primary_fungible_store::transfer(asset, recipient, amount) call.
type EntryFunctionCall struct {
	ModuleAddress  [32]byte
	ModuleName     string
	FunctionName   string
	AssetAddress   [32]byte
	RecipientAddr  [32]byte
	Amount         uint64
}

// RawTransaction is the subset of Aptos's RawTransaction the facilitator
// needs: enough to recompute the signing message and to validate the
// entry-function call the payer is asking it to broadcast.
type RawTransaction struct {
	Sender                  [32]byte
	SequenceNumber          uint64
	EntryFunction           EntryFunctionCall
	MaxGasAmount            uint64
	GasUnitPrice            uint64
	ExpirationTimestampSecs uint64
	ChainID                 uint8

	// raw is the original BCS bytes of the transaction (sans any
	// fee-payer trailer), needed to re-derive signing messages.
	raw []byte
}

// Raw returns the original BCS-encoded bytes of the transaction (sans any
// fee-payer trailer), the value VerifySenderSignature and SignAsFeePayer
// sign over.
func (t *RawTransaction) Raw() []byte { return t.raw }

// Envelope is the wire JSON shape the payer submits: base64-encoded BCS
// bytes for the transaction and the sender's authenticator.
type Envelope struct {
	Transaction        string `json:"transaction"`
	SenderAuthenticator string `json:"senderAuthenticator"`
}

// DeserializeTransaction base64-decodes the envelope JSON, then BCS-decodes
// the transaction bytes, stripping the 33-byte fee-payer trailer when
// present (marker byte 1 at len-33, matching the original implementation's
// multi-agent/fee-payer RawTransactionWithData encoding).
func DeserializeTransaction(payload []byte) (*RawTransaction, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil, fmt.Errorf("aptos: decode envelope: %w", err)
	}

	txBytes, err := base64.StdEncoding.DecodeString(env.Transaction)
	if err != nil {
		return nil, nil, fmt.Errorf("aptos: decode transaction b64: %w", err)
	}
	authBytes, err := base64.StdEncoding.DecodeString(env.SenderAuthenticator)
	if err != nil {
		return nil, nil, fmt.Errorf("aptos: decode sender authenticator b64: %w", err)
	}

	if len(txBytes) > 33 && txBytes[len(txBytes)-33] == 1 {
		txBytes = txBytes[:len(txBytes)-33]
	}

	tx, err := decodeRawTransaction(txBytes)
	if err != nil {
		return nil, nil, err
	}
	return tx, authBytes, nil
}

func decodeRawTransaction(b []byte) (*RawTransaction, error) {
	r := newBCSReader(b)

	sender, err := r.readAddress()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode sender: %w", err)
	}
	seq, err := r.readU64()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode sequence_number: %w", err)
	}

	variant, err := r.readULEB128()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode payload variant: %w", err)
	}
	if variant != payloadVariantEntryFunction {
		return nil, fmt.Errorf("invalid_aptos_payload_not_entry_function")
	}
	entry, err := decodeEntryFunction(r)
	if err != nil {
		return nil, err
	}

	maxGas, err := r.readU64()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode max_gas_amount: %w", err)
	}
	gasPrice, err := r.readU64()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode gas_unit_price: %w", err)
	}
	expiry, err := r.readU64()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode expiration_timestamp_secs: %w", err)
	}
	chainID, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode chain_id: %w", err)
	}

	return &RawTransaction{
		Sender:                  sender,
		SequenceNumber:          seq,
		EntryFunction:           *entry,
		MaxGasAmount:            maxGas,
		GasUnitPrice:            gasPrice,
		ExpirationTimestampSecs: expiry,
		ChainID:                 chainID,
		raw:                     b,
	}, nil
}

func decodeEntryFunction(r *bcsReader) (*EntryFunctionCall, error) {
	moduleAddr, err := r.readAddress()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode module address: %w", err)
	}
	moduleName, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode module name: %w", err)
	}
	functionName, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode function name: %w", err)
	}
	if moduleName != EntryFunctionModule || functionName != EntryFunctionName {
		return nil, fmt.Errorf("invalid_aptos_payload_unexpected_entry_function")
	}

	// ty_args: Vec<TypeTag> — transfer<T> carries zero or one type
	// argument (the fungible-asset metadata is passed as a runtime arg,
	// not a type arg, for the primary_fungible_store entry point); we
	// only need to skip over them correctly, not interpret them.
	tyArgCount, err := r.readULEB128()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode ty_args count: %w", err)
	}
	for i := uint64(0); i < tyArgCount; i++ {
		if err := skipTypeTag(r); err != nil {
			return nil, fmt.Errorf("aptos: skip ty_arg: %w", err)
		}
	}

	args, err := r.readVecVecU8()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode args: %w", err)
	}
	if len(args) != 3 {
		return nil, fmt.Errorf("invalid_aptos_payload_wrong_argument_count")
	}

	assetAddr, err := decodeAddressArg(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid_aptos_payload_asset_arg: %w", err)
	}
	recipientAddr, err := decodeAddressArg(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid_aptos_payload_recipient_arg: %w", err)
	}
	amount, err := decodeU64Arg(args[2])
	if err != nil {
		return nil, fmt.Errorf("invalid_aptos_payload_amount_arg: %w", err)
	}

	return &EntryFunctionCall{
		ModuleAddress: moduleAddr,
		ModuleName:    moduleName,
		FunctionName:  functionName,
		AssetAddress:  assetAddr,
		RecipientAddr: recipientAddr,
		Amount:        amount,
	}, nil
}

// decodeAddressArg BCS-decodes an argument that is itself a serialized
// AccountAddress (args in an EntryFunction payload are each independently
// BCS-encoded, so an address arg is `32 raw bytes`, no further prefix).
func decodeAddressArg(arg []byte) ([32]byte, error) {
	var addr [32]byte
	if len(arg) != 32 {
		return addr, fmt.Errorf("expected 32-byte address, got %d bytes", len(arg))
	}
	copy(addr[:], arg)
	return addr, nil
}

func decodeU64Arg(arg []byte) (uint64, error) {
	if len(arg) != 8 {
		return 0, fmt.Errorf("expected 8-byte u64, got %d bytes", len(arg))
	}
	return binary.LittleEndian.Uint64(arg), nil
}

// skipTypeTag advances past a BCS-encoded Move TypeTag without
// interpreting it (only the Struct variant is nontrivially sized; the
// primitives are fixed zero-byte payloads after their discriminant).
func skipTypeTag(r *bcsReader) error {
	variant, err := r.readULEB128()
	if err != nil {
		return err
	}
	switch variant {
	case 0, 1, 2, 3, 4, 8: // bool, u8, u64, u128, address, u16/u32/u64 variants collapse similarly
		return nil
	case 5: // signer — not valid in a call position, but parse shape-compatibly
		return nil
	case 6: // vector<TypeTag>
		return skipTypeTag(r)
	case 7: // struct: address, module name, struct name, Vec<TypeTag>
		if _, err := r.readAddress(); err != nil {
			return err
		}
		if _, err := r.readString(); err != nil {
			return err
		}
		if _, err := r.readString(); err != nil {
			return err
		}
		n, err := r.readULEB128()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipTypeTag(r); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown type tag variant %d", variant)
	}
}

// Ed25519Authenticator is the decoded sender authenticator when it is a
// plain (non-multi, non-fee-payer) Ed25519 signature — the only shape this
// facilitator signs over directly; multi-agent/fee-payer wrapping is
// performed by the facilitator itself during settle, not expected from the
// payer.
type Ed25519Authenticator struct {
	PublicKey ed25519.PublicKey
	Signature []byte
}

// DecodeEd25519Authenticator decodes an AccountAuthenticator, requiring the
// Ed25519 variant (index 0). Other variants (MultiEd25519, MultiAgent,
// FeePayer, SingleKey, MultiKey) are rejected: the original implementation
// only accepts a plain Ed25519-signed sender.
func DecodeEd25519Authenticator(b []byte) (*Ed25519Authenticator, error) {
	r := newBCSReader(b)
	variant, err := r.readULEB128()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode authenticator variant: %w", err)
	}
	if variant != authenticatorVariantEd25519 {
		return nil, fmt.Errorf("invalid_aptos_payload_unsupported_authenticator")
	}
	pub, err := r.readVecU8()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode ed25519 public key: %w", err)
	}
	sig, err := r.readVecU8()
	if err != nil {
		return nil, fmt.Errorf("aptos: decode ed25519 signature: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid_aptos_payload_bad_public_key_length")
	}
	return &Ed25519Authenticator{PublicKey: ed25519.PublicKey(pub), Signature: sig}, nil
}

func hexAddr(addr [32]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

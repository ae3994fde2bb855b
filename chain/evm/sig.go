package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/apitypes"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractReader is the subset of a chain provider's read surface the
// signature verifier needs: querying isValidSignature on a (possibly
// undeployed) contract, and checking whether code exists at an address.
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error)
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// ERC6492Signature is the decoded (factory, factoryCalldata, innerSignature)
// tuple carried by a counterfactual-wallet signature, identified by the
// ERC6492MagicSuffix trailer.
type ERC6492Signature struct {
	Factory         common.Address
	FactoryCalldata []byte
	InnerSignature  []byte
}

// IsERC6492Signature reports whether sig ends in the EIP-6492 magic bytes.
func IsERC6492Signature(sig []byte) bool {
	magic, err := hex.DecodeString(ERC6492MagicSuffix)
	if err != nil || len(sig) < len(magic) {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(sig[len(sig)-len(magic):]), ERC6492MagicSuffix)
}

// ParseERC6492Signature strips the magic suffix and ABI-decodes the
// (address,bytes,bytes) tuple preceding it.
func ParseERC6492Signature(sig []byte) (*ERC6492Signature, error) {
	magic, _ := hex.DecodeString(ERC6492MagicSuffix)
	if !IsERC6492Signature(sig) {
		return nil, errors.New("evm: not an erc-6492 signature")
	}
	body := sig[:len(sig)-len(magic)]

	args := abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("bytes")},
		{Type: mustType("bytes")},
	}
	values, err := args.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("evm: decode erc-6492 wrapper: %w", err)
	}
	return &ERC6492Signature{
		Factory:         values[0].(common.Address),
		FactoryCalldata: values[1].([]byte),
		InnerSignature:  values[2].([]byte),
	}, nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// HashTypedData computes the EIP-712 digest for a domain plus a single
// primary-type message, using go-ethereum's apitypes encoder so nested
// struct types (Permit2's TokenPermissions/Witness) hash identically to
// what a wallet signs.
func HashTypedData(domain TypedDataDomain, schema map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([32]byte, error) {
	td := apitypes.TypedData{
		Types:       apitypes.Types{},
		PrimaryType: primaryType,
		Domain:      apitypes.TypedDataDomain{Name: domain.Name, VerifyingContract: domain.VerifyingContract},
		Message:     message,
	}
	if domain.ChainID != nil {
		td.Domain.ChainId = (*math.HexOrDecimal256)(domain.ChainID)
	}
	if domain.Version != "" {
		td.Domain.Version = domain.Version
	}

	domainFields := EIP712DomainTypes
	if domain.Version == "" {
		domainFields = Permit2DomainTypes
	}
	td.Types["EIP712Domain"] = toApiFields(domainFields)
	for name, fields := range schema {
		td.Types[name] = toApiFields(fields)
	}

	hash, err := td.HashStruct(primaryType, td.Message)
	if err != nil {
		return [32]byte{}, err
	}
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return [32]byte{}, err
	}
	digest := crypto.Keccak256(append([]byte{0x19, 0x01}, append(domainSeparator, hash...)...))
	var out [32]byte
	copy(out[:], digest)
	return out, nil
}

func toApiFields(fields []TypedDataField) []apitypes.Type {
	out := make([]apitypes.Type, len(fields))
	for i, f := range fields {
		out[i] = apitypes.Type{Name: f.Name, Type: f.Type}
	}
	return out
}

// HashEIP3009Authorization computes the digest signed over a
// transferWithAuthorization call: EIP-712(domain, TransferWithAuthorization{...}).
func HashEIP3009Authorization(domain TypedDataDomain, from, to common.Address, value *big.Int, validAfter, validBefore int64, nonce [32]byte) ([32]byte, error) {
	typeHash := crypto.Keccak256([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
	structHash := crypto.Keccak256(
		typeHash,
		common.LeftPadBytes(from.Bytes(), 32),
		common.LeftPadBytes(to.Bytes(), 32),
		common.LeftPadBytes(value.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(validAfter).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(validBefore).Bytes(), 32),
		nonce[:],
	)
	domainSeparator, err := hashDomain(domain, true)
	if err != nil {
		return [32]byte{}, err
	}
	digest := crypto.Keccak256(append([]byte{0x19, 0x01}, append(domainSeparator, structHash...)...))
	var out [32]byte
	copy(out[:], digest)
	return out, nil
}

func hashDomain(domain TypedDataDomain, withVersion bool) ([]byte, error) {
	if withVersion {
		typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
		return crypto.Keccak256(
			typeHash,
			crypto.Keccak256([]byte(domain.Name)),
			crypto.Keccak256([]byte(domain.Version)),
			common.LeftPadBytes(domain.ChainID.Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(domain.VerifyingContract).Bytes(), 32),
		), nil
	}
	typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	return crypto.Keccak256(
		typeHash,
		crypto.Keccak256([]byte(domain.Name)),
		common.LeftPadBytes(domain.ChainID.Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(domain.VerifyingContract).Bytes(), 32),
	), nil
}

// VerifyUniversalSignature validates sig over digest against expectedSigner,
// accepting three signer shapes in order: a plain ECDSA (EOA) signature; an
// EIP-1271 contract signature (isValidSignature on deployed code); and an
// EIP-6492 counterfactual-wallet signature, where allowUndeployed permits
// the wallet's code to not exist yet (the settle path deploys it before
// broadcasting the payment transaction).
func VerifyUniversalSignature(ctx context.Context, reader ContractReader, expectedSigner common.Address, digest [32]byte, sig []byte, allowUndeployed bool) error {
	if len(sig) == 65 {
		if ok, err := verifyECDSA(expectedSigner, digest, sig); err == nil && ok {
			return nil
		}
	}

	if IsERC6492Signature(sig) {
		wrapped, err := ParseERC6492Signature(sig)
		if err != nil {
			return err
		}
		code, err := reader.GetCode(ctx, expectedSigner.Hex())
		if err != nil {
			return fmt.Errorf("evm: get code: %w", err)
		}
		if len(code) == 0 && !allowUndeployed {
			return errors.New(ErrUndeployedSmartWallet)
		}
		if len(code) == 0 {
			// Not yet deployed: nothing to call isValidSignature against.
			// The caller (settle) is responsible for deploying via
			// wrapped.Factory/FactoryCalldata before broadcasting, and we
			// accept the signature provisionally — verify is re-run after
			// deployment in practice, but for a pure verify() call (no
			// broadcast) this is the best check available.
			if len(wrapped.InnerSignature) == 65 {
				return tryECDSA(expectedSigner, digest, wrapped.InnerSignature)
			}
			return nil
		}
		return verifyEIP1271(ctx, reader, expectedSigner.Hex(), digest, wrapped.InnerSignature)
	}

	return verifyEIP1271(ctx, reader, expectedSigner.Hex(), digest, sig)
}

func tryECDSA(expectedSigner common.Address, digest [32]byte, sig []byte) error {
	ok, err := verifyECDSA(expectedSigner, digest, sig)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("evm: signature does not match expected signer")
	}
	return nil
}

func verifyECDSA(expectedSigner common.Address, digest [32]byte, sig []byte) (bool, error) {
	if len(sig) != 65 {
		return false, errors.New("evm: expected 65-byte ecdsa signature")
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return false, err
	}
	return crypto.PubkeyToAddress(*pub) == expectedSigner, nil
}

func verifyEIP1271(ctx context.Context, reader ContractReader, contract string, digest [32]byte, sig []byte) error {
	out, err := reader.ReadContract(ctx, contract, IsValidSignatureABI, "isValidSignature", digest, sig)
	if err != nil {
		return fmt.Errorf("evm: isValidSignature call: %w", err)
	}
	if len(out) == 0 {
		return errors.New("evm: isValidSignature returned no value")
	}
	magicValue, ok := out[0].([4]byte)
	if !ok {
		return errors.New("evm: unexpected isValidSignature return type")
	}
	want, _ := hex.DecodeString(strings.TrimPrefix(EIP1271MagicValue, "0x"))
	if !strings.EqualFold(hex.EncodeToString(magicValue[:]), hex.EncodeToString(want)) {
		return errors.New("evm: isValidSignature returned wrong magic value")
	}
	return nil
}

// SplitVRS splits a 65-byte EOA signature into the (v, r, s) triple used by
// the 9-arg transferWithAuthorization overload.
func SplitVRS(sig []byte) (v uint8, r, s [32]byte, err error) {
	if len(sig) != 65 {
		return 0, r, s, errors.New("evm: expected 65-byte signature")
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

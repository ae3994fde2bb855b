package aptos

import (
	"bytes"
	"crypto/ed25519"

	"golang.org/x/crypto/sha3"
)

// Signing messages are domain-separated: sha3_256(name) as a 32-byte
// prefix, followed by the BCS bytes of the value being signed. See
// aptos-core's CryptoHasher derive for RawTransaction / RawTransactionWithData.
var (
	rawTransactionSalt         = sha3_256([]byte("APTOS::RawTransaction"))
	rawTransactionWithDataSalt = sha3_256([]byte("APTOS::RawTransactionWithData"))
)

func sha3_256(b []byte) []byte {
	h := sha3.New256()
	h.Write(b)
	return h.Sum(nil)
}

func signingMessage(salt []byte, bcsBytes []byte) []byte {
	return append(append([]byte{}, salt...), bcsBytes...)
}

// feePayerWithDataMessage builds the BCS encoding of
// RawTransactionWithData::FeePayer{raw_txn, secondary_signer_addresses: [],
// secondary_signers: [], fee_payer_address}, the value the facilitator
// signs over when co-signing a sponsored transaction.
func feePayerWithDataMessage(rawTxnBytes []byte, feePayerAddr [32]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(1) // RawTransactionWithData variant index for FeePayer
	buf.Write(rawTxnBytes)
	buf.WriteByte(0) // secondary_signer_addresses: empty vec
	buf.WriteByte(0) // secondary_signers: empty vec
	buf.Write(feePayerAddr[:])
	return buf.Bytes()
}

// SignAsFeePayer produces the facilitator's Ed25519 signature over a
// sponsored transaction, co-signing alongside the payer's own sender
// authenticator.
func SignAsFeePayer(rawTxnBytes []byte, feePayerAddr [32]byte, feePayerKey ed25519.PrivateKey) []byte {
	msg := signingMessage(rawTransactionWithDataSalt, feePayerWithDataMessage(rawTxnBytes, feePayerAddr))
	return ed25519.Sign(feePayerKey, msg)
}

// VerifySenderSignature checks the payer's Ed25519 signature over the
// plain (non-sponsored) signing message.
func VerifySenderSignature(rawTxnBytes []byte, auth *Ed25519Authenticator) bool {
	msg := signingMessage(rawTransactionSalt, rawTxnBytes)
	return ed25519.Verify(auth.PublicKey, msg, auth.Signature)
}

func encodeULEB128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func encodeVecU8(b []byte) []byte {
	return append(encodeULEB128(uint64(len(b))), b...)
}

// encodeEd25519Authenticator BCS-encodes AccountAuthenticator::Ed25519.
func encodeEd25519Authenticator(auth *Ed25519Authenticator) []byte {
	var buf bytes.Buffer
	buf.WriteByte(authenticatorVariantEd25519)
	buf.Write(encodeVecU8(auth.PublicKey))
	buf.Write(encodeVecU8(auth.Signature))
	return buf.Bytes()
}

// encodeFeePayerAuthenticator BCS-encodes
// TransactionAuthenticator::FeePayer{sender, secondary_signer_addresses: [],
// secondary_signers: [], fee_payer_address, fee_payer_signer}.
func encodeFeePayerAuthenticator(sender *Ed25519Authenticator, feePayerAddr [32]byte, feePayerAuth *Ed25519Authenticator) []byte {
	var buf bytes.Buffer
	buf.WriteByte(3) // TransactionAuthenticator::FeePayer variant index
	buf.Write(encodeEd25519Authenticator(sender))
	buf.WriteByte(0) // secondary_signer_addresses: empty vec
	buf.WriteByte(0) // secondary_signers: empty vec
	buf.Write(feePayerAddr[:])
	buf.Write(encodeEd25519Authenticator(feePayerAuth))
	return buf.Bytes()
}

// encodeEd25519TransactionAuthenticator BCS-encodes
// TransactionAuthenticator::Ed25519{public_key, signature} (the plain,
// non-sponsored submission shape).
func encodeEd25519TransactionAuthenticator(auth *Ed25519Authenticator) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0) // TransactionAuthenticator::Ed25519 variant index
	buf.Write(encodeVecU8(auth.PublicKey))
	buf.Write(encodeVecU8(auth.Signature))
	return buf.Bytes()
}

// EncodeSignedTransaction concatenates the raw transaction bytes with its
// transaction authenticator — BCS serializes SignedTransaction as the two
// fields in declaration order, no wrapping discriminant.
func EncodeSignedTransaction(rawTxnBytes []byte, authenticator []byte) []byte {
	return append(append([]byte{}, rawTxnBytes...), authenticator...)
}

package aptos

import (
	"encoding/binary"
	"fmt"
)

// bcsReader is a minimal decoder for the subset of Move's Binary Canonical
// Serialization this package needs (RawTransaction, EntryFunction payloads,
// Ed25519 account authenticators). No Go BCS library exists anywhere we
// could ground this on, so it is hand-rolled directly against the format
// described by aptos-core's bcs crate: ULEB128 length prefixes, fixed-width
// integers little-endian, no padding.
type bcsReader struct {
	buf []byte
	pos int
}

func newBCSReader(buf []byte) *bcsReader {
	return &bcsReader{buf: buf}
}

func (r *bcsReader) remaining() int { return len(r.buf) - r.pos }

func (r *bcsReader) readBytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("aptos: bcs: need %d bytes, have %d", n, r.remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *bcsReader) readByte() (byte, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *bcsReader) readU32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *bcsReader) readU64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readULEB128 decodes a BCS length prefix (used for vectors, strings, and
// enum variant indices).
func (r *bcsReader) readULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("aptos: bcs: uleb128 overflow")
		}
	}
}

func (r *bcsReader) readVecU8() ([]byte, error) {
	n, err := r.readULEB128()
	if err != nil {
		return nil, err
	}
	return r.readBytes(int(n))
}

func (r *bcsReader) readString() (string, error) {
	b, err := r.readVecU8()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *bcsReader) readAddress() ([32]byte, error) {
	var addr [32]byte
	b, err := r.readBytes(32)
	if err != nil {
		return addr, err
	}
	copy(addr[:], b)
	return addr, nil
}

// readVecVecU8 decodes Vec<Vec<u8>> (the entry function's BCS-encoded
// argument list: each argument is itself pre-serialized bytes).
func (r *bcsReader) readVecVecU8() ([][]byte, error) {
	n, err := r.readULEB128()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		b, err := r.readVecU8()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

package nodeclient

import (
	"encoding/binary"
	"fmt"

	"github.com/paritytech/stps-go/internal/domain"
)

// This file implements the handful of SCALE (Simple Concatenated
// Aggregate Little-Endian) primitives the decoder and transaction
// builder need: compact integers and fixed-width little-endian
// integers, directly on stdlib encoding/binary.

// EncodeCompact encodes u as a SCALE compact integer.
func EncodeCompact(u uint64) []byte {
	switch {
	case u < 1<<6:
		return []byte{byte(u) << 2}
	case u < 1<<14:
		v := uint16(u)<<2 | 0b01
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		return b
	case u < 1<<30:
		v := uint32(u)<<2 | 0b10
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	default:
		// Big-integer mode: length byte (number of following bytes minus
		// 4, shifted into the mode bits) followed by little-endian bytes.
		var raw []byte
		tmp := u
		for tmp > 0 {
			raw = append(raw, byte(tmp))
			tmp >>= 8
		}
		if len(raw) == 0 {
			raw = []byte{0}
		}
		header := byte(len(raw)-4)<<2 | 0b11
		return append([]byte{header}, raw...)
	}
}

// DecodeCompact decodes a SCALE compact integer from the front of b,
// returning the value and the number of bytes consumed.
func DecodeCompact(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("nodeclient: %w: empty compact int", domain.ErrDecodeFailed)
	}
	mode := b[0] & 0b11
	switch mode {
	case 0b00:
		return uint64(b[0] >> 2), 1, nil
	case 0b01:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("nodeclient: %w: truncated 2-byte compact int", domain.ErrDecodeFailed)
		}
		v := binary.LittleEndian.Uint16(b[:2])
		return uint64(v >> 2), 2, nil
	case 0b10:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("nodeclient: %w: truncated 4-byte compact int", domain.ErrDecodeFailed)
		}
		v := binary.LittleEndian.Uint32(b[:4])
		return uint64(v >> 2), 4, nil
	default:
		n := int(b[0]>>2) + 4
		if len(b) < 1+n {
			return 0, 0, fmt.Errorf("nodeclient: %w: truncated big-integer compact int", domain.ErrDecodeFailed)
		}
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[1+i])
		}
		return v, 1 + n, nil
	}
}

// EncodeU32 / EncodeU64 encode fixed-width little-endian integers.
func EncodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func EncodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// EncodeU128 encodes a uint64 amount as a 16-byte little-endian u128,
// zero-extended, sufficient for the amounts this load tester produces.
func EncodeU128(v uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[:8], v)
	return b
}

// EncodeBytesWithLength SCALE-encodes a byte slice as a compact length
// prefix followed by the raw bytes, for variable-length data. Fixed-size
// arrays such as AccountId32/H160 are not encoded through it: they go
// on the wire as-is, with no length prefix.
func EncodeBytesWithLength(b []byte) []byte {
	out := EncodeCompact(uint64(len(b)))
	return append(out, b...)
}

// DecodeBytesWithLength reads a compact-length-prefixed byte blob from
// the front of b, returning the blob itself and the total number of
// bytes consumed (prefix plus payload).
func DecodeBytesWithLength(b []byte) ([]byte, int, error) {
	length, n, err := DecodeCompact(b)
	if err != nil {
		return nil, 0, fmt.Errorf("nodeclient: %w: length prefix", domain.ErrDecodeFailed)
	}
	end := n + int(length)
	if end > len(b) {
		return nil, 0, fmt.Errorf("nodeclient: %w: truncated byte blob", domain.ErrDecodeFailed)
	}
	return b[n:end], end, nil
}

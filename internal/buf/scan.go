// Package buf contains word-at-a-time helpers for byte control vectors.
package buf

import (
	"encoding/binary"
	"math/bits"
)

// Lanes is the number of bytes compared per step.
const Lanes = 8

const (
	lo = 0x0101010101010101
	hi = 0x8080808080808080
)

// U64LE reads a little-endian uint64 from b. Returns 0 when b is too short.
func U64LE(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// match returns a mask with the high bit set in every byte of w equal to the
// byte broadcast in pattern. Bytes above a true match may be flagged as well,
// but the lowest flagged byte is always a true match.
func match(w, pattern uint64) uint64 {
	x := w ^ pattern
	return (x - lo) &^ x & hi
}

// IndexByte returns the index of the first c in b, or -1.
//
// b is compared Lanes bytes at a time; the len(b)%Lanes tail is scanned
// byte by byte.
func IndexByte(b []byte, c byte) int {
	pattern := lo * uint64(c)
	n := len(b) - len(b)%Lanes
	for i := 0; i < n; i += Lanes {
		if m := match(U64LE(b[i:]), pattern); m != 0 {
			return i + bits.TrailingZeros64(m)/8
		}
	}
	for i := n; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// Contains reports whether c occurs in b.
func Contains(b []byte, c byte) bool {
	return IndexByte(b, c) >= 0
}

// Fill sets every byte of b to c.
func Fill(b []byte, c byte) {
	for i := range b {
		b[i] = c
	}
}

package types

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ByteString is a fixed-width, lexicographically-ordered byte sequence used
// as a radix-tree key, per spec.md §3/§4.3. Comparison is plain memcmp.
type ByteString []byte

// CompareBytes implements the tree's key ordering: unsigned byte sequence
// comparison, matching byte_string.cc.
func CompareBytes(a, b ByteString) int { return bytes.Compare(a, b) }

// Inc returns a new ByteString one unit greater than b, used to turn a
// strict '>' bound into an inclusive lower bound (byte_string::operator++
// with carry propagation from the least significant byte).
func Inc(b ByteString) ByteString {
	out := append(ByteString(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

// Dec returns a new ByteString one unit less than b, the borrow-propagating
// counterpart of Inc (byte_string::operator--), used to turn a strict '<'
// bound into an inclusive upper bound.
func Dec(b ByteString) ByteString {
	out := append(ByteString(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]--
		if out[i] != 0xFF {
			break
		}
	}
	return out
}

// MinKey and MaxKey return the all-zero / all-0xFF keys of the given byte
// width, used as unbounded range ends by the query planner.
func MinKey(width int) ByteString { return make(ByteString, width) }
func MaxKey(width int) ByteString {
	k := make(ByteString, width)
	for i := range k {
		k[i] = 0xFF
	}
	return k
}

// KeyTransform converts a Numeric into its order-preserving radix key: for
// signed integers the sign bit is flipped so two's-complement order matches
// unsigned lexicographic order; unsigned integers are used as-is; floats get
// IEEE-754 order-preserving bit mangling (flip sign bit if positive, flip
// all bits if negative) and are quantized by bucketSize before encoding;
// strings are truncated/padded to width bytes.
func KeyTransform(n Numeric, bucketSize float64, width int) ByteString {
	switch n.ID() {
	case Bool, Char, UChar:
		return ByteString{byte(n.raw)}
	case Short:
		return beUint16(flipSign16(uint16(n.raw)))
	case UShort:
		return beUint16(uint16(n.raw))
	case Int:
		return beUint32(flipSign32(uint32(n.raw)))
	case UInt:
		return beUint32(uint32(n.raw))
	case Long:
		return beUint64(flipSign64(n.raw))
	case ULong:
		return beUint64(n.raw)
	case Float:
		q := quantize(float64(n.AsFloat32()), bucketSize)
		return beUint32(orderPreservingFloatBits(math.Float32bits(float32(q))))
	case Double:
		q := quantize(n.AsFloat64(), bucketSize)
		return beUint64(orderPreservingDoubleBits(math.Float64bits(q)))
	case String:
		return padOrTruncate(n.str, width)
	default:
		return nil
	}
}

func quantize(v, bucketSize float64) float64 {
	if bucketSize <= 0 {
		return v
	}
	return math.Floor(v/bucketSize) * bucketSize
}

func flipSign16(v uint16) uint16 { return v ^ 0x8000 }
func flipSign32(v uint32) uint32 { return v ^ 0x80000000 }
func flipSign64(v uint64) uint64 { return v ^ 0x8000000000000000 }

// orderPreservingFloatBits maps IEEE-754 bits to an order-preserving
// unsigned encoding: flip the sign bit for positive numbers, flip every bit
// for negative numbers.
func orderPreservingFloatBits(bits uint32) uint32 {
	if bits&0x80000000 != 0 {
		return ^bits
	}
	return bits | 0x80000000
}

func orderPreservingDoubleBits(bits uint64) uint64 {
	if bits&0x8000000000000000 != 0 {
		return ^bits
	}
	return bits | 0x8000000000000000
}

func beUint16(v uint16) ByteString {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
func beUint32(v uint32) ByteString {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
func beUint64(v uint64) ByteString {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func padOrTruncate(s []byte, width int) ByteString {
	out := make([]byte, width)
	n := copy(out, s)
	_ = n
	return out
}

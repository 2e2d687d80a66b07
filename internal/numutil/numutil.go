// Package numutil holds small integer helpers: expression-literal parsing,
// bucket-count and trigger-window arithmetic, and overflow-checked add and
// multiply.
// Adapted from erigon-lib/common/math/integer.go, trimmed to the pieces
// this module actually needs.
package numutil

import "math/bits"

// ParseUint64 parses s as a decimal or 0x-prefixed hexadecimal integer.
// The empty string parses as zero, matching expression-literal parsing's
// tolerance for an absent value.
func ParseUint64(s string) (uint64, bool) {
	if s == "" {
		return 0, true
	}
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err := parseUintBase(s[2:], 16)
		return v, err
	}
	v, err := parseUintBase(s, 10)
	return v, err
}

func parseUintBase(s string, base int) (uint64, bool) {
	var v uint64
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case base == 16 && c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case base == 16 && c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, false
		}
		if d >= uint64(base) {
			return 0, false
		}
		v = v*uint64(base) + d
	}
	return v, true
}

// CeilDiv returns ceil(x/y), used to convert a byte capacity into a bucket
// count.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// AbsoluteDifference returns |x-y| without the int64 overflow a naive
// subtraction risks for the full uint64 range, used by the trigger
// window calculation.
func AbsoluteDifference(x, y uint64) uint64 {
	if x > y {
		return x - y
	}
	return y - x
}

// SafeAdd returns x+y and whether it overflowed.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carry := bits.Add64(x, y, 0)
	return sum, carry != 0
}

// SafeMul returns x*y and whether it overflowed.
func SafeMul(x, y uint64) (uint64, bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

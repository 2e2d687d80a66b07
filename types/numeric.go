package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/internal/numutil"
)

// Numeric is a typed value as described in spec.md §4.5: a type tag plus a
// raw payload. Integral kinds are held sign/zero-extended into raw; Float
// and Double are held as bit patterns; String holds its bytes directly.
type Numeric struct {
	id  ID
	raw uint64 // bit pattern for integers/float/double
	str []byte // payload for String; nil otherwise
}

// Zero returns the additive identity for id, used as an aggregator's zero
// value and as the "no update seen yet" sentinel in aggregate chains.
func Zero(id ID) Numeric { return Numeric{id: id} }

func FromBool(v bool) Numeric {
	var r uint64
	if v {
		r = 1
	}
	return Numeric{id: Bool, raw: r}
}
func FromInt64(id ID, v int64) Numeric  { return Numeric{id: id, raw: uint64(v)} }
func FromUint64(id ID, v uint64) Numeric { return Numeric{id: id, raw: v} }
func FromFloat32(v float32) Numeric     { return Numeric{id: Float, raw: uint64(math.Float32bits(v))} }
func FromFloat64(v float64) Numeric     { return Numeric{id: Double, raw: math.Float64bits(v)} }
func FromString(v string) Numeric       { return Numeric{id: String, str: []byte(v)} }

func (n Numeric) ID() ID { return n.id }

func (n Numeric) IsNone() bool { return n.id == None }

func (n Numeric) AsInt64() int64     { return int64(n.raw) }
func (n Numeric) AsUint64() uint64   { return n.raw }
func (n Numeric) AsFloat32() float32 { return math.Float32frombits(uint32(n.raw)) }
func (n Numeric) AsFloat64() float64 { return math.Float64frombits(n.raw) }
func (n Numeric) AsString() string   { return string(n.str) }

func (n Numeric) asFloat() float64 {
	switch n.id {
	case Float:
		return float64(n.AsFloat32())
	case Double:
		return n.AsFloat64()
	case UInt, ULong, UChar, UShort, Bool:
		return float64(n.raw)
	default:
		return float64(int64(n.raw))
	}
}

func isUnsignedKind(id ID) bool {
	switch id {
	case Bool, UChar, UShort, UInt, ULong:
		return true
	default:
		return false
	}
}

func isFloatKind(id ID) bool { return id == Float || id == Double }

// RelOp is a relational operator as parsed by the expression grammar.
type RelOp int

const (
	Lt RelOp = iota
	Le
	Gt
	Ge
	Eq
	Ne
)

func ParseRelOp(s string) (RelOp, bool) {
	switch s {
	case "<":
		return Lt, true
	case "<=":
		return Le, true
	case ">":
		return Gt, true
	case ">=":
		return Ge, true
	case "==":
		return Eq, true
	case "!=":
		return Ne, true
	default:
		return 0, false
	}
}

func (op RelOp) String() string {
	return [...]string{"<", "<=", ">", ">=", "==", "!="}[op]
}

// Compare evaluates a relop between two numerics, promoting both to the
// greater type id first, matching numeric::relop's promote-then-dispatch.
func Compare(op RelOp, a, b Numeric) (bool, error) {
	if a.IsNone() || b.IsNone() {
		return false, errtype.New(errtype.InvalidCast, "relop on none-typed value")
	}
	if a.id == String || b.id == String {
		if a.id != String || b.id != String {
			return false, errtype.New(errtype.InvalidCast, "cannot compare string with numeric")
		}
		c := strings.Compare(a.AsString(), b.AsString())
		return applyCmp(op, c), nil
	}
	t := Promote(a.id, b.id)
	if isFloatKind(t) {
		fa, fb := a.asFloat(), b.asFloat()
		var c int
		switch {
		case fa < fb:
			c = -1
		case fa > fb:
			c = 1
		}
		return applyCmp(op, c), nil
	}
	if isUnsignedKind(t) {
		ua, ub := a.raw, b.raw
		var c int
		switch {
		case ua < ub:
			c = -1
		case ua > ub:
			c = 1
		}
		return applyCmp(op, c), nil
	}
	ia, ib := a.AsInt64(), b.AsInt64()
	var c int
	switch {
	case ia < ib:
		c = -1
	case ia > ib:
		c = 1
	}
	return applyCmp(op, c), nil
}

func applyCmp(op RelOp, c int) bool {
	switch op {
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	default:
		return false
	}
}

// BinOp is an arithmetic binary operator used by aggregators (sum/min/max).
type BinOp int

const (
	Add BinOp = iota
	Min
	Max
)

// Binary applies op to a and b after promoting both to the larger type,
// matching numeric::binaryop.
func Binary(op BinOp, a, b Numeric) (Numeric, error) {
	if a.IsNone() {
		return b, nil
	}
	if b.IsNone() {
		return a, nil
	}
	t := Promote(a.id, b.id)
	if isFloatKind(t) {
		fa, fb := a.asFloat(), b.asFloat()
		var r float64
		switch op {
		case Add:
			r = fa + fb
		case Min:
			r = math.Min(fa, fb)
		case Max:
			r = math.Max(fa, fb)
		}
		if t == Float {
			return FromFloat32(float32(r)), nil
		}
		return FromFloat64(r), nil
	}
	if isUnsignedKind(t) {
		ua, ub := a.raw, b.raw
		var r uint64
		switch op {
		case Add:
			r = ua + ub
		case Min:
			if ua < ub {
				r = ua
			} else {
				r = ub
			}
		case Max:
			if ua > ub {
				r = ua
			} else {
				r = ub
			}
		}
		return Numeric{id: t, raw: r}, nil
	}
	ia, ib := a.AsInt64(), b.AsInt64()
	var r int64
	switch op {
	case Add:
		r = ia + ib
	case Min:
		if ia < ib {
			r = ia
		} else {
			r = ib
		}
	case Max:
		if ia > ib {
			r = ia
		} else {
			r = ib
		}
	}
	return Numeric{id: t, raw: uint64(r)}, nil
}

// CountOne returns the ULong value 1, used by the count aggregator's
// seq_op (count_agg = a + count_one()).
func CountOne() Numeric { return Numeric{id: ULong, raw: 1} }

// ParseLiteral parses a grammar `value` token into a Numeric of the given
// target type, per the expression grammar's `value` production.
func ParseLiteral(id ID, lit string) (Numeric, error) {
	lit = strings.Trim(lit, `"`)
	switch id {
	case Bool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return Numeric{}, errtype.Wrap(errtype.ParseError, "invalid bool literal "+lit, err)
		}
		return FromBool(b), nil
	case Char, Short, Int, Long:
		v, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return Numeric{}, errtype.Wrap(errtype.ParseError, "invalid int literal "+lit, err)
		}
		return FromInt64(id, v), nil
	case UChar, UShort, UInt, ULong:
		// Accepts both decimal and 0x-prefixed hex literals, widening the
		// expression grammar's `value` production beyond strconv's
		// single-base parsing.
		v, ok := numutil.ParseUint64(lit)
		if !ok {
			return Numeric{}, errtype.New(errtype.ParseError, "invalid uint literal "+lit)
		}
		return FromUint64(id, v), nil
	case Float:
		v, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return Numeric{}, errtype.Wrap(errtype.ParseError, "invalid float literal "+lit, err)
		}
		return FromFloat32(float32(v)), nil
	case Double:
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Numeric{}, errtype.Wrap(errtype.ParseError, "invalid double literal "+lit, err)
		}
		return FromFloat64(v), nil
	case String:
		return FromString(lit), nil
	default:
		return Numeric{}, errtype.New(errtype.InvalidCast, fmt.Sprintf("cannot parse literal of type %s", id))
	}
}

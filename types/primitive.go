// Package types implements the primitive value model described in spec.md
// §3/§4.5: a fixed table of primitive types ordered by promotion rank, a
// Numeric value carrying a type tag, and byte-string keys with an
// order-preserving key_transform for the radix index. This is grounded on
// libconfluo/src/types/{numeric,type_properties,byte_string}.cc.
package types

import "fmt"

// ID is a primitive type tag. Its numeric value IS its promotion rank:
// binary ops promote both operands to the larger ID, matching
// type_properties.cc's init_primitives() ordering.
type ID int

const (
	None ID = iota
	Bool
	Char
	UChar
	Short
	UShort
	Int
	UInt
	Long
	ULong
	Float
	Double
	String
)

// Size returns the fixed byte width of the type, or for String the
// configured max width (callers of String must track width separately; the
// table below stores only the non-String sizes).
func (id ID) Size(strWidth int) int {
	switch id {
	case None:
		return 0
	case Bool, Char, UChar:
		return 1
	case Short, UShort:
		return 2
	case Int, UInt, Float:
		return 4
	case Long, ULong, Double:
		return 8
	case String:
		return strWidth
	default:
		return 0
	}
}

func (id ID) String() string {
	switch id {
	case None:
		return "none"
	case Bool:
		return "bool"
	case Char:
		return "char"
	case UChar:
		return "uchar"
	case Short:
		return "short"
	case UShort:
		return "ushort"
	case Int:
		return "int"
	case UInt:
		return "uint"
	case Long:
		return "long"
	case ULong:
		return "ulong"
	case Float:
		return "float"
	case Double:
		return "double"
	case String:
		return "string"
	default:
		return fmt.Sprintf("ID(%d)", int(id))
	}
}

// Promote returns the greater-rank of the two types per the promotion
// lattice: bool < char/uchar < short/ushort < int/uint < long/ulong < float
// < double < string. None never participates in arithmetic.
func Promote(a, b ID) ID {
	if a > b {
		return a
	}
	return b
}

// ParseID maps a schema column type name, written all upper-case or all
// lower-case, to an ID.
func ParseID(name string) (ID, bool) {
	switch name {
	case "BOOL", "bool":
		return Bool, true
	case "CHAR", "char":
		return Char, true
	case "UCHAR", "uchar":
		return UChar, true
	case "SHORT", "short":
		return Short, true
	case "USHORT", "ushort":
		return UShort, true
	case "INT", "int":
		return Int, true
	case "UINT", "uint":
		return UInt, true
	case "LONG", "long":
		return Long, true
	case "ULONG", "ulong":
		return ULong, true
	case "FLOAT", "float":
		return Float, true
	case "DOUBLE", "double":
		return Double, true
	case "STRING", "string":
		return String, true
	default:
		return None, false
	}
}

package parser

import (
	"sort"
	"strconv"
	"strings"

	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/schema"
	"github.com/confluo-db/confluo/types"
)

// CompiledPredicate stores the column index resolved at compile time, the
// relop, and an immutable, typed value, per spec.md §4.4.
type CompiledPredicate struct {
	ColumnIdx int
	ColumnID  types.ID
	Op        types.RelOp
	Value     types.Numeric
}

// Minterm is a conjunction of predicates, canonicalized to remove
// duplicates within it.
type Minterm []CompiledPredicate

// CompiledExpr is the whole expression in disjunctive normal form: true iff
// any Minterm is true; a Minterm is true iff every predicate in it is true.
// An expression with zero minterms is empty and matches everything, per
// spec.md §4.4.
type CompiledExpr struct {
	Minterms []Minterm
}

// Compile parses s, pushes negation to the leaves, and distributes the
// result into DNF against sc's columns.
func Compile(s string, sc *schema.Schema) (*CompiledExpr, error) {
	if s == "" {
		return &CompiledExpr{}, nil
	}
	ast, err := ParseExpr(s)
	if err != nil {
		return nil, err
	}
	nnf := pushNegation(ast, false)
	raw, err := toDNF(nnf, sc)
	if err != nil {
		return nil, err
	}
	return &CompiledExpr{Minterms: canonicalize(raw)}, nil
}

// toDNF distributes And over Or bottom-up, producing a list of minterms
// (each a list of compiled predicates), resolving column names and literal
// types against sc as it goes.
func toDNF(e Expr, sc *schema.Schema) ([]Minterm, error) {
	switch n := e.(type) {
	case PredExpr:
		col, err := sc.ColumnByName(n.Ident)
		if err != nil {
			return nil, err
		}
		val, err := types.ParseLiteral(col.Type, n.Value)
		if err != nil {
			return nil, err
		}
		return []Minterm{{CompiledPredicate{ColumnIdx: col.Idx, ColumnID: col.Type, Op: n.Op, Value: val}}}, nil
	case OrExpr:
		var out []Minterm
		for _, t := range n.Terms {
			sub, err := toDNF(t, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	case AndExpr:
		acc := []Minterm{{}}
		for _, f := range n.Factors {
			sub, err := toDNF(f, sc)
			if err != nil {
				return nil, err
			}
			var next []Minterm
			for _, a := range acc {
				for _, b := range sub {
					merged := make(Minterm, 0, len(a)+len(b))
					merged = append(merged, a...)
					merged = append(merged, b...)
					next = append(next, merged)
				}
			}
			acc = next
		}
		return acc, nil
	case NotExpr:
		return nil, errtype.New(errtype.ParseError, "negation normal form conversion left a Not node")
	default:
		return nil, errtype.New(errtype.ParseError, "unrecognized expression node")
	}
}

// canonicalize removes duplicate predicates within each minterm, then drops
// any minterm whose predicate set equals an earlier one's, per spec.md §4.4.
// Numeric carries a byte slice for String values, so predicates are keyed
// by a derived comparable tuple rather than used as a map key directly.
func canonicalize(minterms []Minterm) []Minterm {
	type key struct {
		col int
		op  types.RelOp
		val string
	}
	out := make([]Minterm, 0, len(minterms))
	seenMinterms := make(map[string]struct{}, len(minterms))
	for _, m := range minterms {
		seen := make(map[key]struct{}, len(m))
		dedup := make(Minterm, 0, len(m))
		for _, p := range m {
			k := key{col: p.ColumnIdx, op: p.Op, val: numericKey(p.Value)}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			dedup = append(dedup, p)
		}
		parts := make([]string, 0, len(dedup))
		for _, p := range dedup {
			parts = append(parts, strconv.Itoa(p.ColumnIdx)+"|"+strconv.Itoa(int(p.Op))+"|"+numericKey(p.Value))
		}
		sort.Strings(parts)
		mk := strings.Join(parts, "\x00")
		if _, ok := seenMinterms[mk]; ok {
			continue
		}
		seenMinterms[mk] = struct{}{}
		out = append(out, dedup)
	}
	return out
}

func numericKey(n types.Numeric) string {
	if n.ID() == types.String {
		return n.AsString()
	}
	return strconv.Itoa(int(n.ID())) + ":" + strconv.FormatUint(n.AsUint64(), 16)
}

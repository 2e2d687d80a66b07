package parser

import "github.com/confluo-db/confluo/types"

// Expr is the parsed grammar's AST, per spec.md §4.4:
//
//	expr   := term ('||' term)*
//	term   := factor ('&&' factor)*
//	factor := predicate | '!' factor | '(' expr ')'
type Expr interface{ isExpr() }

type OrExpr struct{ Terms []Expr }
type AndExpr struct{ Factors []Expr }
type NotExpr struct{ Factor Expr }
type PredExpr struct {
	Ident string
	Op    types.RelOp
	Value string // raw literal text; typed against the column at compile time
}

func (OrExpr) isExpr()   {}
func (AndExpr) isExpr()  {}
func (NotExpr) isExpr()  {}
func (PredExpr) isExpr() {}

// negateRelOp returns the relop whose negation, per De Morgan involution.
func negateRelOp(op types.RelOp) types.RelOp {
	switch op {
	case types.Lt:
		return types.Ge
	case types.Le:
		return types.Gt
	case types.Gt:
		return types.Le
	case types.Ge:
		return types.Lt
	case types.Eq:
		return types.Ne
	case types.Ne:
		return types.Eq
	default:
		return op
	}
}

// pushNegation rewrites the tree into negation normal form: Not only ever
// wraps nothing, because it's eliminated by De Morgan involution as it is
// pushed past And/Or/Not down to the predicate leaves, where it flips the
// relop instead.
func pushNegation(e Expr, negate bool) Expr {
	switch n := e.(type) {
	case OrExpr:
		terms := make([]Expr, len(n.Terms))
		for i, t := range n.Terms {
			terms[i] = pushNegation(t, negate)
		}
		if negate {
			return AndExpr{Factors: terms}
		}
		return OrExpr{Terms: terms}
	case AndExpr:
		factors := make([]Expr, len(n.Factors))
		for i, f := range n.Factors {
			factors[i] = pushNegation(f, negate)
		}
		if negate {
			return OrExpr{Terms: factors}
		}
		return AndExpr{Factors: factors}
	case NotExpr:
		return pushNegation(n.Factor, !negate)
	case PredExpr:
		if negate {
			return PredExpr{Ident: n.Ident, Op: negateRelOp(n.Op), Value: n.Value}
		}
		return n
	default:
		return e
	}
}

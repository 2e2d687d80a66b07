package parser

import (
	"github.com/confluo-db/confluo/errtype"
	"github.com/confluo-db/confluo/types"
)

type parser struct {
	lx   *lexer
	cur  token
	peek *token
}

// ParseExpr parses s per the grammar in spec.md §4.4 and returns the raw
// AST (not yet pushed to NNF or compiled to DNF).
func ParseExpr(s string) (Expr, error) {
	p := &parser{lx: newLexer(s)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, errtype.New(errtype.ParseError, "unexpected trailing input: "+p.cur.text)
	}
	return e, nil
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) parseExpr() (Expr, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return OrExpr{Terms: terms}, nil
}

func (p *parser) parseTerm() (Expr, error) {
	first, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	factors := []Expr{first}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		f, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	if len(factors) == 1 {
		return factors[0], nil
	}
	return AndExpr{Factors: factors}, nil
}

func (p *parser) parseFactor() (Expr, error) {
	switch p.cur.kind {
	case tokNot:
		if err := p.advance(); err != nil {
			return nil, err
		}
		f, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return NotExpr{Factor: f}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, errtype.New(errtype.ParseError, "expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return e, nil
	case tokIdent:
		ident, err := mustIdent(p.cur)
		if err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokRelop {
			return nil, errtype.New(errtype.ParseError, "expected relational operator after "+ident)
		}
		op, ok := types.ParseRelOp(p.cur.text)
		if !ok {
			return nil, errtype.New(errtype.ParseError, "unknown relop "+p.cur.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokValue {
			return nil, errtype.New(errtype.ParseError, "expected value after relop")
		}
		val := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return PredExpr{Ident: ident, Op: op, Value: trimQuotes(val)}, nil
	default:
		return nil, errtype.New(errtype.ParseError, "unexpected token "+p.cur.text)
	}
}

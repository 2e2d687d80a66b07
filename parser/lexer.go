// Package parser implements the expression grammar, compiler, and predicate
// evaluator of spec.md §4.4: filter and query expressions are parsed into an
// AST, negation is pushed inward, and the result is distributed into
// disjunctive normal form — a set of minterms, each a set of predicates.
package parser

import (
	"strings"

	"github.com/confluo-db/confluo/errtype"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokValue
	tokRelop
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(s string) *lexer { return &lexer{src: []rune(s)} }

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n') {
		l.pos++
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isIdentCont(r rune) bool { return isIdentStart(r) || (r >= '0' && r <= '9') }
func isValueChar(r rune) bool {
	return r == '_' || r == '+' || r == '-' || r == '.' || isIdentCont(r)
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	r := l.src[l.pos]
	switch {
	case r == '(':
		l.pos++
		return token{kind: tokLParen}, nil
	case r == ')':
		l.pos++
		return token{kind: tokRParen}, nil
	case r == '!' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=':
		l.pos += 2
		return token{kind: tokRelop, text: "!="}, nil
	case r == '!':
		l.pos++
		return token{kind: tokNot}, nil
	case r == '&' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '&':
		l.pos += 2
		return token{kind: tokAnd}, nil
	case r == '|' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '|':
		l.pos += 2
		return token{kind: tokOr}, nil
	case r == '<' || r == '>' || r == '=':
		start := l.pos
		l.pos++
		if l.peekRune() == '=' {
			l.pos++
		}
		return token{kind: tokRelop, text: string(l.src[start:l.pos])}, nil
	case r == '"':
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, errtype.New(errtype.ParseError, "unterminated string literal")
		}
		text := string(l.src[start:l.pos])
		l.pos++
		return token{kind: tokValue, text: `"` + text + `"`}, nil
	case isIdentStart(r):
		start := l.pos
		l.pos++
		for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: string(l.src[start:l.pos])}, nil
	case isValueChar(r):
		start := l.pos
		l.pos++
		for l.pos < len(l.src) && isValueChar(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokValue, text: string(l.src[start:l.pos])}, nil
	default:
		return token{}, errtype.New(errtype.ParseError, "unexpected character '"+string(r)+"' in expression")
	}
}

// mustIdent disambiguates: an ident token followed immediately by
// a relop is a predicate's column reference; a value token is a literal.
// The lexer above already separates these lexically since idents cannot
// start with digits/'+'/'-'/'.'; this helper exists for readability at call
// sites that need to assert which kind was produced.
func mustIdent(t token) (string, error) {
	if t.kind != tokIdent {
		return "", errtype.New(errtype.ParseError, "expected identifier, got "+t.text)
	}
	return t.text, nil
}

func trimQuotes(s string) string { return strings.Trim(s, `"`) }

// Package formula parses and evaluates the restricted arithmetic grammar used
// by test-type schemas:
//
//	expr    := term (("+" | "-") term)*
//	term    := unary (("*" | "/") unary)*
//	unary   := "-" unary | "+" unary | power
//	power   := primary ("^" unary)?
//	primary := number | name | name "(" args ")" | "(" expr ")"
//
// Names may contain letters, digits, "_" and ".". Aggregate functions take a
// single column name; scalar functions take expressions. Formulas are only
// ever interpreted over this AST.
package formula

import (
	"fmt"
	"strings"
)

// Aggregate function names.
const (
	FuncAverage = "AVERAGE"
	FuncStdDev  = "STDDEV"
	FuncSum     = "SUM"
	FuncCount   = "COUNT"
)

var aggregateFuncs = map[string]struct{}{
	FuncAverage: {},
	FuncStdDev:  {},
	FuncSum:     {},
	FuncCount:   {},
}

// scalar function arity; -1 means one or more arguments.
var scalarFuncs = map[string]int{
	"ABS":   1,
	"SQRT":  1,
	"LOG10": 1,
	"LN":    1,
	"MIN":   -1,
	"MAX":   -1,
}

// Formula is a parsed expression together with its source and references.
type Formula struct {
	Source string
	Expr   Expr
	Refs   Refs
}

// Parse parses src into a Formula.
func Parse(src string) (*Formula, error) {
	if strings.TrimSpace(src) == "" {
		return nil, malformed(0, "empty formula")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, malformed(tok.pos, "unexpected %q", tok.text)
	}
	return &Formula{Source: src, Expr: expr, Refs: References(expr)}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and package-level tables.
func MustParse(src string) *Formula {
	f, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("formula: %v", err))
	}
	return f
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(ops string) bool {
	tok := p.peek()
	return tok.kind == tokOp && strings.Contains(ops, tok.text)
}

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+-") {
		op := p.next().text[0]
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*/") {
		op := p.next().text[0]
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isOp("-+") {
		op := p.next().text[0]
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == '+' {
			return x, nil
		}
		return Unary{Op: '-', X: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return BinaryOp{Op: '^', Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return Literal{Value: tok.num}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}
		return Reference{Name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, malformed(closing.pos, "expected ')'")
		}
		return inner, nil
	case tokEOF:
		return nil, malformed(tok.pos, "unexpected end of formula")
	default:
		return nil, malformed(tok.pos, "unexpected %q", tok.text)
	}
}

func (p *parser) parseCall(name token) (Expr, error) {
	fn := strings.ToUpper(name.text)
	p.next() // (
	if _, ok := aggregateFuncs[fn]; ok {
		col := p.next()
		if col.kind != tokIdent {
			return nil, malformed(col.pos, "%s expects a field name", fn)
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, malformed(closing.pos, "%s takes exactly one field name", fn)
		}
		return AggregateCall{Func: fn, Column: col.text}, nil
	}
	arity, ok := scalarFuncs[fn]
	if !ok {
		return nil, malformed(name.pos, "unknown function %s", name.text)
	}
	var args []Expr
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, malformed(closing.pos, "expected ')' after %s arguments", fn)
	}
	if (arity > 0 && len(args) != arity) || len(args) == 0 {
		return nil, malformed(name.pos, "%s called with %d arguments", fn, len(args))
	}
	return Call{Func: fn, Args: args}, nil
}

package formula

import (
	"strconv"
	"strings"
)

// Expr is a node of a parsed formula. The set of node types is closed:
// Literal, Reference, Unary, BinaryOp, Call and AggregateCall.
type Expr interface {
	String() string
	isExpr()
}

// Literal is a numeric constant.
type Literal struct {
	Value float64
}

// Reference names a scalar value resolved from the environment.
type Reference struct {
	Name string
}

// Unary is a negation.
type Unary struct {
	Op byte
	X  Expr
}

// BinaryOp is one of + - * / ^.
type BinaryOp struct {
	Op          byte
	Left, Right Expr
}

// Call applies a scalar function to its arguments.
type Call struct {
	Func string
	Args []Expr
}

// AggregateCall applies an aggregate function to every present value of a column.
type AggregateCall struct {
	Func   string
	Column string
}

func (Literal) isExpr()       {}
func (Reference) isExpr()     {}
func (Unary) isExpr()         {}
func (BinaryOp) isExpr()      {}
func (Call) isExpr()          {}
func (AggregateCall) isExpr() {}

func (l Literal) String() string   { return strconv.FormatFloat(l.Value, 'g', -1, 64) }
func (r Reference) String() string { return r.Name }
func (u Unary) String() string     { return "(" + string(u.Op) + u.X.String() + ")" }

func (b BinaryOp) String() string {
	return "(" + b.Left.String() + " " + string(b.Op) + " " + b.Right.String() + ")"
}

func (c Call) String() string {
	args := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		args = append(args, a.String())
	}
	return c.Func + "(" + strings.Join(args, ", ") + ")"
}

func (a AggregateCall) String() string { return a.Func + "(" + a.Column + ")" }

// Refs lists the names a formula depends on, in first-appearance order.
// Scalars are resolved per evaluation; Columns are aggregated across rows.
type Refs struct {
	Scalars []string
	Columns []string
}

// References walks expr and collects its scalar and column references.
func References(expr Expr) Refs {
	var refs Refs
	seenScalar := map[string]struct{}{}
	seenColumn := map[string]struct{}{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case Reference:
			if _, ok := seenScalar[n.Name]; !ok {
				seenScalar[n.Name] = struct{}{}
				refs.Scalars = append(refs.Scalars, n.Name)
			}
		case AggregateCall:
			if _, ok := seenColumn[n.Column]; !ok {
				seenColumn[n.Column] = struct{}{}
				refs.Columns = append(refs.Columns, n.Column)
			}
		case Unary:
			walk(n.X)
		case BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case Call:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(expr)
	return refs
}

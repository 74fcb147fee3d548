package formula

import (
	"math"

	"labcore/internal/stats"
	"labcore/internal/units"
)

// Env resolves names during evaluation. Lookup returns a scalar value;
// Column returns every present value of a field across rows, and whether the
// column is known at all.
type Env interface {
	Lookup(name string) (float64, bool)
	Column(name string) ([]float64, bool)
}

// MapEnv is an Env backed by plain maps.
type MapEnv struct {
	Scalars map[string]float64
	Columns map[string][]float64
}

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (float64, bool) {
	v, ok := m.Scalars[name]
	return v, ok
}

// Column implements Env.
func (m MapEnv) Column(name string) ([]float64, bool) {
	v, ok := m.Columns[name]
	return v, ok
}

// Eval evaluates the formula against env.
func (f *Formula) Eval(env Env) (float64, error) {
	return Evaluate(f.Expr, env)
}

// Evaluate interprets expr over env. It is pure: identical inputs always
// produce identical outputs.
func Evaluate(expr Expr, env Env) (float64, error) {
	v, err := eval(expr, env)
	if err != nil {
		return 0, err
	}
	if !units.IsFinite(v) {
		return 0, &EvalError{Kind: ErrDomain, Detail: "result is not finite"}
	}
	return v, nil
}

func eval(expr Expr, env Env) (float64, error) {
	switch n := expr.(type) {
	case Literal:
		return n.Value, nil
	case Reference:
		v, ok := env.Lookup(n.Name)
		if !ok {
			return 0, &EvalError{Kind: ErrUnknownReference, Name: n.Name}
		}
		return v, nil
	case Unary:
		x, err := eval(n.X, env)
		if err != nil {
			return 0, err
		}
		return -x, nil
	case BinaryOp:
		return evalBinary(n, env)
	case Call:
		return evalCall(n, env)
	case AggregateCall:
		return evalAggregate(n, env)
	default:
		return 0, &EvalError{Kind: ErrMalformed, Detail: "unsupported node"}
	}
}

func evalBinary(n BinaryOp, env Env) (float64, error) {
	l, err := eval(n.Left, env)
	if err != nil {
		return 0, err
	}
	r, err := eval(n.Right, env)
	if err != nil {
		return 0, err
	}
	switch n.Op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, &EvalError{Kind: ErrDivisionByZero, Detail: n.Right.String()}
		}
		return l / r, nil
	case '^':
		v := math.Pow(l, r)
		if !units.IsFinite(v) {
			return 0, &EvalError{Kind: ErrDomain, Detail: n.String()}
		}
		return v, nil
	default:
		return 0, &EvalError{Kind: ErrMalformed, Detail: "unknown operator " + string(n.Op)}
	}
}

func evalCall(n Call, env Env) (float64, error) {
	args := make([]float64, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := eval(a, env)
		if err != nil {
			return 0, err
		}
		args = append(args, v)
	}
	switch n.Func {
	case "ABS":
		return math.Abs(args[0]), nil
	case "SQRT":
		if args[0] < 0 {
			return 0, &EvalError{Kind: ErrDomain, Detail: "SQRT of a negative value"}
		}
		return math.Sqrt(args[0]), nil
	case "LOG10":
		if args[0] <= 0 {
			return 0, &EvalError{Kind: ErrDomain, Detail: "LOG10 of a non-positive value"}
		}
		return math.Log10(args[0]), nil
	case "LN":
		if args[0] <= 0 {
			return 0, &EvalError{Kind: ErrDomain, Detail: "LN of a non-positive value"}
		}
		return math.Log(args[0]), nil
	case "MIN":
		lo, _, _ := stats.MinMax(args)
		return lo, nil
	case "MAX":
		_, hi, _ := stats.MinMax(args)
		return hi, nil
	default:
		return 0, &EvalError{Kind: ErrMalformed, Detail: "unknown function " + n.Func}
	}
}

func evalAggregate(n AggregateCall, env Env) (float64, error) {
	values, ok := env.Column(n.Column)
	if !ok {
		return 0, &EvalError{Kind: ErrUnknownReference, Name: n.Column}
	}
	if n.Func == FuncCount {
		return float64(len(values)), nil
	}
	var (
		v       float64
		present bool
	)
	switch n.Func {
	case FuncAverage:
		v, present = stats.Mean(values)
	case FuncStdDev:
		v, present = stats.SampleStdDev(values)
	case FuncSum:
		v, present = stats.Sum(values), len(values) > 0
	default:
		return 0, &EvalError{Kind: ErrMalformed, Detail: "unknown aggregate " + n.Func}
	}
	if !present {
		return 0, &EvalError{Kind: ErrInsufficientData, Name: n.Column, Detail: n.Func + " over too few values"}
	}
	return v, nil
}

// Package interpret evaluates typed policy expressions.
//
// The evaluator is strict (leftmost-innermost) with short-circuit &&, ||
// and if. It is single-threaded per evaluation: only external RPC calls and
// DNS lookups block, bounded by the program timeout through the supplied
// context. A tree produced by the elaborator evaluates without type
// confusion; any residual mismatch is an evaluation error, never a panic.
package interpret

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"armour.dev/armour/internal/expressions"
	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/parser"
)

// Program supplies function bodies and external service endpoints to the
// evaluator; implemented by policy.Program.
type Program interface {
	Body(name string) (expressions.Expr, bool)
	ExternalURL(module string) (string, bool)
	Timeout() time.Duration
}

// MetaHandler receives Ingress::/Egress:: operations; implemented by
// meta.IngressEgress.
type MetaHandler interface {
	Call(module, method string, args []literals.Literal) (literals.Literal, error)
}

// ExternalCaller dispatches a call to a declared external service.
type ExternalCaller interface {
	Call(ctx context.Context, url, method string, args []literals.Literal) (literals.Literal, error)
}

// Resolver performs the DNS lookups behind the IpAddr builtins.
type Resolver interface {
	Lookup(ctx context.Context, host string) ([]netip.Addr, error)
	ReverseLookup(ctx context.Context, addr netip.Addr) ([]string, error)
}

// Env is the evaluation environment. Any field may be nil; using a nil
// collaborator is an evaluation error.
type Env struct {
	Prog      Program
	Meta      MetaHandler
	Externals ExternalCaller
	Resolver  Resolver
}

// returnSignal unwinds an early return to the enclosing function boundary.
type returnSignal struct {
	value literals.Literal
}

func (r *returnSignal) Error() string { return "return outside function" }

// Eval evaluates an expression to a literal. The stack carries the values
// of bound variables, innermost binding last.
func Eval(ctx context.Context, env *Env, e expressions.Expr, stack []literals.Literal) (literals.Literal, error) {
	lit, err := eval(ctx, env, e, stack)
	if err != nil {
		var ret *returnSignal
		if errors.As(err, &ret) {
			return ret.value, nil
		}
		return literals.Literal{}, err
	}
	return lit, nil
}

func eval(ctx context.Context, env *Env, e expressions.Expr, stack []literals.Literal) (literals.Literal, error) {
	if err := ctx.Err(); err != nil {
		return literals.Literal{}, err
	}
	switch e.Kind {
	case expressions.KindLit:
		return *e.Lit, nil

	case expressions.KindVar:
		i := len(stack) - 1 - e.Index
		if i < 0 || i >= len(stack) {
			return literals.Literal{}, fmt.Errorf("eval: unbound variable #%d", e.Index)
		}
		return stack[i], nil

	case expressions.KindPrefix:
		arg, err := eval(ctx, env, e.Args[0], stack)
		if err != nil {
			return literals.Literal{}, err
		}
		return evalPrefix(e.Prefix, arg)

	case expressions.KindInfix:
		return evalInfix(ctx, env, e, stack)

	case expressions.KindIf:
		cond, err := eval(ctx, env, e.Args[0], stack)
		if err != nil {
			return literals.Literal{}, err
		}
		b, ok := cond.AsBool()
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: if condition is %s, not bool", cond.Typ())
		}
		if b {
			return eval(ctx, env, e.Args[1], stack)
		}
		if e.HasElse {
			return eval(ctx, env, e.Args[2], stack)
		}
		return literals.Unit(), nil

	case expressions.KindIfSome:
		opt, err := eval(ctx, env, e.Args[0], stack)
		if err != nil {
			return literals.Literal{}, err
		}
		if content, ok := opt.AsSome(); ok {
			return eval(ctx, env, e.Args[1], append(stack, content))
		}
		if e.HasElse {
			return eval(ctx, env, e.Args[2], stack)
		}
		return literals.Unit(), nil

	case expressions.KindIfMatch:
		return evalIfMatch(ctx, env, e, stack)

	case expressions.KindLet:
		value, err := eval(ctx, env, e.Args[0], stack)
		if err != nil {
			return literals.Literal{}, err
		}
		if e.Count == 1 {
			return eval(ctx, env, e.Args[1], append(stack, value))
		}
		if value.Kind != literals.KindTuple || len(value.Items) != e.Count {
			return literals.Literal{}, fmt.Errorf("eval: let destructure of %s into %d names", value.Typ(), e.Count)
		}
		return eval(ctx, env, e.Args[1], append(stack, value.Items...))

	case expressions.KindSeq:
		if _, err := eval(ctx, env, e.Args[0], stack); err != nil {
			return literals.Literal{}, err
		}
		return eval(ctx, env, e.Args[1], stack)

	case expressions.KindReturn:
		value, err := eval(ctx, env, e.Args[0], stack)
		if err != nil {
			return literals.Literal{}, err
		}
		return literals.Literal{}, &returnSignal{value: value}

	case expressions.KindCall:
		return evalCall(ctx, env, e, stack)

	case expressions.KindList:
		items, err := evalAll(ctx, env, e.Args, stack)
		if err != nil {
			return literals.Literal{}, err
		}
		return literals.List(items), nil

	case expressions.KindTuple:
		items, err := evalAll(ctx, env, e.Args, stack)
		if err != nil {
			return literals.Literal{}, err
		}
		return literals.Tuple(items), nil

	default:
		return literals.Literal{}, fmt.Errorf("eval: unsupported expression kind %d", e.Kind)
	}
}

func evalAll(ctx context.Context, env *Env, es []expressions.Expr, stack []literals.Literal) ([]literals.Literal, error) {
	out := make([]literals.Literal, 0, len(es))
	for _, e := range es {
		lit, err := eval(ctx, env, e, stack)
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
	}
	return out, nil
}

func evalPrefix(op parser.PrefixOp, arg literals.Literal) (literals.Literal, error) {
	switch op {
	case parser.OpNot:
		b, ok := arg.AsBool()
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: ! applied to %s", arg.Typ())
		}
		return literals.Bool(!b), nil
	default:
		i, ok := arg.AsInt()
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: - applied to %s", arg.Typ())
		}
		return literals.Int(-i), nil
	}
}

func evalInfix(ctx context.Context, env *Env, e expressions.Expr, stack []literals.Literal) (literals.Literal, error) {
	// short-circuit before evaluating the right operand
	if e.Infix == parser.OpAnd || e.Infix == parser.OpOr {
		left, err := eval(ctx, env, e.Args[0], stack)
		if err != nil {
			return literals.Literal{}, err
		}
		b, ok := left.AsBool()
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: %s applied to %s", e.Infix, left.Typ())
		}
		if e.Infix == parser.OpAnd && !b {
			return literals.Bool(false), nil
		}
		if e.Infix == parser.OpOr && b {
			return literals.Bool(true), nil
		}
		return eval(ctx, env, e.Args[1], stack)
	}

	left, err := eval(ctx, env, e.Args[0], stack)
	if err != nil {
		return literals.Literal{}, err
	}
	right, err := eval(ctx, env, e.Args[1], stack)
	if err != nil {
		return literals.Literal{}, err
	}
	switch e.Infix {
	case parser.OpEq:
		return literals.Bool(left.Equal(right)), nil
	case parser.OpNeq:
		return literals.Bool(!left.Equal(right)), nil
	case parser.OpIn:
		if right.Kind != literals.KindList {
			return literals.Literal{}, fmt.Errorf("eval: in applied to %s", right.Typ())
		}
		for _, item := range right.Items {
			if left.Equal(item) {
				return literals.Bool(true), nil
			}
		}
		return literals.Bool(false), nil
	case parser.OpConcat:
		a, ok1 := left.AsStr()
		b, ok2 := right.AsStr()
		if !ok1 || !ok2 {
			return literals.Literal{}, fmt.Errorf("eval: ++ applied to %s and %s", left.Typ(), right.Typ())
		}
		return literals.Str(a + b), nil
	}

	a, ok1 := left.AsInt()
	b, ok2 := right.AsInt()
	if !ok1 || !ok2 {
		return literals.Literal{}, fmt.Errorf("eval: %s applied to %s and %s", e.Infix, left.Typ(), right.Typ())
	}
	switch e.Infix {
	case parser.OpAdd:
		return literals.Int(a + b), nil
	case parser.OpSub:
		return literals.Int(a - b), nil
	case parser.OpMul:
		return literals.Int(a * b), nil
	case parser.OpDiv:
		if b == 0 {
			return literals.Literal{}, errors.New("eval: division by zero")
		}
		return literals.Int(a / b), nil
	case parser.OpRem:
		if b == 0 {
			return literals.Literal{}, errors.New("eval: remainder by zero")
		}
		return literals.Int(a % b), nil
	case parser.OpLt:
		return literals.Bool(a < b), nil
	case parser.OpLe:
		return literals.Bool(a <= b), nil
	case parser.OpGt:
		return literals.Bool(a > b), nil
	case parser.OpGe:
		return literals.Bool(a >= b), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unsupported operator %s", e.Infix)
}

func evalIfMatch(ctx context.Context, env *Env, e expressions.Expr, stack []literals.Literal) (literals.Literal, error) {
	scrut, err := eval(ctx, env, e.Args[0], stack)
	if err != nil {
		return literals.Literal{}, err
	}
	for _, arm := range e.Arms {
		switch arm.Pattern.Kind {
		case parser.PatWildcard:
			return eval(ctx, env, arm.Body, stack)
		case parser.PatNone:
			if scrut.IsNone() {
				return eval(ctx, env, arm.Body, stack)
			}
		case parser.PatSome:
			if content, ok := scrut.AsSome(); ok {
				return eval(ctx, env, arm.Body, append(stack, content))
			}
		case parser.PatLit:
			if scrut.Equal(arm.Pattern.Lit) {
				return eval(ctx, env, arm.Body, stack)
			}
		}
	}
	if e.HasElse {
		return eval(ctx, env, e.Args[1], stack)
	}
	return literals.Unit(), nil
}

func evalCall(ctx context.Context, env *Env, e expressions.Expr, stack []literals.Literal) (literals.Literal, error) {
	args, err := evalAll(ctx, env, e.Args, stack)
	if err != nil {
		return literals.Literal{}, err
	}
	switch e.CallKind {
	case expressions.CallBuiltin:
		return evalBuiltin(ctx, env, e.Name, args)

	case expressions.CallMeta:
		if env.Meta == nil {
			return literals.Literal{}, fmt.Errorf("eval: no metadata in this context for %s", e.Name)
		}
		module, method, _ := strings.Cut(e.Name, "::")
		return env.Meta.Call(module, method, args)

	case expressions.CallExternal:
		if env.Externals == nil {
			return literals.Literal{}, fmt.Errorf("eval: no external client for %s", e.Name)
		}
		module, method, _ := strings.Cut(e.Name, "::")
		url, ok := env.Prog.ExternalURL(module)
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: unknown external %q", module)
		}
		callCtx, cancel := context.WithTimeout(ctx, env.Prog.Timeout())
		defer cancel()
		lit, err := env.Externals.Call(callCtx, url, method, args)
		if err != nil {
			return literals.Literal{}, fmt.Errorf("external %s: %w", e.Name, err)
		}
		return lit, nil

	case expressions.CallFn:
		body, ok := env.Prog.Body(e.Name)
		if !ok {
			return literals.Literal{}, fmt.Errorf("eval: unknown function %q", e.Name)
		}
		// a fresh frame: the callee sees only its arguments
		lit, err := eval(ctx, env, body, args)
		if err != nil {
			var ret *returnSignal
			if errors.As(err, &ret) {
				return ret.value, nil
			}
			return literals.Literal{}, err
		}
		return lit, nil

	default:
		return literals.Literal{}, fmt.Errorf("eval: unsupported call kind for %s", e.Name)
	}
}

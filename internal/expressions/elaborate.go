package expressions

import (
	"fmt"

	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/parser"
	"armour.dev/armour/internal/types"
)

type binding struct {
	name string
	typ  types.Typ
}

type checker struct {
	headers *Headers
	vars    []binding
	ret     types.Typ
	fname   string
}

// CheckFn elaborates a function body against its declared signature. The
// result is a closed de Bruijn tree whose free indices are the parameters,
// innermost last.
func CheckFn(h *Headers, fn *parser.FnDecl) (Expr, error) {
	c := &checker{headers: h, ret: fn.Ret, fname: fn.Name}
	for _, p := range fn.Params {
		c.vars = append(c.vars, binding{name: p.Name, typ: p.Typ})
	}
	body, typ, err := c.block(fn.Body)
	if err != nil {
		return Expr{}, err
	}
	if !typ.CanUnify(fn.Ret) {
		return Expr{}, &types.MismatchError{
			Ctx: fn.Name, Loc1: fn.Body.At, T1: typ, Loc2: fn.At, T2: fn.Ret,
		}
	}
	return body, nil
}

// CheckExpr elaborates a standalone expression with no bound variables.
func CheckExpr(h *Headers, e parser.Expr) (Expr, types.Typ, error) {
	c := &checker{headers: h, ret: types.Return, fname: "<expr>"}
	return c.expr(e)
}

func (c *checker) lookupVar(name string) (int, types.Typ, bool) {
	if name == "_" {
		return 0, types.Typ{}, false
	}
	for i := len(c.vars) - 1; i >= 0; i-- {
		if c.vars[i].name == name {
			return len(c.vars) - 1 - i, c.vars[i].typ, true
		}
	}
	return 0, types.Typ{}, false
}

func (c *checker) push(bs ...binding) { c.vars = append(c.vars, bs...) }
func (c *checker) pop(n int)          { c.vars = c.vars[:len(c.vars)-n] }

func (c *checker) expr(e parser.Expr) (Expr, types.Typ, error) {
	switch n := e.(type) {
	case *parser.LitExpr:
		return Expr{Kind: KindLit, Loc: n.Pos(), Lit: &n.Lit}, n.Lit.Typ(), nil

	case *parser.NoneExpr:
		none := literals.None()
		return Expr{Kind: KindLit, Loc: n.Pos(), Lit: &none}, types.AnyOption(), nil

	case *parser.SomeExpr:
		arg, typ, err := c.expr(n.Arg)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		return Expr{Kind: KindTuple, Loc: n.Pos(), Args: []Expr{arg}}, types.Option(typ), nil

	case *parser.IdentExpr:
		idx, typ, ok := c.lookupVar(n.Name)
		if !ok {
			return Expr{}, types.Typ{}, fmt.Errorf("unknown identifier %q on %s", n.Name, n.Pos())
		}
		return Expr{Kind: KindVar, Loc: n.Pos(), Index: idx, Name: n.Name}, typ, nil

	case *parser.PrefixExpr:
		arg, typ, err := c.expr(n.Arg)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		var in, out types.Typ
		if n.Op == parser.OpNot {
			in, out = types.Bool, types.Bool
		} else {
			in, out = types.I64, types.I64
		}
		if !typ.CanUnify(in) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: n.Op.String(), Loc1: n.Arg.Pos(), T1: typ, Loc2: n.Pos(), T2: in,
			}
		}
		return Expr{Kind: KindPrefix, Loc: n.Pos(), Prefix: n.Op, Args: []Expr{arg}}, out, nil

	case *parser.InfixExpr:
		return c.infix(n)

	case *parser.IfExpr:
		cond, condTyp, err := c.expr(n.Cond)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		if !condTyp.CanUnify(types.Bool) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: "if", Loc1: n.Cond.Pos(), T1: condTyp, Loc2: n.Pos(), T2: types.Bool,
			}
		}
		then, thenTyp, err := c.block(n.Then)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		out := Expr{Kind: KindIf, Loc: n.Pos(), Args: []Expr{cond, then}}
		if n.Else == nil {
			if !thenTyp.CanUnify(types.Unit) {
				return Expr{}, types.Typ{}, &types.MismatchError{
					Ctx: "if", Loc1: n.Then.At, T1: thenTyp, Loc2: n.Pos(), T2: types.Unit,
				}
			}
			return out, types.Unit, nil
		}
		els, elseTyp, err := c.block(n.Else)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		if !thenTyp.CanUnify(elseTyp) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: "if", Loc1: n.Then.At, T1: thenTyp, Loc2: n.Else.At, T2: elseTyp,
			}
		}
		out.HasElse = true
		out.Args = append(out.Args, els)
		return out, thenTyp.Unify(elseTyp), nil

	case *parser.IfSomeExpr:
		opt, optTyp, err := c.expr(n.Expr)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		content, derr := optTyp.DestOption()
		if derr != nil {
			return Expr{}, types.Typ{}, fmt.Errorf("%s on %s", derr, n.Expr.Pos())
		}
		c.push(binding{name: n.Var, typ: content})
		then, thenTyp, err := c.block(n.Then)
		c.pop(1)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		out := Expr{Kind: KindIfSome, Loc: n.Pos(), Name: n.Var, Args: []Expr{opt, then}}
		if n.Else == nil {
			if !thenTyp.CanUnify(types.Unit) {
				return Expr{}, types.Typ{}, &types.MismatchError{
					Ctx: "if let", Loc1: n.Then.At, T1: thenTyp, Loc2: n.Pos(), T2: types.Unit,
				}
			}
			return out, types.Unit, nil
		}
		els, elseTyp, err := c.block(n.Else)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		if !thenTyp.CanUnify(elseTyp) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: "if let", Loc1: n.Then.At, T1: thenTyp, Loc2: n.Else.At, T2: elseTyp,
			}
		}
		out.HasElse = true
		out.Args = append(out.Args, els)
		return out, thenTyp.Unify(elseTyp), nil

	case *parser.IfMatchExpr:
		return c.ifMatch(n)

	case *parser.ReturnExpr:
		var arg Expr
		var typ types.Typ
		if n.Expr == nil {
			unit := literals.Unit()
			arg, typ = Expr{Kind: KindLit, Lit: &unit}, types.Unit
		} else {
			var err error
			arg, typ, err = c.expr(n.Expr)
			if err != nil {
				return Expr{}, types.Typ{}, err
			}
		}
		if !typ.CanUnify(c.ret) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: c.fname, Loc1: n.Pos(), T1: typ, Loc2: types.Loc{}, T2: c.ret,
			}
		}
		return Expr{Kind: KindReturn, Loc: n.Pos(), Args: []Expr{arg}}, types.Return, nil

	case *parser.ListExpr:
		elemTyp := types.Return
		args := make([]Expr, 0, len(n.Elems))
		for _, el := range n.Elems {
			ex, typ, err := c.expr(el)
			if err != nil {
				return Expr{}, types.Typ{}, err
			}
			if !typ.CanUnify(elemTyp) {
				return Expr{}, types.Typ{}, &types.MismatchError{
					Ctx: "list", Loc1: el.Pos(), T1: typ, Loc2: n.Pos(), T2: elemTyp,
				}
			}
			elemTyp = elemTyp.Unify(typ)
			args = append(args, ex)
		}
		return Expr{Kind: KindList, Loc: n.Pos(), Args: args}, types.ListOf(elemTyp), nil

	case *parser.TupleExpr:
		elems := make([]types.Typ, 0, len(n.Elems))
		args := make([]Expr, 0, len(n.Elems))
		for _, el := range n.Elems {
			ex, typ, err := c.expr(el)
			if err != nil {
				return Expr{}, types.Typ{}, err
			}
			elems = append(elems, typ)
			args = append(args, ex)
		}
		return Expr{Kind: KindTuple, Loc: n.Pos(), Args: args}, types.TupleOf(elems...), nil

	case *parser.CallExpr:
		return c.call(n)

	default:
		return Expr{}, types.Typ{}, fmt.Errorf("unsupported expression on %s", e.Pos())
	}
}

var infixTyps = map[parser.InfixOp][3]types.Typ{
	parser.OpAdd:    {types.I64, types.I64, types.I64},
	parser.OpSub:    {types.I64, types.I64, types.I64},
	parser.OpMul:    {types.I64, types.I64, types.I64},
	parser.OpDiv:    {types.I64, types.I64, types.I64},
	parser.OpRem:    {types.I64, types.I64, types.I64},
	parser.OpConcat: {types.Str, types.Str, types.Str},
	parser.OpLt:     {types.I64, types.I64, types.Bool},
	parser.OpLe:     {types.I64, types.I64, types.Bool},
	parser.OpGt:     {types.I64, types.I64, types.Bool},
	parser.OpGe:     {types.I64, types.I64, types.Bool},
	parser.OpAnd:    {types.Bool, types.Bool, types.Bool},
	parser.OpOr:     {types.Bool, types.Bool, types.Bool},
}

func (c *checker) infix(n *parser.InfixExpr) (Expr, types.Typ, error) {
	left, lt, err := c.expr(n.Left)
	if err != nil {
		return Expr{}, types.Typ{}, err
	}
	right, rt, err := c.expr(n.Right)
	if err != nil {
		return Expr{}, types.Typ{}, err
	}
	out := Expr{Kind: KindInfix, Loc: n.Pos(), Infix: n.Op, Args: []Expr{left, right}}
	switch n.Op {
	case parser.OpEq, parser.OpNeq:
		if !lt.CanUnify(rt) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: n.Op.String(), Loc1: n.Left.Pos(), T1: lt, Loc2: n.Right.Pos(), T2: rt,
			}
		}
		return out, types.Bool, nil
	case parser.OpIn:
		if !rt.CanUnify(types.ListOf(lt)) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: "in", Loc1: n.Right.Pos(), T1: rt, Loc2: n.Left.Pos(), T2: types.ListOf(lt),
			}
		}
		return out, types.Bool, nil
	default:
		sig := infixTyps[n.Op]
		if !lt.CanUnify(sig[0]) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: n.Op.String(), Loc1: n.Left.Pos(), T1: lt, Loc2: n.Pos(), T2: sig[0],
			}
		}
		if !rt.CanUnify(sig[1]) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: n.Op.String(), Loc1: n.Right.Pos(), T1: rt, Loc2: n.Pos(), T2: sig[1],
			}
		}
		return out, sig[2], nil
	}
}

func (c *checker) ifMatch(n *parser.IfMatchExpr) (Expr, types.Typ, error) {
	scrut, scrutTyp, err := c.expr(n.Scrutinee)
	if err != nil {
		return Expr{}, types.Typ{}, err
	}
	out := Expr{Kind: KindIfMatch, Loc: n.Pos(), Args: []Expr{scrut}}
	result := types.Return
	hasSome, hasNone := false, false
	for _, arm := range n.Arms {
		bound := 0
		switch arm.Pattern.Kind {
		case parser.PatSome:
			hasSome = true
			content, derr := scrutTyp.DestOption()
			if derr != nil {
				return Expr{}, types.Typ{}, fmt.Errorf("%s on %s", derr, arm.Pattern.At)
			}
			c.push(binding{name: arm.Pattern.Name, typ: content})
			bound = 1
		case parser.PatNone:
			hasNone = true
			if !scrutTyp.CanUnify(types.AnyOption()) {
				return Expr{}, types.Typ{}, &types.MismatchError{
					Ctx: "match", Loc1: n.Scrutinee.Pos(), T1: scrutTyp,
					Loc2: arm.Pattern.At, T2: types.AnyOption(),
				}
			}
		case parser.PatLit:
			if !arm.Pattern.Lit.Typ().CanUnify(scrutTyp) {
				return Expr{}, types.Typ{}, &types.MismatchError{
					Ctx: "match", Loc1: arm.Pattern.At, T1: arm.Pattern.Lit.Typ(),
					Loc2: n.Scrutinee.Pos(), T2: scrutTyp,
				}
			}
		}
		body, bodyTyp, err := c.expr(arm.Body)
		c.pop(bound)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		if !bodyTyp.CanUnify(result) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: "match", Loc1: arm.Body.Pos(), T1: bodyTyp, Loc2: n.Pos(), T2: result,
			}
		}
		result = result.Unify(bodyTyp)
		out.Arms = append(out.Arms, Arm{Pattern: arm.Pattern, Body: body})
	}
	if n.Else == nil {
		// Some and None arms together always match, so the arms give the type
		if hasSome && hasNone {
			return out, result, nil
		}
		if !result.CanUnify(types.Unit) {
			return Expr{}, types.Typ{}, &types.MismatchError{
				Ctx: "match", Loc1: n.Pos(), T1: result, Loc2: n.Pos(), T2: types.Unit,
			}
		}
		return out, types.Unit, nil
	}
	els, elseTyp, err := c.block(n.Else)
	if err != nil {
		return Expr{}, types.Typ{}, err
	}
	if !elseTyp.CanUnify(result) {
		return Expr{}, types.Typ{}, &types.MismatchError{
			Ctx: "match", Loc1: n.Else.At, T1: elseTyp, Loc2: n.Pos(), T2: result,
		}
	}
	out.HasElse = true
	out.Args = append(out.Args, els)
	return out, result.Unify(elseTyp), nil
}

func (c *checker) call(n *parser.CallExpr) (Expr, types.Typ, error) {
	args := make([]Expr, 0, len(n.Args))
	argTyps := make([]types.Typ, 0, len(n.Args))
	argLocs := make([]types.Loc, 0, len(n.Args))
	for _, a := range n.Args {
		ex, typ, err := c.expr(a)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		args = append(args, ex)
		argTyps = append(argTyps, typ)
		argLocs = append(argLocs, a.Pos())
	}
	name := Resolve(n.Name, argTyps)
	sig, kind, ok := c.headers.Lookup(name)
	if !ok {
		return Expr{}, types.Typ{}, fmt.Errorf("unknown function %q on %s", name, n.Pos())
	}
	if !sig.AnyArgs {
		if err := types.Check(name, argLocs, argTyps, nil, sig.Args); err != nil {
			return Expr{}, types.Typ{}, err
		}
	}
	ret := sig.Ret
	// Some is polymorphic in its argument
	if name == "option::Some" && len(argTyps) == 1 {
		ret = types.Option(argTyps[0])
	}
	out := Expr{Kind: KindCall, Loc: n.Pos(), Name: name, CallKind: kind, Args: args}
	return out, ret, nil
}

func (c *checker) block(b *parser.Block) (Expr, types.Typ, error) {
	return c.stmts(b.Stmts)
}

func (c *checker) stmts(stmts []parser.Stmt) (Expr, types.Typ, error) {
	if len(stmts) == 0 {
		unit := literals.Unit()
		return Expr{Kind: KindLit, Lit: &unit}, types.Unit, nil
	}
	head := stmts[0]
	rest := stmts[1:]
	switch st := head.(type) {
	case *parser.LetStmt:
		value, valTyp, err := c.expr(st.Value)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		var bs []binding
		if len(st.Names) == 1 {
			bs = []binding{{name: st.Names[0], typ: valTyp}}
		} else {
			if valTyp.Kind != types.KindTuple || len(valTyp.Elems) != len(st.Names) {
				return Expr{}, types.Typ{}, &types.MismatchError{
					Ctx: "let", Loc1: st.Value.Pos(), T1: valTyp,
					Loc2: st.Pos(), T2: types.TupleOf(make([]types.Typ, len(st.Names))...),
				}
			}
			for i, name := range st.Names {
				bs = append(bs, binding{name: name, typ: valTyp.Elems[i]})
			}
		}
		c.push(bs...)
		body, bodyTyp, err := c.stmts(rest)
		c.pop(len(bs))
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		let := Expr{Kind: KindLet, Loc: st.Pos(), Count: len(bs), Args: []Expr{value, body}}
		return let, bodyTyp, nil

	case *parser.ExprStmt:
		ex, typ, err := c.expr(st.Expr)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		if len(rest) == 0 {
			if !st.Semi {
				return ex, typ, nil
			}
			// trailing semicolon discards the value
			unit := literals.Unit()
			tail := Expr{Kind: KindLit, Lit: &unit}
			return Expr{Kind: KindSeq, Loc: st.Pos(), Args: []Expr{ex, tail}}, types.Unit, nil
		}
		tail, tailTyp, err := c.stmts(rest)
		if err != nil {
			return Expr{}, types.Typ{}, err
		}
		return Expr{Kind: KindSeq, Loc: st.Pos(), Args: []Expr{ex, tail}}, tailTyp, nil

	default:
		return Expr{}, types.Typ{}, fmt.Errorf("unsupported statement on %s", head.Pos())
	}
}

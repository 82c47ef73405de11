// Package expressions implements the typed expression tree and the
// elaborator that produces it from the parser's AST.
//
// Variables are de Bruijn indices into a value stack: index 0 is the
// innermost binding. The elaborator assigns indices, resolves dot-method
// calls and function references, and enforces the type rules; a tree that
// elaborates without error evaluates without type confusion.
package expressions

import (
	"fmt"

	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/parser"
	"armour.dev/armour/internal/types"
)

// Kind discriminates Expr nodes.
type Kind uint8

const (
	KindLit Kind = iota
	KindVar
	KindPrefix
	KindInfix
	KindIf
	KindIfSome
	KindIfMatch
	KindLet
	KindSeq
	KindReturn
	KindCall
	KindList
	KindTuple
)

// CallKind records how a call target was resolved.
type CallKind uint8

const (
	CallBuiltin CallKind = iota
	CallFn               // program-defined function
	CallExternal         // declared external service, "module::method"
	CallMeta             // Ingress::/Egress:: metadata operation
)

// Arm is one arm of an if-match expression.
type Arm struct {
	Pattern parser.Pattern `cbor:"p"`
	Body    Expr           `cbor:"b"`
}

// Expr is a typed expression node. The populated fields depend on Kind:
//
//	Lit      Lit
//	Var      Index (0 = innermost binding), Name for display
//	Prefix   Prefix, Args[0]
//	Infix    Infix, Args[0], Args[1]
//	If       Args[0] cond, Args[1] then, Args[2] else when HasElse
//	IfSome   Args[0] option, Args[1] then (binds 1), Args[2] else when HasElse
//	IfMatch  Args[0] scrutinee, Arms, Args[1] else when HasElse
//	Let      Count bindings, Args[0] value, Args[1] body
//	Seq      Args[0]; Args[1]
//	Return   Args[0]
//	Call     Name, CallKind, Args
//	List     Args
//	Tuple    Args
type Expr struct {
	Kind     Kind               `cbor:"k"`
	Loc      types.Loc          `cbor:"o,omitempty"`
	Lit      *literals.Literal  `cbor:"v,omitempty"`
	Index    int                `cbor:"x,omitempty"`
	Name     string             `cbor:"n,omitempty"`
	Prefix   parser.PrefixOp    `cbor:"pf,omitempty"`
	Infix    parser.InfixOp     `cbor:"if,omitempty"`
	CallKind CallKind           `cbor:"ck,omitempty"`
	Count    int                `cbor:"c,omitempty"`
	HasElse  bool               `cbor:"e,omitempty"`
	Args     []Expr             `cbor:"a,omitempty"`
	Arms     []Arm              `cbor:"m,omitempty"`
}

// LitExpr wraps a literal into an expression.
func LitExpr(l literals.Literal) Expr {
	return Expr{Kind: KindLit, Lit: &l}
}

// CallFnExpr builds a call of a program function; used by the proxy to
// invoke entry points with pre-bound argument literals.
func CallFnExpr(name string, args []literals.Literal) Expr {
	argExprs := make([]Expr, len(args))
	for i, a := range args {
		argExprs[i] = LitExpr(a)
	}
	return Expr{Kind: KindCall, Name: name, CallKind: CallFn, Args: argExprs}
}

func (e Expr) String() string {
	switch e.Kind {
	case KindLit:
		return e.Lit.String()
	case KindVar:
		if e.Name != "" {
			return e.Name
		}
		return fmt.Sprintf("#%d", e.Index)
	case KindPrefix:
		return e.Prefix.String() + e.Args[0].String()
	case KindInfix:
		return fmt.Sprintf("(%s %s %s)", e.Args[0], e.Infix, e.Args[1])
	case KindIf:
		if e.HasElse {
			return fmt.Sprintf("if %s { %s } else { %s }", e.Args[0], e.Args[1], e.Args[2])
		}
		return fmt.Sprintf("if %s { %s }", e.Args[0], e.Args[1])
	case KindIfSome:
		if e.HasElse {
			return fmt.Sprintf("if let Some(%s) = %s { %s } else { %s }", e.Name, e.Args[0], e.Args[1], e.Args[2])
		}
		return fmt.Sprintf("if let Some(%s) = %s { %s }", e.Name, e.Args[0], e.Args[1])
	case KindIfMatch:
		return fmt.Sprintf("if match %s { … }", e.Args[0])
	case KindLet:
		return fmt.Sprintf("let … = %s; %s", e.Args[0], e.Args[1])
	case KindSeq:
		return fmt.Sprintf("%s; %s", e.Args[0], e.Args[1])
	case KindReturn:
		return "return " + e.Args[0].String()
	case KindCall:
		return e.Name + "(…)"
	case KindList:
		return "[…]"
	case KindTuple:
		return "(…)"
	default:
		return "?"
	}
}

// IsConstBool reports whether the expression is a bare boolean constant,
// possibly behind a trailing return; used to collapse trivial entry points
// to Allow/Deny.
func (e Expr) IsConstBool() (bool, bool) {
	switch e.Kind {
	case KindLit:
		if b, ok := e.Lit.AsBool(); ok {
			return b, true
		}
	case KindReturn:
		return e.Args[0].IsConstBool()
	}
	return false, false
}

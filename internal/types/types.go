// Package types implements the policy language type system.
//
// Types mirror the literal constructors, plus Return: the unknown type used
// while checking. Tuples of length 0 and 1 double as the option type.
// Unification is non-destructive; it only reports whether two types are
// compatible and which of the two is the more specific.
package types

import (
	"fmt"
	"strings"
)

// Kind discriminates Typ values.
type Kind uint8

const (
	KindReturn Kind = iota
	KindUnit
	KindBool
	KindI64
	KindF64
	KindStr
	KindData
	KindLabel
	KindIPAddr
	KindID
	KindConnection
	KindHTTPRequest
	KindHTTPResponse
	KindList
	KindTuple
)

// Typ is a policy language type.
type Typ struct {
	Kind  Kind `cbor:"k"`
	Elem  *Typ `cbor:"e,omitempty"` // list element
	Elems []Typ `cbor:"t,omitempty"` // tuple elements
}

var (
	Return       = Typ{Kind: KindReturn}
	Unit         = Typ{Kind: KindUnit}
	Bool         = Typ{Kind: KindBool}
	I64          = Typ{Kind: KindI64}
	F64          = Typ{Kind: KindF64}
	Str          = Typ{Kind: KindStr}
	Data         = Typ{Kind: KindData}
	Label        = Typ{Kind: KindLabel}
	IPAddr       = Typ{Kind: KindIPAddr}
	ID           = Typ{Kind: KindID}
	Connection   = Typ{Kind: KindConnection}
	HTTPRequest  = Typ{Kind: KindHTTPRequest}
	HTTPResponse = Typ{Kind: KindHTTPResponse}
)

// ListOf returns List<t>.
func ListOf(t Typ) Typ {
	return Typ{Kind: KindList, Elem: &t}
}

// TupleOf returns a tuple type of the given element types.
func TupleOf(ts ...Typ) Typ {
	return Typ{Kind: KindTuple, Elems: ts}
}

// Option returns Option<t>, represented as a 1-tuple.
func Option(t Typ) Typ {
	return TupleOf(t)
}

// AnyOption returns the 0-tuple type, the option of unknown content.
func AnyOption() Typ {
	return Typ{Kind: KindTuple, Elems: []Typ{}}
}

func (t Typ) String() string {
	switch t.Kind {
	case KindReturn:
		return "!"
	case KindUnit:
		return "unit"
	case KindBool:
		return "bool"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindStr:
		return "str"
	case KindData:
		return "data"
	case KindLabel:
		return "Label"
	case KindIPAddr:
		return "IpAddr"
	case KindID:
		return "ID"
	case KindConnection:
		return "Connection"
	case KindHTTPRequest:
		return "HttpRequest"
	case KindHTTPResponse:
		return "HttpResponse"
	case KindList:
		return "List<" + t.Elem.String() + ">"
	case KindTuple:
		switch len(t.Elems) {
		case 0:
			return "Option<?>"
		case 1:
			return "Option<" + t.Elems[0].String() + ">"
		default:
			parts := make([]string, len(t.Elems))
			for i, e := range t.Elems {
				parts[i] = e.String()
			}
			return "(" + strings.Join(parts, ", ") + ")"
		}
	default:
		return "?"
	}
}

// Equal reports structural equality.
func (t Typ) Equal(other Typ) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		return t.Elem.Equal(*other.Elem)
	case KindTuple:
		if len(t.Elems) != len(other.Elems) {
			return false
		}
		for i := range t.Elems {
			if !t.Elems[i].Equal(other.Elems[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// CanUnify reports whether two types are compatible: equal, either is
// Return, componentwise compatible, or a 0-tuple against a 1-tuple (an
// unresolved None against a Some).
func (t Typ) CanUnify(other Typ) bool {
	if t.Kind == KindReturn || other.Kind == KindReturn {
		return true
	}
	switch {
	case t.Kind == KindList && other.Kind == KindList:
		return t.Elem.CanUnify(*other.Elem)
	case t.Kind == KindTuple && other.Kind == KindTuple:
		n1, n2 := len(t.Elems), len(other.Elems)
		if n1 == n2 {
			for i := range t.Elems {
				if !t.Elems[i].CanUnify(other.Elems[i]) {
					return false
				}
			}
			return true
		}
		return n1 == 0 && n2 == 1 || n1 == 1 && n2 == 0
	default:
		return t.Kind == other.Kind
	}
}

// Unify returns the more specific of two compatible types. It must only be
// called when CanUnify holds.
func (t Typ) Unify(other Typ) Typ {
	switch {
	case t.Kind == KindReturn:
		return other
	case other.Kind == KindReturn:
		return t
	case t.Kind == KindList && other.Kind == KindList:
		return ListOf(t.Elem.Unify(*other.Elem))
	case t.Kind == KindTuple && other.Kind == KindTuple:
		if len(t.Elems) == 0 {
			return other
		}
		if len(other.Elems) == 0 {
			return t
		}
		elems := make([]Typ, len(t.Elems))
		for i := range t.Elems {
			elems[i] = t.Elems[i].Unify(other.Elems[i])
		}
		return Typ{Kind: KindTuple, Elems: elems}
	default:
		return t
	}
}

// IsResolved reports whether the type contains no Return component; entry
// point signatures must be fully resolved.
func (t Typ) IsResolved() bool {
	switch t.Kind {
	case KindReturn:
		return false
	case KindList:
		return t.Elem.IsResolved()
	case KindTuple:
		for _, e := range t.Elems {
			if !e.IsResolved() {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// IsUnit reports whether the type is compatible with unit.
func (t Typ) IsUnit() bool {
	return t.CanUnify(Unit)
}

// Intrinsic returns the namespace used for dot-method resolution, e.g.
// "i64", "str", "list", "option", "HttpRequest". Return has no intrinsic.
func (t Typ) Intrinsic() (string, bool) {
	switch t.Kind {
	case KindReturn:
		return "", false
	case KindList:
		return "list", true
	case KindTuple:
		if len(t.Elems) < 2 {
			return "option", true
		}
		return "", false
	default:
		return t.String(), true
	}
}

// DestOption returns the content type of an option.
func (t Typ) DestOption() (Typ, error) {
	if t.Kind != KindTuple || len(t.Elems) > 1 {
		return Typ{}, ErrDest
	}
	if len(t.Elems) == 0 {
		return Return, nil
	}
	return t.Elems[0], nil
}

// FromName resolves an atomic type name.
func FromName(s string) (Typ, bool) {
	switch s {
	case "unit":
		return Unit, true
	case "bool":
		return Bool, true
	case "i64":
		return I64, true
	case "f64":
		return F64, true
	case "str":
		return Str, true
	case "data":
		return Data, true
	case "Label":
		return Label, true
	case "IpAddr":
		return IPAddr, true
	case "ID":
		return ID, true
	case "Connection":
		return Connection, true
	case "HttpRequest":
		return HTTPRequest, true
	case "HttpResponse":
		return HTTPResponse, true
	default:
		return Typ{}, false
	}
}

// Signature is a function type: argument types and a return type. A nil
// Args with AnyArgs set admits any argument list (used for declared
// external methods with unconstrained arguments).
type Signature struct {
	Args    []Typ `cbor:"a"`
	AnyArgs bool  `cbor:"w,omitempty"`
	Ret     Typ   `cbor:"r"`
}

// NewSignature builds a fixed-arity signature.
func NewSignature(args []Typ, ret Typ) Signature {
	return Signature{Args: args, Ret: ret}
}

// AnySignature builds a signature admitting any arguments.
func AnySignature(ret Typ) Signature {
	return Signature{AnyArgs: true, Ret: ret}
}

// IsResolved reports whether all argument and return types are resolved.
func (s Signature) IsResolved() bool {
	for _, a := range s.Args {
		if !a.IsResolved() {
			return false
		}
	}
	return s.Ret.IsResolved()
}

func (s Signature) String() string {
	if s.AnyArgs {
		return fmt.Sprintf("(...) -> %s", s.Ret)
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(parts, ", "), s.Ret)
}

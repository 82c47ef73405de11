// Package externals implements the framed value-RPC protocol used by
// `external` declarations: each call carries a method name and a list of
// restricted values; the reply is a single value. Services are reached
// over TCP or Unix sockets, framed like every other Armour stream.
package externals

import (
	"fmt"

	"armour.dev/armour/internal/literals"
)

// Value kinds admitted on the external-RPC wire.
const (
	vBool    = "bool"
	vInt64   = "int64"
	vFloat64 = "float64"
	vText    = "text"
	vData    = "data"
	vUnit    = "unit"
	vTuple   = "tuple"
	vList    = "list"
)

// Value is the restricted literal form exchanged with external services.
type Value struct {
	Kind  string  `cbor:"k"`
	B     bool    `cbor:"b,omitempty"`
	I     int64   `cbor:"i,omitempty"`
	F     float64 `cbor:"f,omitempty"`
	S     string  `cbor:"s,omitempty"`
	D     []byte  `cbor:"d,omitempty"`
	Items []Value `cbor:"l,omitempty"`
}

// FromLiteral converts an interpreter literal into its wire value.
// Structured literals (requests, IDs, labels, addresses) are rendered as
// text so services need no Armour-specific decoding.
func FromLiteral(l literals.Literal) (Value, error) {
	switch l.Kind {
	case literals.KindUnit:
		return Value{Kind: vUnit}, nil
	case literals.KindBool:
		return Value{Kind: vBool, B: l.BoolVal}, nil
	case literals.KindInt:
		return Value{Kind: vInt64, I: l.IntVal}, nil
	case literals.KindFloat:
		return Value{Kind: vFloat64, F: l.FloatVal}, nil
	case literals.KindStr:
		return Value{Kind: vText, S: l.StrVal}, nil
	case literals.KindData:
		return Value{Kind: vData, D: l.DataVal}, nil
	case literals.KindLabel, literals.KindIPAddr, literals.KindHTTPRequest,
		literals.KindHTTPResponse, literals.KindConnection, literals.KindID:
		return Value{Kind: vText, S: l.String()}, nil
	case literals.KindList, literals.KindTuple:
		kind := vList
		if l.Kind == literals.KindTuple {
			kind = vTuple
		}
		items := make([]Value, len(l.Items))
		for i, it := range l.Items {
			v, err := FromLiteral(it)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{Kind: kind, Items: items}, nil
	default:
		return Value{}, fmt.Errorf("literal %s cannot cross the external boundary", l.Typ())
	}
}

// ToLiteral converts a wire value back into a literal.
func (v Value) ToLiteral() (literals.Literal, error) {
	switch v.Kind {
	case vUnit:
		return literals.Unit(), nil
	case vBool:
		return literals.Bool(v.B), nil
	case vInt64:
		return literals.Int(v.I), nil
	case vFloat64:
		return literals.Float(v.F), nil
	case vText:
		return literals.Str(v.S), nil
	case vData:
		return literals.Data(v.D), nil
	case vTuple, vList:
		items := make([]literals.Literal, len(v.Items))
		for i, it := range v.Items {
			lit, err := it.ToLiteral()
			if err != nil {
				return literals.Literal{}, err
			}
			items[i] = lit
		}
		if v.Kind == vTuple {
			return literals.Tuple(items), nil
		}
		return literals.List(items), nil
	default:
		return literals.Literal{}, fmt.Errorf("unknown external value kind %q", v.Kind)
	}
}

// Request is one framed external call.
type Request struct {
	Method string  `cbor:"m"`
	Args   []Value `cbor:"a,omitempty"`
}

// Response is the framed reply: a value, or an error diagnostic.
type Response struct {
	Value *Value `cbor:"v,omitempty"`
	Err   string `cbor:"e,omitempty"`
}

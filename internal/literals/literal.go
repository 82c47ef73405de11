// Package literals implements the policy language value universe.
//
// A Literal is a tagged sum shared by the interpreter, the wire codecs and
// the proxy hook points. Tuples of length 0 and 1 double as the option
// type: the 0-tuple is None and a 1-tuple is Some.
package literals

import (
	"bytes"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/types"
)

// Kind discriminates Literal values.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindData
	KindLabel
	KindIPAddr
	KindList
	KindTuple
	KindHTTPRequest
	KindHTTPResponse
	KindConnection
	KindID
	KindCredentials
)

// Literal is a policy language value.
type Literal struct {
	Kind     Kind          `cbor:"k"`
	BoolVal  bool          `cbor:"b,omitempty"`
	IntVal   int64         `cbor:"i,omitempty"`
	FloatVal float64       `cbor:"f,omitempty"`
	StrVal   string        `cbor:"s,omitempty"`
	DataVal  []byte        `cbor:"d,omitempty"`
	LabelVal *labels.Label `cbor:"lb,omitempty"`
	IPVal    *netip.Addr   `cbor:"ip,omitempty"`
	Items    []Literal     `cbor:"l,omitempty"`
	Req      *HTTPRequest  `cbor:"rq,omitempty"`
	Res      *HTTPResponse `cbor:"rs,omitempty"`
	Conn     *Connection   `cbor:"cn,omitempty"`
	IDVal    *ID           `cbor:"id,omitempty"`
	Creds    *Credentials  `cbor:"cr,omitempty"`
}

// Constructors.

func Unit() Literal              { return Literal{Kind: KindUnit} }
func Bool(b bool) Literal        { return Literal{Kind: KindBool, BoolVal: b} }
func Int(i int64) Literal        { return Literal{Kind: KindInt, IntVal: i} }
func Float(f float64) Literal    { return Literal{Kind: KindFloat, FloatVal: f} }
func Str(s string) Literal       { return Literal{Kind: KindStr, StrVal: s} }
func Data(d []byte) Literal      { return Literal{Kind: KindData, DataVal: d} }
func LabelLit(l labels.Label) Literal {
	return Literal{Kind: KindLabel, LabelVal: &l}
}
func IP(a netip.Addr) Literal { return Literal{Kind: KindIPAddr, IPVal: &a} }

// List builds a list literal. Lists are homogeneous; the type checker
// guarantees it for checked programs.
func List(items []Literal) Literal {
	if items == nil {
		items = []Literal{}
	}
	return Literal{Kind: KindList, Items: items}
}

// Tuple builds a tuple literal; 0- and 1-tuples are the option values.
func Tuple(items []Literal) Literal {
	if items == nil {
		items = []Literal{}
	}
	return Literal{Kind: KindTuple, Items: items}
}

func None() Literal          { return Tuple(nil) }
func Some(l Literal) Literal { return Tuple([]Literal{l}) }

// OptionOf wraps a present value into Some and an absent one into None.
func OptionOf(l *Literal) Literal {
	if l == nil {
		return None()
	}
	return Some(*l)
}

func Request(r *HTTPRequest) Literal   { return Literal{Kind: KindHTTPRequest, Req: r} }
func Response(r *HTTPResponse) Literal { return Literal{Kind: KindHTTPResponse, Res: r} }
func ConnectionLit(c Connection) Literal {
	return Literal{Kind: KindConnection, Conn: &c}
}
func IDLit(id ID) Literal { return Literal{Kind: KindID, IDVal: &id} }
func CredentialsLit(c Credentials) Literal {
	return Literal{Kind: KindCredentials, Creds: &c}
}

// Typ returns the literal's type. A None has type Option<?>; the element
// type of an empty list is unknown.
func (l Literal) Typ() types.Typ {
	switch l.Kind {
	case KindUnit:
		return types.Unit
	case KindBool:
		return types.Bool
	case KindInt:
		return types.I64
	case KindFloat:
		return types.F64
	case KindStr:
		return types.Str
	case KindData:
		return types.Data
	case KindLabel:
		return types.Label
	case KindIPAddr:
		return types.IPAddr
	case KindList:
		if len(l.Items) == 0 {
			return types.ListOf(types.Return)
		}
		return types.ListOf(l.Items[0].Typ())
	case KindTuple:
		elems := make([]types.Typ, len(l.Items))
		for i, it := range l.Items {
			elems[i] = it.Typ()
		}
		return types.TupleOf(elems...)
	case KindHTTPRequest:
		return types.HTTPRequest
	case KindHTTPResponse:
		return types.HTTPResponse
	case KindConnection:
		return types.Connection
	case KindID:
		return types.ID
	default:
		return types.Return
	}
}

// IsNone reports whether the literal is the empty option.
func (l Literal) IsNone() bool {
	return l.Kind == KindTuple && len(l.Items) == 0
}

// AsSome returns the content of a 1-tuple option.
func (l Literal) AsSome() (Literal, bool) {
	if l.Kind == KindTuple && len(l.Items) == 1 {
		return l.Items[0], true
	}
	return Literal{}, false
}

func (l Literal) AsBool() (bool, bool) {
	return l.BoolVal, l.Kind == KindBool
}

func (l Literal) AsInt() (int64, bool) {
	return l.IntVal, l.Kind == KindInt
}

func (l Literal) AsStr() (string, bool) {
	return l.StrVal, l.Kind == KindStr
}

func (l Literal) AsData() ([]byte, bool) {
	return l.DataVal, l.Kind == KindData
}

func (l Literal) AsLabel() (labels.Label, bool) {
	if l.Kind != KindLabel || l.LabelVal == nil {
		return labels.Label{}, false
	}
	return *l.LabelVal, true
}

func (l Literal) AsIP() (netip.Addr, bool) {
	if l.Kind != KindIPAddr || l.IPVal == nil {
		return netip.Addr{}, false
	}
	return *l.IPVal, true
}

// Equal is deep structural equality. Labels compare by matching
// equivalence; floats compare bitwise.
func (l Literal) Equal(other Literal) bool {
	if l.Kind != other.Kind {
		return false
	}
	switch l.Kind {
	case KindUnit:
		return true
	case KindBool:
		return l.BoolVal == other.BoolVal
	case KindInt:
		return l.IntVal == other.IntVal
	case KindFloat:
		return math.Float64bits(l.FloatVal) == math.Float64bits(other.FloatVal)
	case KindStr:
		return l.StrVal == other.StrVal
	case KindData:
		return bytes.Equal(l.DataVal, other.DataVal)
	case KindLabel:
		return l.LabelVal.Equal(*other.LabelVal)
	case KindIPAddr:
		return *l.IPVal == *other.IPVal
	case KindList, KindTuple:
		if len(l.Items) != len(other.Items) {
			return false
		}
		for i := range l.Items {
			if !l.Items[i].Equal(other.Items[i]) {
				return false
			}
		}
		return true
	case KindHTTPRequest:
		return l.Req.Equal(other.Req)
	case KindHTTPResponse:
		return l.Res.Equal(other.Res)
	case KindConnection:
		return l.Conn.Equal(other.Conn)
	case KindID:
		return l.IDVal.Equal(other.IDVal)
	case KindCredentials:
		return l.Creds.Token == other.Creds.Token
	default:
		return false
	}
}

func (l Literal) String() string {
	switch l.Kind {
	case KindUnit:
		return "()"
	case KindBool:
		return strconv.FormatBool(l.BoolVal)
	case KindInt:
		return strconv.FormatInt(l.IntVal, 10)
	case KindFloat:
		if l.FloatVal == math.Trunc(l.FloatVal) && math.Abs(l.FloatVal) < 1e15 {
			return strconv.FormatFloat(l.FloatVal, 'f', 1, 64)
		}
		return strconv.FormatFloat(l.FloatVal, 'g', -1, 64)
	case KindStr:
		return strconv.Quote(l.StrVal)
	case KindData:
		return fmt.Sprintf("%x", l.DataVal)
	case KindLabel:
		return "'" + l.LabelVal.String() + "'"
	case KindIPAddr:
		return l.IPVal.String()
	case KindList:
		return "[" + joinItems(l.Items) + "]"
	case KindTuple:
		switch len(l.Items) {
		case 0:
			return "None"
		case 1:
			return "Some(" + l.Items[0].String() + ")"
		default:
			return "(" + joinItems(l.Items) + ")"
		}
	case KindHTTPRequest:
		return l.Req.String()
	case KindHTTPResponse:
		return l.Res.String()
	case KindConnection:
		return l.Conn.String()
	case KindID:
		return l.IDVal.String()
	case KindCredentials:
		return "<credentials>"
	default:
		return "<unknown>"
	}
}

func joinItems(items []Literal) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, ", ")
}

package literals

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/types"
)

func TestTyp(t *testing.T) {
	assert.True(t, Bool(true).Typ().Equal(types.Bool))
	assert.True(t, Int(1).Typ().Equal(types.I64))
	assert.True(t, Str("x").Typ().Equal(types.Str))
	assert.True(t, None().Typ().Equal(types.AnyOption()))
	assert.True(t, Some(Int(1)).Typ().Equal(types.Option(types.I64)))
	assert.True(t, List([]Literal{Str("a")}).Typ().Equal(types.ListOf(types.Str)))
	assert.True(t,
		Tuple([]Literal{Str("a"), Data([]byte("b"))}).Typ().Equal(types.TupleOf(types.Str, types.Data)))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "()", Unit().String())
	assert.Equal(t, "None", None().String())
	assert.Equal(t, "Some(1)", Some(Int(1)).String())
	assert.Equal(t, `["a", "b"]`, List([]Literal{Str("a"), Str("b")}).String())
	assert.Equal(t, "(1, 2)", Tuple([]Literal{Int(1), Int(2)}).String())
	assert.Equal(t, "1.0", Float(1).String())
	assert.Equal(t, "'a::b'", LabelLit(labels.MustParse("a::b")).String())
}

func TestEqual(t *testing.T) {
	assert.True(t, Int(3).Equal(Int(3)))
	assert.False(t, Int(3).Equal(Int(4)))
	assert.False(t, Int(3).Equal(Str("3")))
	assert.True(t, Some(Str("x")).Equal(Some(Str("x"))))
	assert.False(t, Some(Str("x")).Equal(None()))
	assert.True(t,
		LabelLit(labels.MustParse("a::b")).Equal(LabelLit(labels.MustParse("a::b"))))
}

func TestHTTPRequest(t *testing.T) {
	req := NewHTTPRequest("GET", "HTTP/1.1", "/a/b/c", "x=1&y=2", []Header{
		{Name: "host", Value: []byte("svc")},
		{Name: "accept", Value: []byte("a")},
		{Name: "accept", Value: []byte("b")},
	}, Connection{})

	assert.Equal(t, []string{"a", "b", "c"}, req.Route())
	assert.Equal(t, [][2]string{{"x", "1"}, {"y", "2"}}, req.QueryPairs())
	assert.Len(t, req.Header("accept"), 2)
	_, unique := req.UniqueHeader("accept")
	assert.False(t, unique)
	v, unique := req.UniqueHeader("host")
	require.True(t, unique)
	assert.Equal(t, "svc", string(v))
	assert.Equal(t, []string{"host", "accept"}, req.HeaderNames())
}

func TestHTTPRequestFunctionalUpdate(t *testing.T) {
	req := NewHTTPRequest("GET", "HTTP/1.1", "/a", "", nil, Connection{})
	mod := req.SetPath("/b").SetHeader("x", []byte("1"))
	assert.Equal(t, "/a", req.Path)
	assert.Empty(t, req.Headers)
	assert.Equal(t, "/b", mod.Path)
	assert.Len(t, mod.Headers, 1)
}

func TestID(t *testing.T) {
	addr := netip.MustParseAddrPort("10.0.0.1:8080")
	id := NewID(addr, labels.NewSet(labels.MustParse("svc::a")))
	require.NotNil(t, id.Port)
	assert.Equal(t, uint16(8080), *id.Port)
	assert.True(t, id.HasLabel(labels.MustParse("svc::<x>")))
	assert.False(t, id.HasLabel(labels.MustParse("other::*")))

	id2 := id.AddHost("b").AddHost("a").AddHost("b")
	assert.Equal(t, []string{"a", "b"}, id2.Hosts)
	assert.Empty(t, id.Hosts)

	id3 := id.AddIP(netip.MustParseAddr("10.0.0.2"))
	assert.Len(t, id3.IPs, 2)
}

func TestConnectionEqual(t *testing.T) {
	a := Connection{Number: 1}
	b := Connection{Number: 1}
	c := Connection{Number: 2}
	assert.True(t, a.Equal(&b))
	assert.False(t, a.Equal(&c))
}

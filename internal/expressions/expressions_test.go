package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/parser"
	"armour.dev/armour/internal/types"
)

func checkSrc(t *testing.T, src string) (Expr, types.Typ, error) {
	t.Helper()
	e, err := parser.ParseExpr(src)
	require.NoError(t, err)
	return CheckExpr(NewHeaders(), e)
}

func checkFnSrc(t *testing.T, src string) (Expr, error) {
	t.Helper()
	prog, err := parser.Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Fns, 1)
	h := NewHeaders()
	fn := prog.Fns[0]
	args := make([]types.Typ, len(fn.Params))
	for i, p := range fn.Params {
		args[i] = p.Typ
	}
	require.NoError(t, h.AddFunction(fn.Name, types.NewSignature(args, fn.Ret)))
	return CheckFn(h, &fn)
}

func TestLiteralTypes(t *testing.T) {
	_, typ, err := checkSrc(t, "42")
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, typ, err = checkSrc(t, "None")
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.AnyOption()))

	_, typ, err = checkSrc(t, "Some(1)")
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.Option(types.I64)))
}

func TestInfixTyping(t *testing.T) {
	_, typ, err := checkSrc(t, "1 + 2 * 3")
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, typ, err = checkSrc(t, `"a" ++ "b"`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.Str))

	_, _, err = checkSrc(t, `1 + "a"`)
	require.Error(t, err)
	assert.IsType(t, &types.MismatchError{}, err)

	_, _, err = checkSrc(t, `1 == "a"`)
	require.Error(t, err)
}

func TestInOperator(t *testing.T) {
	_, typ, err := checkSrc(t, `"a" in ["a", "b"]`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.Bool))

	_, _, err = checkSrc(t, `1 in ["a"]`)
	require.Error(t, err)
}

func TestListElementUnification(t *testing.T) {
	_, typ, err := checkSrc(t, `[None, Some(1)]`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.ListOf(types.Option(types.I64))))

	_, _, err = checkSrc(t, `[1, "a"]`)
	require.Error(t, err)
}

func TestBuiltinCalls(t *testing.T) {
	_, typ, err := checkSrc(t, `str::len("abc")`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, typ, err = checkSrc(t, `"abc".len()`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, typ, err = checkSrc(t, `[1, 2].len()`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, _, err = checkSrc(t, `str::len(42)`)
	require.Error(t, err)

	_, _, err = checkSrc(t, `str::len("a", "b")`)
	require.Error(t, err)
	assert.IsType(t, &types.ArgsError{}, err)
}

func TestUnknownIdentifiers(t *testing.T) {
	_, _, err := checkSrc(t, `nope`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown identifier")

	_, _, err = checkSrc(t, `nope(1)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown function")
}

func TestIngressIsReadOnly(t *testing.T) {
	_, _, err := checkSrc(t, `Ingress::has_label('a')`)
	require.NoError(t, err)

	_, _, err = checkSrc(t, `Ingress::add_label('a')`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown function")

	_, _, err = checkSrc(t, `Egress::add_label('a')`)
	require.NoError(t, err)
}

func TestIfTyping(t *testing.T) {
	_, typ, err := checkSrc(t, `if true { 1 } else { 2 }`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	// no else: then branch must be unit
	_, _, err = checkSrc(t, `if true { 1 }`)
	require.Error(t, err)

	_, _, err = checkSrc(t, `if 1 { () } else { () }`)
	require.Error(t, err)

	_, _, err = checkSrc(t, `if true { 1 } else { "a" }`)
	require.Error(t, err)
}

func TestIfSomeTyping(t *testing.T) {
	_, typ, err := checkSrc(t, `if let Some(x) = Some(3) { x } else { 0 }`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, _, err = checkSrc(t, `if let Some(x) = 3 { x } else { 0 }`)
	require.Error(t, err)
}

func TestIfMatchTyping(t *testing.T) {
	_, typ, err := checkSrc(t, `if match Some(1) { Some(x) => x, None => 0 }`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.I64))

	_, _, err = checkSrc(t, `if match Some(1) { Some(x) => x, None => "a" }`)
	require.Error(t, err)

	_, typ, err = checkSrc(t, `if match 3 { 1 => "one" } else { "other" }`)
	require.NoError(t, err)
	assert.True(t, typ.Equal(types.Str))
}

func TestFnBodyAgainstSignature(t *testing.T) {
	_, err := checkFnSrc(t, `fn f(x: i64) -> bool { x == 0 }`)
	require.NoError(t, err)

	_, err = checkFnSrc(t, `fn f(x: i64) -> bool { x }`)
	require.Error(t, err)
}

func TestEarlyReturnUnifiesWithFnType(t *testing.T) {
	_, err := checkFnSrc(t, `
		fn f(x: i64) -> bool {
			if x == 0 {
				return false
			};
			true
		}
	`)
	require.NoError(t, err)

	_, err = checkFnSrc(t, `
		fn f(x: i64) -> bool {
			if x == 0 {
				return 42
			};
			true
		}
	`)
	require.Error(t, err)
}

func TestLetDestructure(t *testing.T) {
	_, err := checkFnSrc(t, `
		fn f() -> i64 {
			let (a, b) = (1, 2);
			a + b
		}
	`)
	require.NoError(t, err)

	_, err = checkFnSrc(t, `
		fn f() -> i64 {
			let (a, b) = 1;
			a
		}
	`)
	require.Error(t, err)
}

func TestDeBruijnIndices(t *testing.T) {
	expr, err := checkFnSrc(t, `
		fn f(a: i64, b: i64) -> i64 {
			let c = 3;
			a + c
		}
	`)
	require.NoError(t, err)
	// body is Let(value, Seq-free body: a + c)
	require.Equal(t, KindLet, expr.Kind)
	add := expr.Args[1]
	require.Equal(t, KindInfix, add.Kind)
	// c is innermost (index 0); a is two bindings out (index 2)
	assert.Equal(t, 2, add.Args[0].Index)
	assert.Equal(t, 0, add.Args[1].Index)
}

func TestDuplicateFunction(t *testing.T) {
	h := NewHeaders()
	require.NoError(t, h.AddFunction("f", types.NewSignature(nil, types.Bool)))
	require.Error(t, h.AddFunction("f", types.NewSignature(nil, types.Bool)))
}

func TestUnresolvedSignatureRejected(t *testing.T) {
	h := NewHeaders()
	err := h.AddFunction("f", types.NewSignature([]types.Typ{types.Return}, types.Bool))
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "str::len", Resolve(".::len", []types.Typ{types.Str}))
	assert.Equal(t, "list::len", Resolve(".::len", []types.Typ{types.ListOf(types.Str)}))
	// not a builtin on the receiver: fall back to a free function
	assert.Equal(t, "frob", Resolve(".::frob", []types.Typ{types.Str}))
	assert.Equal(t, "plain", Resolve("plain", nil))
}

func TestIsConstBool(t *testing.T) {
	expr, err := checkFnSrc(t, `fn f() -> bool { true }`)
	require.NoError(t, err)
	v, ok := expr.IsConstBool()
	require.True(t, ok)
	assert.True(t, v)

	expr, err = checkFnSrc(t, `fn f() -> bool { return false }`)
	require.NoError(t, err)
	v, ok = expr.IsConstBool()
	require.True(t, ok)
	assert.False(t, v)

	expr, err = checkFnSrc(t, `fn f(x: i64) -> bool { x == 0 }`)
	require.NoError(t, err)
	_, ok = expr.IsConstBool()
	assert.False(t, ok)
}

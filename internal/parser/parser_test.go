package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/types"
)

func TestParseFnDecl(t *testing.T) {
	prog, err := Parse(`
		fn allow_rest_request(req: HttpRequest) -> bool {
			req.method() == "GET"
		}
	`)
	require.NoError(t, err)
	require.Len(t, prog.Fns, 1)
	fn := prog.Fns[0]
	assert.Equal(t, "allow_rest_request", fn.Name)
	require.Len(t, fn.Params, 1)
	assert.True(t, fn.Params[0].Typ.Equal(types.HTTPRequest))
	assert.True(t, fn.Ret.Equal(types.Bool))
	require.Len(t, fn.Body.Stmts, 1)
}

func TestParseDefaultReturnIsUnit(t *testing.T) {
	prog, err := Parse(`fn f() { }`)
	require.NoError(t, err)
	assert.True(t, prog.Fns[0].Ret.Equal(types.Unit))
}

func TestParseExternal(t *testing.T) {
	prog, err := Parse(`
		external logger @ "tcp://127.0.0.1:9000" {
			fn log(_) -> ()
			fn count(str, i64) -> i64
		}
	`)
	require.NoError(t, err)
	require.Len(t, prog.Externals, 1)
	ext := prog.Externals[0]
	assert.Equal(t, "logger", ext.Name)
	assert.Equal(t, "tcp://127.0.0.1:9000", ext.URL)
	require.Len(t, ext.Methods, 2)
	assert.True(t, ext.Methods[0].Args[0].Equal(types.Return))
	assert.True(t, ext.Methods[0].Ret.Equal(types.Unit))
	assert.True(t, ext.Methods[1].Ret.Equal(types.I64))
}

func TestParseTypes(t *testing.T) {
	prog, err := Parse(`fn f(a: List<str>, b: Option<i64>, c: (str, data)) -> unit { }`)
	require.NoError(t, err)
	params := prog.Fns[0].Params
	assert.True(t, params[0].Typ.Equal(types.ListOf(types.Str)))
	assert.True(t, params[1].Typ.Equal(types.Option(types.I64)))
	assert.True(t, params[2].Typ.Equal(types.TupleOf(types.Str, types.Data)))
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse(`fn f(a: Widget) -> bool { true }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Widget")
}

func TestMethodCallRewrite(t *testing.T) {
	e, err := ParseExpr(`req.header("host")`)
	require.NoError(t, err)
	call, ok := e.(*CallExpr)
	require.True(t, ok)
	assert.Equal(t, ".::header", call.Name)
	require.Len(t, call.Args, 2)
	_, ok = call.Args[0].(*IdentExpr)
	assert.True(t, ok)
}

func TestQualifiedCall(t *testing.T) {
	e, err := ParseExpr(`HttpRequest::GET()`)
	require.NoError(t, err)
	call, ok := e.(*CallExpr)
	require.True(t, ok)
	assert.Equal(t, "HttpRequest::GET", call.Name)
}

func TestPrecedence(t *testing.T) {
	e, err := ParseExpr(`1 + 2 * 3 == 7 && true`)
	require.NoError(t, err)
	and, ok := e.(*InfixExpr)
	require.True(t, ok)
	assert.Equal(t, OpAnd, and.Op)
	eq, ok := and.Left.(*InfixExpr)
	require.True(t, ok)
	assert.Equal(t, OpEq, eq.Op)
	add, ok := eq.Left.(*InfixExpr)
	require.True(t, ok)
	assert.Equal(t, OpAdd, add.Op)
	mul, ok := add.Right.(*InfixExpr)
	require.True(t, ok)
	assert.Equal(t, OpMul, mul.Op)
}

func TestIfLetSome(t *testing.T) {
	e, err := ParseExpr(`if let Some(x) = opt { x } else { 0 }`)
	require.NoError(t, err)
	ifs, ok := e.(*IfSomeExpr)
	require.True(t, ok)
	assert.Equal(t, "x", ifs.Var)
	require.NotNil(t, ifs.Else)
}

func TestIfMatch(t *testing.T) {
	e, err := ParseExpr(`if match m { Some(x) => x, None => 0 }`)
	require.NoError(t, err)
	im, ok := e.(*IfMatchExpr)
	require.True(t, ok)
	require.Len(t, im.Arms, 2)
	assert.Equal(t, PatSome, im.Arms[0].Pattern.Kind)
	assert.Equal(t, PatNone, im.Arms[1].Pattern.Kind)
}

func TestElseIfChains(t *testing.T) {
	e, err := ParseExpr(`if a { 1 } else if b { 2 } else { 3 }`)
	require.NoError(t, err)
	ife, ok := e.(*IfExpr)
	require.True(t, ok)
	require.NotNil(t, ife.Else)
}

func TestListTupleOption(t *testing.T) {
	e, err := ParseExpr(`[1, 2, 3]`)
	require.NoError(t, err)
	list, ok := e.(*ListExpr)
	require.True(t, ok)
	assert.Len(t, list.Elems, 3)

	e, err = ParseExpr(`("a", 1)`)
	require.NoError(t, err)
	tup, ok := e.(*TupleExpr)
	require.True(t, ok)
	assert.Len(t, tup.Elems, 2)

	e, err = ParseExpr(`Some(1)`)
	require.NoError(t, err)
	_, ok = e.(*SomeExpr)
	assert.True(t, ok)

	e, err = ParseExpr(`None`)
	require.NoError(t, err)
	_, ok = e.(*NoneExpr)
	assert.True(t, ok)
}

func TestLetAndBlocks(t *testing.T) {
	prog, err := Parse(`
		fn f() -> i64 {
			let x = 1;
			let (a, b) = (2, 3);
			x + a + b
		}
	`)
	require.NoError(t, err)
	stmts := prog.Fns[0].Body.Stmts
	require.Len(t, stmts, 3)
	let1, ok := stmts[0].(*LetStmt)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, let1.Names)
	let2, ok := stmts[1].(*LetStmt)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, let2.Names)
	last, ok := stmts[2].(*ExprStmt)
	require.True(t, ok)
	assert.False(t, last.Semi)
}

func TestReturn(t *testing.T) {
	prog, err := Parse(`
		fn f(x: i64) -> bool {
			if x == 0 {
				return false
			};
			true
		}
	`)
	require.NoError(t, err)
	require.Len(t, prog.Fns, 1)
}

func TestInOperator(t *testing.T) {
	e, err := ParseExpr(`"a" in ["a", "b"]`)
	require.NoError(t, err)
	in, ok := e.(*InfixExpr)
	require.True(t, ok)
	assert.Equal(t, OpIn, in.Op)
}

func TestSyntaxErrorHasLocation(t *testing.T) {
	_, err := Parse("fn f( {")
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 1, perr.Loc.Line)
}

func TestLabelAndIPLiterals(t *testing.T) {
	e, err := ParseExpr(`'svc::<x>'`)
	require.NoError(t, err)
	_, ok := e.(*LitExpr)
	assert.True(t, ok)

	e, err = ParseExpr(`10.0.0.1`)
	require.NoError(t, err)
	_, ok = e.(*LitExpr)
	assert.True(t, ok)
}

package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(t *testing.T, src string) []TokenType {
	t.Helper()
	toks, err := Tokenize(src)
	require.NoError(t, err)
	out := make([]TokenType, 0, len(toks))
	for _, tok := range toks {
		out = append(out, tok.Type)
	}
	return out
}

func TestKeywordsAndIdents(t *testing.T) {
	assert.Equal(t,
		[]TokenType{FN, IDENT, LPAREN, IDENT, COLONCOLON, IDENT, RPAREN, EOF},
		kinds(t, "fn f(a :: b)"))
	assert.Equal(t,
		[]TokenType{IF, LET, SOME, LPAREN, IDENT, RPAREN, ASSIGN, IDENT, EOF},
		kinds(t, "if let Some(x) = y"))
}

func TestOperators(t *testing.T) {
	assert.Equal(t,
		[]TokenType{PLUS, CONCAT, MINUS, ARROW, EQ, ASSIGN, FATARROW, NEQ, BANG,
			LE, LT, GE, GT, AND, OR, EOF},
		kinds(t, "+ ++ - -> == = => != ! <= < >= > && ||"))
}

func TestNumbers(t *testing.T) {
	toks, err := Tokenize("42 3.14 10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, INT, toks[0].Type)
	assert.Equal(t, "42", toks[0].Text)
	assert.Equal(t, FLOAT, toks[1].Type)
	assert.Equal(t, "3.14", toks[1].Text)
	assert.Equal(t, IPV4, toks[2].Type)
	assert.Equal(t, "10.0.0.1", toks[2].Text)

	_, err = Tokenize("1.2.3")
	assert.Error(t, err)
}

func TestStrings(t *testing.T) {
	toks, err := Tokenize(`"hello\nworld"`)
	require.NoError(t, err)
	assert.Equal(t, STRING, toks[0].Type)
	assert.Equal(t, "hello\nworld", toks[0].Text)

	_, err = Tokenize(`"unterminated`)
	assert.Error(t, err)
}

func TestLabelLiteral(t *testing.T) {
	toks, err := Tokenize("'a::b::<x>'")
	require.NoError(t, err)
	assert.Equal(t, LABEL, toks[0].Type)
	assert.Equal(t, "a::b::<x>", toks[0].Text)
}

func TestComments(t *testing.T) {
	assert.Equal(t,
		[]TokenType{IDENT, IDENT, EOF},
		kinds(t, "a // comment\nb"))
	assert.Equal(t,
		[]TokenType{IDENT, IDENT, EOF},
		kinds(t, "a /* span\nlines */ b"))
	_, err := Tokenize("/* open")
	assert.Error(t, err)
}

func TestLocations(t *testing.T) {
	toks, err := Tokenize("a\n  b")
	require.NoError(t, err)
	assert.Equal(t, 1, toks[0].Loc.Line)
	assert.Equal(t, 1, toks[0].Loc.Col)
	assert.Equal(t, 2, toks[1].Loc.Line)
	assert.Equal(t, 3, toks[1].Loc.Col)
}

func TestIllegal(t *testing.T) {
	for _, src := range []string{"#", "&x", "|x"} {
		_, err := Tokenize(src)
		assert.Error(t, err, src)
	}
}

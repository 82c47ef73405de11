package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"a", false},
		{"a::b::c", false},
		{"service::<x>::*", false},
		{"a b::c-d::e_f", false},
		{"", true},
		{"a::", true},
		{"::b", true},
		{"1abc", true},
		{"a::<1x>", true},
		{"a::<>", true},
	}
	for _, tt := range tests {
		_, err := Parse(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"a", "a::b", "a::<x>::*", "svc::proxy-1"} {
		l := MustParse(s)
		assert.Equal(t, s, l.String())
	}
}

func TestMatchWith(t *testing.T) {
	pat := MustParse("a::<x>::<y>")
	lab := MustParse("a::b::c")
	m, ok := pat.MatchWith(lab)
	require.True(t, ok)
	x, ok := m.Get("x")
	require.True(t, ok)
	assert.Equal(t, "b", x)
	y, ok := m.Get("y")
	require.True(t, ok)
	assert.Equal(t, "c", y)
}

func TestMatchInconsistentBinding(t *testing.T) {
	pat := MustParse("<x>::<x>")
	_, ok := pat.MatchWith(MustParse("a::b"))
	assert.False(t, ok)
	_, ok = pat.MatchWith(MustParse("a::a"))
	assert.True(t, ok)
}

func TestMatchLengthMismatch(t *testing.T) {
	pat := MustParse("a::<x>")
	assert.False(t, pat.MatchesWith(MustParse("a")))
	assert.False(t, pat.MatchesWith(MustParse("a::b::c")))
}

func TestMatchAgainstVariableNodes(t *testing.T) {
	// Matching a hole in the subject binds the hole node itself; matching it
	// against a literal pattern node fails.
	pat := MustParse("a::<a>::<a>::<b>")
	lab := MustParse("a::<b>::<b>::<b>")
	m, ok := pat.MatchWith(lab)
	require.True(t, ok)
	_, isStr := m.Get("a")
	assert.False(t, isStr)
	_, isStr = m.Get("b")
	assert.False(t, isStr)

	assert.False(t, MustParse("a::b").MatchesWith(MustParse("a::<x>")))
}

func TestWildcardMatchesAnySameLength(t *testing.T) {
	pat := MustParse("*::*::*")
	assert.True(t, pat.MatchesWith(MustParse("a::b::c")))
	assert.True(t, pat.MatchesWith(MustParse("x::<v>::*")))
	assert.False(t, pat.MatchesWith(MustParse("a::b")))
}

func TestRebindReproducesLabel(t *testing.T) {
	// For every match M of pattern P against L, P.Rebind(M) == L, provided
	// every hole in P is named.
	cases := [][2]string{
		{"a::<x>::<y>", "a::b::c"},
		{"<x>::<x>", "q::q"},
		{"svc::<name>", "svc::payments"},
	}
	for _, c := range cases {
		pat, lab := MustParse(c[0]), MustParse(c[1])
		m, ok := pat.MatchWith(lab)
		require.True(t, ok, c[0])
		assert.True(t, pat.Rebind(m).Equal(lab), c[0])
	}
}

func TestEqualIsMatchingEquivalence(t *testing.T) {
	assert.True(t, MustParse("a::b").Equal(MustParse("a::b")))
	assert.True(t, MustParse("a::*").Equal(MustParse("a::*")))
	assert.False(t, MustParse("a::*").Equal(MustParse("a::b")))
	assert.False(t, MustParse("a::b").Equal(MustParse("a::c")))
}

func TestPartsAndVars(t *testing.T) {
	l := MustParse("a::b::c")
	parts, ok := l.Parts()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, parts)

	p := MustParse("a::<x>::*::<y>")
	_, ok = p.Parts()
	assert.False(t, ok)
	assert.Equal(t, []string{"x", "y"}, p.Vars())
}

func TestGetString(t *testing.T) {
	l := MustParse("a::b::<x>")
	s, ok := l.GetString(1)
	require.True(t, ok)
	assert.Equal(t, "b", s)
	_, ok = l.GetString(2)
	assert.False(t, ok)
	_, ok = l.GetString(7)
	assert.False(t, ok)
}

func TestSet(t *testing.T) {
	s := NewSet()
	s.Insert(MustParse("a::b"))
	s.Insert(MustParse("a::b"))
	s.Insert(MustParse("c"))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(MustParse("a::b")))
	assert.True(t, s.HasMatch(MustParse("a::<x>")))
	s.RemoveMatch(MustParse("a::*"))
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Contains(MustParse("a::b")))
}

package externals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armour.dev/armour/internal/literals"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer()
	require.NoError(t, s.Listen("tcp://127.0.0.1:0"))
	t.Cleanup(s.Close)
	return s, "tcp://" + s.Addr().String()
}

func TestValueRoundTrip(t *testing.T) {
	cases := []literals.Literal{
		literals.Unit(),
		literals.Bool(true),
		literals.Int(-42),
		literals.Float(2.5),
		literals.Str("hello"),
		literals.Data([]byte{1, 2, 3}),
		literals.List([]literals.Literal{literals.Int(1), literals.Int(2)}),
		literals.Tuple([]literals.Literal{literals.Str("k"), literals.Str("v")}),
		literals.None(),
		literals.Some(literals.Str("x")),
	}
	for _, in := range cases {
		v, err := FromLiteral(in)
		require.NoError(t, err, in.String())
		out, err := v.ToLiteral()
		require.NoError(t, err, in.String())
		assert.True(t, in.Equal(out), in.String())
	}
}

func TestCallRoundTrip(t *testing.T) {
	s, url := startServer(t)
	s.Register("echo", func(args []literals.Literal) (literals.Literal, error) {
		if len(args) != 1 {
			return literals.Literal{}, fmt.Errorf("want 1 arg")
		}
		return args[0], nil
	})

	client := NewClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := client.Call(ctx, url, "echo", []literals.Literal{literals.Str("ping")})
	require.NoError(t, err)
	assert.True(t, out.Equal(literals.Str("ping")))
}

func TestConnectionReuse(t *testing.T) {
	s, url := startServer(t)
	count := 0
	s.Register("count", func(args []literals.Literal) (literals.Literal, error) {
		count++
		return literals.Int(int64(count)), nil
	})

	client := NewClient()
	defer client.Close()
	for i := 1; i <= 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		out, err := client.Call(ctx, url, "count", nil)
		cancel()
		require.NoError(t, err)
		assert.True(t, out.Equal(literals.Int(int64(i))))
	}
}

func TestUnknownMethod(t *testing.T) {
	_, url := startServer(t)
	client := NewClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Call(ctx, url, "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestHandlerError(t *testing.T) {
	s, url := startServer(t)
	s.Register("fail", func(args []literals.Literal) (literals.Literal, error) {
		return literals.Literal{}, fmt.Errorf("boom")
	})
	client := NewClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Call(ctx, url, "fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDialFailure(t *testing.T) {
	client := NewClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, "tcp://127.0.0.1:1", "x", nil)
	assert.Error(t, err)
}

func TestStructuredLiteralsCrossAsText(t *testing.T) {
	req := literals.Request(literals.NewHTTPRequest("GET", "HTTP/1.1", "/x", "", nil, literals.Connection{}))
	v, err := FromLiteral(req)
	require.NoError(t, err)
	assert.Equal(t, vText, v.Kind)
	assert.Contains(t, v.S, "GET")
}

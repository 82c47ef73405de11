package externals

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/wire"
)

// Client dispatches external calls, caching one connection per service
// URL. Calls on the same connection are serialized; a transport error
// drops the cached connection so the next call redials.
type Client struct {
	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	mu sync.Mutex
	c  net.Conn
}

// NewClient returns an empty client.
func NewClient() *Client {
	return &Client{conns: map[string]*conn{}}
}

func dialAddr(rawURL string) (network, addr string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("bad external url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "tcp":
		return "tcp", u.Host, nil
	case "unix":
		return "unix", u.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported external scheme %q", u.Scheme)
	}
}

func (c *Client) get(ctx context.Context, rawURL string) (*conn, error) {
	c.mu.Lock()
	cn, ok := c.conns[rawURL]
	if !ok {
		cn = &conn{}
		c.conns[rawURL] = cn
	}
	c.mu.Unlock()

	cn.mu.Lock()
	if cn.c == nil {
		network, addr, err := dialAddr(rawURL)
		if err != nil {
			cn.mu.Unlock()
			return nil, err
		}
		var d net.Dialer
		nc, err := d.DialContext(ctx, network, addr)
		if err != nil {
			cn.mu.Unlock()
			return nil, err
		}
		cn.c = nc
	}
	return cn, nil // locked; released by the caller
}

// Call implements interpret.ExternalCaller. The context deadline bounds
// dialing and the round trip.
func (c *Client) Call(ctx context.Context, rawURL, method string, args []literals.Literal) (literals.Literal, error) {
	values := make([]Value, len(args))
	for i, a := range args {
		v, err := FromLiteral(a)
		if err != nil {
			return literals.Literal{}, err
		}
		values[i] = v
	}

	cn, err := c.get(ctx, rawURL)
	if err != nil {
		return literals.Literal{}, err
	}
	defer cn.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Minute)
	}
	if err := cn.c.SetDeadline(deadline); err != nil {
		cn.drop()
		return literals.Literal{}, err
	}
	if err := wire.WriteFrame(cn.c, Request{Method: method, Args: values}); err != nil {
		cn.drop()
		return literals.Literal{}, err
	}
	var resp Response
	if err := wire.ReadFrame(cn.c, &resp); err != nil {
		cn.drop()
		return literals.Literal{}, err
	}
	if resp.Err != "" {
		return literals.Literal{}, fmt.Errorf("service error: %s", resp.Err)
	}
	if resp.Value == nil {
		return literals.Unit(), nil
	}
	return resp.Value.ToLiteral()
}

// drop must be called with the connection lock held.
func (cn *conn) drop() {
	if cn.c != nil {
		cn.c.Close()
		cn.c = nil
	}
}

// Close releases all cached connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cn := range c.conns {
		cn.mu.Lock()
		cn.drop()
		cn.mu.Unlock()
	}
	c.conns = map[string]*conn{}
}

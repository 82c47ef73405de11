// Package policy packages compiled programs and the protocol interfaces
// they are loaded against. A Program is not modified once a proxy has
// installed it; proxies swap whole programs atomically.
package policy

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"lukechampine.com/blake3"

	"armour.dev/armour/internal/expressions"
	"armour.dev/armour/internal/parser"
	"armour.dev/armour/internal/types"
	"armour.dev/armour/internal/wire"
)

// DefaultTimeout bounds external RPC calls when a program does not set its
// own.
const DefaultTimeout = 5 * time.Second

// Program is a compiled policy: signatures, external service endpoints,
// function bodies and the external-call timeout.
type Program struct {
	Headers      *expressions.Headers        `cbor:"h"`
	ExternalURLs map[string]string           `cbor:"u,omitempty"`
	Bodies       map[string]expressions.Expr `cbor:"b"`
	TimeoutSecs  int64                       `cbor:"t"`
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{
		Headers:      expressions.NewHeaders(),
		ExternalURLs: map[string]string{},
		Bodies:       map[string]expressions.Expr{},
		TimeoutSecs:  int64(DefaultTimeout / time.Second),
	}
}

// CompileProgram parses, collects signatures, and type-checks policy
// source. Errors carry the source location of the offending construct.
func CompileProgram(src string) (*Program, error) {
	parsed, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	prog := NewProgram()
	for _, ext := range parsed.Externals {
		methods := map[string]types.Signature{}
		for _, m := range ext.Methods {
			s := types.Signature{Args: m.Args, AnyArgs: m.AnyArgs, Ret: m.Ret}
			methods[m.Name] = s
		}
		if err := prog.Headers.AddExternal(ext.Name, methods); err != nil {
			return nil, err
		}
		prog.ExternalURLs[ext.Name] = ext.URL
	}
	// signatures first, so bodies may call forward and recursively
	for _, fn := range parsed.Fns {
		args := make([]types.Typ, len(fn.Params))
		for i, p := range fn.Params {
			args[i] = p.Typ
		}
		if err := prog.Headers.AddFunction(fn.Name, types.NewSignature(args, fn.Ret)); err != nil {
			return nil, err
		}
	}
	for i := range parsed.Fns {
		body, err := expressions.CheckFn(prog.Headers, &parsed.Fns[i])
		if err != nil {
			return nil, err
		}
		prog.Bodies[parsed.Fns[i].Name] = body
	}
	return prog, nil
}

// Body implements interpret.Program.
func (p *Program) Body(name string) (expressions.Expr, bool) {
	e, ok := p.Bodies[name]
	return e, ok
}

// ExternalURL implements interpret.Program.
func (p *Program) ExternalURL(module string) (string, bool) {
	u, ok := p.ExternalURLs[module]
	return u, ok
}

// Timeout implements interpret.Program.
func (p *Program) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// SetTimeout adjusts the external-call timeout.
func (p *Program) SetTimeout(d time.Duration) {
	p.TimeoutSecs = int64(d / time.Second)
}

// IsEmpty reports whether the program defines no functions.
func (p *Program) IsEmpty() bool {
	return p == nil || len(p.Bodies) == 0
}

// Signature returns the declared signature of a program function.
func (p *Program) Signature(name string) (types.Signature, bool) {
	if p == nil || p.Headers == nil {
		return types.Signature{}, false
	}
	sig, ok := p.Headers.Fns[name]
	return sig, ok
}

// canonical returns the program's deterministic binary form; both the wire
// encoding and the identity hash derive from it.
func (p *Program) canonical() ([]byte, error) {
	return wire.Marshal(p)
}

// Blake3 returns the program's identity: the hex blake3 of its canonical
// encoding.
func (p *Program) Blake3() (string, error) {
	body, err := p.canonical()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Encode produces the wire form: base64(gzip(cbor(Program))).
func (p *Program) Encode() (string, error) {
	body, err := p.canonical()
	if err != nil {
		return "", fmt.Errorf("encode program: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeProgram reverses Encode.
func DecodeProgram(s string) (*Program, error) {
	zipped, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(zipped))
	if err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	var prog Program
	if err := wire.Unmarshal(body, &prog); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	return &prog, nil
}

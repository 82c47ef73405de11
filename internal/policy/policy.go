package policy

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Policy is an installed program together with its protocol and the
// load-time FnPolicy classification of every entry point.
type Policy struct {
	Protocol Protocol            `cbor:"p"`
	Program  *Program            `cbor:"g,omitempty"`
	Fns      map[string]FnPolicy `cbor:"f"`

	// hash is fixed when the policy is materialized, so later runtime
	// adjustments (e.g. the external-call timeout) do not change the
	// identity reported upstream.
	hash string
}

// NewPolicy validates a program against a protocol interface.
func NewPolicy(proto Protocol, prog *Program) (*Policy, error) {
	fns, err := Validate(prog, proto)
	if err != nil {
		return nil, err
	}
	return &Policy{Protocol: proto, Program: prog, Fns: fns}, nil
}

// AllowAll permits every hook without evaluation.
func AllowAll(proto Protocol) *Policy {
	fns := map[string]FnPolicy{}
	for _, e := range InterfaceFor(proto) {
		fns[e.Name] = FnPolicy{Kind: FnAllow}
	}
	return &Policy{Protocol: proto, Fns: fns}
}

// DenyAll blocks every decision hook without evaluation.
func DenyAll(proto Protocol) *Policy {
	fns := map[string]FnPolicy{}
	for _, e := range InterfaceFor(proto) {
		fns[e.Name] = FnPolicy{Kind: FnDeny}
	}
	return &Policy{Protocol: proto, Fns: fns}
}

// Get returns the classification of an entry point; unknown names deny.
func (p *Policy) Get(name string) FnPolicy {
	if p == nil {
		return FnPolicy{Kind: FnDeny}
	}
	if f, ok := p.Fns[name]; ok {
		return f
	}
	return FnPolicy{Kind: FnDeny}
}

// Hash identifies the installed policy for status reporting: the program's
// blake3 when present, otherwise the blake3 of the policy description.
func (p *Policy) Hash() string {
	if p == nil {
		return ""
	}
	if p.hash != "" {
		return p.hash
	}
	if p.Program != nil && !p.Program.IsEmpty() {
		if h, err := p.Program.Blake3(); err == nil {
			return h
		}
	}
	sum := blake3.Sum256([]byte(p.Description()))
	return hex.EncodeToString(sum[:])
}

// Description is a short human-readable summary.
func (p *Policy) Description() string {
	if p == nil {
		return "none"
	}
	if p.Program != nil && !p.Program.IsEmpty() {
		return fmt.Sprintf("%s program (%d functions)", p.Protocol, len(p.Program.Bodies))
	}
	allow := true
	deny := true
	for _, f := range p.Fns {
		if f.Kind != FnAllow {
			allow = false
		}
		if f.Kind != FnDeny {
			deny = false
		}
	}
	switch {
	case allow:
		return fmt.Sprintf("allow all %s", p.Protocol)
	case deny:
		return fmt.Sprintf("deny all %s", p.Protocol)
	default:
		return fmt.Sprintf("%s policy", p.Protocol)
	}
}

// Wire kinds for policy distribution.
const (
	WireAllowAll = "allow-all"
	WireDenyAll  = "deny-all"
	WireProgram  = "program"
)

// Wire is the distribution form of a policy: AllowAll, DenyAll, or an
// encoded program. It travels as JSON on the REST surfaces and as CBOR on
// the host↔proxy stream.
type Wire struct {
	Kind     string   `cbor:"k" json:"kind"`
	Protocol Protocol `cbor:"p" json:"protocol"`
	Encoded  string   `cbor:"e,omitempty" json:"encoded,omitempty"`
}

// NewWire packages a policy for distribution.
func NewWire(p *Policy) (Wire, error) {
	if p.Program != nil && !p.Program.IsEmpty() {
		enc, err := p.Program.Encode()
		if err != nil {
			return Wire{}, err
		}
		return Wire{Kind: WireProgram, Protocol: p.Protocol, Encoded: enc}, nil
	}
	deny := false
	for _, f := range p.Fns {
		if f.Kind == FnDeny {
			deny = true
		}
	}
	if deny {
		return Wire{Kind: WireDenyAll, Protocol: p.Protocol}, nil
	}
	return Wire{Kind: WireAllowAll, Protocol: p.Protocol}, nil
}

// ProgramWire packages policy source that has already been compiled.
func ProgramWire(proto Protocol, prog *Program) (Wire, error) {
	p, err := NewPolicy(proto, prog)
	if err != nil {
		return Wire{}, err
	}
	return NewWire(p)
}

// Resolve materializes the distributed form for a proxy serving proto. The
// receiver re-validates against its own interface; a malformed or
// mismatched policy leaves the running program unchanged.
func (w Wire) Resolve(proto Protocol) (*Policy, error) {
	if !w.Protocol.Covers(proto) {
		return nil, fmt.Errorf("policy for %s does not apply to a %s proxy", w.Protocol, proto)
	}
	switch w.Kind {
	case WireAllowAll:
		return AllowAll(proto), nil
	case WireDenyAll:
		return DenyAll(proto), nil
	case WireProgram:
		prog, err := DecodeProgram(w.Encoded)
		if err != nil {
			return nil, err
		}
		p, err := NewPolicy(proto, prog)
		if err != nil {
			return nil, err
		}
		p.hash = p.Hash()
		return p, nil
	default:
		return nil, fmt.Errorf("unknown policy kind %q", w.Kind)
	}
}

package policy

import (
	"fmt"
	"strings"

	"armour.dev/armour/internal/types"
)

// Protocol names the proxy role a policy applies to.
type Protocol string

const (
	HTTP Protocol = "HTTP"
	TCP  Protocol = "TCP"
	All  Protocol = "HTTP+TCP"
)

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "http":
		return HTTP, nil
	case "tcp":
		return TCP, nil
	case "http+tcp", "tcp+http", "all":
		return All, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

// Covers reports whether policies for p apply to proto.
func (p Protocol) Covers(proto Protocol) bool {
	return p == proto || p == All || proto == All
}

// Entry point names.
const (
	AllowRESTRequest   = "allow_rest_request"
	AllowRESTResponse  = "allow_rest_response"
	AllowClientPayload = "allow_client_payload"
	AllowServerPayload = "allow_server_payload"
	AllowTCPConnection = "allow_tcp_connection"
	OnTCPDisconnect    = "on_tcp_disconnect"
)

// FnPolicyKind classifies an interface entry at load time.
type FnPolicyKind uint8

const (
	FnAllow FnPolicyKind = iota
	FnDeny
	FnArgs
)

// FnPolicy is the runtime classification of one entry point: Allow and
// Deny short-circuit without evaluation; Args(n) invokes the interpreter
// with n arguments.
type FnPolicy struct {
	Kind FnPolicyKind `cbor:"k" json:"kind"`
	Args int          `cbor:"n,omitempty" json:"args,omitempty"`
}

func (f FnPolicy) String() string {
	switch f.Kind {
	case FnAllow:
		return "allow"
	case FnDeny:
		return "deny"
	default:
		return fmt.Sprintf("args(%d)", f.Args)
	}
}

// InterfaceEntry fixes the permitted signatures and the default policy of
// one entry point.
type InterfaceEntry struct {
	Name    string
	Sigs    []types.Signature
	Default FnPolicyKind
}

// Interface is the fixed contract a program must satisfy for a protocol.
type Interface []InterfaceEntry

func boolSig(args ...types.Typ) types.Signature {
	return types.NewSignature(args, types.Bool)
}

func unitSig(args ...types.Typ) types.Signature {
	return types.NewSignature(args, types.Unit)
}

var httpInterface = Interface{
	{
		Name:    AllowRESTRequest,
		Sigs:    []types.Signature{boolSig(types.HTTPRequest), boolSig()},
		Default: FnDeny,
	},
	{
		Name:    AllowRESTResponse,
		Sigs:    []types.Signature{boolSig(types.HTTPResponse), boolSig()},
		Default: FnDeny,
	},
	{
		Name:    AllowClientPayload,
		Sigs:    []types.Signature{boolSig(types.Data), boolSig()},
		Default: FnAllow,
	},
	{
		Name:    AllowServerPayload,
		Sigs:    []types.Signature{boolSig(types.Data), boolSig()},
		Default: FnAllow,
	},
}

var tcpInterface = Interface{
	{
		Name:    AllowTCPConnection,
		Sigs:    []types.Signature{boolSig(types.Connection), boolSig()},
		Default: FnDeny,
	},
	{
		Name: OnTCPDisconnect,
		Sigs: []types.Signature{
			unitSig(types.Connection, types.I64, types.I64),
			unitSig(types.Connection),
			unitSig(),
		},
		Default: FnAllow,
	},
}

// InterfaceFor returns the contract for a protocol.
func InterfaceFor(proto Protocol) Interface {
	switch proto {
	case HTTP:
		return httpInterface
	case TCP:
		return tcpInterface
	default:
		return append(append(Interface{}, httpInterface...), tcpInterface...)
	}
}

// entry point names look like hooks; anything hook-shaped that the
// interface does not declare is rejected at load
func looksLikeEntryPoint(name string) bool {
	return strings.HasPrefix(name, "allow_") || strings.HasPrefix(name, "on_")
}

// Validate checks a program against a protocol's interface and computes
// the FnPolicy for every entry point. Missing entries take the interface
// default; trivially constant entries collapse to Allow/Deny; hook-shaped
// functions outside the interface fail the load.
func Validate(prog *Program, proto Protocol) (map[string]FnPolicy, error) {
	iface := InterfaceFor(proto)
	byName := map[string]InterfaceEntry{}
	for _, e := range iface {
		byName[e.Name] = e
	}
	if prog != nil {
		for name := range prog.Bodies {
			if looksLikeEntryPoint(name) {
				if _, ok := byName[name]; !ok {
					return nil, fmt.Errorf("interface mismatch: %s policy does not accept %q", proto, name)
				}
			}
		}
	}

	fns := map[string]FnPolicy{}
	for _, entry := range iface {
		sig, defined := prog.Signature(entry.Name)
		if !defined {
			fns[entry.Name] = FnPolicy{Kind: entry.Default}
			continue
		}
		matched := false
		for _, permitted := range entry.Sigs {
			if len(sig.Args) != len(permitted.Args) || !sig.Ret.Equal(permitted.Ret) {
				continue
			}
			ok := true
			for i := range sig.Args {
				if !sig.Args[i].Equal(permitted.Args[i]) {
					ok = false
					break
				}
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("interface mismatch: %q has signature %s", entry.Name, sig)
		}
		if body, ok := prog.Bodies[entry.Name]; ok {
			if v, constant := body.IsConstBool(); constant {
				if v {
					fns[entry.Name] = FnPolicy{Kind: FnAllow}
				} else {
					fns[entry.Name] = FnPolicy{Kind: FnDeny}
				}
				continue
			}
		}
		fns[entry.Name] = FnPolicy{Kind: FnArgs, Args: len(sig.Args)}
	}
	return fns, nil
}

package expressions

import (
	"fmt"
	"strings"

	"armour.dev/armour/internal/types"
)

// Headers is the signature environment a program is checked against:
// program-defined functions plus declared external services. Builtins and
// metadata operations are fixed tables shared by every program.
type Headers struct {
	Fns       map[string]types.Signature            `cbor:"f"`
	Externals map[string]map[string]types.Signature `cbor:"x,omitempty"`
}

// NewHeaders returns an empty signature environment.
func NewHeaders() *Headers {
	return &Headers{
		Fns:       map[string]types.Signature{},
		Externals: map[string]map[string]types.Signature{},
	}
}

// AddFunction registers a program function; duplicates and unresolved
// signatures are rejected.
func (h *Headers) AddFunction(name string, sig types.Signature) error {
	if _, ok := h.Fns[name]; ok {
		return fmt.Errorf("duplicate function %q", name)
	}
	if !sig.IsResolved() {
		return fmt.Errorf("function %q: unresolved signature %s", name, sig)
	}
	h.Fns[name] = sig
	return nil
}

// AddExternal registers a declared external service and its methods.
func (h *Headers) AddExternal(module string, methods map[string]types.Signature) error {
	if _, ok := h.Externals[module]; ok {
		return fmt.Errorf("duplicate external %q", module)
	}
	h.Externals[module] = methods
	return nil
}

// Lookup resolves a (possibly qualified) function name to its signature and
// call kind. Resolution order: builtins, metadata operations, external
// methods, program functions.
func (h *Headers) Lookup(name string) (types.Signature, CallKind, bool) {
	if sig, ok := builtins[name]; ok {
		return sig, CallBuiltin, true
	}
	if sig, ok := metaBuiltins[name]; ok {
		return sig, CallMeta, true
	}
	if module, method, ok := strings.Cut(name, "::"); ok && h.Externals != nil {
		if methods, found := h.Externals[module]; found {
			if sig, found := methods[method]; found {
				return sig, CallExternal, true
			}
		}
	}
	if h.Fns != nil {
		if sig, ok := h.Fns[name]; ok {
			return sig, CallFn, true
		}
	}
	return types.Signature{}, 0, false
}

// IsBuiltin reports whether name denotes a builtin or metadata operation.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	if !ok {
		_, ok = metaBuiltins[name]
	}
	return ok
}

// Resolve rewrites a dot-method placeholder ".::m" against the receiver's
// intrinsic type name; when "<intrinsic>::m" is not a builtin the bare
// method name is used as a free function.
func Resolve(name string, argTyps []types.Typ) string {
	if !strings.HasPrefix(name, ".::") {
		return name
	}
	rest := strings.TrimPrefix(name, ".::")
	if len(argTyps) == 0 {
		return rest
	}
	if intrinsic, ok := argTyps[0].Intrinsic(); ok {
		qualified := intrinsic + "::" + rest
		if IsBuiltin(qualified) {
			return qualified
		}
	}
	return rest
}

func sig(args []types.Typ, ret types.Typ) types.Signature {
	return types.NewSignature(args, ret)
}

// builtins is the fixed builtin signature table. Polymorphic entries use
// Return components, which unify with any argument.
var builtins = map[string]types.Signature{
	"option::Some":    sig([]types.Typ{types.Return}, types.Return),
	"option::is_none": sig([]types.Typ{types.AnyOption()}, types.Bool),
	"option::is_some": sig([]types.Typ{types.AnyOption()}, types.Bool),

	"i64::abs":    sig([]types.Typ{types.I64}, types.I64),
	"i64::to_str": sig([]types.Typ{types.I64}, types.Str),
	"i64::pow":    sig([]types.Typ{types.I64, types.I64}, types.I64),
	"i64::min":    sig([]types.Typ{types.I64, types.I64}, types.I64),
	"i64::max":    sig([]types.Typ{types.I64, types.I64}, types.I64),

	"str::len":          sig([]types.Typ{types.Str}, types.I64),
	"str::to_lowercase": sig([]types.Typ{types.Str}, types.Str),
	"str::to_uppercase": sig([]types.Typ{types.Str}, types.Str),
	"str::trim_start":   sig([]types.Typ{types.Str}, types.Str),
	"str::trim_end":     sig([]types.Typ{types.Str}, types.Str),
	"str::as_bytes":     sig([]types.Typ{types.Str}, types.Data),
	"str::from_utf8":    sig([]types.Typ{types.Data}, types.Str),
	"str::to_base64":    sig([]types.Typ{types.Str}, types.Str),
	"str::starts_with":  sig([]types.Typ{types.Str, types.Str}, types.Bool),
	"str::ends_with":    sig([]types.Typ{types.Str, types.Str}, types.Bool),
	"str::contains":     sig([]types.Typ{types.Str, types.Str}, types.Bool),

	"data::to_base64": sig([]types.Typ{types.Data}, types.Str),
	"data::len":       sig([]types.Typ{types.Data}, types.I64),

	"list::len":      sig([]types.Typ{types.ListOf(types.Return)}, types.I64),
	"list::is_empty": sig([]types.Typ{types.ListOf(types.Return)}, types.Bool),

	"HttpRequest::GET":     sig(nil, types.HTTPRequest),
	"HttpRequest::POST":    sig(nil, types.HTTPRequest),
	"HttpRequest::PUT":     sig(nil, types.HTTPRequest),
	"HttpRequest::DELETE":  sig(nil, types.HTTPRequest),
	"HttpRequest::HEAD":    sig(nil, types.HTTPRequest),
	"HttpRequest::OPTIONS": sig(nil, types.HTTPRequest),
	"HttpRequest::CONNECT": sig(nil, types.HTTPRequest),
	"HttpRequest::PATCH":   sig(nil, types.HTTPRequest),
	"HttpRequest::TRACE":   sig(nil, types.HTTPRequest),
	"HttpRequest::method":  sig([]types.Typ{types.HTTPRequest}, types.Str),
	"HttpRequest::version": sig([]types.Typ{types.HTTPRequest}, types.Str),
	"HttpRequest::path":    sig([]types.Typ{types.HTTPRequest}, types.Str),
	"HttpRequest::route":   sig([]types.Typ{types.HTTPRequest}, types.ListOf(types.Str)),
	"HttpRequest::query":   sig([]types.Typ{types.HTTPRequest}, types.Str),
	"HttpRequest::query_pairs": sig([]types.Typ{types.HTTPRequest},
		types.ListOf(types.TupleOf(types.Str, types.Str))),
	"HttpRequest::header": sig([]types.Typ{types.HTTPRequest, types.Str},
		types.Option(types.ListOf(types.Data))),
	"HttpRequest::unique_header": sig([]types.Typ{types.HTTPRequest, types.Str},
		types.Option(types.Data)),
	"HttpRequest::headers": sig([]types.Typ{types.HTTPRequest}, types.ListOf(types.Str)),
	"HttpRequest::header_pairs": sig([]types.Typ{types.HTTPRequest},
		types.ListOf(types.TupleOf(types.Str, types.Data))),
	"HttpRequest::set_path":  sig([]types.Typ{types.HTTPRequest, types.Str}, types.HTTPRequest),
	"HttpRequest::set_query": sig([]types.Typ{types.HTTPRequest, types.Str}, types.HTTPRequest),
	"HttpRequest::set_header": sig([]types.Typ{types.HTTPRequest, types.Str, types.Data},
		types.HTTPRequest),
	"HttpRequest::connection": sig([]types.Typ{types.HTTPRequest}, types.Connection),
	"HttpRequest::from":       sig([]types.Typ{types.HTTPRequest}, types.ID),
	"HttpRequest::to":         sig([]types.Typ{types.HTTPRequest}, types.ID),

	"HttpResponse::new":     sig([]types.Typ{types.I64}, types.HTTPResponse),
	"HttpResponse::version": sig([]types.Typ{types.HTTPResponse}, types.Str),
	"HttpResponse::status":  sig([]types.Typ{types.HTTPResponse}, types.I64),
	"HttpResponse::reason":  sig([]types.Typ{types.HTTPResponse}, types.Option(types.Str)),
	"HttpResponse::header": sig([]types.Typ{types.HTTPResponse, types.Str},
		types.Option(types.ListOf(types.Data))),
	"HttpResponse::unique_header": sig([]types.Typ{types.HTTPResponse, types.Str},
		types.Option(types.Data)),
	"HttpResponse::headers": sig([]types.Typ{types.HTTPResponse}, types.ListOf(types.Str)),
	"HttpResponse::header_pairs": sig([]types.Typ{types.HTTPResponse},
		types.ListOf(types.TupleOf(types.Str, types.Data))),
	"HttpResponse::set_header": sig([]types.Typ{types.HTTPResponse, types.Str, types.Data},
		types.HTTPResponse),
	"HttpResponse::set_reason": sig([]types.Typ{types.HTTPResponse, types.Str},
		types.HTTPResponse),
	"HttpResponse::connection": sig([]types.Typ{types.HTTPResponse}, types.Connection),
	"HttpResponse::from":       sig([]types.Typ{types.HTTPResponse}, types.ID),
	"HttpResponse::to":         sig([]types.Typ{types.HTTPResponse}, types.ID),

	"Connection::default": sig(nil, types.Connection),
	"Connection::from":    sig([]types.Typ{types.Connection}, types.ID),
	"Connection::to":      sig([]types.Typ{types.Connection}, types.ID),
	"Connection::number":  sig([]types.Typ{types.Connection}, types.I64),

	"ID::default":   sig(nil, types.ID),
	"ID::hosts":     sig([]types.Typ{types.ID}, types.ListOf(types.Str)),
	"ID::ips":       sig([]types.Typ{types.ID}, types.ListOf(types.IPAddr)),
	"ID::port":      sig([]types.Typ{types.ID}, types.Option(types.I64)),
	"ID::labels":    sig([]types.Typ{types.ID}, types.ListOf(types.Label)),
	"ID::has_label": sig([]types.Typ{types.ID, types.Label}, types.Bool),
	"ID::add_host":  sig([]types.Typ{types.ID, types.Str}, types.ID),
	"ID::add_ip":    sig([]types.Typ{types.ID, types.IPAddr}, types.ID),
	"ID::set_port":  sig([]types.Typ{types.ID, types.I64}, types.ID),

	"IpAddr::lookup": sig([]types.Typ{types.Str},
		types.Option(types.ListOf(types.IPAddr))),
	"IpAddr::reverse_lookup": sig([]types.Typ{types.IPAddr},
		types.Option(types.ListOf(types.Str))),
	"IpAddr::localhost": sig(nil, types.IPAddr),
	"IpAddr::from": sig([]types.Typ{types.I64, types.I64, types.I64, types.I64},
		types.IPAddr),
	"IpAddr::octets": sig([]types.Typ{types.IPAddr},
		types.TupleOf(types.I64, types.I64, types.I64, types.I64)),

	"Label::parse":    sig([]types.Typ{types.Str}, types.Option(types.Label)),
	"Label::parts":    sig([]types.Typ{types.Label}, types.Option(types.ListOf(types.Str))),
	"Label::is_match": sig([]types.Typ{types.Label, types.Label}, types.Bool),
	"Label::captures": sig([]types.Typ{types.Label, types.Label},
		types.Option(types.ListOf(types.TupleOf(types.Str, types.Str)))),
}

// metaBuiltins routes to the per-evaluation metadata handler. Ingress is
// read-only: its mutating operations are simply not declared, so the type
// checker rejects them as unknown functions.
var metaBuiltins = map[string]types.Signature{
	"Ingress::id":        sig(nil, types.Option(types.Label)),
	"Ingress::data":      sig(nil, types.ListOf(types.Data)),
	"Ingress::has_label": sig([]types.Typ{types.Label}, types.Bool),

	"Egress::id":           sig(nil, types.Option(types.Label)),
	"Egress::data":         sig(nil, types.ListOf(types.Data)),
	"Egress::has_label":    sig([]types.Typ{types.Label}, types.Bool),
	"Egress::set_id":       sig(nil, types.Unit),
	"Egress::push":         sig([]types.Typ{types.Data}, types.Unit),
	"Egress::pop":          sig(nil, types.Option(types.Data)),
	"Egress::add_label":    sig([]types.Typ{types.Label}, types.Unit),
	"Egress::remove_label": sig([]types.Typ{types.Label}, types.Unit),
	"Egress::wipe":         sig(nil, types.Unit),
}

package interpret

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/literals"
)

func argErr(name string, args []literals.Literal) error {
	return fmt.Errorf("eval: bad arguments for %s (%d given)", name, len(args))
}

// evalBuiltin dispatches a resolved builtin call. The type checker has
// already validated the argument types, so accessor failures report an
// evaluation error rather than panicking.
func evalBuiltin(ctx context.Context, env *Env, name string, args []literals.Literal) (literals.Literal, error) {
	switch name {
	case "option::Some":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Some(args[0]), nil
	case "option::is_none":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Bool(args[0].IsNone()), nil
	case "option::is_some":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		_, some := args[0].AsSome()
		return literals.Bool(some), nil
	}

	switch {
	case strings.HasPrefix(name, "i64::"):
		return evalI64(name, args)
	case strings.HasPrefix(name, "str::"):
		return evalStr(name, args)
	case strings.HasPrefix(name, "data::"):
		return evalData(name, args)
	case strings.HasPrefix(name, "list::"):
		return evalList(name, args)
	case strings.HasPrefix(name, "HttpRequest::"):
		return evalHTTPRequest(name, args)
	case strings.HasPrefix(name, "HttpResponse::"):
		return evalHTTPResponse(name, args)
	case strings.HasPrefix(name, "Connection::"):
		return evalConnection(name, args)
	case strings.HasPrefix(name, "ID::"):
		return evalID(name, args)
	case strings.HasPrefix(name, "IpAddr::"):
		return evalIPAddr(ctx, env, name, args)
	case strings.HasPrefix(name, "Label::"):
		return evalLabel(name, args)
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalI64(name string, args []literals.Literal) (literals.Literal, error) {
	switch name {
	case "i64::pow", "i64::min", "i64::max":
		if len(args) != 2 {
			return literals.Literal{}, argErr(name, args)
		}
	default:
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
	}
	ints := make([]int64, len(args))
	for i, a := range args {
		v, ok := a.AsInt()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		ints[i] = v
	}
	switch name {
	case "i64::abs":
		if ints[0] < 0 {
			return literals.Int(-ints[0]), nil
		}
		return literals.Int(ints[0]), nil
	case "i64::to_str":
		return literals.Str(strconv.FormatInt(ints[0], 10)), nil
	case "i64::pow":
		result := int64(1)
		for i := int64(0); i < ints[1]; i++ {
			result *= ints[0]
		}
		return literals.Int(result), nil
	case "i64::min":
		if ints[0] < ints[1] {
			return literals.Int(ints[0]), nil
		}
		return literals.Int(ints[1]), nil
	case "i64::max":
		if ints[0] > ints[1] {
			return literals.Int(ints[0]), nil
		}
		return literals.Int(ints[1]), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalStr(name string, args []literals.Literal) (literals.Literal, error) {
	switch name {
	case "str::starts_with", "str::ends_with", "str::contains":
		if len(args) != 2 {
			return literals.Literal{}, argErr(name, args)
		}
	default:
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
	}
	if name == "str::from_utf8" {
		d, ok := args[0].AsData()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		if !utf8.Valid(d) {
			return literals.Literal{}, fmt.Errorf("eval: %s: invalid UTF-8", name)
		}
		return literals.Str(string(d)), nil
	}
	s, ok := args[0].AsStr()
	if !ok {
		return literals.Literal{}, argErr(name, args)
	}
	switch name {
	case "str::len":
		return literals.Int(int64(len(s))), nil
	case "str::to_lowercase":
		return literals.Str(strings.ToLower(s)), nil
	case "str::to_uppercase":
		return literals.Str(strings.ToUpper(s)), nil
	case "str::trim_start":
		return literals.Str(strings.TrimLeft(s, " \t\n\r")), nil
	case "str::trim_end":
		return literals.Str(strings.TrimRight(s, " \t\n\r")), nil
	case "str::as_bytes":
		return literals.Data([]byte(s)), nil
	case "str::to_base64":
		return literals.Str(base64.StdEncoding.EncodeToString([]byte(s))), nil
	}
	t, ok := args[1].AsStr()
	if !ok {
		return literals.Literal{}, argErr(name, args)
	}
	switch name {
	case "str::starts_with":
		return literals.Bool(strings.HasPrefix(s, t)), nil
	case "str::ends_with":
		return literals.Bool(strings.HasSuffix(s, t)), nil
	case "str::contains":
		return literals.Bool(strings.Contains(s, t)), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalData(name string, args []literals.Literal) (literals.Literal, error) {
	if len(args) != 1 {
		return literals.Literal{}, argErr(name, args)
	}
	d, ok := args[0].AsData()
	if !ok {
		return literals.Literal{}, argErr(name, args)
	}
	switch name {
	case "data::to_base64":
		return literals.Str(base64.StdEncoding.EncodeToString(d)), nil
	case "data::len":
		return literals.Int(int64(len(d))), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalList(name string, args []literals.Literal) (literals.Literal, error) {
	if len(args) != 1 {
		return literals.Literal{}, argErr(name, args)
	}
	if args[0].Kind != literals.KindList {
		return literals.Literal{}, argErr(name, args)
	}
	switch name {
	case "list::len":
		return literals.Int(int64(len(args[0].Items))), nil
	case "list::is_empty":
		return literals.Bool(len(args[0].Items) == 0), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

var requestConstructors = map[string]string{
	"HttpRequest::GET": "GET", "HttpRequest::POST": "POST",
	"HttpRequest::PUT": "PUT", "HttpRequest::DELETE": "DELETE",
	"HttpRequest::HEAD": "HEAD", "HttpRequest::OPTIONS": "OPTIONS",
	"HttpRequest::CONNECT": "CONNECT", "HttpRequest::PATCH": "PATCH",
	"HttpRequest::TRACE": "TRACE",
}

func evalHTTPRequest(name string, args []literals.Literal) (literals.Literal, error) {
	if method, ok := requestConstructors[name]; ok {
		return literals.Request(literals.NewHTTPRequest(method, "HTTP/1.1", "", "", nil, literals.Connection{})), nil
	}
	if len(args) == 0 || args[0].Req == nil {
		return literals.Literal{}, argErr(name, args)
	}
	req := args[0].Req
	switch name {
	case "HttpRequest::method":
		return literals.Str(req.Method), nil
	case "HttpRequest::version":
		return literals.Str(req.Version), nil
	case "HttpRequest::path":
		return literals.Str(req.Path), nil
	case "HttpRequest::query":
		return literals.Str(req.Query), nil
	case "HttpRequest::route":
		return strList(req.Route()), nil
	case "HttpRequest::query_pairs":
		pairs := req.QueryPairs()
		items := make([]literals.Literal, len(pairs))
		for i, p := range pairs {
			items[i] = literals.Tuple([]literals.Literal{literals.Str(p[0]), literals.Str(p[1])})
		}
		return literals.List(items), nil
	case "HttpRequest::headers":
		return strList(req.HeaderNames()), nil
	case "HttpRequest::header_pairs":
		return headerPairs(req.Headers), nil
	case "HttpRequest::connection":
		return literals.ConnectionLit(req.Connection), nil
	case "HttpRequest::from":
		return literals.IDLit(req.Connection.From), nil
	case "HttpRequest::to":
		return literals.IDLit(req.Connection.To), nil
	}
	if len(args) < 2 {
		return literals.Literal{}, argErr(name, args)
	}
	switch name {
	case "HttpRequest::header", "HttpRequest::unique_header", "HttpRequest::set_path", "HttpRequest::set_query":
		s, ok := args[1].AsStr()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		switch name {
		case "HttpRequest::header":
			return headerLookup(req.Headers, s), nil
		case "HttpRequest::unique_header":
			if v, ok := req.UniqueHeader(s); ok {
				return literals.Some(literals.Data(v)), nil
			}
			return literals.None(), nil
		case "HttpRequest::set_path":
			return literals.Request(req.SetPath(s)), nil
		default:
			return literals.Request(req.SetQuery(s)), nil
		}
	case "HttpRequest::set_header":
		if len(args) != 3 {
			return literals.Literal{}, argErr(name, args)
		}
		s, ok1 := args[1].AsStr()
		d, ok2 := args[2].AsData()
		if !ok1 || !ok2 {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Request(req.SetHeader(s, d)), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalHTTPResponse(name string, args []literals.Literal) (literals.Literal, error) {
	if name == "HttpResponse::new" {
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		status, ok := args[0].AsInt()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Response(literals.NewHTTPResponse("HTTP/1.1", status, "", nil, literals.Connection{})), nil
	}
	if len(args) == 0 || args[0].Res == nil {
		return literals.Literal{}, argErr(name, args)
	}
	res := args[0].Res
	switch name {
	case "HttpResponse::version":
		return literals.Str(res.Version), nil
	case "HttpResponse::status":
		return literals.Int(res.Status), nil
	case "HttpResponse::reason":
		if res.Reason == "" {
			return literals.None(), nil
		}
		return literals.Some(literals.Str(res.Reason)), nil
	case "HttpResponse::headers":
		return strList(res.HeaderNames()), nil
	case "HttpResponse::header_pairs":
		return headerPairs(res.Headers), nil
	case "HttpResponse::connection":
		return literals.ConnectionLit(res.Connection), nil
	case "HttpResponse::from":
		return literals.IDLit(res.Connection.From), nil
	case "HttpResponse::to":
		return literals.IDLit(res.Connection.To), nil
	case "HttpResponse::header", "HttpResponse::unique_header", "HttpResponse::set_reason":
		if len(args) < 2 {
			return literals.Literal{}, argErr(name, args)
		}
		s, ok := args[1].AsStr()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		switch name {
		case "HttpResponse::header":
			return headerLookup(res.Headers, s), nil
		case "HttpResponse::unique_header":
			if v, ok := res.UniqueHeader(s); ok {
				return literals.Some(literals.Data(v)), nil
			}
			return literals.None(), nil
		default:
			return literals.Response(res.SetReason(s)), nil
		}
	case "HttpResponse::set_header":
		if len(args) != 3 {
			return literals.Literal{}, argErr(name, args)
		}
		s, ok1 := args[1].AsStr()
		d, ok2 := args[2].AsData()
		if !ok1 || !ok2 {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Response(res.SetHeader(s, d)), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalConnection(name string, args []literals.Literal) (literals.Literal, error) {
	if name == "Connection::default" {
		return literals.ConnectionLit(literals.Connection{}), nil
	}
	if len(args) == 0 || args[0].Conn == nil {
		return literals.Literal{}, argErr(name, args)
	}
	conn := args[0].Conn
	switch name {
	case "Connection::from":
		return literals.IDLit(conn.From), nil
	case "Connection::to":
		return literals.IDLit(conn.To), nil
	case "Connection::number":
		return literals.Int(conn.Number), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalID(name string, args []literals.Literal) (literals.Literal, error) {
	if name == "ID::default" {
		id := literals.ID{Labels: labels.NewSet()}
		return literals.IDLit(id), nil
	}
	if len(args) == 0 || args[0].IDVal == nil {
		return literals.Literal{}, argErr(name, args)
	}
	id := *args[0].IDVal
	switch name {
	case "ID::has_label", "ID::add_host", "ID::add_ip", "ID::set_port":
		if len(args) != 2 {
			return literals.Literal{}, argErr(name, args)
		}
	}
	switch name {
	case "ID::hosts":
		return strList(id.Hosts), nil
	case "ID::ips":
		items := make([]literals.Literal, len(id.IPs))
		for i, a := range id.IPs {
			items[i] = literals.IP(a)
		}
		return literals.List(items), nil
	case "ID::port":
		if id.Port == nil {
			return literals.None(), nil
		}
		return literals.Some(literals.Int(int64(*id.Port))), nil
	case "ID::labels":
		all := id.Labels.All()
		items := make([]literals.Literal, len(all))
		for i, l := range all {
			items[i] = literals.LabelLit(l)
		}
		return literals.List(items), nil
	case "ID::has_label":
		pattern, ok := args[1].AsLabel()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Bool(id.HasLabel(pattern)), nil
	case "ID::add_host":
		host, ok := args[1].AsStr()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.IDLit(id.AddHost(host)), nil
	case "ID::add_ip":
		addr, ok := args[1].AsIP()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.IDLit(id.AddIP(addr)), nil
	case "ID::set_port":
		port, ok := args[1].AsInt()
		if !ok || port < 0 || port > 65535 {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.IDLit(id.SetPort(uint16(port))), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalIPAddr(ctx context.Context, env *Env, name string, args []literals.Literal) (literals.Literal, error) {
	switch name {
	case "IpAddr::localhost":
		return literals.IP(netip.AddrFrom4([4]byte{127, 0, 0, 1})), nil
	case "IpAddr::from":
		if len(args) != 4 {
			return literals.Literal{}, argErr(name, args)
		}
		var octets [4]byte
		for i := 0; i < 4; i++ {
			v, ok := args[i].AsInt()
			if !ok || v < 0 || v > 255 {
				return literals.Literal{}, argErr(name, args)
			}
			octets[i] = byte(v)
		}
		return literals.IP(netip.AddrFrom4(octets)), nil
	case "IpAddr::octets":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		addr, ok := args[0].AsIP()
		if !ok || !addr.Is4() {
			return literals.Literal{}, argErr(name, args)
		}
		o := addr.As4()
		return literals.Tuple([]literals.Literal{
			literals.Int(int64(o[0])), literals.Int(int64(o[1])),
			literals.Int(int64(o[2])), literals.Int(int64(o[3])),
		}), nil
	case "IpAddr::lookup":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		host, ok := args[0].AsStr()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		if env.Resolver == nil {
			return literals.None(), nil
		}
		addrs, err := env.Resolver.Lookup(ctx, host)
		if err != nil {
			return literals.None(), nil
		}
		items := make([]literals.Literal, len(addrs))
		for i, a := range addrs {
			items[i] = literals.IP(a)
		}
		return literals.Some(literals.List(items)), nil
	case "IpAddr::reverse_lookup":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
		addr, ok := args[0].AsIP()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		if env.Resolver == nil {
			return literals.None(), nil
		}
		names, err := env.Resolver.ReverseLookup(ctx, addr)
		if err != nil {
			return literals.None(), nil
		}
		return literals.Some(strList(names)), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func evalLabel(name string, args []literals.Literal) (literals.Literal, error) {
	switch name {
	case "Label::parse", "Label::parts":
		if len(args) != 1 {
			return literals.Literal{}, argErr(name, args)
		}
	case "Label::is_match", "Label::captures":
		if len(args) != 2 {
			return literals.Literal{}, argErr(name, args)
		}
	}
	switch name {
	case "Label::parse":
		s, ok := args[0].AsStr()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		l, err := labels.Parse(s)
		if err != nil {
			return literals.None(), nil
		}
		return literals.Some(literals.LabelLit(l)), nil
	case "Label::parts":
		l, ok := args[0].AsLabel()
		if !ok {
			return literals.Literal{}, argErr(name, args)
		}
		parts, full := l.Parts()
		if !full {
			return literals.None(), nil
		}
		return literals.Some(strList(parts)), nil
	case "Label::is_match":
		pat, ok1 := args[0].AsLabel()
		l, ok2 := args[1].AsLabel()
		if !ok1 || !ok2 {
			return literals.Literal{}, argErr(name, args)
		}
		return literals.Bool(pat.MatchesWith(l)), nil
	case "Label::captures":
		pat, ok1 := args[0].AsLabel()
		l, ok2 := args[1].AsLabel()
		if !ok1 || !ok2 {
			return literals.Literal{}, argErr(name, args)
		}
		m, ok := pat.MatchWith(l)
		if !ok {
			return literals.None(), nil
		}
		var items []literals.Literal
		for _, v := range pat.Vars() {
			if s, found := m.Get(v); found {
				items = append(items, literals.Tuple([]literals.Literal{
					literals.Str(v), literals.Str(s),
				}))
			}
		}
		return literals.Some(literals.List(items)), nil
	}
	return literals.Literal{}, fmt.Errorf("eval: unknown builtin %q", name)
}

func strList(ss []string) literals.Literal {
	items := make([]literals.Literal, len(ss))
	for i, s := range ss {
		items[i] = literals.Str(s)
	}
	return literals.List(items)
}

func headerPairs(hs []literals.Header) literals.Literal {
	items := make([]literals.Literal, len(hs))
	for i, h := range hs {
		items[i] = literals.Tuple([]literals.Literal{
			literals.Str(h.Name), literals.Data(h.Value),
		})
	}
	return literals.List(items)
}

func headerLookup(hs []literals.Header, name string) literals.Literal {
	var vals []literals.Literal
	for _, h := range hs {
		if h.Name == name {
			vals = append(vals, literals.Data(h.Value))
		}
	}
	if vals == nil {
		return literals.None()
	}
	return literals.Some(literals.List(vals))
}

package literals

import (
	"fmt"
	"strings"
)

// Header is one HTTP header occurrence. Requests and responses keep an
// ordered multimap so repeated headers survive a round trip.
type Header struct {
	Name  string `cbor:"n"`
	Value []byte `cbor:"v"`
}

// HTTPRequest is the request record exposed to policies. Update methods are
// functional: they return a modified copy.
type HTTPRequest struct {
	Method     string     `cbor:"m"`
	Version    string     `cbor:"v"`
	Path       string     `cbor:"p"`
	Query      string     `cbor:"q"`
	Headers    []Header   `cbor:"h,omitempty"`
	Connection Connection `cbor:"c"`
}

// NewHTTPRequest builds a request record from its parts.
func NewHTTPRequest(method, version, path, query string, headers []Header, conn Connection) *HTTPRequest {
	return &HTTPRequest{
		Method:     method,
		Version:    version,
		Path:       path,
		Query:      query,
		Headers:    headers,
		Connection: conn,
	}
}

// Header returns every value of the named header.
func (r *HTTPRequest) Header(name string) [][]byte {
	return headerValues(r.Headers, name)
}

// UniqueHeader returns the value of a header occurring exactly once.
func (r *HTTPRequest) UniqueHeader(name string) ([]byte, bool) {
	return uniqueHeader(r.Headers, name)
}

// HeaderNames returns the distinct header names, in first-seen order.
func (r *HTTPRequest) HeaderNames() []string {
	return headerNames(r.Headers)
}

// Route splits the path into its segments.
func (r *HTTPRequest) Route() []string {
	return splitRoute(r.Path)
}

// QueryPairs parses the query string into ordered key/value pairs.
func (r *HTTPRequest) QueryPairs() [][2]string {
	return queryPairs(r.Query)
}

// SetPath returns a copy with the path replaced.
func (r *HTTPRequest) SetPath(p string) *HTTPRequest {
	c := r.clone()
	c.Path = p
	return c
}

// SetQuery returns a copy with the query replaced.
func (r *HTTPRequest) SetQuery(q string) *HTTPRequest {
	c := r.clone()
	c.Query = q
	return c
}

// SetHeader returns a copy with an additional header occurrence.
func (r *HTTPRequest) SetHeader(name string, value []byte) *HTTPRequest {
	c := r.clone()
	c.Headers = append(c.Headers, Header{Name: name, Value: value})
	return c
}

func (r *HTTPRequest) clone() *HTTPRequest {
	c := *r
	c.Headers = append([]Header(nil), r.Headers...)
	return &c
}

// Equal is deep equality, header order included.
func (r *HTTPRequest) Equal(other *HTTPRequest) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Method == other.Method &&
		r.Version == other.Version &&
		r.Path == other.Path &&
		r.Query == other.Query &&
		headersEqual(r.Headers, other.Headers) &&
		r.Connection.Equal(&other.Connection)
}

func (r *HTTPRequest) String() string {
	return fmt.Sprintf("%s %s %s", r.Method, r.Path, r.Version)
}

// HTTPResponse is the response record exposed to policies.
type HTTPResponse struct {
	Version    string     `cbor:"v"`
	Status     int64      `cbor:"s"`
	Reason     string     `cbor:"r,omitempty"`
	Headers    []Header   `cbor:"h,omitempty"`
	Connection Connection `cbor:"c"`
}

// NewHTTPResponse builds a response record from its parts.
func NewHTTPResponse(version string, status int64, reason string, headers []Header, conn Connection) *HTTPResponse {
	return &HTTPResponse{
		Version:    version,
		Status:     status,
		Reason:     reason,
		Headers:    headers,
		Connection: conn,
	}
}

// Header returns every value of the named header.
func (r *HTTPResponse) Header(name string) [][]byte {
	return headerValues(r.Headers, name)
}

// UniqueHeader returns the value of a header occurring exactly once.
func (r *HTTPResponse) UniqueHeader(name string) ([]byte, bool) {
	return uniqueHeader(r.Headers, name)
}

// HeaderNames returns the distinct header names, in first-seen order.
func (r *HTTPResponse) HeaderNames() []string {
	return headerNames(r.Headers)
}

// SetHeader returns a copy with an additional header occurrence.
func (r *HTTPResponse) SetHeader(name string, value []byte) *HTTPResponse {
	c := r.clone()
	c.Headers = append(c.Headers, Header{Name: name, Value: value})
	return c
}

// SetReason returns a copy with the reason phrase replaced.
func (r *HTTPResponse) SetReason(reason string) *HTTPResponse {
	c := r.clone()
	c.Reason = reason
	return c
}

func (r *HTTPResponse) clone() *HTTPResponse {
	c := *r
	c.Headers = append([]Header(nil), r.Headers...)
	return &c
}

// Equal is deep equality, header order included.
func (r *HTTPResponse) Equal(other *HTTPResponse) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Version == other.Version &&
		r.Status == other.Status &&
		r.Reason == other.Reason &&
		headersEqual(r.Headers, other.Headers) &&
		r.Connection.Equal(&other.Connection)
}

func (r *HTTPResponse) String() string {
	return fmt.Sprintf("%s %d %s", r.Version, r.Status, r.Reason)
}

func headerValues(hs []Header, name string) [][]byte {
	var vals [][]byte
	for _, h := range hs {
		if h.Name == name {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

func uniqueHeader(hs []Header, name string) ([]byte, bool) {
	vals := headerValues(hs, name)
	if len(vals) == 1 {
		return vals[0], true
	}
	return nil, false
}

func headerNames(hs []Header) []string {
	var names []string
	seen := map[string]bool{}
	for _, h := range hs {
		if !seen[h.Name] {
			seen[h.Name] = true
			names = append(names, h.Name)
		}
	}
	return names
}

func headersEqual(a, b []Header) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || string(a[i].Value) != string(b[i].Value) {
			return false
		}
	}
	return true
}

func splitRoute(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryPairs(query string) [][2]string {
	if query == "" {
		return nil
	}
	var pairs [][2]string
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs
}

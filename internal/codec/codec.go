// Package codec defines the message set exchanged between a host agent and
// its proxy instances, framed as 2-byte length-prefixed canonical CBOR over
// a local stream (package wire). The host encodes PolicyRequest and decodes
// PolicyResponse; the proxy does the reverse.
package codec

import (
	"io"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/policy"
	"armour.dev/armour/internal/wire"
)

// Request kinds, host → proxy.
const (
	ReqDebug     = "debug"
	ReqLabel     = "label"
	ReqSetPolicy = "set-policy"
	ReqShutdown  = "shutdown"
	ReqStartHTTP = "start-http"
	ReqStartTCP  = "start-tcp"
	ReqStatus    = "status"
	ReqStop      = "stop"
	ReqTimeout   = "timeout"
)

// Label operations.
const (
	LabelAdd    = "add"
	LabelRemove = "remove"
)

// LabelOp binds or unbinds a label on an IP address or host name known to
// the proxy.
type LabelOp struct {
	Op     string        `cbor:"o"`
	Target string        `cbor:"t"`
	Label  *labels.Label `cbor:"l,omitempty"`
}

// HTTPConfig carries the HTTP listener configuration: the listening port
// and, for an ingress proxy, the fixed upstream address.
type HTTPConfig struct {
	Port    uint16 `cbor:"p"`
	Ingress string `cbor:"i,omitempty"`
}

// PolicyRequest is one command from host to proxy.
type PolicyRequest struct {
	Kind        string          `cbor:"k"`
	Protocol    policy.Protocol `cbor:"pr,omitempty"`
	Debug       bool            `cbor:"d,omitempty"`
	Label       *LabelOp        `cbor:"l,omitempty"`
	Policy      *policy.Wire    `cbor:"po,omitempty"`
	HTTP        *HTTPConfig     `cbor:"h,omitempty"`
	Port        uint16          `cbor:"pt,omitempty"`
	TimeoutSecs int64           `cbor:"ts,omitempty"`
}

// Response kinds, proxy → host.
const (
	RespConnect      = "connect"
	RespStarted      = "started"
	RespStopped      = "stopped"
	RespShuttingDown = "shutting-down"
	RespUpdated      = "updated-policy"
	RespFailed       = "request-failed"
	RespStatus       = "status"
)

// ProtoStatus is one protocol's slice of a proxy status report.
type ProtoStatus struct {
	Hash        string  `cbor:"h" json:"hash"`
	Description string  `cbor:"d" json:"description"`
	Port        *uint16 `cbor:"p,omitempty" json:"port,omitempty"`
	Debug       bool    `cbor:"b,omitempty" json:"debug,omitempty"`
}

// Status is a proxy's full status report. Labels maps bound targets (IP
// addresses and host names) to their label sets.
type Status struct {
	Label  labels.Label              `cbor:"l" json:"label"`
	Labels map[string][]labels.Label `cbor:"m,omitempty" json:"labels,omitempty"`
	HTTP   ProtoStatus               `cbor:"h" json:"http"`
	TCP    ProtoStatus               `cbor:"t" json:"tcp"`
}

// PolicyResponse is one message from proxy to host.
type PolicyResponse struct {
	Kind     string          `cbor:"k"`
	PID      int             `cbor:"pid,omitempty"`
	TmpID    string          `cbor:"tmp,omitempty"`
	Label    *labels.Label   `cbor:"l,omitempty"`
	HTTPHash string          `cbor:"hh,omitempty"`
	TCPHash  string          `cbor:"th,omitempty"`
	Protocol policy.Protocol `cbor:"pr,omitempty"`
	Hash     string          `cbor:"h,omitempty"`
	Error    string          `cbor:"e,omitempty"`
	Status   *Status         `cbor:"s,omitempty"`
}

// WriteRequest frames a request onto the stream.
func WriteRequest(w io.Writer, req PolicyRequest) error {
	return wire.WriteFrame(w, req)
}

// ReadRequest reads the next framed request.
func ReadRequest(r io.Reader) (PolicyRequest, error) {
	var req PolicyRequest
	err := wire.ReadFrame(r, &req)
	return req, err
}

// WriteResponse frames a response onto the stream.
func WriteResponse(w io.Writer, resp PolicyResponse) error {
	return wire.WriteFrame(w, resp)
}

// ReadResponse reads the next framed response.
func ReadResponse(r io.Reader) (PolicyResponse, error) {
	var resp PolicyResponse
	err := wire.ReadFrame(r, &resp)
	return resp, err
}

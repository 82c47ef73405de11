package proxy

import (
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"armour.dev/armour/internal/codec"
	"armour.dev/armour/internal/metrics"
	"armour.dev/armour/internal/policy"
)

// Run connects to the host agent's local socket and serves the framed
// control protocol until shutdown or stream close. The proxy announces
// itself with a Connect message; from then on the host drives it.
func (a *PolicyActor) Run(socketPath string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return a.Serve(conn)
}

// Serve runs the control protocol on an established stream.
func (a *PolicyActor) Serve(conn net.Conn) error {
	st := a.Status()
	hello := codec.PolicyResponse{
		Kind:     codec.RespConnect,
		PID:      os.Getpid(),
		TmpID:    uuid.NewString(),
		Label:    &a.label,
		HTTPHash: st.HTTP.Hash,
		TCPHash:  st.TCP.Hash,
	}
	if err := codec.WriteResponse(conn, hello); err != nil {
		return err
	}

	reg := metrics.Get()
	for {
		req, err := codec.ReadRequest(conn)
		if err != nil {
			a.logger.Warn("control stream closed", "error", err)
			a.Shutdown()
			return err
		}
		reg.Frames.WithLabelValues("in").Inc()
		resp, done := a.handle(req)
		if resp != nil {
			if err := codec.WriteResponse(conn, *resp); err != nil {
				a.Shutdown()
				return err
			}
			reg.Frames.WithLabelValues("out").Inc()
		}
		if done {
			a.Shutdown()
			return nil
		}
	}
}

// handle executes one host command; the bool result requests shutdown.
func (a *PolicyActor) handle(req codec.PolicyRequest) (*codec.PolicyResponse, bool) {
	fail := func(err error) *codec.PolicyResponse {
		a.logger.Warn("request failed", "kind", req.Kind, "error", err)
		return &codec.PolicyResponse{Kind: codec.RespFailed, Error: err.Error()}
	}
	switch req.Kind {
	case codec.ReqDebug:
		a.SetDebug(req.Protocol, req.Debug)
		return nil, false

	case codec.ReqLabel:
		if req.Label == nil {
			return fail(errMissingField("label")), false
		}
		if err := a.ApplyLabelOp(*req.Label); err != nil {
			return fail(err), false
		}
		return nil, false

	case codec.ReqSetPolicy:
		if req.Policy == nil {
			return fail(errMissingField("policy")), false
		}
		updated, err := a.SetPolicy(*req.Policy)
		if err != nil {
			return fail(err), false
		}
		resp := codec.PolicyResponse{Kind: codec.RespUpdated, Protocol: req.Policy.Protocol}
		if hash, ok := updated[policy.HTTP]; ok {
			resp.Hash = hash
			resp.HTTPHash = hash
		}
		if hash, ok := updated[policy.TCP]; ok {
			if resp.Hash == "" {
				resp.Hash = hash
			}
			resp.TCPHash = hash
		}
		return &resp, false

	case codec.ReqShutdown:
		return &codec.PolicyResponse{Kind: codec.RespShuttingDown}, true

	case codec.ReqStartHTTP:
		if req.HTTP == nil {
			return fail(errMissingField("http config")), false
		}
		if err := a.StartHTTP(req.HTTP.Port, req.HTTP.Ingress); err != nil {
			return fail(err), false
		}
		return &codec.PolicyResponse{Kind: codec.RespStarted}, false

	case codec.ReqStartTCP:
		if err := a.StartTCP(req.Port); err != nil {
			return fail(err), false
		}
		return &codec.PolicyResponse{Kind: codec.RespStarted}, false

	case codec.ReqStatus:
		st := a.Status()
		return &codec.PolicyResponse{Kind: codec.RespStatus, Status: &st}, false

	case codec.ReqStop:
		if req.Protocol.Covers(policy.HTTP) {
			a.StopHTTP()
		}
		if req.Protocol.Covers(policy.TCP) {
			a.StopTCP()
		}
		return &codec.PolicyResponse{Kind: codec.RespStopped}, false

	case codec.ReqTimeout:
		a.SetTimeout(time.Duration(req.TimeoutSecs) * time.Second)
		return nil, false

	default:
		return fail(errUnknownRequest(req.Kind)), false
	}
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

func errMissingField(f string) error {
	return protocolError("request missing " + f)
}

func errUnknownRequest(kind string) error {
	return protocolError("unknown request kind " + kind)
}

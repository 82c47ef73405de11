package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/meta"
	"armour.dev/armour/internal/metrics"
	"armour.dev/armour/internal/policy"
)

// XArmour is the header carrying sealed egress→ingress metadata.
const XArmour = "x-armour"

const deniedBody = "request denied"

type httpProxy struct {
	server *http.Server
	port   uint16
}

// EvalHTTPResult is the outcome of one HTTP hook evaluation.
type EvalHTTPResult struct {
	Allow  bool
	Egress string // sealed x-armour value, "" when no egress metadata
}

// ingressMeta opens a sealed x-armour value; undecipherable headers are
// treated as absent.
func (a *PolicyActor) ingressMeta(header string) *meta.Meta {
	if header == "" {
		return nil
	}
	m, err := a.sealer.Open(header)
	if err != nil {
		metrics.Get().MetaRejected.Inc()
		a.logger.Debug("discarding undecipherable metadata", "error", err)
		return nil
	}
	metrics.Get().MetaOpened.Inc()
	return m
}

// EvalHTTP runs one HTTP decision hook with ingress metadata from the
// given x-armour value, returning the decision and the sealed egress
// metadata for the next hop.
func (a *PolicyActor) EvalHTTP(ctx context.Context, fn string, args []literals.Literal, xarmour string) EvalHTTPResult {
	pol := a.httpPolicy()
	handler := meta.NewIngressEgress(a.ingressMeta(xarmour), a.label)
	allow := a.decide(ctx, pol, fn, args, handler)
	result := EvalHTTPResult{Allow: allow}
	if egress, err := handler.Egress(); err == nil {
		if sealed, err := a.sealer.Seal(egress); err == nil {
			result.Egress = sealed
			metrics.Get().MetaSealed.Inc()
		} else {
			a.logger.Warn("failed to seal egress metadata", "error", err)
		}
	}
	return result
}

// StartHTTP begins proxying HTTP on port; a prior listener is stopped
// first. With an ingress address every request goes to that upstream;
// otherwise the request Host routes.
func (a *PolicyActor) StartHTTP(port uint16, ingress string) error {
	a.StopHTTP()
	if ingress == "" {
		ingress = a.ingress
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
	}
	handler := &httpHandler{actor: a, upstream: ingress, transport: transport}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.httpProxy = &httpProxy{server: srv, port: port}
	a.mu.Unlock()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP proxy stopped", "error", err)
		}
	}()
	a.logger.Info("HTTP proxy listening", "port", port, "ingress", ingress)
	return nil
}

// StopHTTP stops the HTTP listener; idempotent.
func (a *PolicyActor) StopHTTP() {
	a.mu.Lock()
	hp := a.httpProxy
	a.httpProxy = nil
	a.mu.Unlock()
	if hp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hp.server.Shutdown(ctx)
		a.logger.Info("stopped HTTP proxy", "port", hp.port)
	}
}

type httpHandler struct {
	actor     *PolicyActor
	upstream  string
	transport *http.Transport
}

// hop-by-hop headers are never forwarded
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a := h.actor
	metrics.Get().Connections.WithLabelValues(string(policy.HTTP)).Inc()

	upstream := h.upstream
	if upstream == "" {
		upstream = r.Host
	}
	if upstream == "" {
		http.Error(w, "no upstream", http.StatusBadGateway)
		return
	}

	fromAddr, _ := netip.ParseAddrPort(r.RemoteAddr)
	host, toAddr := splitUpstream(upstream)
	from := a.idFor(fromAddr, "")
	to := a.idFor(toAddr, host)
	conn := a.connection(from, to)

	reqLit := requestLiteral(r, conn)
	ingress := r.Header.Get(XArmour)
	res := a.EvalHTTP(r.Context(), policy.AllowRESTRequest, []literals.Literal{literals.Request(reqLit)}, ingress)
	if !res.Allow {
		metrics.Get().DeniedTotal.WithLabelValues(string(policy.HTTP)).Inc()
		http.Error(w, deniedBody, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if a.httpPolicy().Get(policy.AllowClientPayload).Kind == policy.FnArgs && len(body) > 0 {
		payload := a.EvalHTTP(r.Context(), policy.AllowClientPayload, []literals.Literal{literals.Data(body)}, ingress)
		if !payload.Allow {
			metrics.Get().DeniedTotal.WithLabelValues(string(policy.HTTP)).Inc()
			http.Error(w, deniedBody, http.StatusBadRequest)
			return
		}
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, "http://"+upstream+r.URL.RequestURI(), strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(out.Header, r.Header)
	out.Header.Del(XArmour)
	if res.Egress != "" {
		out.Header.Set(XArmour, res.Egress)
	}

	resp, err := h.transport.RoundTrip(out)
	if err != nil {
		a.actorLog("upstream unreachable", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	resLit := responseLiteral(resp, conn)
	resIngress := resp.Header.Get(XArmour)
	decision := a.EvalHTTP(r.Context(), policy.AllowRESTResponse, []literals.Literal{literals.Response(resLit)}, resIngress)
	if !decision.Allow {
		metrics.Get().DeniedTotal.WithLabelValues(string(policy.HTTP)).Inc()
		http.Error(w, deniedBody, http.StatusBadRequest)
		return
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if a.httpPolicy().Get(policy.AllowServerPayload).Kind == policy.FnArgs && len(respBody) > 0 {
		payload := a.EvalHTTP(r.Context(), policy.AllowServerPayload, []literals.Literal{literals.Data(respBody)}, resIngress)
		if !payload.Allow {
			metrics.Get().DeniedTotal.WithLabelValues(string(policy.HTTP)).Inc()
			http.Error(w, deniedBody, http.StatusBadRequest)
			return
		}
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Del(XArmour)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	metrics.Get().BytesRecv.Add(float64(len(respBody)))
	metrics.Get().BytesSent.Add(float64(len(body)))
}

func (a *PolicyActor) actorLog(msg string, err error) {
	a.logger.Warn(msg, "error", err)
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		skip := false
		for _, hop := range hopHeaders {
			if http.CanonicalHeaderKey(name) == hop {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func splitUpstream(upstream string) (host string, addr netip.AddrPort) {
	if ap, err := netip.ParseAddrPort(upstream); err == nil {
		return "", ap
	}
	h, port, err := net.SplitHostPort(upstream)
	if err != nil {
		return upstream, netip.AddrPort{}
	}
	if a, err := netip.ParseAddr(h); err == nil {
		var p uint16
		fmt.Sscanf(port, "%d", &p)
		return "", netip.AddrPortFrom(a, p)
	}
	return h, netip.AddrPort{}
}

// requestLiteral converts a net/http request into its policy record.
func requestLiteral(r *http.Request, conn literals.Connection) *literals.HTTPRequest {
	var headers []literals.Header
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		for _, v := range values {
			headers = append(headers, literals.Header{Name: lower, Value: []byte(v)})
		}
	}
	return literals.NewHTTPRequest(r.Method, r.Proto, r.URL.Path, r.URL.RawQuery, headers, conn)
}

// responseLiteral converts a net/http response into its policy record.
func responseLiteral(r *http.Response, conn literals.Connection) *literals.HTTPResponse {
	var headers []literals.Header
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		for _, v := range values {
			headers = append(headers, literals.Header{Name: lower, Value: []byte(v)})
		}
	}
	reason := strings.TrimSpace(strings.TrimPrefix(r.Status, fmt.Sprintf("%d", r.StatusCode)))
	return literals.NewHTTPResponse(r.Proto, int64(r.StatusCode), reason, headers, conn)
}

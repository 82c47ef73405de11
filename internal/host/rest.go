package host

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"armour.dev/armour/internal/codec"
	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/policy"
)

// ErrorResponse is the standard REST error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError sends a plain JSON error response.
func WriteError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

// WriteJSON sends a JSON success response.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// PolicyUpdateRequest is the payload pushed by the control plane.
type PolicyUpdateRequest struct {
	Label  string      `json:"label"`
	Policy policy.Wire `json:"policy"`
}

// OnboardServiceRequest asks the host to run a proxy for a service.
type OnboardServiceRequest struct {
	Label   string `json:"label"`
	Port    uint16 `json:"port,omitempty"`
	Ingress string `json:"ingress,omitempty"`
}

// ProxyInfo is one row of the /host/proxies listing.
type ProxyInfo struct {
	ID       string `json:"tmp_id,omitempty"`
	PID      int    `json:"pid"`
	Label    string `json:"label"`
	HTTPHash string `json:"http_hash"`
	TCPHash  string `json:"tcp_hash"`
}

// RESTServer serves the host agent's REST surface.
type RESTServer struct {
	host   *Host
	logger *logging.Logger
	server *http.Server
	ws     websocket.Upgrader
}

// NewRESTServer builds the REST surface over a host agent.
func NewRESTServer(h *Host) *RESTServer {
	return &RESTServer{
		host:   h,
		logger: logging.WithComponent("host-api"),
		ws:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Routes builds the HTTP mux.
func (s *RESTServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /host/label", s.handleLabel)
	mux.HandleFunc("GET /host/proxies", s.handleProxies)
	mux.HandleFunc("GET /host/logs", s.handleLogs)
	mux.HandleFunc("GET /host/watch", s.handleWatch)
	mux.HandleFunc("POST /policy/update", s.handlePolicyUpdate)
	mux.HandleFunc("GET /policy/query", s.handlePolicyQuery)
	mux.HandleFunc("POST /service/on-board", s.handleOnboard)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until the listener closes. Connections are capped
// to keep a runaway client from starving the agent.
func (s *RESTServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, 64)
	s.server = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("host API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Close stops the REST listener.
func (s *RESTServer) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

func (s *RESTServer) handleLabel(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]string{"label": s.host.Label().String()})
}

func (s *RESTServer) handleProxies(w http.ResponseWriter, r *http.Request) {
	var out []ProxyInfo
	for _, m := range s.host.Instances() {
		out = append(out, ProxyInfo{
			ID:       m.TmpID,
			PID:      m.PID,
			Label:    m.Label.String(),
			HTTPHash: m.HTTPHash,
			TCPHash:  m.TCPHash,
		})
	}
	WriteJSON(w, out)
}

func (s *RESTServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, logging.Recent(200))
}

// handleWatch streams log entries over a websocket.
func (s *RESTServer) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.ws.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	ch, cancel := logging.Subscribe(64)
	defer cancel()
	for entry := range ch {
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}
}

func (s *RESTServer) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var req PolicyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	pattern, err := labels.Parse(req.Label)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("bad label: %v", err))
		return
	}
	if err := s.host.SetPolicy(pattern, req.Policy); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("policy forwarded", "label", req.Label)
	WriteJSON(w, map[string]string{"status": "ok"})
}

func (s *RESTServer) handlePolicyQuery(w http.ResponseWriter, r *http.Request) {
	pattern := labels.MustParse("*")
	if q := r.URL.Query().Get("label"); q != "" {
		var err error
		if pattern, err = labels.Parse(q); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("bad label: %v", err))
			return
		}
	}
	sel := SelectAll()
	if q := r.URL.Query().Get("label"); q != "" {
		sel = SelectLabel(pattern)
	}
	WriteJSON(w, s.host.Statuses(sel))
}

func (s *RESTServer) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req OnboardServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	label, err := labels.Parse(req.Label)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("bad label: %v", err))
		return
	}
	inst, err := s.ensureProxy(label)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Port != 0 {
		_, err := inst.request(codec.PolicyRequest{
			Kind: codec.ReqStartHTTP,
			HTTP: &codec.HTTPConfig{Port: req.Port, Ingress: req.Ingress},
		})
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.logger.Info("service onboarded", "label", req.Label)
	WriteJSON(w, map[string]string{"status": "ok"})
}

// ensureProxy finds a proxy matching the label, spawning one when absent.
func (s *RESTServer) ensureProxy(label labels.Label) (*Instance, error) {
	sel := SelectLabel(label)
	if insts := s.host.selected(sel); len(insts) > 0 {
		return insts[0], nil
	}
	if err := s.host.Launch(label); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if insts := s.host.selected(sel); len(insts) > 0 && insts[0].Meta != nil {
			return insts[0], nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("proxy for %s did not connect", label)
}

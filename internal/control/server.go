// Package control implements the control plane: onboarding of hosts and
// services, policy storage keyed by hierarchical labels, and policy push
// down the hierarchy to the hosts whose services a label matches.
package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/metrics"
	"armour.dev/armour/internal/policy"
	"armour.dev/armour/internal/store"
)

// OnboardHostRequest registers a host agent.
type OnboardHostRequest struct {
	Label       string `json:"label"`
	Host        string `json:"host"` // base URL of the host REST API
	Credentials string `json:"credentials,omitempty"`
}

// OnboardServiceRequest registers a service against a host.
type OnboardServiceRequest struct {
	Service string `json:"service"`
	Host    string `json:"host"` // host label
}

// PolicyUpdateRequest stores a policy under a label and pushes it.
type PolicyUpdateRequest struct {
	Label  string      `json:"label"`
	Policy policy.Wire `json:"policy"`
}

// Server is the control plane REST server.
type Server struct {
	store  *store.Store
	client *http.Client
	logger *logging.Logger
	server *http.Server
}

// New builds a control plane over a store. The client pushes policies to
// hosts; pass nil for a default client.
func New(st *store.Store, client *http.Client) *Server {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Server{
		store:  st,
		client: client,
		logger: logging.WithComponent("control"),
	}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /host/on-board", s.handleHostOnboard)
	mux.HandleFunc("DELETE /host/drop", s.handleHostDrop)
	mux.HandleFunc("POST /service/on-board", s.handleServiceOnboard)
	mux.HandleFunc("DELETE /service/drop", s.handleServiceDrop)
	mux.HandleFunc("POST /policy/update", s.handlePolicyUpdate)
	mux.HandleFunc("GET /policy/query", s.handlePolicyQuery)
	mux.HandleFunc("DELETE /policy/drop", s.handlePolicyDrop)
	mux.HandleFunc("DELETE /policy/drop-all", s.handlePolicyDropAll)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves the REST surface, with TLS when configured.
func (s *Server) ListenAndServe(addr string, tlsConf *TLSConfig) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, 128)
	s.server = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if tlsConf != nil {
		cfg, err := tlsConf.Server()
		if err != nil {
			return err
		}
		s.server.TLSConfig = cfg
		s.logger.Info("control plane listening (mTLS)", "addr", addr)
		return s.server.ServeTLS(ln, "", "")
	}
	s.logger.Info("control plane listening", "addr", addr)
	return s.server.Serve(ln)
}

// Close stops the listener.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	metrics.Get().APIRequests.WithLabelValues("error", strconv.Itoa(code)).Inc()
	http.Error(w, msg, code)
}

func storeCode(err error) int {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 10<<20)).Decode(v)
}

func (s *Server) handleHostOnboard(w http.ResponseWriter, r *http.Request) {
	var req OnboardHostRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := labels.Parse(req.Label); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad label: %v", err))
		return
	}
	if err := s.store.Insert(store.Hosts, req.Label, req); err != nil {
		writeError(w, storeCode(err), err.Error())
		return
	}
	s.logger.Info("host onboarded", "label", req.Label, "host", req.Host)
	w.Write([]byte("success"))
}

func (s *Server) handleHostDrop(w http.ResponseWriter, r *http.Request) {
	var req OnboardHostRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Delete(store.Hosts, req.Label); err != nil {
		writeError(w, storeCode(err), err.Error())
		return
	}
	// dropping a host drops every service anchored to it
	entries, err := s.store.List(store.Services)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, e := range entries {
		var svc OnboardServiceRequest
		if json.Unmarshal(e.Value, &svc) == nil && svc.Host == req.Label {
			s.store.Delete(store.Services, e.Key)
		}
	}
	s.logger.Info("host dropped", "label", req.Label)
	w.Write([]byte("success"))
}

func (s *Server) handleServiceOnboard(w http.ResponseWriter, r *http.Request) {
	var req OnboardServiceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := labels.Parse(req.Service); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad label: %v", err))
		return
	}
	var host OnboardHostRequest
	if err := s.store.Get(store.Hosts, req.Host, &host); err != nil {
		writeError(w, storeCode(err), fmt.Sprintf("unknown host %q", req.Host))
		return
	}
	if err := s.store.Insert(store.Services, req.Service, req); err != nil {
		writeError(w, storeCode(err), err.Error())
		return
	}
	s.logger.Info("service onboarded", "service", req.Service, "host", req.Host)
	w.Write([]byte("success"))
}

func (s *Server) handleServiceDrop(w http.ResponseWriter, r *http.Request) {
	var req OnboardServiceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Delete(store.Services, req.Service); err != nil {
		writeError(w, storeCode(err), err.Error())
		return
	}
	w.Write([]byte("success"))
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var req PolicyUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pattern, err := labels.Parse(req.Label)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad label: %v", err))
		return
	}
	// reject malformed programs before storing anything
	if _, err := req.Policy.Resolve(req.Policy.Protocol); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logPolicyDiff(req)
	if err := s.store.Put(store.Policies, req.Label, req); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.push(pattern, req)
	w.Write([]byte("success"))
}

// logPolicyDiff records a unified diff against any previous policy stored
// under the same label.
func (s *Server) logPolicyDiff(req PolicyUpdateRequest) {
	var old PolicyUpdateRequest
	if err := s.store.Get(store.Policies, req.Label, &old); err != nil {
		return
	}
	before, _ := json.MarshalIndent(old.Policy, "", "  ")
	after, _ := json.MarshalIndent(req.Policy, "", "  ")
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "installed",
		ToFile:   "update",
		Context:  2,
	})
	if err == nil && diff != "" {
		s.logger.Info("policy changed", "label", req.Label, "diff", diff)
	}
}

// push forwards a policy to every host that runs a service the label
// pattern matches; at most one push per host.
func (s *Server) push(pattern labels.Label, req PolicyUpdateRequest) {
	entries, err := s.store.List(store.Services)
	if err != nil {
		s.logger.Error("push aborted", "error", err)
		return
	}
	pushed := map[string]bool{}
	for _, e := range entries {
		serviceLabel, err := labels.Parse(e.Key)
		if err != nil || !pattern.MatchesWith(serviceLabel) {
			continue
		}
		var svc OnboardServiceRequest
		if err := json.Unmarshal(e.Value, &svc); err != nil {
			continue
		}
		var host OnboardHostRequest
		if err := s.store.Get(store.Hosts, svc.Host, &host); err != nil {
			s.logger.Warn("service without host", "service", e.Key, "host", svc.Host)
			continue
		}
		if pushed[host.Host] {
			continue
		}
		pushed[host.Host] = true
		s.pushToHost(host.Host, req)
	}
}

func (s *Server) pushToHost(hostURL string, req PolicyUpdateRequest) {
	body, err := json.Marshal(req)
	if err != nil {
		return
	}
	resp, err := s.client.Post(hostURL+"/policy/update", "application/json", bytes.NewReader(body))
	outcome := "ok"
	if err != nil {
		outcome = "unreachable"
		s.logger.Warn("policy push failed", "host", hostURL, "error", err)
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			outcome = "rejected"
			s.logger.Warn("policy push rejected", "host", hostURL, "code", resp.StatusCode)
		} else {
			s.logger.Info("policy pushed", "host", hostURL, "label", req.Label)
		}
	}
	metrics.Get().PolicyPushes.WithLabelValues(outcome).Inc()
}

func (s *Server) handlePolicyQuery(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		entries, err := s.store.List(store.Policies)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]json.RawMessage, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
		return
	}
	var req PolicyUpdateRequest
	if err := s.store.Get(store.Policies, label, &req); err != nil {
		writeError(w, storeCode(err), fmt.Sprintf("no policy for %s", label))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

func (s *Server) handlePolicyDrop(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		var req PolicyUpdateRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		label = req.Label
	}
	if err := s.store.Delete(store.Policies, label); err != nil {
		writeError(w, storeCode(err), err.Error())
		return
	}
	w.Write([]byte("success"))
}

func (s *Server) handlePolicyDropAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAll(store.Policies); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Write([]byte("success"))
}

package host

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"armour.dev/armour/internal/codec"
	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/metrics"
	"armour.dev/armour/internal/policy"
)

// Host is the data-plane host agent.
type Host struct {
	label      labels.Label
	socketPath string
	listener   net.Listener
	logger     *logging.Logger

	mu        sync.Mutex
	nextID    int
	instances map[int]*Instance
	children  map[int]*exec.Cmd // PID → process handle

	wg sync.WaitGroup
}

// New builds a host agent identified by label, accepting proxy connections
// on a Unix socket at socketPath.
func New(label labels.Label, socketPath string) *Host {
	return &Host{
		label:      label,
		socketPath: socketPath,
		logger:     logging.WithComponent("host"),
		instances:  map[int]*Instance{},
		children:   map[int]*exec.Cmd{},
	}
}

// Label returns the host's identity label.
func (h *Host) Label() labels.Label { return h.label }

// Listen starts accepting proxy connections.
func (h *Host) Listen() error {
	os.Remove(h.socketPath)
	ln, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return fmt.Errorf("host listener: %w", err)
	}
	h.listener = ln
	h.wg.Add(1)
	go h.accept()
	h.logger.Info("accepting proxies", "socket", h.socketPath)
	return nil
}

func (h *Host) accept() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				h.logger.Error("accept failed", "error", err)
			}
			return
		}
		if err := verifyPeer(conn); err != nil {
			h.logger.Warn("rejecting peer", "error", err)
			conn.Close()
			continue
		}
		h.mu.Lock()
		h.nextID++
		inst := newInstance(h.nextID, conn)
		h.instances[inst.ID] = inst
		h.mu.Unlock()
		metrics.Get().Instances.Inc()
		h.wg.Add(1)
		go h.serve(inst)
	}
}

// serve reads one proxy's response stream until it closes.
func (h *Host) serve(inst *Instance) {
	defer h.wg.Done()
	defer h.drop(inst)
	for {
		resp, err := codec.ReadResponse(inst.conn)
		if err != nil {
			inst.logger.Warn("instance stream closed", "error", err)
			return
		}
		metrics.Get().Frames.WithLabelValues("in").Inc()
		switch resp.Kind {
		case codec.RespConnect:
			label := h.label
			if resp.Label != nil {
				label = *resp.Label
			}
			inst.Meta = &Meta{
				PID:      resp.PID,
				TmpID:    resp.TmpID,
				Label:    label,
				HTTPHash: resp.HTTPHash,
				TCPHash:  resp.TCPHash,
			}
			inst.logger.Info("proxy connected", "label", label.String(), "pid", resp.PID)
		case codec.RespUpdated:
			if inst.Meta != nil {
				if resp.HTTPHash != "" || resp.Protocol.Covers(policy.HTTP) {
					inst.Meta.HTTPHash = firstNonEmpty(resp.HTTPHash, resp.Hash)
				}
				if resp.TCPHash != "" || resp.Protocol.Covers(policy.TCP) {
					inst.Meta.TCPHash = firstNonEmpty(resp.TCPHash, resp.Hash)
				}
			}
			inst.deliver(resp)
		case codec.RespShuttingDown:
			inst.deliver(resp)
			return
		default:
			inst.deliver(resp)
		}
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// drop unregisters an instance and reaps its subprocess.
func (h *Host) drop(inst *Instance) {
	inst.dispose()
	h.mu.Lock()
	delete(h.instances, inst.ID)
	var child *exec.Cmd
	if inst.Meta != nil {
		child = h.children[inst.Meta.PID]
		delete(h.children, inst.Meta.PID)
	}
	h.mu.Unlock()
	metrics.Get().Instances.Dec()
	if child != nil {
		// stream closed; the process should be exiting
		done := make(chan struct{})
		go func() {
			child.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			child.Process.Kill()
			<-done
		}
	}
	h.logger.Info("instance gone", "instance", inst.ID)
}

// Launch spawns a proxy subprocess for a label; the child connects back on
// the host socket.
func (h *Host) Launch(label labels.Label) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "proxy",
		"--label", label.String(),
		"--socket", h.socketPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch proxy: %w", err)
	}
	h.mu.Lock()
	h.children[cmd.Process.Pid] = cmd
	h.mu.Unlock()
	h.logger.Info("launched proxy", "label", label.String(), "pid", cmd.Process.Pid)
	return nil
}

// selected returns the instances a selector picks.
func (h *Host) selected(sel Selector) []*Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Instance
	for _, inst := range h.instances {
		if sel.Matches(inst) {
			out = append(out, inst)
		}
	}
	return out
}

// Instances returns the Meta of every connected proxy.
func (h *Host) Instances() []Meta {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Meta
	for _, inst := range h.instances {
		if inst.Meta != nil {
			out = append(out, *inst.Meta)
		}
	}
	return out
}

// Request multicasts a command to the selected proxies; the first error is
// reported after all have answered.
func (h *Host) Request(sel Selector, req codec.PolicyRequest) ([]codec.PolicyResponse, error) {
	insts := h.selected(sel)
	if len(insts) == 0 {
		return nil, fmt.Errorf("no proxy matches")
	}
	var firstErr error
	var out []codec.PolicyResponse
	for _, inst := range insts {
		resp, err := inst.request(req)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, resp)
	}
	return out, firstErr
}

// Send multicasts a command that has no response.
func (h *Host) Send(sel Selector, req codec.PolicyRequest) error {
	insts := h.selected(sel)
	if len(insts) == 0 {
		return fmt.Errorf("no proxy matches")
	}
	var firstErr error
	for _, inst := range insts {
		if err := inst.send(req); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetPolicy forwards a policy to the proxies a label pattern selects.
func (h *Host) SetPolicy(pattern labels.Label, w policy.Wire) error {
	_, err := h.Request(SelectLabel(pattern), codec.PolicyRequest{
		Kind:   codec.ReqSetPolicy,
		Policy: &w,
	})
	return err
}

// Statuses queries the selected proxies.
func (h *Host) Statuses(sel Selector) []codec.Status {
	resps, _ := h.Request(sel, codec.PolicyRequest{Kind: codec.ReqStatus})
	var out []codec.Status
	for _, r := range resps {
		if r.Status != nil {
			out = append(out, *r.Status)
		}
	}
	return out
}

// Shutdown asks every proxy to stop, waits for them to be reaped within
// the timeout, then closes the listener.
func (h *Host) Shutdown(timeout time.Duration) {
	for _, inst := range h.selected(SelectAll()) {
		inst.send(codec.PolicyRequest{Kind: codec.ReqShutdown})
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		n := len(h.instances)
		h.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if h.listener != nil {
		h.listener.Close()
	}
	os.Remove(h.socketPath)
	h.wg.Wait()
}

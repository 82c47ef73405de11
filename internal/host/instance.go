// Package host implements the data-plane host agent: it owns proxy
// subprocesses, speaks the framed control protocol with each one, selects
// instances by label, and serves the host REST surface.
package host

import (
	"fmt"
	"net"
	"sync"
	"time"

	"armour.dev/armour/internal/codec"
	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/metrics"
)

// requestTimeout bounds one command round trip to a proxy.
const requestTimeout = 10 * time.Second

// Meta is what the host knows about a connected proxy.
type Meta struct {
	PID      int
	TmpID    string
	Label    labels.Label
	HTTPHash string
	TCPHash  string
}

// Instance is one connected proxy.
type Instance struct {
	ID   int
	Meta *Meta

	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	waiters []chan codec.PolicyResponse
	closed  bool

	logger *logging.Logger
}

func newInstance(id int, conn net.Conn) *Instance {
	return &Instance{
		ID:     id,
		conn:   conn,
		logger: logging.WithComponent("host").WithFields(map[string]any{"instance": id}),
	}
}

// send writes a request without waiting for a response.
func (i *Instance) send(req codec.PolicyRequest) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if err := codec.WriteRequest(i.conn, req); err != nil {
		return err
	}
	metrics.Get().Frames.WithLabelValues("out").Inc()
	return nil
}

// request writes a command and waits for the proxy's next response frame.
func (i *Instance) request(req codec.PolicyRequest) (codec.PolicyResponse, error) {
	ch := make(chan codec.PolicyResponse, 1)
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return codec.PolicyResponse{}, fmt.Errorf("instance %d is gone", i.ID)
	}
	i.waiters = append(i.waiters, ch)
	i.mu.Unlock()

	if err := i.send(req); err != nil {
		return codec.PolicyResponse{}, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return codec.PolicyResponse{}, fmt.Errorf("instance %d disconnected", i.ID)
		}
		if resp.Kind == codec.RespFailed {
			return resp, fmt.Errorf("instance %d: %s", i.ID, resp.Error)
		}
		return resp, nil
	case <-time.After(requestTimeout):
		return codec.PolicyResponse{}, fmt.Errorf("instance %d: request timed out", i.ID)
	}
}

// deliver hands a response frame to the oldest waiter, if any.
func (i *Instance) deliver(resp codec.PolicyResponse) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.waiters) == 0 {
		return
	}
	ch := i.waiters[0]
	i.waiters = i.waiters[1:]
	ch <- resp
}

// dispose fails all outstanding waiters after the stream closed.
func (i *Instance) dispose() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for _, ch := range i.waiters {
		close(ch)
	}
	i.waiters = nil
	i.conn.Close()
}

// Selector picks proxy instances for a command.
type Selector struct {
	Kind  string // all | label | id
	Label labels.Label
	ID    int
}

// SelectAll matches every instance.
func SelectAll() Selector { return Selector{Kind: "all"} }

// SelectLabel matches instances whose label the pattern matches.
func SelectLabel(pattern labels.Label) Selector {
	return Selector{Kind: "label", Label: pattern}
}

// SelectID matches one instance by numeric id.
func SelectID(id int) Selector { return Selector{Kind: "id", ID: id} }

// Matches reports whether the selector picks an instance.
func (s Selector) Matches(i *Instance) bool {
	switch s.Kind {
	case "all":
		return true
	case "id":
		return i.ID == s.ID
	case "label":
		if i.Meta == nil {
			return false
		}
		return s.Label.MatchesWith(i.Meta.Label) ||
			prefixMatches(s.Label, i.Meta.Label)
	default:
		return false
	}
}

// prefixMatches admits a pattern that names only the proxy part of a
// "<host>::<proxy>" instance label.
func prefixMatches(pattern, label labels.Label) bool {
	if pattern.Len() >= label.Len() {
		return false
	}
	suffix := label.Nodes()[label.Len()-pattern.Len():]
	sub, err := labels.FromNodes(suffix)
	if err != nil {
		return false
	}
	return pattern.MatchesWith(sub)
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/meta"
	"armour.dev/armour/internal/metrics"
	"armour.dev/armour/internal/policy"
)

type tcpProxy struct {
	listener net.Listener
	port     uint16
	wg       sync.WaitGroup
}

// StartTCP begins proxying TCP on port towards the configured ingress
// upstream; a prior listener is stopped first.
func (a *PolicyActor) StartTCP(port uint16) error {
	a.StopTCP()
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	tp := &tcpProxy{listener: ln, port: port}
	a.mu.Lock()
	a.tcpProxy = tp
	a.mu.Unlock()
	tp.wg.Add(1)
	go a.acceptTCP(tp)
	a.logger.Info("TCP proxy listening", "port", port, "upstream", a.ingress)
	return nil
}

// StopTCP stops the TCP listener; idempotent.
func (a *PolicyActor) StopTCP() {
	a.mu.Lock()
	tp := a.tcpProxy
	a.tcpProxy = nil
	a.mu.Unlock()
	if tp != nil {
		tp.listener.Close()
		tp.wg.Wait()
		a.logger.Info("stopped TCP proxy", "port", tp.port)
	}
}

func (a *PolicyActor) acceptTCP(tp *tcpProxy) {
	defer tp.wg.Done()
	for {
		c, err := tp.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Error("TCP accept failed", "error", err)
			}
			return
		}
		tp.wg.Add(1)
		go a.handleTCP(tp, c)
	}
}

// EvalTCPConnection runs allow_tcp_connection for a new stream. The
// returned connection feeds the disconnect hook.
func (a *PolicyActor) EvalTCPConnection(ctx context.Context, from, to netip.AddrPort) (literals.Connection, bool) {
	pol := a.tcpPolicy()
	conn := a.connection(a.idFor(from, ""), a.idFor(to, ""))
	metrics.Get().Connections.WithLabelValues(string(policy.TCP)).Inc()
	handler := meta.NewIngressEgress(nil, a.label)
	allow := a.decide(ctx, pol, policy.AllowTCPConnection, []literals.Literal{literals.ConnectionLit(conn)}, handler)
	if !allow {
		metrics.Get().DeniedTotal.WithLabelValues(string(policy.TCP)).Inc()
	}
	return conn, allow
}

// EvalTCPDisconnect feeds the close of a stream to on_tcp_disconnect.
// Errors are log-only: bookkeeping must not disturb the data path.
func (a *PolicyActor) EvalTCPDisconnect(ctx context.Context, conn literals.Connection, sent, received int64) {
	pol := a.tcpPolicy()
	fp := pol.Get(policy.OnTCPDisconnect)
	if fp.Kind != policy.FnArgs {
		return
	}
	args := []literals.Literal{
		literals.ConnectionLit(conn),
		literals.Int(sent),
		literals.Int(received),
	}
	handler := meta.NewIngressEgress(nil, a.label)
	if _, err := a.evalEntry(ctx, pol, policy.OnTCPDisconnect, args, handler); err != nil {
		a.logger.Warn("disconnect hook failed", "error", err)
	}
}

func (a *PolicyActor) handleTCP(tp *tcpProxy, client net.Conn) {
	defer tp.wg.Done()
	defer client.Close()

	from, _ := netip.ParseAddrPort(client.RemoteAddr().String())
	to, _ := netip.ParseAddrPort(client.LocalAddr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, allow := a.EvalTCPConnection(ctx, from, to)
	cancel()
	if !allow {
		return
	}

	upstream := a.ingress
	if upstream == "" {
		a.logger.Warn("TCP proxy has no upstream, dropping connection")
		return
	}
	server, err := net.DialTimeout("tcp", upstream, 10*time.Second)
	if err != nil {
		a.logger.Warn("TCP upstream unreachable", "upstream", upstream, "error", err)
		return
	}
	defer server.Close()

	sent, received := pump(client, server)
	metrics.Get().BytesSent.Add(float64(sent))
	metrics.Get().BytesRecv.Add(float64(received))

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	a.EvalTCPDisconnect(ctx, conn, sent, received)
	cancel()
}

// pump copies both directions until either side closes, returning
// client→server and server→client byte counts.
func pump(client, server net.Conn) (sent, received int64) {
	done := make(chan struct{})
	go func() {
		sent, _ = io.Copy(server, client)
		if tc, ok := server.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		close(done)
	}()
	received, _ = io.Copy(client, server)
	if tc, ok := client.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	<-done
	return sent, received
}

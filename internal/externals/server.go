package externals

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/wire"
)

// Handler answers one external method.
type Handler func(args []literals.Literal) (literals.Literal, error)

// Server serves the external-RPC protocol; used by policy services (e.g.
// loggers) and tests.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	listener net.Listener
	logger   *logging.Logger
	wg       sync.WaitGroup
}

// NewServer returns a server with no methods registered.
func NewServer() *Server {
	return &Server{
		handlers: map[string]Handler{},
		logger:   logging.WithComponent("external"),
	}
}

// Register binds a method name to a handler.
func (s *Server) Register(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Listen starts accepting connections on a service URL
// ("tcp://host:port" or "unix://path").
func (s *Server) Listen(rawURL string) error {
	network, addr, err := dialAddr(rawURL)
	if err != nil {
		return err
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.accept()
	return nil
}

// Addr returns the bound address, once listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()
	for {
		var req Request
		if err := wire.ReadFrame(c, &req); err != nil {
			if !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "EOF") {
				s.logger.Debug("connection closed", "error", err)
			}
			return
		}
		resp := s.dispatch(req)
		if err := wire.WriteFrame(c, resp); err != nil {
			s.logger.Debug("write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return Response{Err: fmt.Sprintf("unknown method %q", req.Method)}
	}
	args := make([]literals.Literal, len(req.Args))
	for i, v := range req.Args {
		lit, err := v.ToLiteral()
		if err != nil {
			return Response{Err: err.Error()}
		}
		args[i] = lit
	}
	result, err := h(args)
	if err != nil {
		return Response{Err: err.Error()}
	}
	v, err := FromLiteral(result)
	if err != nil {
		return Response{Err: err.Error()}
	}
	return Response{Value: &v}
}

// Close stops the listener and waits for in-flight connections.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

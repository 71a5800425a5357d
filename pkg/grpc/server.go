// Package grpc is a small JSON-over-TCP RPC layer used between the CLI and
// the recovery server. Each connection carries newline-delimited JSON
// requests answered in order.
//
//	s := grpc.NewServer()
//	s.Register(proto.MethodRecover, func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var r proto.RecoverRequest
//	    if err := json.Unmarshal(req, &r); err != nil {
//	        return nil, err
//	    }
//	    ...
//	})
//	go s.Serve(ctx, ":9000")
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/logger"
)

// HandlerFunc processes an RPC request. Returned errors are sent to the
// client with their apperrors code.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

type Response struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error is the wire form of a failed call.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	listener net.Listener
	logger   *slog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		logger:   slog.Default().With("component", "rpc-server"),
	}
}

// Register adds a handler for a "Service.Method" name.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Listen binds addr. It is split from Serve so callers learn the bound
// address (":0" in tests) before serving.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Serve accepts connections until ctx is cancelled or Stop is called.
// In-flight handlers see a cancelled context on shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("rpc server: Serve called before Listen")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("rpc server listening", "addr", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}
	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		resp.Error = &Error{Code: "invalid_arguments", Message: "unknown method: " + req.Method}
		return resp
	}

	ctx = logger.WithRequestID(ctx, req.ID)
	data, err := handler(ctx, req.Params)
	if err == nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("rpc call failed", "method", req.Method, "error", err)
		resp.Data = nil
		resp.Error = &Error{Code: apperrors.Code(err), Message: err.Error()}
	}
	return resp
}

func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and waits for open connections to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	} else if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
}

// Package server accepts JSON-RPC 2.0 connections for the warppkg daemon.
// Local clients connect over a unix socket (TCP when unavailable), remote
// tools over a token protected websocket. Every connection gets its own
// jrpc2 server with push enabled, so listener notifications travel back on
// the connection that registered them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"github.com/warpdl/warppkg/common"
	"github.com/warpdl/warppkg/pkg/logger"
	"golang.org/x/net/netutil"
)

// MethodSource provides the methods served on each connection and is told
// when a connection goes away. It is satisfied by *api.Api.
type MethodSource interface {
	Methods() handler.Map
	Disconnected(srv *jrpc2.Server)
}

// Config selects the local transport.
type Config struct {
	SocketPath string
	TCPPort    int
	// ForceTCP skips the unix socket.
	ForceTCP bool
	// MaxConns caps concurrent local connections, 0 means unlimited.
	MaxConns int
}

// Server manages RPC connections from local clients.
type Server struct {
	log      logger.Logger
	cfg      Config
	methods  MethodSource
	notifier *RPCNotifier
	web      *WebServer

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a Server. web may be nil.
func NewServer(l logger.Logger, methods MethodSource, cfg Config, web *WebServer) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = common.SocketPath()
	}
	if cfg.TCPPort == 0 {
		cfg.TCPPort = common.DefaultTCPPort
	}
	notifier := NewRPCNotifier(l)
	if web != nil {
		web.notifier = notifier
	}
	return &Server{log: l, cfg: cfg, methods: methods, notifier: notifier, web: web}
}

// Notifier returns the set of live connections.
func (s *Server) Notifier() *RPCNotifier {
	return s.notifier
}

// createListener creates a unix socket listener with TCP fallback.
func (s *Server) createListener() (net.Listener, error) {
	var l net.Listener
	if !s.cfg.ForceTCP {
		_ = os.Remove(s.cfg.SocketPath)
		ul, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"})
		if err == nil {
			_ = os.Chmod(s.cfg.SocketPath, 0700)
			l = ul
		} else {
			s.log.Warning("unix socket %s unavailable: %v, trying tcp", s.cfg.SocketPath, err)
		}
	}
	if l == nil {
		tl, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.TCPPort))
		if err != nil {
			return nil, fmt.Errorf("error listening: %w", err)
		}
		l = tl
	}
	if s.cfg.MaxConns > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConns)
	}
	return l, nil
}

// Listen binds the local listener without accepting yet.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	l, err := s.createListener()
	if err != nil {
		return nil, err
	}
	s.listener = l
	return l.Addr(), nil
}

// Start accepts connections until ctx is cancelled. The web server, if
// any, runs alongside.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	if s.web != nil {
		go func() {
			if err := s.web.Start(); err != nil {
				s.log.Error("web server: %v", err)
			}
		}()
	}
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	s.log.Info("listening on %s %s", l.Addr().Network(), l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Error("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(channel.Line(conn, conn))
		}()
	}
}

// serve runs one jrpc2 server over ch until the peer goes away.
func (s *Server) serve(ch channel.Channel) {
	serve(s.log, s.methods, s.notifier, ch)
}

func serve(l logger.Logger, methods MethodSource, notifier *RPCNotifier, ch channel.Channel) {
	srv := jrpc2.NewServer(methods.Methods(), &jrpc2.ServerOptions{
		AllowPush: true,
		Logger:    func(text string) { l.Debug("jrpc2: %s", text) },
	}).Start(ch)
	notifier.Register(srv)
	if err := srv.Wait(); err != nil && !errors.Is(err, jrpc2.ErrConnClosed) {
		l.Debug("connection ended: %v", err)
	}
	notifier.Unregister(srv)
	methods.Disconnected(srv)
}

// Shutdown tells clients the daemon is stopping, closes the listener and
// every open connection, and removes the socket file.
func (s *Server) Shutdown() error {
	s.notifier.Broadcast(common.NotifyShutdown, &common.ShutdownNotice{Reason: "daemon stopping"})

	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	if err := l.Close(); err != nil {
		s.log.Warning("close listener: %v", err)
	}

	if s.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.web.Shutdown(ctx); err != nil {
			s.log.Warning("shutdown web server: %v", err)
		}
	}
	s.notifier.StopAll()

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warning("remove socket file: %v", err)
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	cws "github.com/coder/websocket"
	"github.com/warpdl/warppkg/pkg/logger"
)

// WebServer serves the websocket JSON-RPC endpoint at /jsonrpc/ws and, when
// configured, Prometheus metrics at /metrics.
type WebServer struct {
	log      logger.Logger
	methods  MethodSource
	notifier *RPCNotifier
	metrics  http.Handler
	secret   string
	port     int
	// OriginPatterns allows cross-origin websocket clients.
	OriginPatterns []string

	mu     sync.Mutex
	server *http.Server
}

// NewWebServer creates a WebServer on port. An empty secret disables the
// websocket endpoint; metrics may be nil.
func NewWebServer(l logger.Logger, methods MethodSource, metrics http.Handler, secret string, port int) *WebServer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &WebServer{
		log:      l,
		methods:  methods,
		notifier: NewRPCNotifier(l),
		metrics:  metrics,
		secret:   secret,
		port:     port,
	}
}

func (s *WebServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc/ws", requireToken(s.secret, http.HandlerFunc(s.serveWS)))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *WebServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{OriginPatterns: s.OriginPatterns})
	if err != nil {
		s.log.Warning("websocket accept: %v", err)
		return
	}
	s.log.Debug("websocket client %s connected", r.RemoteAddr)
	serve(s.log, s.methods, s.notifier, NewWSChannel(r.Context(), conn))
}

func (s *WebServer) addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

// Start listens and serves until Shutdown.
func (s *WebServer) Start() error {
	l, err := net.Listen("tcp", s.addr())
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *WebServer) Serve(l net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{Handler: s.handler()}
	srv := s.server
	s.mu.Unlock()

	err := srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and every websocket connection.
func (s *WebServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	s.notifier.StopAll()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

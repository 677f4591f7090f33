package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logx "blitztrack/pkg/logx"
)

const gracefulShutdownTimeout = 5 * time.Second

type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

type Server struct {
	log      logx.Logger
	srv      *http.Server
	listener net.Listener
}

func NewServer(cfg ServerConfig, handler http.Handler, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Server{
		log: log.With(logx.String("comp", "http")),
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Listen binds the address so callers learn about port conflicts before
// Run is scheduled.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		s.srv.SetKeepAlivesEnabled(false)
		_ = s.srv.Shutdown(sctx)
		s.log.Info("http server terminated")
	}()

	s.log.Info("http server listening", logx.String("addr", s.listener.Addr().String()))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

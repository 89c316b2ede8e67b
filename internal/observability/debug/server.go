// Package debug serves Prometheus metrics and pprof on a loopback address.
package debug

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "notifybridge/pkg/logx"
)

// ErrNotLoopback is returned when the configured address would listen beyond the host.
var ErrNotLoopback = errors.New("debug server refused to start: address is not loopback")

const shutdownTimeout = 2 * time.Second

type Server struct {
	addr     string
	log      logx.Logger
	gatherer prometheus.Gatherer
}

type Option func(*Server)

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }

// WithGatherer replaces the default Prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:     strings.TrimSpace(addr),
		log:      logx.Nop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the mux: /healthz, /metrics and /debug/pprof/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return mux
}

// Run listens and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if !IsLoopback(s.addr) {
		s.log.Error("debug server refused to start", logx.String("addr", s.addr))
		return ErrNotLoopback
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		s.log.Info("debug server stopped")
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

// IsLoopback reports whether addr is host:port with a loopback host.
func IsLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

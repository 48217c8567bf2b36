// Package server exposes the compilation service over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	doc2pdf "github.com/alnah/go-doc2pdf"
	"github.com/alnah/go-doc2pdf/internal/metrics"
)

// Defaults.
const (
	DefaultMaxUploadBytes = 25 << 20
	DefaultServiceName    = "doc2pdf"
	readHeaderTimeout     = 10 * time.Second
	shutdownTimeout       = 30 * time.Second
)

// Backend is the part of *doc2pdf.Service the handlers use.
type Backend interface {
	Compile(ctx context.Context, req doc2pdf.Request) (*doc2pdf.Result, error)
	Save(ctx context.Context, filename string, content []byte) (*doc2pdf.SavedDocument, error)
	ConvertSaved(ctx context.Context, id string, opts doc2pdf.Options) (*doc2pdf.Result, error)
	Health() map[string]error
}

var _ Backend = (*doc2pdf.Service)(nil)

// Config holds the HTTP-facing settings.
type Config struct {
	AllowedOrigins []string // exact scheme://host[:port] matches
	MaxUploadBytes int64    // 0 = DefaultMaxUploadBytes
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access logs and handler errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records HTTP metrics in m and serves g on GET /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithServiceName sets the service name reported on tracing spans.
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend     Backend
	cfg         Config
	origins     map[string]struct{}
	logger      *zap.Logger
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	serviceName string
	router      *gin.Engine
}

// New creates a Server and registers its routes.
func New(backend Backend, cfg Config, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		backend:     backend,
		cfg:         cfg,
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		logger:      zap.NewNop(),
		serviceName: DefaultServiceName,
	}
	for _, o := range cfg.AllowedOrigins {
		s.origins[o] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		s.accessLog(),
		s.recovery(),
		otelgin.Middleware(s.serviceName),
		s.cors(),
		s.limitBody(),
	)

	r.POST("/compile", s.handleCompile)
	r.POST("/save", s.handleSave)
	r.POST("/convert", s.handleConvert)
	r.POST("/render", s.handleRender)
	r.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends. In-flight requests get shutdownTimeout
// to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.logger.Info("http server stopped")
	return err
}

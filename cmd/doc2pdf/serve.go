package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/alnah/go-doc2pdf/internal/config"
	"github.com/alnah/go-doc2pdf/internal/hints"
	"github.com/alnah/go-doc2pdf/internal/metrics"
	"github.com/alnah/go-doc2pdf/internal/server"
)

// ErrListen reports a listener that could not be opened.
var ErrListen = errors.New("failed to start HTTP server")

// listenFunc runs the server until ctx is done. Replaced in tests.
type listenFunc func(ctx context.Context, srv *server.Server, addr string) error

func defaultListen(ctx context.Context, srv *server.Server, addr string) error {
	return srv.ListenAndServe(ctx, addr)
}

// runServe starts the HTTP server and the janitor and blocks until ctx is done.
func runServe(ctx context.Context, args []string, env *Environment) error {
	return serve(ctx, args, env, defaultListen)
}

func serve(ctx context.Context, args []string, env *Environment, listen listenFunc) error {
	flags, err := parseServeFlags(args, env.Stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(&flags.common, env)
	if err != nil {
		return err
	}
	if err := mergeServeFlags(flags, cfg); err != nil {
		return err
	}

	logger := newLogger(env.Stderr, flags.common.verbose, flags.common.quiet)
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := openStores(cfg, logger, m)
	if err != nil {
		return err
	}
	svc, err := newService(cfg, st, logger, m, env.ServiceOptions...)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("closing service", zap.Error(err))
		}
	}()
	m.TrackLimiter(svc.Limiter())

	for engine, err := range svc.Health() {
		if err != nil {
			logger.Warn("compiler unavailable at startup",
				zap.String("engine", engine),
				zap.String("hint", hints.ForCompilerMissing(engine)))
		}
	}

	janitor := server.NewJanitor(map[string]server.Sweeper{
		"artifacts": st.artifacts,
		"documents": st.documents,
	}, cfg.Storage.Retention.Std(), cfg.Storage.SweepInterval.Std(), logger, m)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.Run(janitorCtx)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	srv := server.New(svc, serverConfig(cfg),
		server.WithLogger(logger),
		server.WithMetrics(m, reg),
	)

	logger.Info("listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("root", cfg.Storage.Root),
		zap.String("version", Version))
	if err := listen(ctx, srv, cfg.Server.Addr); err != nil {
		return fmt.Errorf("%w: %w%s", ErrListen, err, hints.ForListen(cfg.Server.Addr))
	}
	logger.Info("server stopped")
	return nil
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
}

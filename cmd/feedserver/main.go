package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taxiifeed/internal/feed"
	"taxiifeed/internal/generator"
	"taxiifeed/internal/server"
	"taxiifeed/internal/shard"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := server.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *server.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	reader := shard.NewReader(cfg.DataDir, logger.Named("shard"))
	var source feed.Source
	switch cfg.IndexMode {
	case server.IndexWatch:
		ws, err := feed.NewWatchSource(reader, logger.Named("watch"))
		if err != nil {
			return err
		}
		defer ws.Close()
		source = ws
	default:
		source = feed.NewScanSource(reader)
	}

	svc := feed.NewService(source, cfg.Limits(), logger.Named("feed"), cfg.FeedCollections()...)
	if cache := cfg.ResultCache(); cache != nil {
		svc.WithResultCache(cache)
	}
	srv := server.New(svc, cfg, logger.Named("http"))

	synth := generator.NewSynthetic(cfg.MinCount, cfg.MaxCount)
	synth.SourceSystem = cfg.SourceSystem
	sched := generator.NewScheduler(generator.NewDirStore(cfg.DataDir, logger.Named("store")), cfg.GenerateInterval(), logger.Named("generator"))
	sched.Register(synth)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr(), Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: srv.MetricsHandler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("data_dir", cfg.DataDir),
			zap.String("index_mode", cfg.IndexMode),
			zap.String("taxii_root", cfg.TAXIIAPIRootPath),
		)
		return serve(httpSrv)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
			return serve(metricsSrv)
		})
	}
	if cfg.GRPCAddr != "" {
		g.Go(func() error {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			return srv.StartGRPC(cfg.GRPCAddr)
		})
		g.Go(func() error { return srv.WatchReadiness(gctx, 15*time.Second) })
	}
	g.Go(func() error { return sched.Run(gctx, cfg.GenerateOnStart) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.StopGRPC()
		return errors.Join(httpSrv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func serve(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", s.Addr, err)
	}
	return nil
}

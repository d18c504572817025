package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/config"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/metrics"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/server"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 5 * time.Second

// lazyVADServer allows deferred initialization of the VAD service. It returns
// Unavailable errors until the underlying server is set.
type lazyVADServer struct {
	server atomic.Pointer[server.VoiceActivityDetectionServer]
}

func (l *lazyVADServer) setServer(srv server.VoiceActivityDetectionServer) {
	l.server.Store(&srv)
}

func (l *lazyVADServer) DetectSpeech(stream server.DetectSpeechServer) error {
	srv := l.server.Load()
	if srv == nil {
		return status.Error(codes.Unavailable, "VAD service is initializing, please retry in a moment")
	}
	return (*srv).DetectSpeech(stream)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vad-adapter: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	loadResult, err := config.Loader{}.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := loadResult.Config

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	// Log warnings for deprecated or unsupported config options.
	for _, warn := range loadResult.Warnings {
		logger.Warn(warn)
	}

	logger.Info("starting adapter",
		zap.String("adapter", "vad-local-ten"),
		zap.String("version", version),
		zap.String("engine_version", engine.Version()),
		zap.String("engine_config", cfg.Engine), // configured value, may be "auto"
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("frame_length", cfg.FrameLength),
		zap.Float64("threshold", cfg.Threshold),
		zap.Float64("smoothing", cfg.Smoothing),
		zap.Int("hangover_frames", cfg.HangoverFrames),
	)

	// Bind the port before engine init so the host can connect right away.
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	defer lis.Close()
	logger.Info("listener bound, port ready", zap.String("addr", lis.Addr().String()))

	// Leave 64KB headroom for protobuf overhead beyond PCM data.
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(server.MaxPCMChunkBytes + 64*1024),
	)
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	lazyService := &lazyVADServer{}
	server.Register(grpcServer, lazyService)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("vad", reg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	logger.Info("gRPC server started (NOT_SERVING while initializing)")

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server started", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested, stopping servers")
		healthServer.Shutdown()
		stopGRPC(grpcServer, shutdownTimeout, logger)
		if metricsServer != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}
		return nil
	})

	// Each stream gets its own engine instance from this factory.
	kind, newEngine, err := selectEngine(cfg, logger)
	if err != nil {
		logger.Error("engine initialization failed", zap.Error(err))
		cancel()
		_ = g.Wait()
		return err
	}

	lazyService.setServer(server.New(cfg, logger, newEngine, server.WithMetrics(collector)))
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_SERVING)
	logger.Info("adapter ready to serve requests", zap.String("engine", kind))

	if err := g.Wait(); err != nil {
		logger.Error("adapter terminated with error", zap.Error(err))
		return err
	}
	logger.Info("adapter stopped")
	return nil
}

// stopGRPC drains in-flight streams and forces a stop after timeout.
func stopGRPC(s *grpc.Server, timeout time.Duration, logger *zap.Logger) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop timed out, forcing stop")
		s.Stop()
	}
}

func newLogger(level, format string) *zap.Logger {
	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func parseLevel(value string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

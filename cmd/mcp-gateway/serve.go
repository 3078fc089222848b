package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/config"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/health"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/mcpbridge"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/metrics"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/middleware"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP gateway",
	Long: `Run the MCP gateway.

Settings are read from defaults, then configs/gateway.yaml (or the file named
by --config), then the environment (GATEWAY_PORT, UPSTREAM_URL, ... as well as
BACKEND_URL, MODEL_NAME, REQUEST_TIMEOUT, CORS_ALLOW_ORIGINS, PORT and
LLM_STREAM), then flags.`,
	RunE: runServe,
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("host", "0.0.0.0", "listen host")
	fs.Int("port", 7373, "listen port")
	fs.String("upstream", "http://localhost:8000", "upstream chat-completions base URL")
	fs.String("model", "llama-3.2-1b-instruct", "model name sent upstream")
	fs.Bool("stream", true, "ask the upstream to stream its answer")
	fs.Int("grpc-health-port", 0, "port of the gRPC health service (0 disables)")

	mustBind("gateway.host", fs.Lookup("host"))
	mustBind("gateway.port", fs.Lookup("port"))
	mustBind("upstream.url", fs.Lookup("upstream"))
	mustBind("upstream.model", fs.Lookup("model"))
	mustBind("upstream.stream", fs.Lookup("stream"))
	mustBind("gateway.grpc_health_port", fs.Lookup("grpc-health-port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if !debug {
		return zap.NewProduction()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	return zcfg.Build()
}

// gateway holds the wired components of a running gateway.
type gateway struct {
	router  *gin.Engine
	mcp     *mcpbridge.Server
	checker *health.Checker
	up      *upstream.Client
}

// newGateway wires the upstream client, MCP server, health checker and HTTP
// router. Background work started here stops when ctx is done.
func newGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) *gateway {
	up := upstream.New(upstream.Config{
		BaseURL:      cfg.Upstream.URL,
		MaxIdleConns: cfg.Upstream.MaxIdleConns,
		MaxLineBytes: cfg.Upstream.MaxLineBytes,
	}, logger.Named("upstream"))
	up.SetRecorder(metrics.Upstream{})

	tools := mcpbridge.NewToolRegistry(mcpbridge.PromptConfig{
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		MaxTokens:   cfg.Upstream.MaxTokens,
		Stream:      cfg.Upstream.Stream,
	})
	mcp := mcpbridge.NewServer(up, tools, mcpbridge.Options{
		ServerName:    cfg.Gateway.ServerName,
		ServerVersion: cfg.Gateway.ServerVersion,
		CallTimeout:   cfg.Upstream.RequestTimeout,
		MaxBodyBytes:  cfg.Gateway.MaxBodyBytes,
	}, logger.Named("mcp"))

	checker := health.New(health.Config{
		Endpoint:      cfg.Upstream.HealthURL(),
		CheckInterval: cfg.Upstream.HealthInterval,
	}, logger.Named("health"))
	checker.SetMetricsRecord(metrics.RecordHealthCheck)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Gateway.CORSOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodyLimit(cfg.Gateway.MaxBodyBytes))
	if rps := cfg.Gateway.RateLimitRPS; rps > 0 {
		var key middleware.KeyFunc = middleware.ClientIPKey
		if h := cfg.Gateway.RateLimitKeyHeader; h != "" {
			key = middleware.HeaderKey(h)
		}
		router.Use(middleware.RateLimiter(ctx, rps, rps*2, key))
	}
	router.Use(middleware.RequestLogger(logger, "/health", "/metrics"))
	router.Use(metrics.PrometheusMiddleware())

	router.GET("/health", health.Handler(health.Info{
		Backend: cfg.Upstream.URL,
		Model:   cfg.Upstream.Model,
		Port:    cfg.Gateway.Port,
	}, checker))
	router.GET("/metrics", metrics.Handler())
	mcp.Register(router)

	return &gateway{router: router, mcp: mcp, checker: checker, up: up}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	gw := newGateway(ctx, cfg, logger)
	defer gw.up.Close()

	errCh := make(chan error, 2)

	// ── gRPC health (optional) ─────────────────────────────────────────────
	var grpcServer *grpc.Server
	if port := cfg.Gateway.GRPCHealthPort; port > 0 {
		lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Gateway.Host, fmt.Sprint(port)))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", port, err)
		}
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
		health.RegisterGRPC(grpcServer, gw.checker)
		reflection.Register(grpcServer)

		go func() {
			logger.Info("gRPC health listening", zap.Int("port", port))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC serve: %w", err)
			}
		}()
	}

	go gw.checker.Start(ctx)

	// ── HTTP ───────────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Gateway.Addr(),
		Handler:           gw.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("upstream", cfg.Upstream.URL),
			zap.String("model", cfg.Upstream.Model),
			zap.Bool("stream", cfg.Upstream.Stream),
			zap.Duration("request_timeout", cfg.Upstream.RequestTimeout),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP serve: %w", err)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway...", zap.Int("inflight_calls", gw.mcp.Inflight()))
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("gateway stopped")
	return serveErr
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

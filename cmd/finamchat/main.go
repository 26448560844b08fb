package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aeshef/finam-ai-chat/configs"
	"github.com/aeshef/finam-ai-chat/internal/adapter/inbound/mcpsrv"
	"github.com/aeshef/finam-ai-chat/internal/adapter/outbound/audit"
	"github.com/aeshef/finam-ai-chat/internal/adapter/outbound/catalog"
	"github.com/aeshef/finam-ai-chat/internal/adapter/outbound/finam"
	"github.com/aeshef/finam-ai-chat/internal/adapter/outbound/llmextract"
	"github.com/aeshef/finam-ai-chat/internal/domain"
	"github.com/aeshef/finam-ai-chat/internal/usecase"

	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const sweepInterval = 30 * time.Second

func main() {
	var transport string
	flag.StringVar(&transport, "transport", "sse", "Transport mode: sse or stdio")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	var logger *slog.Logger

	if transport == "stdio" {
		// In STDIO mode, log to file to avoid interfering with stdio communication
		logFile, err := os.OpenFile("/tmp/finamchat.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel}))
		} else {
			logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: logLevel}))
		}
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()), slog.String("transport", transport))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry.", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Endpoint Catalog ===
	// The catalog is the routing SSOT; refusing to start without it beats
	// serving a tool surface that cannot resolve anything.
	registry, aliases, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("Failed to load endpoint catalog.", slog.String("path", cfg.CatalogPath), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Endpoint catalog loaded.",
		slog.String("version", registry.Version()),
		slog.Int("endpoints", len(registry.Specs())))

	// === Dependency Injection ===
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	auditSink, err := audit.NewJSONLSink(cfg.AuditLogPath, cfg.AuditRingSize, logger)
	if err != nil {
		logger.Error("Failed to open audit log.", slog.Any("error", err))
		os.Exit(1)
	}
	defer auditSink.Close()

	mapper := usecase.NewOfflineMapper(registry, aliases, logger)

	var extractor usecase.IntentProducer
	mode := usecase.ModeOffline
	if cfg.Mode == "llm" {
		llmClient := llmextract.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, logger)
		extractor = usecase.NewIntentExtractor(registry, llmClient, logger)
		mode = usecase.ModeLLM
		logger.Info("LLM extraction enabled.", slog.String("model", cfg.LLMModel))
	}

	resolver := usecase.NewResolver(registry, usecase.DefaultScoreThreshold, logger)
	gate := usecase.NewSafetyGate(safetyPolicy(cfg), auditSink, logger)

	adapter := finam.New(cfg.FinamBaseURL, cfg.FinamAccessToken, httpClient, logger)
	router := usecase.NewToolRouter(adapter, routerConfig(cfg), auditSink, logger)

	pipeline := usecase.NewPipeline(mode, mapper, extractor, resolver, gate, router, logger)

	// Expired confirmation cards also die lazily on use; the sweep just
	// keeps the pending map from accumulating abandoned ones.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gate.Sweep()
			}
		}
	}()

	// === MCP Server (mark3labs/mcp-go) ===
	mcpSrv := mcpGoServer.NewMCPServer("finamchat", "0.1.0")
	mcpsrv.New(pipeline, auditSink, logger).Register(mcpSrv)

	// === Transport Mode Selection ===
	switch transport {
	case "stdio":
		logger.Info("Starting in STDIO mode")

		stdioServer := mcpGoServer.NewStdioServer(mcpSrv)
		if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
			logger.Error("STDIO server error", slog.Any("error", err))
			os.Exit(1)
		}

	case "sse":
		logger.Info("Starting in SSE mode")

		sseServer := mcpGoServer.NewSSEServer(mcpSrv, mcpGoServer.WithBaseURL("http://"+cfg.ListenAddr))

		go func() {
			logger.Info("MCP SSE server starting.", slog.String("address", cfg.ListenAddr))
			if err := sseServer.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("MCP SSE server failed to start.", slog.Any("error", err))
				stop()
			}
		}()

		<-ctx.Done()

		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("MCP SSE server graceful shutdown failed.", slog.Any("error", err))
		}
		logger.Info("Server shut down gracefully.")

	default:
		logger.Error("Invalid transport mode", slog.String("transport", transport))
		os.Exit(1)
	}
}

// safetyPolicy builds the gate policy from config, falling back to the
// built-in defaults for anything left unset.
func safetyPolicy(cfg *configs.Config) usecase.SafetyPolicy {
	policy := usecase.DefaultSafetyPolicy()
	if len(cfg.DeniedPolicies) > 0 {
		policy.Denylist = policy.Denylist[:0]
		for _, tag := range cfg.DeniedPolicies {
			policy.Denylist = append(policy.Denylist, domain.PolicyTag(tag))
		}
	}
	if len(cfg.AllowedMarkets) > 0 {
		policy.AllowedMarkets = cfg.AllowedMarkets
	}
	if cfg.MaxOrderQuantity > 0 {
		policy.MaxOrderQuantity = int(cfg.MaxOrderQuantity)
	}
	if cfg.ConfirmTTL > 0 {
		policy.ConfirmTTL = cfg.ConfirmTTL
	}
	return policy
}

func routerConfig(cfg *configs.Config) usecase.RouterConfig {
	rc := usecase.DefaultRouterConfig()
	if cfg.QuoteCacheTTL > 0 {
		rc.QuoteTTL = cfg.QuoteCacheTTL
	}
	if cfg.DefaultCacheTTL > 0 {
		rc.DefaultTTL = cfg.DefaultCacheTTL
	}
	if cfg.RatePerSec > 0 {
		rc.RatePerSec = cfg.RatePerSec
	}
	if cfg.RateBurst > 0 {
		rc.Burst = cfg.RateBurst
	}
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.IdempotencyTTL > 0 {
		rc.IdempotencyTTL = cfg.IdempotencyTTL
	}
	return rc
}

// initOtelProvider initializes the OpenTelemetry SDK and sets up the OTLP
// trace exporter. It returns a shutdown function to be called on exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, OpenTelemetry tracing disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtelExporterOtlpInsecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("finamchat"),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("OpenTelemetry TracerProvider configured.")

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		if providerErr != nil {
			return providerErr
		}
		return connErr
	}, nil
}

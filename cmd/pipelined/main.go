// Command pipelined runs the exception resolution control plane: the HTTP
// API, the stage orchestrator, and (when STREAMING_ENABLED=true) a
// background streaming ingestor. Grounded on cmd/tarsy/main.go's
// flag+env config resolution, godotenv loading, service wiring, and
// graceful shutdown idiom.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/tarsy/internal/agent"
	"github.com/codeready-toolchain/tarsy/internal/api"
	"github.com/codeready-toolchain/tarsy/internal/audit"
	"github.com/codeready-toolchain/tarsy/internal/backpressure"
	"github.com/codeready-toolchain/tarsy/internal/config"
	"github.com/codeready-toolchain/tarsy/internal/domain"
	"github.com/codeready-toolchain/tarsy/internal/evidence"
	"github.com/codeready-toolchain/tarsy/internal/explain"
	"github.com/codeready-toolchain/tarsy/internal/metrics"
	"github.com/codeready-toolchain/tarsy/internal/orchestrator"
	"github.com/codeready-toolchain/tarsy/internal/policyresolver"
	"github.com/codeready-toolchain/tarsy/internal/store"
	"github.com/codeready-toolchain/tarsy/internal/streaming"
	"github.com/codeready-toolchain/tarsy/internal/streaming/kafka"
	"github.com/codeready-toolchain/tarsy/internal/streaming/memory"
	"github.com/codeready-toolchain/tarsy/internal/toolrpc"
)

func main() {
	configDir := flag.String("config-dir", "", "Path to configuration directory (overrides CONFIG_DIR)")
	flag.Parse()

	envPath := filepath.Join(envOr("CONFIG_DIR", "./config"), ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}

	envCfg := config.LoadEnvConfig()
	if *configDir != "" {
		envCfg.ConfigDir = *configDir
	}

	logger := slog.Default()
	logger.Info("starting pipelined", "http_port", envCfg.HTTPPort, "config_dir", envCfg.ConfigDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := config.NewPackRegistry(envCfg.ConfigDir)
	if err := registry.LoadAll(); err != nil {
		log.Fatalf("loading domain/tenant packs: %v", err)
	}
	resolver := policyresolver.NewResolver(registry)

	dbClient, err := store.NewClient(ctx, store.Config{DatabaseURL: envCfg.DatabaseURL})
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer dbClient.Close()
	logger.Info("connected to database")

	auditLogger, err := audit.NewLogger("./runtime/audit")
	if err != nil {
		log.Fatalf("initializing audit logger: %v", err)
	}
	defer auditLogger.CloseAll()
	auditReader := audit.NewReader("./runtime/audit")

	evidenceTracker := evidence.NewTracker(dbClient.Evidence)
	metricsCollector := metrics.NewCollector()

	controller := backpressure.NewController(backpressure.DefaultPolicy(), func(oldState, newState backpressure.State) {
		logger.Warn("backpressure state changed", "from", oldState, "to", newState)
	})

	var toolExecutor agent.ToolExecutor
	if envCfg.ToolRPCAddr != "" {
		client, err := toolrpc.NewClient(envCfg.ToolRPCAddr)
		if err != nil {
			log.Fatalf("connecting to tool-execution service: %v", err)
		}
		toolExecutor = client
	} else {
		toolExecutor = &toolrpc.StubExecutor{}
	}

	intake := &agent.IntakeAgent{Logger: auditLogger}
	triage := &agent.TriageAgent{Logger: auditLogger, Evidence: evidenceTracker}
	policy := &agent.PolicyAgent{Logger: auditLogger, Events: dbClient.Events}
	resolution := &agent.ResolutionAgent{Logger: auditLogger, Executor: toolExecutor}
	feedback := &agent.FeedbackAgent{Logger: auditLogger, Events: dbClient.Events, Metrics: metricsCollector}

	bus := orchestrator.NewBus()
	orch := orchestrator.New(intake, triage, policy, resolution, feedback, resolver, dbClient.Exceptions, controller, bus, logger, orchestrator.Config{
		Timeouts: map[string]time.Duration{
			orchestrator.StageIntake:     5 * time.Second,
			orchestrator.StageTriage:     10 * time.Second,
			orchestrator.StagePolicy:     5 * time.Second,
			orchestrator.StageResolution: 30 * time.Second,
			orchestrator.StageFeedback:   5 * time.Second,
		},
		SnapshotDir:    "./runtime/snapshots",
		MaxConcurrency: 8,
	})

	explanationService := explain.NewService(dbClient.Exceptions, evidenceTracker, metricsCollector, auditLogger, "./runtime/audit")

	server := api.NewServer(orch, dbClient.Exceptions, metricsCollector, explanationService, auditReader, bus, envOr("DEFAULT_DOMAIN", ""))
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring: %v", err)
	}

	if envCfg.StreamingEnabled {
		startStreaming(ctx, envCfg, controller, orch, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", envCfg.HTTPPort)
		errCh <- server.Start(":" + envCfg.HTTPPort)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("http server: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

// startStreaming wires the configured streaming backend to the
// orchestrator's Run method, normalizing each message into an
// ExceptionRecord and running it through the pipeline in the background.
func startStreaming(ctx context.Context, envCfg config.EnvConfig, controller *backpressure.Controller, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	var backend streaming.Ingestor
	switch envCfg.StreamingBackend {
	case "kafka":
		k, err := kafka.New(kafka.Config{
			BootstrapServers: envCfg.KafkaBootstrap,
			Topic:            envCfg.KafkaTopic,
			GroupID:          envCfg.KafkaGroupID,
		})
		if err != nil {
			log.Fatalf("initializing kafka ingestor: %v", err)
		}
		backend = k
	default:
		backend = memory.New(1024)
	}

	svc := streaming.NewService(backend, controller, nil, func(handleCtx context.Context, msg streaming.Message) error {
		rec := recordFromMessage(msg)
		runID := randomRunID()
		_, err := orch.Run(handleCtx, rec, envOr("DEFAULT_DOMAIN", ""), runID)
		return err
	}, nil, logger)

	go func() {
		if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("streaming ingestor stopped", "error", err)
		}
	}()
}

// recordFromMessage builds an ExceptionRecord from an already-parsed
// streaming message.
func recordFromMessage(msg streaming.Message) *domain.ExceptionRecord {
	rec := &domain.ExceptionRecord{
		TenantID:          msg.TenantID,
		SourceSystem:      msg.SourceSystem,
		ExceptionType:     msg.ExceptionType,
		RawPayload:        msg.RawPayload,
		NormalizedContext: msg.NormalizedContext,
	}
	if msg.Severity != nil {
		rec.Severity = domain.Severity(*msg.Severity)
	}
	if msg.Timestamp != nil {
		rec.Timestamp = *msg.Timestamp
	}
	return rec
}

func randomRunID() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

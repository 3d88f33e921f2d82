// Remedyd is the data-quality remediation daemon.
//
// It serves the remediation lifecycle over HTTP: fix attempts run through a
// safety gate, preview, apply and verification, learned fixes accumulate in a
// knowledge bank, and failures escalate to a ticket log.
//
// Usage:
//
//	# Start with defaults
//	remedyd
//
//	# Start with a config file
//	remedyd --config /etc/remedyd/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9100 DATASTORE_PATH=/var/lib/remedyd/policies.db remedyd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/datastore"
	"github.com/fyrsmithlabs/remedyd/internal/feedback"
	remedyhttp "github.com/fyrsmithlabs/remedyd/internal/http"
	"github.com/fyrsmithlabs/remedyd/internal/knowledgebank"
	"github.com/fyrsmithlabs/remedyd/internal/lifecycle"
	"github.com/fyrsmithlabs/remedyd/internal/ticket"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  remedyd           Start the remediation daemon\n")
			fmt.Fprintf(os.Stderr, "  remedyd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("remedyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the remedyd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens the knowledge bank, ticket log and target data store
//  4. Wires the lifecycle controller and feedback tracker
//  5. Starts the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting remedyd",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	bank, err := knowledgebank.NewFileStore(&knowledgebank.Config{
		Path:                 cfg.KnowledgeBank.Path,
		AutoApproveThreshold: cfg.KnowledgeBank.AutoApproveThreshold,
		MinApprovalsForAuto:  cfg.KnowledgeBank.MinApprovalsForAuto,
		MatchThreshold:       cfg.KnowledgeBank.MatchThreshold,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open knowledge bank: %w", err)
	}

	sink, err := ticket.NewFileSink(&ticket.Config{
		Path:     cfg.Tickets.Path,
		IDPrefix: cfg.Tickets.IDPrefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open ticket log: %w", err)
	}

	store, err := datastore.NewSQLiteStore(&datastore.SQLiteConfig{
		Path:         cfg.DataStore.Path,
		QueryTimeout: cfg.DataStore.QueryTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}
	defer store.Close()

	logger.Info("Stores initialized",
		zap.String("knowledge_bank", cfg.KnowledgeBank.Path),
		zap.String("ticket_log", cfg.Tickets.Path),
		zap.String("data_store", cfg.DataStore.Path))

	controller, err := lifecycle.NewController(&lifecycle.Config{
		PreviewSampleLimit: cfg.Lifecycle.PreviewSampleLimit,
	}, store, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to create lifecycle controller: %w", err)
	}

	tracker, err := feedback.NewTracker(bank, logger)
	if err != nil {
		return fmt.Errorf("failed to create feedback tracker: %w", err)
	}

	srv, err := remedyhttp.NewServer(controller, bank, tracker, sink, logger, &remedyhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// initLogger initializes the structured logger from the logging config.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

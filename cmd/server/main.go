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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sheikh-saqib/collateral-lending-ledger/internal/api"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/config"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/events/kafka"
	memevents "github.com/sheikh-saqib/collateral-lending-ledger/internal/events/memory"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/events/nats"
	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/ledger"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/metrics"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
	memstore "github.com/sheikh-saqib/collateral-lending-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/token"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lending-ledger",
		Short: "Single-collateral lending ledger service",
		Long: `Serve the lending ledger over HTTP.

Configuration is read from LEDGER_* environment variables, optionally loaded
from an env file first.

Examples:
  # In-memory store, events logged
  lending-ledger --env-file .env

  # Postgres store, events to Kafka
  LEDGER_DATABASE_URL=postgres://... LEDGER_EVENT_SINK=kafka lending-ledger`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	cmd.Flags().String("env-file", ".env", "Environment file to load before reading LEDGER_* variables")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	collateral := token.NewStore("COL", cfg.AdminAddress)
	loan := token.NewStore("LOAN", cfg.AdminAddress)

	reserve, err := models.ParseUnits(cfg.ReserveFunding)
	if err != nil {
		return fmt.Errorf("LEDGER_RESERVE_FUNDING: %w", err)
	}
	if !reserve.IsZero() {
		if err := loan.Mint(ctx, cfg.AdminAddress, cfg.LedgerAddress, reserve); err != nil {
			return fmt.Errorf("fund loan reserve: %w", err)
		}
		logger.Info("loan reserve funded", zap.String("ledger", cfg.LedgerAddress.Hex()), zap.String("units", models.FormatUnits(reserve)))
	}

	ledgerService := ledger.NewLedger(store, collateral, loan, cfg.LedgerAddress,
		ledger.WithPublisher(publisher),
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithMetrics(metrics.Ledger()),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(ledgerService, collateral, loan, logger.Named("http")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr), zap.String("event_sink", cfg.EventSink))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initializeLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapConfig.Build()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (interfaces.PositionStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory position store")
		return memstore.NewMemoryLedgerStore(), func() {}, nil
	}
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using postgres position store")
	return store, func() { store.Close() }, nil
}

func openPublisher(cfg config.Config, logger *zap.Logger) (interfaces.EventPublisher, error) {
	switch cfg.EventSink {
	case config.SinkKafka:
		return kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.SinkNATS:
		return nats.Connect(cfg.NATSURL, cfg.NATSSubject)
	default:
		return memevents.NewRecorder(1024, logger.Named("events")), nil
	}
}

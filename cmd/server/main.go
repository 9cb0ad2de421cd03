package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appservice "github.com/turtacn/certforge/internal/application/service"
	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/internal/infrastructure/audit"
	"github.com/turtacn/certforge/internal/infrastructure/crypto"
	"github.com/turtacn/certforge/internal/infrastructure/kms"
	"github.com/turtacn/certforge/internal/infrastructure/monitoring"
	"github.com/turtacn/certforge/internal/infrastructure/workerpool"
	adminhttp "github.com/turtacn/certforge/internal/interfaces/http"
	"github.com/turtacn/certforge/internal/interfaces/http/handlers"
	"github.com/turtacn/certforge/internal/interfaces/tcp"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "certforge-server",
		Short:        "Issues per-name key and certificate bundles over TCP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a configuration file")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return err
	}

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// Load the issuer signing key once
	keySource, err := newKeySource(cfg, appLogger)
	if err != nil {
		return err
	}
	signer, err := keySource.LoadSigningKey(ctx)
	if err != nil {
		return err
	}
	identity, err := crypto.NewIssuerIdentity(signer, cfg.Issuer)
	if err != nil {
		return err
	}
	issuer, err := crypto.NewKeyManager(crypto.NewCertificateService(identity), cfg.Issuer.KeyBits, appLogger)
	if err != nil {
		return err
	}

	auditSink, err := newAuditSink(cfg, appLogger)
	if err != nil {
		return err
	}
	defer auditSink.Close()

	pool := workerpool.New(cfg.Worker.PoolSize, metrics, appLogger)
	defer pool.Close()

	inbox, err := tcp.NewInbox(metrics, appLogger)
	if err != nil {
		return err
	}
	coalescer := appservice.NewCoalescer(issuer, pool, inbox, auditSink, metrics, cfg.Cache, appLogger)

	reactor, err := tcp.NewReactor(cfg.Server, inbox, coalescer, metrics, appLogger)
	if err != nil {
		_ = inbox.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reactor.Run(gctx) })

	if cfg.Admin.Enabled {
		health := handlers.NewHealthHandler(reactor, coalescer, pool, appLogger)
		router := adminhttp.NewRouter(cfg.Admin, appLogger, health, tracing.Tracer(),
			prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
		g.Go(func() error { return router.Run(gctx) })
	}

	appLogger.Info(ctx, "certforge server started",
		logger.String("address", reactor.Addr().String()),
		logger.Int("workers", pool.Size()),
		logger.Int("key_bits", cfg.Issuer.KeyBits),
	)

	err = g.Wait()
	appLogger.Info(context.Background(), "certforge server stopped")
	return err
}

func newKeySource(cfg *config.Config, log logger.Logger) (service.SigningKeySource, error) {
	switch constants.KeySource(cfg.Issuer.SigningKeySource) {
	case constants.KeySourceVault:
		vaultClient, err := kms.NewVaultClient(cfg.Vault)
		if err != nil {
			return nil, err
		}
		return kms.NewVaultProvider(cfg.Vault, vaultClient, log)
	case constants.KeySourceFile:
		return crypto.NewFileKeySource(cfg.Issuer.SigningKeyPath, log), nil
	default:
		return nil, errors.New(errors.CodeConfig, "unknown signing key source %q", cfg.Issuer.SigningKeySource)
	}
}

func newAuditSink(cfg *config.Config, log logger.Logger) (service.AuditSink, error) {
	if !cfg.Audit.Enabled {
		return audit.NewLogSink(log), nil
	}
	return audit.NewKafkaProducer(cfg.Audit, log)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tournevent/shipbroker/internal/auth"
	"github.com/tournevent/shipbroker/internal/config"
	"github.com/tournevent/shipbroker/internal/export"
	"github.com/tournevent/shipbroker/internal/graphql"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/server"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

var version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shipbroker",
	Short:   "Parcel shipment broker with a prepaid wallet",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, booking workers and tracking reconciler",
	RunE:  runServe,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll partners once for every active shipment",
	RunE:  runReconcile,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write orders as CSV",
	RunE:  runExport,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE:  runToken,
}

func init() {
	exportCmd.Flags().String("user", "", "only orders of this user")
	exportCmd.Flags().String("status", "", "comma-separated statuses")
	exportCmd.Flags().Bool("tracked", false, "only orders with an AWB")
	exportCmd.Flags().StringP("output", "o", "", "file to write (default stdout)")

	tokenCmd.Flags().String("user", "", "user id (required)")
	tokenCmd.Flags().Bool("admin", false, "grant the admin role")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, reconcileCmd, exportCmd, tokenCmd)
}

// bootstrap loads config and telemetry and wires the services.
func bootstrap(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
		tracerShutdown = func(context.Context) error { return nil }
	}

	a, err := newApp(ctx, cfg, logger, tracer)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		a.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := a.cfg
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	a.logger.Info("Starting shipbroker",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Any("attributes", cfg.Attributes()),
	)

	srv := server.New(server.Config{
		Port:          cfg.Port,
		WebhookToken:  cfg.WebhookToken,
		InternalToken: cfg.InternalToken,
	}, server.Deps{
		Registry: a.registry,
		Orders:   a.orchestrator,
		Wallet:   a.ledger,
		Quoter:   a.quoter,
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, 0),
		GraphQL:  graphql.NewResolver(a.registry, a.orchestrator, a.ledger, a.logger, a.metrics),
		Metrics:  a.metrics,
		Logger:   a.logger,
	})

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.dispatcher.Run(ctx, a.orchestrator) })
	g.Go(func() error { return a.reconciler().Run(ctx) })
	if len(cfg.KafkaBrokers) > 0 {
		g.Go(func() error { return a.topUpConsumer().Run(ctx) })
	}
	return g.Wait()
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := a.reconciler().SyncOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked=%d updated=%d unchanged=%d failed=%d\n",
		summary.Checked, summary.Updated, summary.Unchanged, summary.Failed)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	f, err := exportFilter(cmd)
	if err != nil {
		return err
	}

	a, cleanup, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := a.orchestrator.List(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	if err := export.WriteOrders(out, list); err != nil {
		return err
	}
	a.logger.Info("Orders exported", zap.Int("count", len(list)))
	return nil
}

func exportFilter(cmd *cobra.Command) (orders.Filter, error) {
	var f orders.Filter
	f.UserID, _ = cmd.Flags().GetString("user")
	f.HasTracking, _ = cmd.Flags().GetBool("tracked")
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := shipper.ParseStatus(part)
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	return f, nil
}

// runToken only needs JWT_SECRET, so it skips service wiring.
func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	user, _ := cmd.Flags().GetString("user")
	admin, _ := cmd.Flags().GetBool("admin")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	tok, err := auth.NewTokenManager(cfg.JWTSecret, ttl).GenerateToken(user, admin)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

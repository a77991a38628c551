package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/polisai/sentinel/internal/runtime"
	"github.com/polisai/sentinel/internal/server"
	"github.com/polisai/sentinel/pkg/config"
	"github.com/polisai/sentinel/pkg/plant"
	"github.com/polisai/sentinel/pkg/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the governor against the simulated plant with the admin API",
		Args:  cobra.NoArgs,
		RunE:  runGovernor,
	}
	cmd.Flags().Float64("drift", 1.0, "Plant mass drift factor")
	cmd.Flags().Uint64("seed", 1, "Command generator seed")
	return cmd
}

func runGovernor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd)
	slog.SetDefault(logger)

	drift, _ := cmd.Flags().GetFloat64("drift")
	seed, _ := cmd.Flags().GetUint64("seed")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      version,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		IntegrityTag: cfg.Governor.IntegrityTag,
		DOF:          cfg.Governor.DOF,
		AdminAddress: cfg.Server.Address,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to shut down tracing", "error", err)
		}
	}()

	params := plant.DefaultParams(cfg.Governor.DOF)
	params.Drift = drift
	params.Seed = seed

	a, err := buildApp(ctx, cfg, appOptions{plant: params, logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(ctx); err != nil {
			logger.Error("Shutdown incomplete", "error", err)
		}
	}()

	tlsConfig, err := cfg.Server.TLS.Build()
	if err != nil {
		return err
	}
	admin := server.New(a.loop, server.Options{
		Address:        cfg.Server.Address,
		TLS:            tlsConfig,
		ResetRateLimit: cfg.Server.ResetRateLimit,
		ResetBurst:     cfg.Server.ResetBurst,
		Audit:          auditStatus(a),
		Logger:         logger,
	})

	logger.Info("Starting sentinel",
		"version", version,
		"dof", cfg.Governor.DOF,
		"tick_interval", cfg.Runtime.TickInterval,
		"admin_addr", cfg.Server.Address,
		"audit", cfg.Audit.Enabled,
		"policy", cfg.Policy.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop.Run(gctx) })
	g.Go(func() error { return admin.ListenAndServe(gctx) })

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		provider, err := config.NewFileProvider(path, logger)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer provider.Close()
		g.Go(func() error {
			watchConfig(gctx, provider, a.loop, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Sentinel stopped with error", "error", err)
		return err
	}
	logger.Info("Sentinel stopped", "mode", a.gov.Mode(), "ticks", a.loop.Stats().Ticks)
	return nil
}

// auditStatus avoids handing the server a typed-nil dispatcher.
func auditStatus(a *app) server.AuditStatus {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher
}

// watchConfig stages every reloaded governor table that differs from the
// live one for the next reset.
func watchConfig(ctx context.Context, provider *config.FileProvider, loop *runtime.Loop, logger *slog.Logger) {
	updates := provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			next := cfg.Governor.ToGovernance()
			if next == loop.Governor().Config() {
				continue
			}
			if err := loop.StageConfig(next); err != nil {
				logger.Error("Rejected reloaded governor config", "error", err)
				continue
			}
			logger.Info("Configuration update received; governor config staged until next reset")
		}
	}
}

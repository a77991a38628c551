package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/polisai/sentinel/internal/governance"
	"github.com/polisai/sentinel/internal/runtime"
	"github.com/polisai/sentinel/pkg/audit"
	"github.com/polisai/sentinel/pkg/config"
	"github.com/polisai/sentinel/pkg/logging"
	"github.com/polisai/sentinel/pkg/plant"
	"github.com/polisai/sentinel/pkg/policy"
	"github.com/polisai/sentinel/pkg/telemetry"
)

// app is a fully wired governor with its collaborators.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	gov        *governance.Governor
	sim        *plant.Simulator
	loop       *runtime.Loop
	dispatcher *audit.Dispatcher
	engine     *policy.Engine
}

// appOptions carries values that override the loaded configuration.
type appOptions struct {
	plant  plant.Params
	sink   audit.Sink
	logger *slog.Logger
}

// loadConfig reads the --config file (or defaults), applies SENTINEL_*
// overrides and then --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, cmd *cobra.Command) *slog.Logger {
	return logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
}

// buildApp wires governor, audit, policy and runtime loop from cfg.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	gov, err := governance.New(cfg.Governor.ToGovernance())
	if err != nil {
		return nil, fmt.Errorf("build governor: %w", err)
	}

	sim, err := plant.New(opts.plant)
	if err != nil {
		return nil, fmt.Errorf("build plant: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, gov: gov, sim: sim}

	var auditor runtime.Auditor
	if cfg.Audit.Enabled || opts.sink != nil {
		a.dispatcher, err = openDispatcher(cfg, opts.sink, logger)
		if err != nil {
			return nil, err
		}
		auditor = a.dispatcher
	}

	authorizer := policy.Authorizer(policy.AllowAll{})
	if cfg.Policy.Enabled {
		a.engine, err = newPolicyEngine(ctx, cfg.Policy, logger)
		if err != nil {
			_ = a.close(ctx)
			return nil, err
		}
		authorizer = a.engine
	}

	a.loop, err = runtime.New(gov, sim, sim, auditor, runtime.Options{
		Logger:         logger,
		TickInterval:   cfg.Runtime.TickInterval,
		HistorySize:    cfg.Runtime.HistorySize,
		FailureHistory: cfg.Runtime.FailureHistory,
		DedupWindow:    cfg.Runtime.FailureDedupWindow,
		Authorizer:     authorizer,
		TorqueLimit:    cfg.Runtime.TorqueLimit,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

// openDispatcher starts the audit writer on sink, or on the configured
// badger ledger when sink is nil. The ledger's chain is resumed.
func openDispatcher(cfg *config.Config, sink audit.Sink, logger *slog.Logger) (*audit.Dispatcher, error) {
	chain := audit.NewChain()
	if sink == nil {
		ledger, err := audit.OpenLedger(audit.LedgerConfig{
			Path:       cfg.Audit.Path,
			InMemory:   cfg.Audit.InMemory,
			SyncWrites: cfg.Audit.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open audit ledger: %w", err)
		}
		chain, err = ledger.Chain()
		if err != nil {
			_ = ledger.Close()
			return nil, fmt.Errorf("resume audit chain: %w", err)
		}
		sink = ledger
	}

	return audit.NewDispatcher(chain, sink, audit.DispatcherConfig{
		QueueSize: cfg.Audit.QueueSize,
		Logger:    logger,
		OnStall: func() {
			telemetry.RecordAuditStall(context.Background())
		},
		OnWriteError: func(uint64, error) {
			telemetry.RecordAuditWriteFailure(context.Background())
		},
	}), nil
}

func newPolicyEngine(ctx context.Context, cfg config.PolicyConfig, logger *slog.Logger) (*policy.Engine, error) {
	posture, err := policy.ParsePosture(cfg.Posture)
	if err != nil {
		return nil, err
	}

	var modules map[string]string
	if len(cfg.Modules) > 0 {
		modules = make(map[string]string, len(cfg.Modules))
		for _, path := range cfg.Modules {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read policy module: %w", err)
			}
			modules[filepath.Base(path)] = string(data)
		}
	}

	return policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: cfg.Entrypoint,
		Modules:    modules,
		Posture:    posture,
		Logger:     logger,
	})
}

// close drains the audit trail and releases the policy engine. The drain is
// bounded by the configured timeout, not by ctx's cancellation.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Audit.DrainTimeout)
		defer cancel()
		if err := a.dispatcher.Close(drainCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Copyright 2025 Flant JSC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/primus-labs/gpu-scheduler/internal/config"
	"github.com/primus-labs/gpu-scheduler/internal/metrics"
	"github.com/primus-labs/gpu-scheduler/internal/server"
	"github.com/primus-labs/gpu-scheduler/pkg/daemon"
	"github.com/primus-labs/gpu-scheduler/pkg/directory"
	"github.com/primus-labs/gpu-scheduler/pkg/gpuinventory"
	"github.com/primus-labs/gpu-scheduler/pkg/job"
	"github.com/primus-labs/gpu-scheduler/pkg/ledger"
	"github.com/primus-labs/gpu-scheduler/pkg/priority"
	"github.com/primus-labs/gpu-scheduler/pkg/scheduler"
)

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %s", level)
	}
}

// buildScheduler wires every core component together from cfg,
// following the teacher's pattern of assembling concrete
// implementations behind their package interfaces in one place.
func buildScheduler(cfg config.Config, log *slog.Logger) (*scheduler.Scheduler, error) {
	layout := directory.New(cfg.RootDir)
	if err := layout.Setup(); err != nil {
		return nil, fmt.Errorf("set up directory layout: %w", err)
	}

	store := job.NewMemoryStore()
	inv := gpuinventory.NewClient()

	led := newLedger(cfg, log)
	eng := buildPriorityEngine(cfg, led)

	schedCfg := scheduler.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		PollInterval:  cfg.PollInterval(),
	}
	return scheduler.New(schedCfg, layout, store, inv, led, eng, log), nil
}

// newLedger builds the usage ledger shared by both scheduler variants:
// in-memory by default, durable JSON-backed when cfg.LedgerPath is set.
func newLedger(cfg config.Config, log *slog.Logger) ledger.Ledger {
	if cfg.LedgerPath != "" {
		return ledger.NewFile(cfg.LedgerPath, log)
	}
	return ledger.NewMemory()
}

// buildPriorityEngine applies any non-zero overrides from cfg onto
// priority.DefaultConfig, the same pattern for both the directory-based
// scheduler and the mock-SLURM daemon variant.
func buildPriorityEngine(cfg config.Config, led ledger.Ledger) *priority.Engine {
	pcfg := priority.DefaultConfig()
	if cfg.WeightAge > 0 {
		pcfg.WeightAge = cfg.WeightAge
	}
	if cfg.WeightFairShare > 0 {
		pcfg.WeightFairShare = cfg.WeightFairShare
	}
	if cfg.WeightSize > 0 {
		pcfg.WeightSize = cfg.WeightSize
	}
	if cfg.WeightPartition > 0 {
		pcfg.WeightPartition = cfg.WeightPartition
	}
	if cfg.WeightQoS > 0 {
		pcfg.WeightQoS = cfg.WeightQoS
	}
	if cfg.WeightPhysics > 0 {
		pcfg.WeightPhysics = cfg.WeightPhysics
	}
	if cfg.MaxAgeSec > 0 {
		pcfg.MaxAgeSec = cfg.MaxAgeSec
	}
	if cfg.FairShareDecayNorm > 0 {
		pcfg.FairShareDecayNorm = cfg.FairShareDecayNorm
	}
	if cfg.MaxVRAMRef > 0 {
		pcfg.MaxVRAMRef = cfg.MaxVRAMRef
	}
	if len(cfg.Partitions) > 0 {
		pcfg.Partitions = cfg.Partitions
	}
	if len(cfg.QoSLevels) > 0 {
		pcfg.QoSLevels = cfg.QoSLevels
	}
	pcfg.PhysicsKeywords = cfg.PhysicsKeywords

	return priority.New(pcfg, led)
}

// buildDaemon wires the mock-SLURM daemon variant: the same priority
// engine and ledger as buildScheduler, but the JSON-document job store
// under cfg.JobsDir instead of the directory-rename state machine.
func buildDaemon(cfg config.Config, log *slog.Logger) *daemon.Daemon {
	led := newLedger(cfg, log)
	eng := buildPriorityEngine(cfg, led)
	dcfg := daemon.Config{
		JobsDir:       cfg.JobsDir,
		MaxConcurrent: cfg.MaxConcurrent,
		PollInterval:  cfg.PollInterval(),
		RunQuantum:    cfg.RunQuantum(),
	}
	return daemon.New(dcfg, led, eng, log)
}

// loadConfig resolves configuration for the one-shot CLI subcommands
// (submit/list/get/tail), which talk directly to the directory tree
// rather than to a running server (spec §6 has no RPC surface).
func loadConfig(configPath string) (config.Config, error) {
	loader := config.Loader(config.ReadEnv)
	if configPath != "" {
		loader = config.ReadFileThenEnv(configPath)
	}
	return config.Load(loader)
}

// runServe runs the admission loop and the HTTP server side by side,
// stopping both when ctx is cancelled. Neither kills running children
// (spec §5 cancellation policy).
func runServe(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	sched, err := buildScheduler(cfg, log)
	if err != nil {
		return err
	}

	var ready atomic.Bool
	m := metrics.New()
	sched.SetMetrics(m)
	srv := server.New(server.Config{
		ListenAddr:      cfg.ListenAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, m, ready.Load, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ready.Store(true)
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}

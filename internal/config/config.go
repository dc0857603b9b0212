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

// Package config loads the scheduler's environment/YAML configuration
// via cleanenv, following the same env-tag-plus-defaults pattern the
// gfd-extender binary uses.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	defaultListenAddr      = "0.0.0.0:9595"
	defaultLogLevel        = "info"
	defaultShutdownTimeout = 5 * time.Second
	defaultRootDir         = "./gpu-scheduler-data"
	defaultMaxConcurrent   = 2
	defaultPollIntervalSec = 1.0
	defaultJobsDir         = "./gpu-scheduler-data/jobs"
	defaultRunQuantumSec   = 30.0
)

// Config is the full set of options recognized by the scheduler (spec
// §6 configuration table), loadable from environment variables or a
// YAML file via cleanenv tags.
type Config struct {
	RootDir       string  `yaml:"root_dir" env:"GPU_SCHEDULER_ROOT_DIR"`
	MaxConcurrent int     `yaml:"max_concurrent" env:"GPU_SCHEDULER_MAX_CONCURRENT" env-default:"2"`
	PollIntervalS float64 `yaml:"poll_interval_sec" env:"GPU_SCHEDULER_POLL_INTERVAL_SEC" env-default:"1"`

	WeightAge       float64 `yaml:"weight_age" env:"GPU_SCHEDULER_WEIGHT_AGE"`
	WeightFairShare float64 `yaml:"weight_fair" env:"GPU_SCHEDULER_WEIGHT_FAIR"`
	WeightSize      float64 `yaml:"weight_size" env:"GPU_SCHEDULER_WEIGHT_SIZE"`
	WeightPartition float64 `yaml:"weight_part" env:"GPU_SCHEDULER_WEIGHT_PART"`
	WeightQoS       float64 `yaml:"weight_qos" env:"GPU_SCHEDULER_WEIGHT_QOS"`
	WeightPhysics   float64 `yaml:"weight_physics" env:"GPU_SCHEDULER_WEIGHT_PHYSICS"`

	MaxAgeSec          float64 `yaml:"max_age_sec" env:"GPU_SCHEDULER_MAX_AGE_SEC"`
	FairShareDecayNorm float64 `yaml:"fairshare_decay_norm" env:"GPU_SCHEDULER_FAIRSHARE_DECAY_NORM"`
	MaxVRAMRef         float64 `yaml:"max_vram_ref" env:"GPU_SCHEDULER_MAX_VRAM_REF"`

	Partitions      map[string]float64 `yaml:"partitions"`
	QoSLevels       map[string]float64 `yaml:"qos_levels"`
	PhysicsKeywords []string           `yaml:"physics_keywords"`

	LedgerPath string `yaml:"ledger_path" env:"GPU_SCHEDULER_LEDGER_PATH"`

	// JobsDir and RunQuantumSec are only consulted by the mock-SLURM
	// daemon variant (pkg/daemon), which tracks jobs as JSON documents
	// under JobsDir rather than the directory-rename state machine.
	JobsDir       string  `yaml:"jobs_dir" env:"GPU_SCHEDULER_JOBS_DIR"`
	RunQuantumSec float64 `yaml:"run_quantum_sec" env:"GPU_SCHEDULER_RUN_QUANTUM_SEC"`

	ListenAddr      string        `yaml:"listen_addr" env:"GPU_SCHEDULER_ADDR"`
	LogLevel        string        `yaml:"log_level" env:"GPU_SCHEDULER_LOG_LEVEL" env-default:"info"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"GPU_SCHEDULER_SHUTDOWN_TIMEOUT"`
}

// Loader abstracts cleanenv's read functions for testability, the
// same configLoader indirection the gfd-extender binary uses.
type Loader func(target interface{}) error

// ReadEnv reads configuration purely from the environment.
func ReadEnv(target interface{}) error {
	return cleanenv.ReadEnv(target)
}

// ReadFileThenEnv reads path as YAML and lets environment variables
// override it, matching cleanenv's documented precedence.
func ReadFileThenEnv(path string) Loader {
	return func(target interface{}) error {
		return cleanenv.ReadConfig(path, target)
	}
}

// Load builds a Config with package defaults, then applies loader (nil
// skips external loading entirely, useful for tests), then fills any
// remaining zero-valued numeric fields with their defaults.
func Load(loader Loader) (Config, error) {
	cfg := Config{
		RootDir:         defaultRootDir,
		MaxConcurrent:   defaultMaxConcurrent,
		PollIntervalS:   defaultPollIntervalSec,
		ListenAddr:      defaultListenAddr,
		LogLevel:        defaultLogLevel,
		ShutdownTimeout: defaultShutdownTimeout,
		JobsDir:         defaultJobsDir,
		RunQuantumSec:   defaultRunQuantumSec,
	}
	if loader == nil {
		loader = func(interface{}) error { return nil }
	}
	if err := loader(&cfg); err != nil {
		return Config{}, fmt.Errorf("read configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RootDir == "" {
		return errors.New("root_dir must be set")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.PollIntervalS <= 0 {
		c.PollIntervalS = defaultPollIntervalSec
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.JobsDir == "" {
		c.JobsDir = defaultJobsDir
	}
	if c.RunQuantumSec <= 0 {
		c.RunQuantumSec = defaultRunQuantumSec
	}
	return nil
}

// PollInterval returns PollIntervalS as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS * float64(time.Second))
}

// RunQuantum returns RunQuantumSec as a time.Duration.
func (c Config) RunQuantum() time.Duration {
	return time.Duration(c.RunQuantumSec * float64(time.Second))
}

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
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/primus-labs/gpu-scheduler/internal/config"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admission loop and HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.ReadEnv
		if serveConfigPath != "" {
			loader = config.ReadFileThenEnv(serveConfigPath)
		}
		cfg, err := config.Load(loader)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		log.Info("starting gpu-scheduler",
			"root_dir", cfg.RootDir,
			"max_concurrent", cfg.MaxConcurrent,
			"listen_addr", cfg.ListenAddr,
		)
		if err := runServe(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a YAML configuration file")
}

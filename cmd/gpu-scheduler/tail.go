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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var tailConfigPath string

var tailCmd = &cobra.Command{
	Use:   "tail JOB_ID",
	Short: "Follow a job's output log until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(tailConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		sched, err := buildScheduler(cfg, log)
		if err != nil {
			return err
		}
		if err := sched.LoadFromDisk(); err != nil {
			return fmt.Errorf("reconcile job store from directory tree: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return sched.TailLog(ctx, args[0], os.Stdout)
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailConfigPath, "config", "", "path to a YAML configuration file")
}

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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitConfigPath string
	submitUser       string
	submitVRAMBytes  int64
	submitPartition  string
	submitQoS        string
)

var submitCmd = &cobra.Command{
	Use:   "submit SCRIPT",
	Short: "Submit a script to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(submitConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		scriptBytes, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}

		sched, err := buildScheduler(cfg, log)
		if err != nil {
			return err
		}

		id, err := sched.Submit(scriptBytes, submitUser, submitVRAMBytes, submitPartition, submitQoS)
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			fmt.Printf("{\"job_id\":%q}\n", id)
			return nil
		}
		fmt.Printf("Submitted job %s\n", id)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitConfigPath, "config", "", "path to a YAML configuration file")
	submitCmd.Flags().StringVar(&submitUser, "user", "", "submitting user (required)")
	submitCmd.Flags().Int64Var(&submitVRAMBytes, "vram-bytes", 0, "VRAM required, in bytes")
	submitCmd.Flags().StringVar(&submitPartition, "partition", "", "partition name (default: normal)")
	submitCmd.Flags().StringVar(&submitQoS, "qos", "", "QoS level (default: standard)")
	_ = submitCmd.MarkFlagRequired("user")
}

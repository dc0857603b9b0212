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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// daemonCmd groups the mock-SLURM variant: jobs are JSON documents on
// disk, admitted by wall-clock quantum rather than a supervised child
// process (spec §6 daemon variant, grounded on job_manager.py).
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Interact with the JSON-file mock-SLURM scheduler variant",
}

var (
	daemonConfigPath string

	daemonSubmitJobName   string
	daemonSubmitUser      string
	daemonSubmitScript    string
	daemonSubmitGPUCount  int
	daemonSubmitVRAMGiB   float64
	daemonSubmitPartition string
	daemonSubmitQoS       string
)

var daemonSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Write a new pending job document",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(daemonConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		d := buildDaemon(cfg, log)
		id, err := d.Submit(daemonSubmitJobName, daemonSubmitUser, daemonSubmitScript,
			daemonSubmitGPUCount, daemonSubmitVRAMGiB, daemonSubmitPartition, daemonSubmitQoS)
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

var daemonTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one admission/completion pass over the jobs directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(daemonConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		d := buildDaemon(cfg, log)
		return d.Tick()
	},
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Tick the daemon in a loop at the configured poll interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(daemonConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		d := buildDaemon(cfg, log)
		ticker := time.NewTicker(cfg.PollInterval())
		defer ticker.Stop()
		for range ticker.C {
			if err := d.Tick(); err != nil {
				log.Error("tick failed", "error", err)
			}
		}
		return nil
	},
}

var daemonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job documents under the jobs directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(daemonConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		d := buildDaemon(cfg, log)
		jobs, err := d.LoadAll()
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}

		fmt.Printf("%-36s %-10s %-10s %-10s %-8s\n", "JOB ID", "STATUS", "USER", "PARTITION", "QOS")
		fmt.Println(strings.Repeat("-", 80))
		for _, j := range jobs {
			fmt.Printf("%-36s %-10s %-10s %-10s %-8s\n", j.JobID, j.Status, j.User, j.Partition, j.QoS)
		}
		fmt.Printf("\nTotal: %d jobs\n", len(jobs))
		return nil
	},
}

func init() {
	daemonCmd.PersistentFlags().StringVar(&daemonConfigPath, "config", "", "path to a YAML configuration file")

	daemonSubmitCmd.Flags().StringVar(&daemonSubmitJobName, "name", "", "job name")
	daemonSubmitCmd.Flags().StringVar(&daemonSubmitUser, "user", "", "submitting user (required)")
	daemonSubmitCmd.Flags().StringVar(&daemonSubmitScript, "script", "", "script body or path recorded on the job document")
	daemonSubmitCmd.Flags().IntVar(&daemonSubmitGPUCount, "gpu-count", 0, "GPUs requested (default: 1)")
	daemonSubmitCmd.Flags().Float64Var(&daemonSubmitVRAMGiB, "vram-gib", 0, "VRAM required, in GiB")
	daemonSubmitCmd.Flags().StringVar(&daemonSubmitPartition, "partition", "", "partition name (default: normal)")
	daemonSubmitCmd.Flags().StringVar(&daemonSubmitQoS, "qos", "", "QoS level (default: standard)")
	_ = daemonSubmitCmd.MarkFlagRequired("user")

	daemonCmd.AddCommand(daemonSubmitCmd)
	daemonCmd.AddCommand(daemonTickCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonListCmd)
}

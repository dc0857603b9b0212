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

	"github.com/spf13/cobra"
)

var listConfigPath string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, running first, then by priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(listConfigPath)
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

		jobs := sched.ListJobsSorted()

		if outputFmt == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}

		fmt.Printf("%-36s %-10s %-10s %-10s %-8s %-8s\n", "JOB ID", "STATUS", "USER", "PARTITION", "QOS", "SCORE")
		fmt.Println(strings.Repeat("-", 90))
		for _, j := range jobs {
			fmt.Printf("%-36s %-10s %-10s %-10s %-8s %-8.3f\n",
				j.ID, j.Status, j.UserID, j.Partition, j.QoS, j.PriorityScore)
		}
		fmt.Printf("\nTotal: %d jobs\n", len(jobs))
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listConfigPath, "config", "", "path to a YAML configuration file")
}

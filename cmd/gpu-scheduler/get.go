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

	"github.com/spf13/cobra"
)

var getConfigPath string

var getCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Show a single job's details and priority breakdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(getConfigPath)
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

		j, ok := sched.GetJob(args[0])
		if !ok {
			return fmt.Errorf("job %s not found", args[0])
		}

		if outputFmt == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		}

		fmt.Printf("Job ID:      %s\n", j.ID)
		fmt.Printf("Status:      %s\n", j.Status)
		fmt.Printf("User:        %s\n", j.UserID)
		fmt.Printf("Partition:   %s\n", j.Partition)
		fmt.Printf("QoS:         %s\n", j.QoS)
		fmt.Printf("VRAM bytes:  %d\n", j.VRAMRequired)
		fmt.Printf("Created at:  %s\n", j.CreatedAt)
		if j.AssignedGPU != nil {
			fmt.Printf("GPU:         %d\n", *j.AssignedGPU)
		}
		fmt.Printf("Score:       %.4f\n", j.PriorityScore)
		fmt.Printf("  age=%.3f fairShare=%.3f size=%.3f partition=%.3f qos=%.3f physics=%.3f rawUsage=%.3f\n",
			j.PriorityDebug.Age, j.PriorityDebug.FairShare, j.PriorityDebug.Size,
			j.PriorityDebug.Partition, j.PriorityDebug.QoS, j.PriorityDebug.Physics, j.PriorityDebug.RawUsage)
		return nil
	},
}

func init() {
	getCmd.Flags().StringVar(&getConfigPath, "config", "", "path to a YAML configuration file")
}

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

package scheduler

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/primus-labs/gpu-scheduler/pkg/directory"
	"github.com/primus-labs/gpu-scheduler/pkg/job"
)

// dirStatus maps a state directory onto the Job status it implies.
var dirStatus = map[directory.Status]job.Status{
	directory.ToRun:    job.StatusPending,
	directory.Running:  job.StatusRunning,
	directory.Complete: job.StatusCompleted,
	directory.Fail:     job.StatusFailed,
}

// LoadFromDisk rebuilds minimal job records for any script found on
// disk that the in-memory store does not already know about. This is
// what makes state recoverable from the directory tree alone after a
// process restart that lost the in-memory job store (spec §6
// filesystem contract): the script's containing directory determines
// its status, and its filename stem (enforced at submit time to be
// the job id) recovers its identity. User, VRAM, partition and QoS
// cannot be recovered this way for the core variant and are left
// zero-valued; only the daemon variant's JSON job documents carry
// enough metadata to fully reconstruct a job.
func (s *Scheduler) LoadFromDisk() error {
	for dirStat, jobStatus := range dirStatus {
		dir := s.layout.GetDir(dirStat)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
			if _, ok := s.store.Get(id); ok {
				continue
			}
			info, err := entry.Info()
			created := time.Now().UTC()
			if err == nil {
				created = info.ModTime().UTC()
			}
			s.store.Add(&job.Job{
				ID:         id,
				ScriptPath: filepath.Join(dir, entry.Name()),
				Status:     jobStatus,
				CreatedAt:  created,
			})
			s.log.Info("recovered job from directory tree",
				slog.String("job_id", id), slog.String("status", string(jobStatus)))
		}
	}
	return nil
}

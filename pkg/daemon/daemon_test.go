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

package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/primus-labs/gpu-scheduler/pkg/ledger"
	"github.com/primus-labs/gpu-scheduler/pkg/priority"
)

func newTestDaemon(t *testing.T, maxConcurrent int, quantum time.Duration) *Daemon {
	t.Helper()
	led := ledger.NewMemory()
	eng := priority.New(priority.DefaultConfig(), led)
	cfg := Config{JobsDir: t.TempDir(), MaxConcurrent: maxConcurrent, RunQuantum: quantum}
	return New(cfg, led, eng, nil)
}

func TestSubmitWritesJSONDocumentWithDefaults(t *testing.T) {
	d := newTestDaemon(t, 2, time.Minute)
	id, err := d.Submit("train", "alice", "print(1)", 0, 8, "", "")
	require.NoError(t, err)

	raw, err := os.ReadFile(d.jobPath(id))
	require.NoError(t, err)

	var j Job
	require.NoError(t, json.Unmarshal(raw, &j))
	require.Equal(t, StatusPending, j.Status)
	require.Equal(t, 1, j.GPUCount)
	require.Equal(t, "normal", j.Partition)
	require.Equal(t, "standard", j.QoS)
	require.NotEmpty(t, j.SubmittedAt)
}

func TestTickAdmitsHighestPriorityFirst(t *testing.T) {
	d := newTestDaemon(t, 1, time.Hour)
	low, err := d.Submit("plain", "alice", "x", 1, 1, "batch", "low")
	require.NoError(t, err)
	high, err := d.Submit("isaac-sim", "bob", "x", 1, 1, "debug", "hil")
	require.NoError(t, err)

	require.NoError(t, d.Tick())

	jobs, err := d.LoadAll()
	require.NoError(t, err)
	byID := map[string]Job{}
	for _, j := range jobs {
		byID[j.JobID] = j
	}
	require.Equal(t, StatusRunning, byID[high].Status)
	require.Equal(t, StatusPending, byID[low].Status)
}

func TestTickAdmitsPhysicsKeywordMatchFirst(t *testing.T) {
	led := ledger.NewMemory()
	cfg := priority.DefaultConfig()
	cfg.PhysicsKeywords = priority.DefaultPhysicsKeywords()
	eng := priority.New(cfg, led)
	d := New(Config{JobsDir: t.TempDir(), MaxConcurrent: 1, RunQuantum: time.Hour}, led, eng, nil)

	// Same user, partition, QoS and submission order: physics keyword
	// match in the job name is the only factor that can break the tie.
	plain, err := d.Submit("plain", "alice", "x", 1, 1, "normal", "standard")
	require.NoError(t, err)
	physics, err := d.Submit("isaac-sim-run", "alice", "x", 1, 1, "normal", "standard")
	require.NoError(t, err)

	require.NoError(t, d.Tick())

	jobs, err := d.LoadAll()
	require.NoError(t, err)
	byID := map[string]Job{}
	for _, j := range jobs {
		byID[j.JobID] = j
	}
	require.Equal(t, StatusRunning, byID[physics].Status,
		"physics keyword match must outrank an otherwise-identical plain job")
	require.Equal(t, StatusPending, byID[plain].Status)
}

func TestTickRespectsMaxConcurrent(t *testing.T) {
	d := newTestDaemon(t, 1, time.Hour)
	_, err := d.Submit("a", "alice", "x", 1, 1, "normal", "standard")
	require.NoError(t, err)
	_, err = d.Submit("b", "bob", "x", 1, 1, "normal", "standard")
	require.NoError(t, err)

	require.NoError(t, d.Tick())

	jobs, err := d.LoadAll()
	require.NoError(t, err)
	running := 0
	for _, j := range jobs {
		if j.Status == StatusRunning {
			running++
		}
	}
	require.Equal(t, 1, running)
}

func TestTickCompletesJobAfterQuantumElapsed(t *testing.T) {
	d := newTestDaemon(t, 1, 10*time.Millisecond)
	id, err := d.Submit("a", "alice", "x", 1, 1, "normal", "standard")
	require.NoError(t, err)

	require.NoError(t, d.Tick()) // admits

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Tick()) // should complete

	jobs, err := d.LoadAll()
	require.NoError(t, err)
	var got Job
	for _, j := range jobs {
		if j.JobID == id {
			got = j
		}
	}
	require.Equal(t, StatusCompleted, got.Status)
	require.NotEmpty(t, got.CompletedAt)
	require.Greater(t, d.led.GetUsage("alice"), 0.0)
}

func TestLoadAllSkipsCorruptFile(t *testing.T) {
	d := newTestDaemon(t, 1, time.Hour)
	require.NoError(t, os.MkdirAll(d.cfg.JobsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d.cfg.JobsDir, "bad.json"), []byte("{not json"), 0o644))

	_, err := d.Submit("ok", "alice", "x", 1, 1, "normal", "standard")
	require.NoError(t, err)

	jobs, err := d.LoadAll()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

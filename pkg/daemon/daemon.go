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

// Package daemon implements the mock-SLURM variant: a priority-based,
// non-preemptive job lifecycle driven entirely by JSON documents on
// disk and by wall-clock elapsed runtime, for environments without
// real GPUs. It shares the admission decision (score, sort, cap) with
// pkg/scheduler; only the RUNNING->terminal trigger differs.
package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/primus-labs/gpu-scheduler/pkg/ledger"
	"github.com/primus-labs/gpu-scheduler/pkg/priority"
)

// timeLayout is the ISO-8601 UTC format with a trailing Z used by every
// timestamp in a job document (spec §6 persisted state format).
const timeLayout = "2006-01-02T15:04:05Z"

// Status mirrors job.Status as a plain string for JSON round-tripping
// without importing pkg/job (the daemon variant has no script file of
// its own to persist, only the JSON document).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Job is the one-JSON-document-per-job record described in spec §6.
type Job struct {
	JobID         string  `json:"job_id"`
	JobName       string  `json:"job_name"`
	User          string  `json:"user"`
	Script        string  `json:"script"`
	Status        Status  `json:"status"`
	QoS           string  `json:"qos"`
	Partition     string  `json:"partition"`
	GPUCount      int     `json:"gpu_count"`
	VRAMGiB       float64 `json:"vram_gb"`
	SubmittedAt   string  `json:"submitted_at"`
	StartedAt     string  `json:"started_at,omitempty"`
	CompletedAt   string  `json:"completed_at,omitempty"`
	PriorityScore float64 `json:"priority_score"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return time.Parse(timeLayout, s)
}

// Config controls the daemon admission loop.
type Config struct {
	JobsDir       string
	MaxConcurrent int
	PollInterval  time.Duration
	// RunQuantum is how long a RUNNING job simulates execution before
	// transitioning to COMPLETED (spec §4.E daemon variant).
	RunQuantum time.Duration
}

const (
	DefaultMaxConcurrent = 2
	DefaultPollInterval  = 2 * time.Second
	DefaultRunQuantum    = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RunQuantum <= 0 {
		c.RunQuantum = DefaultRunQuantum
	}
	return c
}

// Daemon drives the JSON-file job lifecycle.
type Daemon struct {
	cfg Config
	led ledger.Ledger
	eng *priority.Engine
	log *slog.Logger
}

// New constructs a Daemon bound to cfg, a usage ledger and a priority
// engine shared with the rest of the system.
func New(cfg Config, led ledger.Ledger, eng *priority.Engine, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{cfg: cfg.withDefaults(), led: led, eng: eng, log: log}
}

// Submit writes a new PENDING job document under JobsDir and returns
// its id.
func (d *Daemon) Submit(jobName, user, script string, gpuCount int, vramGiB float64, partition, qos string) (string, error) {
	if user == "" {
		return "", fmt.Errorf("missing user id")
	}
	if gpuCount <= 0 {
		gpuCount = 1
	}
	if partition == "" {
		partition = "normal"
	}
	if qos == "" {
		qos = "standard"
	}

	id := uuid.NewString()
	j := Job{
		JobID:       id,
		JobName:     jobName,
		User:        user,
		Script:      script,
		Status:      StatusPending,
		QoS:         qos,
		Partition:   partition,
		GPUCount:    gpuCount,
		VRAMGiB:     vramGiB,
		SubmittedAt: formatTime(time.Now()),
	}
	if err := os.MkdirAll(d.cfg.JobsDir, 0o755); err != nil {
		return "", err
	}
	return id, d.save(j)
}

func (d *Daemon) jobPath(id string) string {
	return filepath.Join(d.cfg.JobsDir, id+".json")
}

func (d *Daemon) save(j Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(d.jobPath(j.JobID))
	if err != nil {
		return err
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// LoadAll reads every job document in JobsDir. Unreadable or corrupt
// files are logged and skipped rather than failing the whole load,
// mirroring the job manager's tolerance for a bad entry (original
// source job_manager.py's load_all_jobs).
func (d *Daemon) LoadAll() ([]Job, error) {
	entries, err := os.ReadDir(d.cfg.JobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var jobs []Job
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(d.cfg.JobsDir, e.Name()))
		if err != nil {
			d.log.Warn("unreadable job file, skipping", slog.String("file", e.Name()), slog.String("error", err.Error()))
			continue
		}
		var j Job
		if err := json.Unmarshal(raw, &j); err != nil {
			d.log.Warn("corrupt job file, skipping", slog.String("file", e.Name()), slog.String("error", err.Error()))
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Tick runs one admission pass: first resolve elapsed RUNNING jobs to
// COMPLETED, then admit PENDING jobs into any freed slots in priority
// order. Mirrors process_jobs() in the source job manager.
func (d *Daemon) Tick() error {
	jobs, err := d.LoadAll()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	running := 0
	for i := range jobs {
		j := &jobs[i]
		if j.Status != StatusRunning {
			continue
		}
		started, err := parseTime(j.StartedAt)
		if err != nil {
			running++
			continue
		}
		if now.Sub(started) >= d.cfg.RunQuantum {
			j.Status = StatusCompleted
			j.CompletedAt = formatTime(now)
			d.led.AddUsage(j.User, now.Sub(started).Seconds(), j.GPUCount)
			if err := d.save(*j); err != nil {
				d.log.Error("failed to persist completed job", slog.String("job_id", j.JobID), slog.String("error", err.Error()))
			}
			d.log.Info("daemon job completed", slog.String("job_id", j.JobID))
			continue
		}
		running++
	}

	slots := d.cfg.MaxConcurrent - running
	if slots <= 0 {
		return nil
	}

	var pending []*Job
	for i := range jobs {
		if jobs[i].Status == StatusPending {
			pending = append(pending, &jobs[i])
		}
	}
	if len(pending) == 0 {
		return nil
	}

	for _, j := range pending {
		j.PriorityScore = d.score(*j, jobs, now)
	}
	sortPendingDesc(pending)

	for _, j := range pending {
		if slots <= 0 {
			break
		}
		j.Status = StatusRunning
		j.StartedAt = formatTime(now)
		if err := d.save(*j); err != nil {
			d.log.Error("failed to persist admitted job", slog.String("job_id", j.JobID), slog.String("error", err.Error()))
			continue
		}
		d.log.Info("daemon job admitted", slog.String("job_id", j.JobID), slog.Float64("priority_score", j.PriorityScore))
		slots--
	}
	return nil
}

// score adapts the shared priority.Engine to the daemon's JSON Job
// shape, blending in the daemon-only physics keyword match as just
// another weighted factor.
func (d *Daemon) score(j Job, _ []Job, now time.Time) float64 {
	submitted, err := parseTime(j.SubmittedAt)
	if err != nil {
		submitted = now
	}
	ageSec := now.Sub(submitted).Seconds()
	if ageSec < 0 {
		ageSec = 0
	}

	score, _ := d.eng.ScoreRaw(priority.Inputs{
		AgeSeconds:   ageSec,
		User:         j.User,
		VRAMBytes:    int64(j.VRAMGiB * 1024 * 1024 * 1024),
		Partition:    j.Partition,
		QoS:          j.QoS,
		PhysicsMatch: d.eng.PhysicsMatchKeyword(j.JobName, j.Script),
	})
	return score
}

func sortPendingDesc(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for k := i; k > 0 && less(jobs[k-1], jobs[k]); k-- {
			jobs[k-1], jobs[k] = jobs[k], jobs[k-1]
		}
	}
}

// less reports whether a should sort after b (i.e. b has priority)
// under the spec's ordering rule: score desc, then older submit time
// first, then lexicographic job id.
func less(a, b *Job) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore < b.PriorityScore
	}
	ta, errA := parseTime(a.SubmittedAt)
	tb, errB := parseTime(b.SubmittedAt)
	if errA == nil && errB == nil && !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.JobID > b.JobID
}

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

// Package scheduler implements the non-preemptive admission loop and
// child-process supervisor that promote PENDING jobs to RUNNING and
// account for their resource usage on exit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/primus-labs/gpu-scheduler/internal/metrics"
	"github.com/primus-labs/gpu-scheduler/pkg/directory"
	"github.com/primus-labs/gpu-scheduler/pkg/gpuinventory"
	"github.com/primus-labs/gpu-scheduler/pkg/job"
	"github.com/primus-labs/gpu-scheduler/pkg/ledger"
	"github.com/primus-labs/gpu-scheduler/pkg/priority"
)

const (
	// idleMemoryThreshold is the "basically unused" heuristic from
	// spec §4.E step 5: a GPU with less than this much memory already
	// in use is considered idle even if some residual allocation
	// lingers from a prior process.
	idleMemoryThreshold = 1 * 1024 * 1024 * 1024

	DefaultMaxConcurrent = 2
	DefaultPollInterval  = time.Second
)

// Config controls the admission loop's cadence and capacity.
type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Scheduler owns the job store, directory layout, GPU inventory, usage
// ledger and priority engine, and drives the admission loop described
// in spec §4.E. One Scheduler instance corresponds to one root_dir.
type Scheduler struct {
	cfg    Config
	layout *directory.Layout
	store  job.Store
	inv    gpuinventory.Inventory
	led    ledger.Ledger
	eng    *priority.Engine
	log    *slog.Logger

	mu       sync.Mutex
	occupied map[int]string // gpu id -> job id pinned there, for synthetic/idle bookkeeping
	wg       sync.WaitGroup

	metrics *metrics.Metrics
}

// SetMetrics attaches a collector set that AdmissionPass and supervise
// will update. Nil (the default) disables metrics recording entirely,
// so tests that don't care about it can skip wiring one up.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// New constructs a Scheduler. cfg's zero values take the package
// defaults (MaxConcurrent=2, PollInterval=1s).
func New(cfg Config, layout *directory.Layout, store job.Store, inv gpuinventory.Inventory, led ledger.Ledger, eng *priority.Engine, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		layout:   layout,
		store:    store,
		inv:      inv,
		led:      led,
		eng:      eng,
		log:      log,
		occupied: make(map[int]string),
	}
}

// Submit validates inputs, persists the script under to_run, and
// records a new PENDING job. Returns the assigned job id.
func (s *Scheduler) Submit(scriptBytes []byte, userID string, vramRequired int64, partition, qos string) (string, error) {
	if len(scriptBytes) == 0 {
		return "", fmt.Errorf("%w: empty script", ErrInput)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: missing user id", ErrInput)
	}
	if vramRequired < 0 {
		return "", fmt.Errorf("%w: negative vram_required", ErrInput)
	}
	if partition == "" {
		partition = "normal"
	}
	if qos == "" {
		qos = "standard"
	}

	id := uuid.NewString()
	toRunDir := s.layout.GetDir(directory.ToRun)
	finalName := id + ".py"
	// Written under a name distinct from finalName so SafeRename's
	// target-existence check (pkg/directory.SafeRename) can't mistake
	// the job's own just-written file for a pre-existing collision.
	stagingPath := filepath.Join(toRunDir, finalName+".tmp")
	if err := os.WriteFile(stagingPath, scriptBytes, 0o755); err != nil {
		return "", fmt.Errorf("%w: write script: %v", ErrInput, err)
	}

	finalPath, err := s.layout.SafeRename(stagingPath, toRunDir, finalName)
	if err != nil {
		return "", fmt.Errorf("%w: place script: %v", ErrInput, err)
	}

	j := &job.Job{
		ID:           id,
		ScriptPath:   finalPath,
		UserID:       userID,
		VRAMRequired: vramRequired,
		CreatedAt:    time.Now().UTC(),
		Partition:    partition,
		QoS:          qos,
		Status:       job.StatusPending,
	}
	s.store.Add(j)
	return id, nil
}

// ListJobs returns every job regardless of status.
func (s *Scheduler) ListJobs() []*job.Job {
	return s.store.List()
}

// ListJobsSorted returns jobs grouped RUNNING first, then PENDING by
// descending priority, then terminal jobs by most-recently-completed
// first — a convenience ordering modeled on squeue's default view.
func (s *Scheduler) ListJobsSorted() []*job.Job {
	all := s.store.List()
	var running, pending, terminal []*job.Job
	for _, j := range all {
		switch j.Status {
		case job.StatusRunning:
			running = append(running, j)
		case job.StatusPending:
			pending = append(pending, j)
		default:
			terminal = append(terminal, j)
		}
	}
	priority.Sort(pending)
	sortTerminalByEndTimeDesc(terminal)

	out := make([]*job.Job, 0, len(all))
	out = append(out, running...)
	out = append(out, pending...)
	out = append(out, terminal...)
	return out
}

func sortTerminalByEndTimeDesc(jobs []*job.Job) {
	for i := 1; i < len(jobs); i++ {
		for k := i; k > 0 && jobs[k-1].CompletedAt.Before(jobs[k].CompletedAt); k-- {
			jobs[k-1], jobs[k] = jobs[k], jobs[k-1]
		}
	}
}

// GetJob looks up a single job by id.
func (s *Scheduler) GetJob(id string) (*job.Job, bool) {
	return s.store.Get(id)
}

// LogPath returns the expected on-disk log path for a job, independent
// of whether the file has been created yet.
func (s *Scheduler) LogPath(id string) string {
	return filepath.Join(s.layout.GetDir(directory.Out), id+".log")
}

// Run drives the admission loop until ctx is cancelled. It performs a
// one-shot crash-recovery pass before the first admission pass, then
// ticks at PollInterval. Graceful shutdown never kills running
// children: once ctx is done it stops admitting, waits for the
// supervisors of still-running children to finish, and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.LoadFromDisk(); err != nil {
		s.log.Error("failed to reconcile job store from directory tree", slog.String("error", err.Error()))
	}
	s.Recover()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Re-scan to_run/ every pass so scripts submitted by a
		// separate CLI invocation against the same root_dir are
		// picked up without a running RPC surface (spec §6
		// filesystem contract).
		if err := s.LoadFromDisk(); err != nil {
			s.log.Error("failed to reconcile job store from directory tree", slog.String("error", err.Error()))
		}
		s.AdmissionPass(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Recover reconciles any job whose script sits in running/ but whose
// process did not survive a scheduler restart: such jobs have no live
// supervisor and are moved to FAILED (spec §4.E failure handling).
func (s *Scheduler) Recover() {
	for _, j := range s.store.List() {
		if j.Status != job.StatusRunning {
			continue
		}
		s.log.Warn("reconciling orphaned running job to failed on restart",
			slog.String("job_id", j.ID))
		s.finish(j, job.StatusFailed, 0)
	}
}

// AdmissionPass runs a single iteration of the admission loop (spec
// §4.E): snapshot, compute free slots, recompute priority for every
// PENDING job at one shared instant, sort, and admit into free GPUs
// from one inventory read in score order. The ledger is not frozen for
// the pass: each job's fair-share factor reads the user's usage at the
// moment that job is scored, so a supervisor charging the ledger
// mid-pass can affect jobs scored after it.
func (s *Scheduler) AdmissionPass(ctx context.Context) {
	all := s.store.List()
	running := 0
	var pending []*job.Job
	for _, j := range all {
		switch j.Status {
		case job.StatusRunning:
			running++
		case job.StatusPending:
			pending = append(pending, j)
		}
	}

	s.observeQueueDepth(running, len(pending))

	slots := s.cfg.MaxConcurrent - running
	if slots <= 0 || len(pending) == 0 {
		s.countPass("no_capacity")
		return
	}

	now := time.Now().UTC()
	for _, j := range pending {
		score := s.eng.Score(j, now)
		s.store.Update(j)
		if s.metrics != nil {
			s.metrics.PriorityScore.Observe(score)
		}
	}
	priority.Sort(pending)

	gpus, err := s.inv.ListGPUs()
	if err != nil {
		s.log.Error("gpu inventory probe failed, skipping admission pass", slog.String("error", err.Error()))
		s.countPass("inventory_error")
		return
	}
	s.observeGPUHealth(gpus)

	admitted := 0
	for _, j := range pending {
		if slots <= 0 {
			break
		}
		gpuID, ok := s.findAvailableGPU(gpus, j.VRAMRequired)
		if !ok {
			continue // spec: later candidates may still fit elsewhere
		}
		if err := s.admit(ctx, j, gpuID); err != nil {
			s.log.Error("failed to admit job", slog.String("job_id", j.ID), slog.String("error", err.Error()))
			continue
		}
		slots--
		admitted++
	}

	if admitted > 0 {
		s.countPass("admitted")
	} else {
		s.countPass("no_fit")
	}
}

func (s *Scheduler) countPass(outcome string) {
	if s.metrics != nil {
		s.metrics.AdmissionPasses.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) observeQueueDepth(running, pending int) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueueDepth.WithLabelValues(string(job.StatusRunning)).Set(float64(running))
	s.metrics.QueueDepth.WithLabelValues(string(job.StatusPending)).Set(float64(pending))
}

func (s *Scheduler) observeGPUHealth(gpus []gpuinventory.Metrics) {
	if s.metrics == nil {
		return
	}
	for _, g := range gpus {
		val := 0.0
		if g.Healthy {
			val = 1.0
		}
		s.metrics.GPUHealthy.WithLabelValues(fmt.Sprintf("%d", g.ID)).Set(val)
	}
}

// findAvailableGPU implements the idle heuristic from spec §4.E step
// 5: free_mem >= required AND memory_used < 1 GiB. A GPU already
// pinned to a job we believe is still RUNNING is treated as busy,
// covering the synthetic single-device case where NVML cannot see
// real occupancy.
func (s *Scheduler) findAvailableGPU(gpus []gpuinventory.Metrics, vramRequired int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range gpus {
		if !g.Healthy {
			continue
		}
		if _, busy := s.occupied[g.ID]; busy {
			continue
		}
		if g.FreeMemory() >= vramRequired && g.MemoryUsed < idleMemoryThreshold {
			return g.ID, true
		}
	}
	return 0, false
}

// admit performs the Admit(job, gpu_id) procedure from spec §4.E:
// rename to_run->running, mark RUNNING, spawn the pinned child, and
// hand off to a detached supervisor goroutine.
func (s *Scheduler) admit(ctx context.Context, j *job.Job, gpuID int) error {
	runningDir := s.layout.GetDir(directory.Running)
	newPath, err := s.layout.SafeRename(j.ScriptPath, runningDir, filepath.Base(j.ScriptPath))
	if err != nil {
		return fmt.Errorf("rename to running: %w", err)
	}

	start := time.Now().UTC()
	j.ScriptPath = newPath
	j.Status = job.StatusRunning
	j.AssignedGPU = &gpuID
	j.StartedAt = start
	s.store.Update(j)

	s.mu.Lock()
	s.occupied[gpuID] = j.ID
	s.mu.Unlock()

	logPath := s.LogPath(j.ID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.releaseGPU(gpuID)
		s.finish(j, job.StatusFailed, 0)
		return fmt.Errorf("open log file: %w", err)
	}

	cmd := exec.Command(newPath)
	cmd.Env = append(os.Environ(),
		"CUDA_DEVICE_ORDER=PCI_BUS_ID",
		fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", gpuID),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		s.releaseGPU(gpuID)
		s.finish(j, job.StatusFailed, 0)
		return fmt.Errorf("launch error: %w", err)
	}

	pid := cmd.Process.Pid
	j.PID = &pid
	s.store.Update(j)

	s.log.Info("admitted job",
		slog.String("job_id", j.ID),
		slog.Int("gpu_id", gpuID),
		slog.Int("pid", pid),
	)

	s.wg.Add(1)
	go s.supervise(j, cmd, logFile, start, gpuID)
	return nil
}

// supervise implements Supervisor(job, proc, start_time): waits for
// the child off the admission loop, charges the ledger regardless of
// exit status, and moves the job to its terminal state.
func (s *Scheduler) supervise(j *job.Job, cmd *exec.Cmd, logFile *os.File, start time.Time, gpuID int) {
	defer s.wg.Done()
	defer logFile.Close()
	defer s.releaseGPU(gpuID)

	err := cmd.Wait()
	duration := time.Since(start).Seconds()
	s.led.AddUsage(j.UserID, duration, 1)
	if s.metrics != nil {
		s.metrics.LedgerUsageSeconds.WithLabelValues(j.UserID).Set(s.led.GetUsage(j.UserID))
	}

	status := job.StatusCompleted
	if err != nil {
		status = job.StatusFailed
	}
	s.finish(j, status, duration)
}

// finish renames the script into its terminal directory and records
// the outcome on the job record. A rename failure is logged but does
// not block the status transition (spec's StateError class): the
// status is recorded anyway and ScriptPath keeps the script's old
// location.
func (s *Scheduler) finish(j *job.Job, status job.Status, _ float64) {
	targetStatus := directory.Complete
	if status == job.StatusFailed {
		targetStatus = directory.Fail
	}

	newPath, err := s.layout.MoveTo(j.ScriptPath, targetStatus)
	if err != nil {
		s.log.Error("rename to terminal state failed, recording status anyway",
			slog.String("job_id", j.ID), slog.String("error", err.Error()))
	} else {
		j.ScriptPath = newPath
	}

	j.Status = status
	j.CompletedAt = time.Now().UTC()
	s.store.Update(j)

	s.log.Info("job reached terminal state",
		slog.String("job_id", j.ID), slog.String("status", string(status)))
}

func (s *Scheduler) releaseGPU(gpuID int) {
	s.mu.Lock()
	delete(s.occupied, gpuID)
	s.mu.Unlock()
}

// ErrInput marks a synchronous, caller-facing input validation error
// from Submit (spec's InputError class).
var ErrInput = errors.New("input error")

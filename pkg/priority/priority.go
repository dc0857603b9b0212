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

// Package priority implements the SLURM-style multi-factor priority
// score used to rank PENDING jobs at every admission pass.
package priority

import (
	"strings"
	"time"

	"github.com/primus-labs/gpu-scheduler/pkg/job"
	"github.com/primus-labs/gpu-scheduler/pkg/ledger"
)

const (
	DefaultWeightAge       = 1000.0
	DefaultWeightFairShare = 10000.0
	DefaultWeightSize      = 500.0
	DefaultWeightPartition = 1000.0
	DefaultWeightQoS       = 1000.0
	// DefaultWeightPhysics sits in the same thousands-scale band as the
	// other weights, so a keyword match moves the final score by a
	// comparable margin instead of getting lost in it.
	DefaultWeightPhysics = 1000.0

	DefaultMaxAgeSec          = 7 * 24 * 3600.0
	DefaultFairShareDecayNorm = 36000.0 // 10 GPU-hours
	DefaultMaxVRAMRef         = 80 * 1024 * 1024 * 1024.0
	defaultFactorFallback     = 0.5
	// physicsMatchFactor is the raw pre-weight bonus fed into ScoreRaw
	// when a job's name or script mentions a physics keyword, blended in
	// via Config.WeightPhysics like every other factor (spec §4.D,
	// original_source job_manager.py).
	physicsMatchFactor = 2.0
)

// DefaultPartitionScores mirrors spec.md's PARTITION_SCORES table.
func DefaultPartitionScores() map[string]float64 {
	return map[string]float64{
		"debug":  1.0,
		"normal": 0.5,
		"batch":  0.2,
	}
}

// DefaultQoSScores mirrors spec.md's QOS_SCORES table.
func DefaultQoSScores() map[string]float64 {
	return map[string]float64{
		"hil":     1.0,
		"admin":   1.0,
		"high":    0.8,
		"premium": 0.8,
		"standard": 0.5,
		"low":     0.1,
		"guest":   0.1,
	}
}

// DefaultPhysicsKeywords mirrors the daemon variant's keyword list.
func DefaultPhysicsKeywords() []string {
	return []string{"physics", "sim", "simulation", "isaac", "robot", "mujoco"}
}

// Config holds the weights and normalization constants for the
// priority formula. All fields are configurable per spec §6.
type Config struct {
	WeightAge       float64
	WeightFairShare float64
	WeightSize      float64
	WeightPartition float64
	WeightQoS       float64
	// WeightPhysics blends the physics-keyword match factor into the
	// score. It only has an effect when PhysicsKeywords is non-empty.
	WeightPhysics float64

	MaxAgeSec          float64
	FairShareDecayNorm float64
	MaxVRAMRef         float64

	Partitions map[string]float64
	QoSLevels  map[string]float64

	// PhysicsKeywords, when non-empty, enables the daemon variant's
	// physics bonus: a job whose name or script text contains any of
	// these keywords (case-insensitive) contributes a raw factor of 2.0,
	// multiplied by WeightPhysics, to the score.
	PhysicsKeywords []string
}

// DefaultConfig returns the spec's default weights and constants.
func DefaultConfig() Config {
	return Config{
		WeightAge:       DefaultWeightAge,
		WeightFairShare: DefaultWeightFairShare,
		WeightSize:      DefaultWeightSize,
		WeightPartition: DefaultWeightPartition,
		WeightQoS:       DefaultWeightQoS,
		WeightPhysics:   DefaultWeightPhysics,

		MaxAgeSec:          DefaultMaxAgeSec,
		FairShareDecayNorm: DefaultFairShareDecayNorm,
		MaxVRAMRef:         DefaultMaxVRAMRef,

		Partitions: DefaultPartitionScores(),
		QoSLevels:  DefaultQoSScores(),
	}
}

// Engine computes priority scores against a usage ledger.
type Engine struct {
	cfg Config
	led ledger.Ledger
}

// New constructs an Engine bound to cfg and led.
func New(cfg Config, led ledger.Ledger) *Engine {
	if cfg.Partitions == nil {
		cfg.Partitions = DefaultPartitionScores()
	}
	if cfg.QoSLevels == nil {
		cfg.QoSLevels = DefaultQoSScores()
	}
	return &Engine{cfg: cfg, led: led}
}

// Inputs is the variant-agnostic set of values the priority formula
// needs. pkg/scheduler derives it from a *job.Job; pkg/daemon derives
// it from a JSON job document — neither package depends on the other
// (spec DESIGN NOTES: "factor the job-promotion decision out of the
// trigger source").
type Inputs struct {
	AgeSeconds float64
	User       string
	VRAMBytes  int64
	Partition  string
	QoS        string
	// PhysicsMatch is true when the caller has already determined the
	// job's name or script mentions a configured physics keyword. The
	// scheduler variant never sets it; the daemon variant derives it
	// via PhysicsMatchKeyword before calling ScoreRaw.
	PhysicsMatch bool
}

// ScoreRaw computes the weighted score and per-factor breakdown for
// in, without touching a *job.Job. Score is a thin wrapper over this
// for the scheduler variant.
func (e *Engine) ScoreRaw(in Inputs) (float64, job.Breakdown) {
	ageSec := in.AgeSeconds
	if ageSec < 0 {
		ageSec = 0
	}
	ageFactor := minF(ageSec/e.cfg.MaxAgeSec, 1.0)

	usage := e.led.GetUsage(in.User)
	fairFactor := 1.0 / (1.0 + usage/e.cfg.FairShareDecayNorm)

	sizeFactor := minF(float64(in.VRAMBytes)/e.cfg.MaxVRAMRef, 1.0)

	partFactor := lookup(e.cfg.Partitions, in.Partition)
	qosFactor := lookup(e.cfg.QoSLevels, in.QoS)

	physicsFactor := 0.0
	if in.PhysicsMatch {
		physicsFactor = physicsMatchFactor
	}

	score := e.cfg.WeightAge*ageFactor +
		e.cfg.WeightFairShare*fairFactor +
		e.cfg.WeightSize*sizeFactor +
		e.cfg.WeightPartition*partFactor +
		e.cfg.WeightQoS*qosFactor +
		e.cfg.WeightPhysics*physicsFactor

	breakdown := job.Breakdown{
		Age:       ageFactor,
		FairShare: fairFactor,
		Size:      sizeFactor,
		Partition: partFactor,
		QoS:       qosFactor,
		Physics:   physicsFactor,
		RawUsage:  usage,
	}
	return score, breakdown
}

// Score computes the priority for j as of now, persisting the
// per-factor debug breakdown onto j for explainability. now is passed
// explicitly so scoring is deterministic in tests and so every job in
// one admission pass is judged against the same instant.
func (e *Engine) Score(j *job.Job, now time.Time) float64 {
	score, breakdown := e.ScoreRaw(Inputs{
		AgeSeconds: now.Sub(j.CreatedAt).Seconds(),
		User:       j.UserID,
		VRAMBytes:  j.VRAMRequired,
		Partition:  j.Partition,
		QoS:        j.QoS,
	})
	j.PriorityDebug = breakdown
	j.PriorityScore = score
	return score
}

// PhysicsMatchKeyword reports whether name or script mentions any
// configured physics keyword. The daemon variant feeds the result into
// Inputs.PhysicsMatch before calling ScoreRaw; an empty PhysicsKeywords
// list disables the check entirely.
func (e *Engine) PhysicsMatchKeyword(name, script string) bool {
	if len(e.cfg.PhysicsKeywords) == 0 {
		return false
	}
	text := strings.ToLower(name + " " + script)
	for _, kw := range e.cfg.PhysicsKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func lookup(m map[string]float64, key string) float64 {
	if v, ok := m[strings.ToLower(key)]; ok {
		return v
	}
	if v, ok := m[key]; ok {
		return v
	}
	return defaultFactorFallback
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Sort orders jobs by descending priority, breaking ties by older
// CreatedAt first, then by lexicographic job id (spec §4.D ordering
// rule). Scores must already be populated via Score.
func Sort(jobs []*job.Job) {
	sortJobs(jobs)
}

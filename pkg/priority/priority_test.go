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

package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/primus-labs/gpu-scheduler/pkg/job"
	"github.com/primus-labs/gpu-scheduler/pkg/ledger"
)

func newJob(id, user, partition, qos string, vram int64, created time.Time) *job.Job {
	return &job.Job{
		ID:           id,
		UserID:       user,
		Partition:    partition,
		QoS:          qos,
		VRAMRequired: vram,
		CreatedAt:    created,
		Status:       job.StatusPending,
	}
}

func TestScoreUnknownPartitionAndQoSFallBackToHalf(t *testing.T) {
	led := ledger.NewMemory()
	e := New(DefaultConfig(), led)
	now := time.Now()

	j := newJob("j1", "alice", "unknown-partition", "unknown-qos", 0, now)
	e.Score(j, now)

	require.Equal(t, 0.5, j.PriorityDebug.Partition)
	require.Equal(t, 0.5, j.PriorityDebug.QoS)
}

func TestScoreHILQoSDominatesStandard(t *testing.T) {
	led := ledger.NewMemory()
	e := New(DefaultConfig(), led)
	now := time.Now()

	standard := newJob("j1", "alice", "normal", "standard", 0, now)
	hil := newJob("j2", "bob", "normal", "hil", 0, now)

	e.Score(standard, now)
	e.Score(hil, now)

	require.Greater(t, hil.PriorityScore, standard.PriorityScore)
}

func TestScoreFairShareFavorsLightUsers(t *testing.T) {
	led := ledger.NewMemory()
	led.AddUsage("alice", 36000, 1) // 10 GPU-hours, matches decay norm
	e := New(DefaultConfig(), led)
	now := time.Now()

	alice := newJob("j1", "alice", "normal", "standard", 0, now)
	bob := newJob("j2", "bob", "normal", "standard", 0, now)

	e.Score(alice, now)
	e.Score(bob, now)

	require.InDelta(t, 0.5, alice.PriorityDebug.FairShare, 1e-9)
	require.InDelta(t, 1.0, bob.PriorityDebug.FairShare, 1e-9)
	require.Greater(t, bob.PriorityScore, alice.PriorityScore)
}

func TestScoreMonotoneAging(t *testing.T) {
	led := ledger.NewMemory()
	e := New(DefaultConfig(), led)

	created := time.Now().Add(-time.Hour)
	j := newJob("j1", "alice", "normal", "standard", 0, created)

	s1 := e.Score(j, created.Add(time.Minute))
	s2 := e.Score(j, created.Add(time.Hour))

	require.GreaterOrEqual(t, s2, s1)
}

func TestScoreSizeFactorCapsAtOne(t *testing.T) {
	led := ledger.NewMemory()
	e := New(DefaultConfig(), led)
	now := time.Now()

	huge := newJob("j1", "alice", "normal", "standard", 1000*1024*1024*1024, now)
	e.Score(huge, now)

	require.Equal(t, 1.0, huge.PriorityDebug.Size)
}

func TestPhysicsMatchKeywordMatchesKeyword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhysicsKeywords = DefaultPhysicsKeywords()
	e := New(cfg, ledger.NewMemory())

	require.True(t, e.PhysicsMatchKeyword("isaac-lab-run", ""))
	require.False(t, e.PhysicsMatchKeyword("plain-job", "print(1)"))
}

func TestPhysicsMatchKeywordDisabledWithoutKeywords(t *testing.T) {
	e := New(DefaultConfig(), ledger.NewMemory())
	require.False(t, e.PhysicsMatchKeyword("isaac-lab-run", ""))
}

// TestPhysicsMatchChangesAdmissionOrdering proves the physics bonus is
// not a no-op: two jobs identical on every other factor must rank
// differently once one of them matches a physics keyword.
func TestPhysicsMatchChangesAdmissionOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhysicsKeywords = DefaultPhysicsKeywords()
	e := New(cfg, ledger.NewMemory())

	base := Inputs{AgeSeconds: 1000, User: "alice", VRAMBytes: 1024, Partition: "normal", QoS: "standard"}
	withoutMatch, _ := e.ScoreRaw(base)

	matched := base
	matched.PhysicsMatch = true
	withMatch, _ := e.ScoreRaw(matched)

	require.Greater(t, withMatch, withoutMatch,
		"a physics keyword match must move the score, not get lost in the weighting")
}

func TestSortOrdersByScoreThenAgeThenID(t *testing.T) {
	now := time.Now()
	jobs := []*job.Job{
		{ID: "b", PriorityScore: 10, CreatedAt: now},
		{ID: "a", PriorityScore: 10, CreatedAt: now},
		{ID: "c", PriorityScore: 20, CreatedAt: now},
		{ID: "d", PriorityScore: 10, CreatedAt: now.Add(-time.Minute)},
	}
	Sort(jobs)

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	require.Equal(t, []string{"c", "d", "a", "b"}, ids)
}

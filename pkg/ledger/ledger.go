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

// Package ledger tracks each user's cumulative GPU-seconds for the
// fair-share priority factor.
package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

// Ledger is the capability set the priority engine and supervisor
// need from a usage tracker.
type Ledger interface {
	AddUsage(user string, durationSec float64, gpuCount int)
	GetUsage(user string) float64
	GetTotalUsage() float64
	Decay(factor float64)
}

// Memory is a mutex-guarded in-memory Ledger. All mutations are
// serialized; concurrent readers observe a consistent snapshot
// (spec §4.C).
type Memory struct {
	mu    sync.Mutex
	usage map[string]float64
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{usage: make(map[string]float64)}
}

// AddUsage increases user's entry by durationSec * gpuCount. A
// missing user starts at zero.
func (m *Memory) AddUsage(user string, durationSec float64, gpuCount int) {
	if gpuCount <= 0 {
		gpuCount = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[user] += durationSec * float64(gpuCount)
}

// GetUsage returns 0 for unknown users.
func (m *Memory) GetUsage(user string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[user]
}

// GetTotalUsage returns the sum of every user's usage.
func (m *Memory) GetTotalUsage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, v := range m.usage {
		total += v
	}
	return total
}

// Decay multiplies every entry by factor, implementing an
// exponential half-life-style aging. factor must be in (0, 1);
// out-of-range values are ignored.
func (m *Memory) Decay(factor float64) {
	if factor <= 0 || factor >= 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for user := range m.usage {
		m.usage[user] *= factor
	}
}

// snapshot returns a copy of the current usage map for persistence.
func (m *Memory) snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.usage))
	for k, v := range m.usage {
		out[k] = v
	}
	return out
}

func (m *Memory) restore(data map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = data
}

// File wraps a Memory ledger with durable JSON persistence. Durability
// is optional per spec: a restart losing ledger state only degrades
// fair-share (it resets), it is never catastrophic.
type File struct {
	*Memory
	path string
	log  *slog.Logger
}

// NewFile constructs a File-backed ledger rooted at path, loading any
// existing snapshot. A missing file starts from an empty ledger
// silently; an unreadable or corrupt file starts from an empty ledger
// and logs a warning (spec's LedgerCorruption error class).
func NewFile(path string, log *slog.Logger) *File {
	f := &File{Memory: NewMemory(), path: path, log: log}
	f.load()
	return f
}

func (f *File) load() {
	if f.path == "" {
		return
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) && f.log != nil {
			f.log.Warn("ledger file unreadable, starting empty", slog.String("path", f.path), slog.String("error", err.Error()))
		}
		return
	}
	var data map[string]float64
	if err := json.Unmarshal(raw, &data); err != nil {
		if f.log != nil {
			f.log.Warn("ledger file corrupt, starting empty", slog.String("path", f.path), slog.String("error", err.Error()))
		}
		return
	}
	f.restore(data)
}

// Save durably persists the current ledger snapshot using an atomic
// write-then-rename, the same pattern used to write other durable
// artifacts in this repo.
func (f *File) Save() error {
	if f.path == "" {
		return nil
	}
	data, err := json.Marshal(f.snapshot())
	if err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(f.path)
	if err != nil {
		return err
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// AddUsage persists after recording, matching the teacher's ambient
// pattern of committing durable state after every mutation.
func (f *File) AddUsage(user string, durationSec float64, gpuCount int) {
	f.Memory.AddUsage(user, durationSec, gpuCount)
	if err := f.Save(); err != nil && f.log != nil {
		f.log.Warn("failed to persist ledger", slog.String("error", err.Error()))
	}
}

// Decay persists after decaying.
func (f *File) Decay(factor float64) {
	f.Memory.Decay(factor)
	if err := f.Save(); err != nil && f.log != nil {
		f.log.Warn("failed to persist ledger", slog.String("error", err.Error()))
	}
}

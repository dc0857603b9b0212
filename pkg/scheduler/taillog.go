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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrJobNotFound is returned by TailLog when no job with the given id
// is known to the store.
var ErrJobNotFound = errors.New("job not found")

// defaultTailPollInterval is how often TailLog retries reading past
// EOF while the job is still active.
const defaultTailPollInterval = 200 * time.Millisecond

// TailLog streams job id's on-disk log to w from the start, polling
// past EOF while the job has not reached a terminal state, and
// returning once the job is terminal and no further bytes arrive
// (spec §6 tail_log). The same *os.File is read incrementally across
// polls so no byte is copied twice.
func (s *Scheduler) TailLog(ctx context.Context, id string, w io.Writer) error {
	if _, ok := s.store.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	path := s.LogPath(id)
	ticker := time.NewTicker(defaultTailPollInterval)
	defer ticker.Stop()

	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		if f == nil {
			opened, err := os.Open(path)
			switch {
			case err == nil:
				f = opened
			case os.IsNotExist(err):
				// Log file doesn't exist yet — job is still PENDING.
				if j, ok := s.store.Get(id); ok && j.Status.Terminal() {
					return nil
				}
				if err := sleepOrDone(ctx, ticker); err != nil {
					return err
				}
				continue
			default:
				return err
			}
		}

		if _, err := io.Copy(w, f); err != nil {
			return err
		}

		j, ok := s.store.Get(id)
		if !ok || !j.Status.Terminal() {
			if err := sleepOrDone(ctx, ticker); err != nil {
				return err
			}
			continue
		}

		// Job is terminal: drain whatever landed between the copy
		// above and the status transition, then stop.
		io.Copy(w, f)
		return nil
	}
}

func sleepOrDone(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
		return nil
	}
}

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

// Package directory implements the filesystem-backed job state
// machine: a script file lives in exactly one of five sibling
// directories, and moving it between them is the only state
// transition the scheduler performs.
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Status names one of the five state directories.
type Status string

const (
	ToRun    Status = "to_run"
	Running  Status = "running"
	Complete Status = "complete"
	Fail     Status = "fail"
	Out      Status = "out"
)

var allStatuses = []Status{ToRun, Running, Complete, Fail, Out}

// Layout is the root of the five-directory state machine.
type Layout struct {
	root string
	dirs map[Status]string
}

// New constructs a Layout rooted at root. Call Setup before using it.
func New(root string) *Layout {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	l := &Layout{root: abs, dirs: make(map[Status]string, len(allStatuses))}
	for _, s := range allStatuses {
		l.dirs[s] = filepath.Join(abs, string(s))
	}
	return l
}

// Root returns the layout's root directory.
func (l *Layout) Root() string { return l.root }

// Setup creates all five directories idempotently.
func (l *Layout) Setup() error {
	for _, s := range allStatuses {
		if err := os.MkdirAll(l.dirs[s], 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", s, err)
		}
	}
	return nil
}

// GetDir returns the absolute path of a state directory.
func (l *Layout) GetDir(status Status) string {
	return l.dirs[status]
}

// SafeRename is the single mutator of the state machine. It moves src
// into dstDir under newName (or src's basename if newName is empty),
// resolving name collisions deterministically by appending _1, _2, …
// to the filename stem, and returns the final path. The move is an
// atomic rename on the same filesystem.
func (l *Layout) SafeRename(src, dstDir, newName string) (string, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}

	name := newName
	if name == "" {
		name = filepath.Base(src)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	target := filepath.Join(dstDir, name)
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(dstDir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}

	if err := os.Rename(src, target); err != nil {
		return "", fmt.Errorf("rename %s to %s: %w", src, target, err)
	}
	return target, nil
}

// MoveTo renames src into the directory for status, keeping its
// current basename.
func (l *Layout) MoveTo(src string, status Status) (string, error) {
	return l.SafeRename(src, l.dirs[status], "")
}

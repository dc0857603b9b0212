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

package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSetupCreatesAllFiveDirs(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.Setup())

	for _, s := range allStatuses {
		info, err := os.Stat(l.GetDir(s))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}

	// Idempotent.
	require.NoError(t, l.Setup())
}

func TestSafeRenameMovesFile(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.Setup())

	src := filepath.Join(root, "a.py")
	writeFile(t, src, "print(1)")

	dst, err := l.SafeRename(src, l.GetDir(ToRun), "job1.py")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(l.GetDir(ToRun), "job1.py"), dst)
	require.NoFileExists(t, src)
	require.FileExists(t, dst)
}

func TestSafeRenameConflictSuffixes(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.Setup())

	srcA := filepath.Join(root, "a.py")
	srcB := filepath.Join(root, "b.py")
	writeFile(t, srcA, "A")
	writeFile(t, srcB, "B")

	dstA, err := l.SafeRename(srcA, l.GetDir(ToRun), "same.py")
	require.NoError(t, err)
	dstB, err := l.SafeRename(srcB, l.GetDir(ToRun), "same.py")
	require.NoError(t, err)

	require.NotEqual(t, dstA, dstB)
	require.Equal(t, filepath.Join(l.GetDir(ToRun), "same.py"), dstA)
	require.Equal(t, filepath.Join(l.GetDir(ToRun), "same_1.py"), dstB)

	contentA, _ := os.ReadFile(dstA)
	contentB, _ := os.ReadFile(dstB)
	require.Equal(t, "A", string(contentA))
	require.Equal(t, "B", string(contentB))
}

func TestSafeRenameThirdConflictIncrementsCounter(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.Setup())

	for i, label := range []string{"X", "Y", "Z"} {
		src := filepath.Join(root, label+".py")
		writeFile(t, src, label)
		dst, err := l.SafeRename(src, l.GetDir(ToRun), "dup.py")
		require.NoError(t, err)
		switch i {
		case 0:
			require.Equal(t, "dup.py", filepath.Base(dst))
		case 1:
			require.Equal(t, "dup_1.py", filepath.Base(dst))
		case 2:
			require.Equal(t, "dup_2.py", filepath.Base(dst))
		}
	}
}

func TestMoveToUsesStatusDir(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	require.NoError(t, l.Setup())

	src := filepath.Join(l.GetDir(ToRun), "job.py")
	writeFile(t, src, "x")

	dst, err := l.MoveTo(src, Running)
	require.NoError(t, err)
	require.Equal(t, l.GetDir(Running), filepath.Dir(dst))
}

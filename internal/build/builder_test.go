package build

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"patchpack/internal/delta"
	"patchpack/internal/patch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func paths(set patch.Set) []string {
	out := make([]string, len(set))
	for i, e := range set {
		out[i] = e.Path
	}
	return out
}

// failingEngine refuses to diff targets containing a marker
type failingEngine struct {
	delta.Bsdiff
}

func (f failingEngine) Diff(base, target []byte) ([]byte, error) {
	if bytes.Contains(target, []byte("FAIL")) {
		return nil, errors.New("diff refused")
	}
	return f.Bsdiff.Diff(base, target)
}

func TestDiffPairsByPath(t *testing.T) {
	before := writeTree(t, map[string]string{
		"a.txt":         "hello",
		"lib/core.bin":  "v1 core",
		"lib/same.bin":  "same",
		"old/gone.txt":  "bye",
		"z/last.txt":    "last v1",
	})
	after := writeTree(t, map[string]string{
		"a.txt":        "hello world",
		"b/new.txt":    "brand new",
		"lib/core.bin": "v2 core",
		"lib/same.bin": "same",
		"z/last.txt":   "last v2",
	})

	set, report, err := New().Diff(context.Background(), before, after)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b/new.txt", "lib/core.bin", "z/last.txt"}, paths(set))
	for _, e := range set {
		assert.Equal(t, patch.Diff, e.Kind)
		assert.NotEmpty(t, e.Payload)
	}

	assert.Equal(t, 1, report.Count(StatusAdded))
	assert.Equal(t, 3, report.Count(StatusModified))
	assert.Equal(t, 1, report.Count(StatusUnchanged))
	assert.Equal(t, 1, report.Count(StatusRemoved))
	assert.Empty(t, report.Failures())

	// Each entry must reconstruct the after content from the matching before file
	engine := delta.Bsdiff{}
	for _, e := range set {
		base, _ := os.ReadFile(filepath.Join(before, filepath.FromSlash(e.Path)))
		want, err := os.ReadFile(filepath.Join(after, filepath.FromSlash(e.Path)))
		require.NoError(t, err)

		got, err := engine.Patch(base, e.Payload)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got), e.Path)
	}
}

func TestDiffIncludeUnchanged(t *testing.T) {
	before := writeTree(t, map[string]string{"a.txt": "same"})
	after := writeTree(t, map[string]string{"a.txt": "same"})

	set, _, err := New().Diff(context.Background(), before, after)
	require.NoError(t, err)
	assert.Empty(t, set)

	set, _, err = New(WithUnchanged(true)).Diff(context.Background(), before, after)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, paths(set))
}

func TestDiffSkipsFailedFiles(t *testing.T) {
	before := writeTree(t, map[string]string{"bad.txt": "x", "good.txt": "x"})
	after := writeTree(t, map[string]string{"bad.txt": "FAIL", "good.txt": "y"})

	set, report, err := New(WithEngine(failingEngine{}), WithWorkers(2)).Diff(context.Background(), before, after)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.txt"}, paths(set))
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "bad.txt", failures[0].Path)
	assert.Error(t, failures[0].Err)
}

func TestDiffMissingRoot(t *testing.T) {
	_, _, err := New().Diff(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.txt":        "bee",
		"a/nested.txt": "nested",
		".git/HEAD":    "ref",
		"empty.txt":    "",
	})

	set, report, err := New(WithIgnore(".git")).Snapshot(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/nested.txt", "b.txt", "empty.txt"}, paths(set))
	for _, e := range set {
		assert.Equal(t, patch.Snapshot, e.Kind)
	}
	assert.Equal(t, "bee", string(set[1].Payload))
	assert.Empty(t, set[2].Payload)
	assert.Equal(t, 3, report.Count(StatusAdded))
}

func TestSnapshotFailsDiffSuffixedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"lib/data.bspatch": "raw",
		"lib/data":         "plain",
	})

	set, report, err := New().Snapshot(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/data"}, paths(set))
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "lib/data.bspatch", failures[0].Path)
	assert.ErrorIs(t, failures[0].Err, patch.ErrAmbiguousName)
}

func TestSnapshotCancelled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set, report, err := New().Snapshot(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, set)
	require.Len(t, report.Failures(), 1)
	assert.ErrorIs(t, report.Failures()[0].Err, context.Canceled)
}

func TestMatch(t *testing.T) {
	old := []file{{rel: "a"}, {rel: "c"}, {rel: "d"}}
	cur := []file{{rel: "b"}, {rel: "c"}, {rel: "e"}}

	got := match(old, cur)
	var rels []string
	for _, p := range got {
		rels = append(rels, p.rel)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, rels)
}

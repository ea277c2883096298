package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpmq/hpmq/lib/changeset"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCaptureRegularFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.txt"), "hi\n")

	entries, err := Capture(context.Background(), Snapshot{Root: root, DestDir: "/"})
	require.NoError(t, err)

	e, ok := entries["hello.txt"]
	require.True(t, ok)
	require.NotNil(t, e.Fingerprint)
	require.Nil(t, e.Target)
}

func TestCaptureSymlink(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.txt"), "x")
	require.NoError(t, os.Symlink("real.txt", filepath.Join(root, "link.txt")))

	entries, err := Capture(context.Background(), Snapshot{Root: root})
	require.NoError(t, err)

	e, ok := entries["link.txt"]
	require.True(t, ok)
	require.NotNil(t, e.Target)
	require.Equal(t, "real.txt", *e.Target)
	require.Nil(t, e.Fingerprint)
}

func TestSelfDiffIsEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "content")

	s := Snapshot{Root: root}
	cs, err := Diff(context.Background(), s, s)
	require.NoError(t, err)
	require.Empty(t, cs.Items)
}

func TestDiffSwapsAddedAndRemoved(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "only-a.txt"), "a")
	writeFile(t, filepath.Join(rootB, "only-b.txt"), "b")

	a := Snapshot{Root: rootA}
	b := Snapshot{Root: rootB}

	ab, err := Diff(context.Background(), a, b)
	require.NoError(t, err)
	ba, err := Diff(context.Background(), b, a)
	require.NoError(t, err)

	require.Contains(t, kindsByPath(ab), "only-a.txt")
	require.Equal(t, changeset.Removed, kindsByPath(ab)["only-a.txt"])
	require.Equal(t, changeset.Added, kindsByPath(ab)["only-b.txt"])

	require.Equal(t, changeset.Added, kindsByPath(ba)["only-a.txt"])
	require.Equal(t, changeset.Removed, kindsByPath(ba)["only-b.txt"])
}

func kindsByPath(cs changeset.ChangeSet) map[string]changeset.Kind {
	m := make(map[string]changeset.Kind)
	for _, c := range cs.Items {
		m[c.Path] = c.Kind
	}
	return m
}

func TestForkSelfCopiesContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "content")

	forked, err := ForkSelf(context.Background(), Snapshot{Root: root, DestDir: "/opt"})
	require.NoError(t, err)
	require.NotEqual(t, root, forked.Root)
	require.Equal(t, "/opt", forked.DestDir)

	b, err := os.ReadFile(filepath.Join(forked.Root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "content", string(b))
}

func TestCopyInUsesBasenameWhenNoFileName(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(src, []byte("bytes"), 0o644))

	s := Snapshot{Root: root}
	require.NoError(t, CopyIn(s, src, "subdir", ""))

	b, err := os.ReadFile(filepath.Join(root, "subdir", "source.bin"))
	require.NoError(t, err)
	require.Equal(t, "bytes", string(b))
}

func TestCopyInInvalidDestination(t *testing.T) {
	root := t.TempDir()
	s := Snapshot{Root: root}
	err := CopyIn(s, "/", "", "")
	require.ErrorIs(t, err, ErrInvalidDestination)
}

func TestDiffDetectsModification(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "f.txt"), "one")
	writeFile(t, filepath.Join(rootB, "f.txt"), "two")

	cs, err := Diff(context.Background(), Snapshot{Root: rootA}, Snapshot{Root: rootB})
	require.NoError(t, err)
	require.Len(t, cs.Items, 1)
	require.Equal(t, changeset.Modified, cs.Items[0].Kind)
}

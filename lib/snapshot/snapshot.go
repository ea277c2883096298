// Package snapshot captures immutable directory-tree states and diffs
// them into change-sets during an image build.
package snapshot

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hpmq/hpmq/internal/seahash"
	"github.com/hpmq/hpmq/internal/sysstat"
	"github.com/hpmq/hpmq/lib/changeset"
	"github.com/hpmq/hpmq/lib/hpmqlog"
)

// ErrInvalidDestination is returned when a copy-in target cannot be
// resolved to a file name.
var ErrInvalidDestination = errors.New("snapshot: invalid destination")

// EntryMetadata captures ownership and write-protection for one entry.
type EntryMetadata struct {
	UID      uint32
	GID      uint32
	ReadOnly bool
}

// Entry is the captured state of one non-root path in a snapshot.
// Fingerprint is present only for regular files; Target only for symlinks.
// Directories carry only Metadata.
type Entry struct {
	Metadata    EntryMetadata
	Fingerprint *uint64
	Target      *string
}

// Equal reports whether two entries describe the same state.
func (e Entry) Equal(o Entry) bool {
	if e.Metadata != o.Metadata {
		return false
	}
	if (e.Fingerprint == nil) != (o.Fingerprint == nil) {
		return false
	}
	if e.Fingerprint != nil && *e.Fingerprint != *o.Fingerprint {
		return false
	}
	if (e.Target == nil) != (o.Target == nil) {
		return false
	}
	if e.Target != nil && *e.Target != *o.Target {
		return false
	}
	return true
}

// Snapshot is an immutable capture of a directory tree plus the path it is
// destined for inside the eventual image root filesystem.
type Snapshot struct {
	Root    string
	DestDir string
}

func defaultMetadata(info fs.FileInfo) EntryMetadata {
	uid, gid, ok := sysstat.OwnerOf(info)
	if !ok {
		uid, gid = 1000, 1000
	}
	return EntryMetadata{
		UID:      uid,
		GID:      gid,
		ReadOnly: info.Mode().Perm()&0o200 == 0,
	}
}

// Capture walks s.Root (excluding the root itself) and returns a mapping
// from '/'-separated relative path to captured entry. Per-entry failures
// are logged and the entry is omitted; the walk itself never fails.
func Capture(ctx context.Context, s Snapshot) (map[string]Entry, error) {
	out := make(map[string]Entry)

	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			hpmqlog.FromContext(ctx).Warn("snapshot walk error", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == s.Root {
			return nil
		}

		rel, relErr := filepath.Rel(s.Root, path)
		if relErr != nil {
			hpmqlog.FromContext(ctx).Warn("snapshot relative path error", "path", path, "error", relErr)
			return nil
		}
		rel = filepath.ToSlash(rel)

		entry, captureErr := captureEntry(path, d)
		if captureErr != nil {
			hpmqlog.FromContext(ctx).Warn("snapshot entry error", "path", path, "error", captureErr)
			return nil
		}
		out[rel] = entry
		return nil
	})
	return out, err
}

func captureEntry(path string, d fs.DirEntry) (Entry, error) {
	info, err := d.Info()
	if err != nil {
		return Entry{}, err
	}

	if d.Type()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Metadata: defaultMetadata(info), Target: &target}, nil
	}

	if d.IsDir() {
		return Entry{Metadata: defaultMetadata(info)}, nil
	}

	if !info.Mode().IsRegular() {
		// devices, sockets, fifos: captured as metadata-only entries.
		return Entry{Metadata: defaultMetadata(info)}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	w := seahash.NewWriter()
	if _, err := io.Copy(w, f); err != nil {
		return Entry{}, err
	}
	sum := w.Sum64()
	return Entry{Metadata: defaultMetadata(info), Fingerprint: &sum}, nil
}

// ForkSelf creates a fresh temp directory, recursively copies s.Root into
// it, and returns a new snapshot rooted there with the same DestDir.
func ForkSelf(ctx context.Context, s Snapshot) (Snapshot, error) {
	newRoot, err := os.MkdirTemp("", "hpmq-snap-*")
	if err != nil {
		return Snapshot{}, err
	}
	if err := copyTree(ctx, s.Root, newRoot); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Root: newRoot, DestDir: s.DestDir}, nil
}

// copyTree recursively duplicates src into dst, one goroutine per regular
// file and one per subdirectory. Per-entry failures are logged, never
// fatal to the fork as a whole.
func copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		g.Go(func() error {
			if entry.IsDir() {
				if err := copyTree(gctx, srcPath, dstPath); err != nil {
					hpmqlog.FromContext(gctx).Warn("copy subdirectory failed", "path", srcPath, "error", err)
				}
				return nil
			}
			if err := copyEntry(srcPath, dstPath, entry); err != nil {
				hpmqlog.FromContext(gctx).Warn("copy entry failed", "path", srcPath, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func copyEntry(srcPath, dstPath string, entry fs.DirEntry) error {
	if entry.Type()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return err
		}
		os.Remove(dstPath)
		return os.Symlink(target, dstPath)
	}

	info, err := entry.Info()
	if err != nil {
		return err
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// CopyIn copies src into s.Root under directory (relative, may be empty
// for the snapshot root) as fileName, or src's basename if fileName is
// empty.
func CopyIn(s Snapshot, src, directory, fileName string) error {
	name := fileName
	if name == "" {
		name = filepath.Base(src)
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ErrInvalidDestination
	}

	targetDir := s.Root
	if directory != "" {
		targetDir = filepath.Join(s.Root, directory)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Join(targetDir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Diff computes the structural change-set turning a's tree into b's.
// Result items are sorted by kind (Added < Modified < Removed), then by path.
func Diff(ctx context.Context, a, b Snapshot) (changeset.ChangeSet, error) {
	entriesA, err := Capture(ctx, a)
	if err != nil {
		return changeset.ChangeSet{}, err
	}
	entriesB, err := Capture(ctx, b)
	if err != nil {
		return changeset.ChangeSet{}, err
	}

	cs := changeset.ChangeSet{SourceDir: b.Root, DestDir: b.DestDir}

	for path, ea := range entriesA {
		eb, ok := entriesB[path]
		if !ok {
			cs.Items = append(cs.Items, changeset.Change{Kind: changeset.Removed, Path: path})
			continue
		}
		if !ea.Equal(eb) {
			cs.Items = append(cs.Items, changeset.Change{Kind: changeset.Modified, Path: path})
		}
	}
	for path := range entriesB {
		if _, ok := entriesA[path]; !ok {
			cs.Items = append(cs.Items, changeset.Change{Kind: changeset.Added, Path: path})
		}
	}

	sort.Slice(cs.Items, func(i, j int) bool { return changeset.Less(cs.Items[i], cs.Items[j]) })
	return cs, nil
}

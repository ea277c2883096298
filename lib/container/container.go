// Package container replays an image's ordered layers onto an empty
// directory, applying whiteouts, to materialize a runnable root filesystem.
package container

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"

	"github.com/hpmq/hpmq/lib/digest"
	"github.com/hpmq/hpmq/lib/hpmqlog"
	"github.com/hpmq/hpmq/lib/imageref"
	"github.com/hpmq/hpmq/lib/layer"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/ociimage"
	"github.com/hpmq/hpmq/lib/registryclient"
	"github.com/hpmq/hpmq/lib/repositories"
)

// ErrInvalidLayerPath is returned when a layer entry's name or whiteout
// target or symlink target attempts to escape the container directory.
var ErrInvalidLayerPath = errors.New("container: invalid layer path")

// validateLayerPath rejects absolute paths and path-traversal attempts in
// a tar entry name, the same check the teacher's volume archiver applies
// to untrusted archive content before any path joining happens.
func validateLayerPath(name string) error {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidLayerPath, name)
	}
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, string(filepath.Separator)+"..") {
		return fmt.Errorf("%w: path traversal in %q", ErrInvalidLayerPath, name)
	}
	return nil
}

// Initialize resolves ref to a manifest digest (pulling if necessary),
// and materializes its layers under containerdb/<manifest-digest> unless
// that directory already exists and force is false. Returns the
// container directory.
func Initialize(ctx context.Context, store *layout.Store, idx *repositories.Index, ref imageref.Reference, force bool, auth registryclient.Auth) (string, error) {
	manifestDigest, ok := idx.Digest(ref)
	if !ok {
		pulled, err := registryclient.Pull(ctx, store, idx, ref, auth)
		if err != nil {
			return "", err
		}
		manifestDigest = pulled
	}

	containerDir := store.ContainerDir(manifestDigest)

	if force {
		if err := os.RemoveAll(containerDir); err != nil {
			return "", err
		}
	} else if store.ExistContainer(manifestDigest) {
		return containerDir, nil
	}

	if err := os.MkdirAll(containerDir, 0o755); err != nil {
		return "", err
	}

	manifestBytes, err := store.ReadManifest(manifestDigest)
	if err != nil {
		return "", err
	}
	manifest, err := ociimage.ParseManifest(manifestBytes)
	if err != nil {
		return "", err
	}
	configBytes, err := store.ReadConfig(manifest.Config.Digest)
	if err != nil {
		return "", err
	}
	config, err := ociimage.ParseConfig(configBytes)
	if err != nil {
		return "", err
	}

	for _, diffID := range config.RootF.DiffIDs {
		if err := applyLayer(ctx, store, containerDir, diffID); err != nil {
			return "", err
		}
	}

	return containerDir, nil
}

// Cmd returns the runnable artifact path for an already-materialized container.
func Cmd(containerDir string, cfg ociimage.ConfigFile) string {
	return filepath.Join(containerDir, filepath.FromSlash(cfg.Cmd))
}

func applyLayer(ctx context.Context, store *layout.Store, containerDir string, diffID digest.Digest) error {
	f, err := os.Open(store.LayerBlobPath(diffID))
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := maybeDecompress(f)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if target, isWhiteout := layer.IsWhiteout(hdr.Name); isWhiteout {
			if err := validateLayerPath(target); err != nil {
				hpmqlog.FromContext(ctx).Warn("container: rejecting whiteout", "target", target, "error", err)
				continue
			}
			removePath, err := securejoin.SecureJoin(containerDir, filepath.FromSlash(target))
			if err != nil {
				hpmqlog.FromContext(ctx).Warn("container: rejecting whiteout", "target", target, "error", err)
				continue
			}
			if err := os.RemoveAll(removePath); err != nil {
				hpmqlog.FromContext(ctx).Warn("container: failed to apply whiteout", "target", target, "error", err)
			}
			continue
		}

		if err := applyEntry(tr, containerDir, hdr); err != nil {
			hpmqlog.FromContext(ctx).Warn("container: skipping tar entry", "name", hdr.Name, "error", err)
		}
	}
	return nil
}

func applyEntry(tr *tar.Reader, containerDir string, hdr *tar.Header) error {
	if err := validateLayerPath(hdr.Name); err != nil {
		return err
	}
	dest, err := securejoin.SecureJoin(containerDir, filepath.FromSlash(hdr.Name))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayerPath, err)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, os.FileMode(hdr.Mode).Perm()|0o700)
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		// O_NOFOLLOW: refuse to write through a symlink planted at dest by
		// an earlier (possibly malicious) entry in the same layer.
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|syscall.O_NOFOLLOW, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, tr)
		return err
	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) {
			return fmt.Errorf("%w: absolute symlink target %q", ErrInvalidLayerPath, hdr.Linkname)
		}
		cleanedLink := filepath.Clean(hdr.Linkname)
		if cleanedLink == ".." || strings.HasPrefix(cleanedLink, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: symlink %q escapes destination", ErrInvalidLayerPath, hdr.Linkname)
		}

		resolvedTarget, err := securejoin.SecureJoin(filepath.Dir(dest), hdr.Linkname)
		if err != nil {
			return fmt.Errorf("%w: symlink target unsafe: %v", ErrInvalidLayerPath, err)
		}
		cleanRoot := filepath.Clean(containerDir)
		if resolvedTarget != cleanRoot && !strings.HasPrefix(resolvedTarget, cleanRoot+string(filepath.Separator)) {
			return fmt.Errorf("%w: symlink %q escapes destination", ErrInvalidLayerPath, hdr.Linkname)
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		os.Remove(dest)
		return os.Symlink(hdr.Linkname, dest)
	default:
		return errUnsupportedEntryType(hdr.Typeflag)
	}
}

type errUnsupportedEntryType byte

func (e errUnsupportedEntryType) Error() string {
	return "unsupported tar entry type"
}

// maybeDecompress sniffs the gzip magic number so reading tolerates both
// the uncompressed and gzip layer media types without relying on the
// manifest's declared media-type string.
func maybeDecompress(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

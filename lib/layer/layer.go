// Package layer serializes a change-set into an OCI layer tarball,
// emitting whiteouts for removals and computing the layer's dual digests.
package layer

import (
	"archive/tar"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hpmq/hpmq/lib/changeset"
	"github.com/hpmq/hpmq/lib/digest"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/ociimage"
)

// ErrUnsupportedMediaType is returned for a layer media type this writer
// does not know how to encode.
var ErrUnsupportedMediaType = errors.New("layer: unsupported media type")

const annotationStampVersion = "1"

// maxAnnotatedPaths bounds how many changed paths are listed in the
// descriptor's annotations, to keep manifests from growing unbounded.
const maxAnnotatedPaths = 100

// Write serializes cs into a tar layer blob under store, returning its
// uncompressed diffID and its manifest descriptor. An empty change-set
// writes no blob and returns the sentinel digests.
func Write(cs changeset.ChangeSet, store *layout.Store, mediaType ociimage.MediaType) (digest.Digest, ociimage.Descriptor, error) {
	if len(cs.Items) == 0 {
		return digest.Empty, ociimage.Descriptor{
			MediaType: mediaType,
			Digest:    digest.None,
			Size:      0,
		}, nil
	}

	if mediaType != ociimage.MediaTypeImageLayer && mediaType != ociimage.MediaTypeImageLayerGzip {
		return "", ociimage.Descriptor{}, ErrUnsupportedMediaType
	}

	items := make([]changeset.Change, len(cs.Items))
	copy(items, cs.Items)
	sort.Slice(items, func(i, j int) bool { return changeset.Less(items[i], items[j]) })

	blobDir, err := store.LayerBlobDir()
	if err != nil {
		return "", ociimage.Descriptor{}, err
	}
	tmpFile, err := os.CreateTemp(blobDir, "layer-*.tmp")
	if err != nil {
		return "", ociimage.Descriptor{}, err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	blobHash := sha256.New()
	counter := &byteCounter{}
	blobWriter := io.MultiWriter(tmpFile, blobHash, counter)

	var encoder io.Writer = blobWriter
	var gz *gzip.Writer
	if mediaType == ociimage.MediaTypeImageLayerGzip {
		gz = gzip.NewWriter(blobWriter)
		encoder = gz
	}

	diffHash := sha256.New()
	tarWriter := tar.NewWriter(io.MultiWriter(encoder, diffHash))

	destDir := strings.TrimPrefix(cs.DestDir, "/")
	if err := prependDestDirs(tarWriter, destDir, cs.SourceDir); err != nil {
		slog.Warn("layer: failed to prepend destination directories", "error", err)
	}

	added, modified, removed := []string{}, []string{}, []string{}
	for _, c := range items {
		switch c.Kind {
		case changeset.Added, changeset.Modified:
			if err := appendChange(tarWriter, cs.SourceDir, destDir, c.Path); err != nil {
				slog.Warn("layer: skipping change", "path", c.Path, "error", err)
				continue
			}
			if c.Kind == changeset.Added {
				added = append(added, c.Path)
			} else {
				modified = append(modified, c.Path)
			}
		case changeset.Removed:
			if err := appendWhiteout(tarWriter, destDir, c.Path); err != nil {
				slog.Warn("layer: skipping whiteout", "path", c.Path, "error", err)
				continue
			}
			removed = append(removed, c.Path)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return "", ociimage.Descriptor{}, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return "", ociimage.Descriptor{}, err
		}
	}

	diffID := digest.Digest("sha256:" + hexSum(diffHash))

	if err := tmpFile.Close(); err != nil {
		return "", ociimage.Descriptor{}, err
	}
	blobDigest := digest.Digest("sha256:" + hexSum(blobHash))
	if err := store.FinalizeLayerBlob(tmpPath, blobDigest); err != nil {
		return "", ociimage.Descriptor{}, err
	}

	desc := ociimage.Descriptor{
		MediaType: mediaType,
		Digest:    blobDigest,
		Size:      counter.n,
		Annotations: map[string]string{
			"dev.hpmq.layer.stamp":    annotationStampVersion,
			"dev.hpmq.layer.created":  time.Now().UTC().Format(time.RFC3339),
			"dev.hpmq.layer.destdir":  cs.DestDir,
			"dev.hpmq.layer.changes":  strconv.Itoa(len(items)),
			"dev.hpmq.layer.added":    joinCapped(added),
			"dev.hpmq.layer.modified": joinCapped(modified),
			"dev.hpmq.layer.removed":  joinCapped(removed),
		},
	}
	return diffID, desc, nil
}

func joinCapped(paths []string) string {
	if len(paths) > maxAnnotatedPaths {
		paths = paths[:maxAnnotatedPaths]
	}
	return strings.Join(paths, ":")
}

func hexSum(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}

type byteCounter struct{ n int64 }

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func prependDestDirs(tw *tar.Writer, destDir, sourceDir string) error {
	if destDir == "" {
		return nil
	}
	info, err := os.Stat(sourceDir)
	if err != nil {
		return err
	}

	uid, gid := ownerOf(info)
	acc := ""
	for _, component := range strings.Split(destDir, "/") {
		if component == "" {
			continue
		}
		acc = path.Join(acc, component)
		hdr := &tar.Header{
			Name:     acc + "/",
			Typeflag: tar.TypeDir,
			Mode:     int64(info.Mode().Perm()),
			Uid:      uid,
			Gid:      gid,
			ModTime:  info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
	}
	return nil
}

func appendChange(tw *tar.Writer, sourceDir, destDir, p string) error {
	sourcePath := filepath.Join(sourceDir, filepath.FromSlash(p))
	entryName := path.Join(destDir, p)

	lst, err := os.Lstat(sourcePath)
	if err != nil {
		return err
	}

	if lst.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(sourcePath)
		if err != nil {
			return err
		}
		uid, gid := ownerOf(lst)
		return tw.WriteHeader(&tar.Header{
			Name:     entryName,
			Typeflag: tar.TypeSymlink,
			Linkname: target,
			Size:     0,
			Mode:     int64(lst.Mode().Perm()),
			Uid:      uid,
			Gid:      gid,
			ModTime:  lst.ModTime(),
		})
	}

	if lst.IsDir() {
		uid, gid := ownerOf(lst)
		return tw.WriteHeader(&tar.Header{
			Name:     entryName + "/",
			Typeflag: tar.TypeDir,
			Mode:     int64(lst.Mode().Perm()),
			Uid:      uid,
			Gid:      gid,
			ModTime:  lst.ModTime(),
		})
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()

	uid, gid := ownerOf(lst)
	hdr := &tar.Header{
		Name:     entryName,
		Typeflag: tar.TypeReg,
		Size:     lst.Size(),
		Mode:     int64(lst.Mode().Perm()),
		Uid:      uid,
		Gid:      gid,
		ModTime:  lst.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func appendWhiteout(tw *tar.Writer, destDir, p string) error {
	entryName := path.Join(destDir, p)
	return tw.WriteHeader(&tar.Header{
		Name:     whiteoutName(entryName),
		Typeflag: tar.TypeReg,
		Size:     0,
		Mode:     0o644,
		ModTime:  time.Now().UTC(),
	})
}

package layer

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpmq/hpmq/lib/changeset"
	"github.com/hpmq/hpmq/lib/digest"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/ociimage"
	"github.com/stretchr/testify/require"
)

func TestWriteEmptyChangeSet(t *testing.T) {
	store := layout.New(t.TempDir())
	diffID, desc, err := Write(changeset.ChangeSet{}, store, ociimage.MediaTypeImageLayer)
	require.NoError(t, err)
	require.Equal(t, digest.Empty, diffID)
	require.Equal(t, digest.None, desc.Digest)
	require.Zero(t, desc.Size)
}

func TestWriteUnsupportedMediaType(t *testing.T) {
	store := layout.New(t.TempDir())
	cs := changeset.ChangeSet{Items: []changeset.Change{{Kind: changeset.Added, Path: "a"}}}
	_, _, err := Write(cs, store, "application/vnd.oci.image.layer.nonstandard.v1")
	require.ErrorIs(t, err, ErrUnsupportedMediaType)
}

func TestWriteAddedFilesProducesReadableTar(t *testing.T) {
	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello"), 0o644))

	cs := changeset.ChangeSet{
		SourceDir: sourceDir,
		DestDir:   "/",
		Items:     []changeset.Change{{Kind: changeset.Added, Path: "a.txt"}},
	}

	store := layout.New(t.TempDir())
	diffID, desc, err := Write(cs, store, ociimage.MediaTypeImageLayer)
	require.NoError(t, err)
	require.NotEqual(t, digest.Empty, diffID)
	require.NotEmpty(t, desc.Digest)
	require.Greater(t, desc.Size, int64(0))

	blobPath := store.LayerBlobPath(desc.Digest)
	f, err := os.Open(blobPath)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(f)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	require.Contains(t, names, "a.txt")
}

func TestWriteRemovedEmitsWhiteout(t *testing.T) {
	sourceDir := t.TempDir()
	cs := changeset.ChangeSet{
		SourceDir: sourceDir,
		DestDir:   "/",
		Items:     []changeset.Change{{Kind: changeset.Removed, Path: "gone.txt"}},
	}

	store := layout.New(t.TempDir())
	_, desc, err := Write(cs, store, ociimage.MediaTypeImageLayer)
	require.NoError(t, err)

	f, err := os.Open(store.LayerBlobPath(desc.Digest))
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(f)
	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, ".wh.gone.txt", hdr.Name)
	require.Zero(t, hdr.Size)
}

func TestIsWhiteout(t *testing.T) {
	target, ok := IsWhiteout("config/.wh.secret.txt")
	require.True(t, ok)
	require.Equal(t, "config/secret.txt", target)

	_, ok = IsWhiteout("config/plain.txt")
	require.False(t, ok)
}

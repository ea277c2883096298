package registryclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/hpmq/hpmq/lib/imageref"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/repositories"
	"github.com/stretchr/testify/require"
)

// newTestRegistryRef builds a minimal image with no layers and pushes it to
// a throwaway in-memory registry server, returning the reference to pull.
func newTestRegistryRef(t *testing.T) imageref.Reference {
	t.Helper()

	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	refStr := host + "/test/image:latest"

	named, err := name.ParseReference(refStr)
	require.NoError(t, err)

	img, err := mutate.AppendLayers(empty.Image)
	require.NoError(t, err)

	require.NoError(t, remote.Write(named, img))

	ref, err := imageref.Parse(refStr)
	require.NoError(t, err)
	return ref
}

func TestPullFetchesManifestAndUpdatesIndex(t *testing.T) {
	ref := newTestRegistryRef(t)

	store := layout.New(t.TempDir())
	idx, err := repositories.Load(store)
	require.NoError(t, err)

	manifestDigest, err := Pull(context.Background(), store, idx, ref, Auth{})
	require.NoError(t, err)
	require.NotEmpty(t, manifestDigest)
	require.True(t, store.ExistManifest(manifestDigest))

	got, ok := idx.Digest(ref)
	require.True(t, ok)
	require.Equal(t, manifestDigest, got)
}

func TestPullIsIdempotent(t *testing.T) {
	ref := newTestRegistryRef(t)

	store := layout.New(t.TempDir())
	idx, err := repositories.Load(store)
	require.NoError(t, err)

	d1, err := Pull(context.Background(), store, idx, ref, Auth{})
	require.NoError(t, err)
	d2, err := Pull(context.Background(), store, idx, ref, Auth{})
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestPushUnknownImageFails(t *testing.T) {
	store := layout.New(t.TempDir())
	idx, err := repositories.Load(store)
	require.NoError(t, err)

	ref, err := imageref.Parse("alpine:latest")
	require.NoError(t, err)

	err = Push(context.Background(), store, idx, ref, Auth{})
	require.ErrorIs(t, err, ErrUnknownImage)
}

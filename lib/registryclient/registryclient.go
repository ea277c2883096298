// Package registryclient pulls and pushes images against an OCI
// Distribution Spec v2 registry, using go-containerregistry for wire
// protocol and idempotent content-addressed transfer against the local
// store.
package registryclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/hpmq/hpmq/lib/digest"
	"github.com/hpmq/hpmq/lib/imageref"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/ociimage"
	"github.com/hpmq/hpmq/lib/repositories"
)

// ErrUnknownImage is returned by Push when the reference has no manifest
// digest recorded in the repositories index.
var ErrUnknownImage = errors.New("registryclient: unknown image")

// Auth is an opaque registry credential; this component does not
// interpret or enforce any authentication policy.
type Auth struct {
	Username string
	Password string
	Token    string
}

func (a Auth) authenticator() authn.Authenticator {
	if a.Token != "" {
		return &authn.Bearer{Token: a.Token}
	}
	if a.Username != "" {
		return &authn.Basic{Username: a.Username, Password: a.Password}
	}
	return authn.Anonymous
}

// Pull fetches ref's manifest, config, and any missing layer blobs from
// the registry, stores them locally keyed by diffID (so the materializer
// can find them via config.rootf.diff_ids), and records the manifest
// digest in the repositories index. All fetches are idempotent: content
// already present locally is never re-fetched.
func Pull(ctx context.Context, store *layout.Store, idx *repositories.Index, ref imageref.Reference, auth Auth) (digest.Digest, error) {
	named, err := name.ParseReference(ref.String())
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}

	img, err := remote.Image(named,
		remote.WithContext(ctx),
		remote.WithAuth(auth.authenticator()),
	)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}

	rawConfig, err := img.RawConfigFile()
	if err != nil {
		return "", fmt.Errorf("fetch config: %w", err)
	}
	configDigest := digest.FromBytes(rawConfig)
	if !store.ExistConfig(configDigest) {
		if err := store.SaveConfig(configDigest, rawConfig); err != nil {
			return "", fmt.Errorf("save config: %w", err)
		}
	}

	layers, err := img.Layers()
	if err != nil {
		return "", fmt.Errorf("list layers: %w", err)
	}

	var layerDescs []ociimage.Descriptor
	for _, l := range layers {
		diffID, size, err := pullLayer(store, l)
		if err != nil {
			return "", fmt.Errorf("pull layer: %w", err)
		}
		layerDescs = append(layerDescs, ociimage.Descriptor{
			MediaType: ociimage.MediaTypeImageLayer,
			Digest:    diffID,
			Size:      size,
		})
	}

	manifest := ociimage.NewManifest(ociimage.Descriptor{
		MediaType: ociimage.MediaTypeImageConfig,
		Digest:    configDigest,
		Size:      int64(len(rawConfig)),
	}, layerDescs)

	manifestBytes, err := manifest.Canonicalize()
	if err != nil {
		return "", err
	}
	manifestDigest := digest.FromBytes(manifestBytes)
	if err := store.SaveManifest(manifestDigest, manifestBytes); err != nil {
		return "", fmt.Errorf("save manifest: %w", err)
	}

	if err := idx.UpdateAndSave(store, ref, manifestDigest); err != nil {
		return "", fmt.Errorf("update repositories index: %w", err)
	}
	return manifestDigest, nil
}

// pullLayer streams l's uncompressed content into the local store keyed
// by its diffID, skipping the write entirely if already present.
func pullLayer(store *layout.Store, l v1.Layer) (digest.Digest, int64, error) {
	h, err := l.DiffID()
	if err != nil {
		return "", 0, err
	}
	diffID := digest.Digest(h.String())

	if store.ExistLayer(diffID) {
		info, err := layerBlobSize(store, diffID)
		if err != nil {
			return "", 0, err
		}
		return diffID, info, nil
	}

	rc, err := l.Uncompressed()
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	hasher := sha256.New()
	var buf sizeBuffer
	if _, err := io.Copy(&buf, io.TeeReader(rc, hasher)); err != nil {
		return "", 0, err
	}
	actual := digest.Digest("sha256:" + hex.EncodeToString(hasher.Sum(nil)))
	if err := store.SaveLayer(actual, buf.data); err != nil {
		return "", 0, err
	}
	return actual, int64(len(buf.data)), nil
}

func layerBlobSize(store *layout.Store, d digest.Digest) (int64, error) {
	info, err := os.Stat(store.LayerBlobPath(d))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

type sizeBuffer struct{ data []byte }

func (b *sizeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Push resolves ref's manifest digest in the repositories index, loads
// the manifest, config, and layers from the local store, and pushes them
// to the registry via go-containerregistry's bulk-write primitive, which
// owns HEAD/POST/PUT blob-upload choreography.
func Push(ctx context.Context, store *layout.Store, idx *repositories.Index, ref imageref.Reference, auth Auth) error {
	manifestDigest, ok := idx.Digest(ref)
	if !ok {
		return ErrUnknownImage
	}

	manifestBytes, err := store.ReadManifest(manifestDigest)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := ociimage.ParseManifest(manifestBytes)
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	configBytes, err := store.ReadConfig(manifest.Config.Digest)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	img := &localImage{store: store, manifest: manifest, configBytes: configBytes}

	named, err := name.ParseReference(ref.String())
	if err != nil {
		return fmt.Errorf("parse reference: %w", err)
	}

	return remote.Write(named, img,
		remote.WithContext(ctx),
		remote.WithAuth(auth.authenticator()),
	)
}

// localImage adapts the local store's manifest, config, and layers to
// go-containerregistry's v1.Image interface for push, generalizing the
// registry server's blobStoreImage into a client-side read adapter.
type localImage struct {
	store       *layout.Store
	manifest    ociimage.Manifest
	configBytes []byte
}

func (i *localImage) Layers() ([]v1.Layer, error) {
	layers := make([]v1.Layer, 0, len(i.manifest.Layers))
	for _, d := range i.manifest.Layers {
		layers = append(layers, &localLayer{store: i.store, desc: d})
	}
	return layers, nil
}

func (i *localImage) MediaType() (types.MediaType, error) {
	return types.MediaType(i.manifest.MediaType), nil
}

func (i *localImage) Size() (int64, error) { return int64(len(i.rawManifest())), nil }

func (i *localImage) ConfigName() (v1.Hash, error) {
	return v1.NewHash(i.manifest.Config.Digest.String())
}

func (i *localImage) ConfigFile() (*v1.ConfigFile, error) {
	var cf v1.ConfigFile
	return &cf, nil
}

func (i *localImage) RawConfigFile() ([]byte, error) { return i.configBytes, nil }

func (i *localImage) Digest() (v1.Hash, error) {
	return v1.NewHash(digest.FromBytes(i.rawManifest()).String())
}

func (i *localImage) Manifest() (*v1.Manifest, error) {
	return v1.ParseManifest(bytesReader(i.rawManifest()))
}

func (i *localImage) RawManifest() ([]byte, error) { return i.rawManifest(), nil }

func (i *localImage) LayerByDigest(h v1.Hash) (v1.Layer, error) {
	for _, d := range i.manifest.Layers {
		if d.Digest.String() == h.String() {
			return &localLayer{store: i.store, desc: d}, nil
		}
	}
	return nil, errors.New("registryclient: layer not found")
}

func (i *localImage) LayerByDiffID(h v1.Hash) (v1.Layer, error) { return i.LayerByDigest(h) }

func (i *localImage) rawManifest() []byte {
	b, _ := i.manifest.Canonicalize()
	return b
}

// localLayer adapts one stored layer blob to v1.Layer for push. Since
// hpmq only produces uncompressed layers, Compressed and Uncompressed
// return the same bytes.
type localLayer struct {
	store *layout.Store
	desc  ociimage.Descriptor
}

func (l *localLayer) Digest() (v1.Hash, error) { return v1.NewHash(l.desc.Digest.String()) }
func (l *localLayer) DiffID() (v1.Hash, error)  { return v1.NewHash(l.desc.Digest.String()) }
func (l *localLayer) Size() (int64, error)      { return l.desc.Size, nil }
func (l *localLayer) MediaType() (types.MediaType, error) {
	return types.MediaType(l.desc.MediaType), nil
}
func (l *localLayer) Compressed() (io.ReadCloser, error) {
	return openFile(l.store.LayerBlobPath(l.desc.Digest))
}
func (l *localLayer) Uncompressed() (io.ReadCloser, error) {
	return openFile(l.store.LayerBlobPath(l.desc.Digest))
}

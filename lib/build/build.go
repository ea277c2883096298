// Package build sequences a declarative recipe into snapshots,
// change-sets, layers, a config, and a manifest, recording the result in
// the repositories index.
package build

import (
	"context"
	"errors"
	"os"
	"path"

	"github.com/nrednav/cuid2"

	"github.com/hpmq/hpmq/lib/digest"
	"github.com/hpmq/hpmq/lib/imageref"
	"github.com/hpmq/hpmq/lib/layer"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/ociimage"
	"github.com/hpmq/hpmq/lib/repositories"
	"github.com/hpmq/hpmq/lib/snapshot"
)

// ErrMissingCmd is returned when the final snapshot does not contain the
// build's configured entrypoint artifact.
var ErrMissingCmd = errors.New("build: cmd artifact missing from final snapshot")

// Copy is one recipe step: copy a local file into the building image at Dest.
type Copy struct {
	LocalSrcPath string
	Dest         Dest
}

// Config is a declarative build recipe.
type Config struct {
	Kind  string // "Wasi" | "App"
	Copys []Copy
	Cmd   Dest
}

// Run executes a build: snapshot, copy-in per step, diff each adjacent
// pair into a layer, assemble the config and manifest, and record the
// result under image in the repositories index. Returns the manifest
// digest.
func Run(ctx context.Context, store *layout.Store, idx *repositories.Index, cfg Config, image imageref.Reference) (digest.Digest, error) {
	root0, err := os.MkdirTemp("", "hpmq-build-"+cuid2.Generate()+"-*")
	if err != nil {
		return "", err
	}

	snapshots := []snapshot.Snapshot{{Root: root0, DestDir: "/"}}
	for _, c := range cfg.Copys {
		prev := snapshots[len(snapshots)-1]
		next, err := snapshot.ForkSelf(ctx, prev)
		if err != nil {
			return "", err
		}
		if err := snapshot.CopyIn(next, c.LocalSrcPath, c.Dest.Directory, c.Dest.FileName); err != nil {
			return "", err
		}
		snapshots = append(snapshots, next)
	}

	last := snapshots[len(snapshots)-1]
	cmdRelPath := path.Join(cfg.Cmd.Directory, cfg.Cmd.FileName)
	if _, err := os.Stat(path.Join(last.Root, cmdRelPath)); err != nil {
		return "", ErrMissingCmd
	}

	var diffIDs []digest.Digest
	var layers []ociimage.Descriptor

	prev := snapshots[0]
	for _, next := range snapshots[1:] {
		cs, err := snapshot.Diff(ctx, prev, next)
		if err != nil {
			return "", err
		}
		diffID, desc, err := layer.Write(cs, store, ociimage.MediaTypeImageLayer)
		if err != nil {
			return "", err
		}
		diffIDs = append(diffIDs, diffID)
		layers = append(layers, desc)
		prev = next
	}

	configFile := ociimage.ConfigFile{
		Kind: cfg.Kind,
		Cmd:  cmdRelPath,
		RootF: ociimage.RootFS{
			Type:    "layers",
			DiffIDs: diffIDs,
		},
	}
	configBytes, err := configFile.Canonicalize()
	if err != nil {
		return "", err
	}
	configDigest := digest.FromBytes(configBytes)
	if err := store.SaveConfig(configDigest, configBytes); err != nil {
		return "", err
	}

	manifest := ociimage.NewManifest(ociimage.Descriptor{
		MediaType: ociimage.MediaTypeImageConfig,
		Digest:    configDigest,
		Size:      int64(len(configBytes)),
	}, layers)

	manifestBytes, err := manifest.Canonicalize()
	if err != nil {
		return "", err
	}
	manifestDigest := digest.FromBytes(manifestBytes)
	if err := store.SaveManifest(manifestDigest, manifestBytes); err != nil {
		return "", err
	}

	if err := idx.UpdateAndSave(store, image, manifestDigest); err != nil {
		return "", err
	}
	return manifestDigest, nil
}

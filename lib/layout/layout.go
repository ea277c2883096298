// Package layout provides centralized path construction and primitive
// blob I/O for the hpmq content-addressed store.
//
// Directory structure:
//
//	{root}/
//	  imagedb/
//	    sha256/{hex}           config blobs, keyed by config digest
//	    images.json            repositories index
//	    manifests/
//	      sha256/{hex}         manifest blobs, keyed by manifest digest
//	  layerdb/
//	    blobs/
//	      sha256/{hex}         layer blobs, keyed by the digest of the stored bytes
//	  containerdb/
//	    {manifest-digest}/     materialized root filesystem
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpmq/hpmq/lib/digest"
)

// Store provides typed path construction and atomic blob writes rooted at
// a single directory.
type Store struct {
	root string
}

// New creates a Store rooted at root. The directory tree is created lazily.
func New(root string) *Store {
	return &Store{root: root}
}

// Default resolves the store root to $HOME/.hpmq, or $HPMQ_HOME if set.
func Default() (*Store, error) {
	if home := os.Getenv("HPMQ_HOME"); home != "" {
		return New(home), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return New(filepath.Join(home, ".hpmq")), nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// ImageDBDir returns the imagedb/ directory.
func (s *Store) ImageDBDir() string {
	return filepath.Join(s.root, "imagedb")
}

// ConfigBlobPath returns the path to a config blob.
func (s *Store) ConfigBlobPath(d digest.Digest) string {
	return filepath.Join(s.root, "imagedb", "sha256", d.Hex())
}

// RepositoriesPath returns the path to the repositories index file.
func (s *Store) RepositoriesPath() string {
	return filepath.Join(s.root, "imagedb", "images.json")
}

// ManifestBlobPath returns the path to a manifest blob.
func (s *Store) ManifestBlobPath(d digest.Digest) string {
	return filepath.Join(s.root, "imagedb", "manifests", "sha256", d.Hex())
}

// LayerBlobPath returns the path to a layer blob, keyed by the digest of
// its stored bytes. Built layers use the uncompressed media type and pulled
// layers are stored decompressed, so for both this digest is also the
// layer's diffID.
func (s *Store) LayerBlobPath(d digest.Digest) string {
	return filepath.Join(s.root, "layerdb", "blobs", "sha256", d.Hex())
}

// LayerBlobDir returns the directory layer blobs are stored under,
// creating it if necessary. Callers stream a new blob to a temp file here
// before calling FinalizeLayerBlob.
func (s *Store) LayerBlobDir() (string, error) {
	dir := filepath.Join(s.root, "layerdb", "blobs", "sha256")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// FinalizeLayerBlob renames a completed temp file into its digest-named
// final location.
func (s *Store) FinalizeLayerBlob(tmpPath string, d digest.Digest) error {
	return os.Rename(tmpPath, s.LayerBlobPath(d))
}

// SaveLayer writes a layer blob keyed by d, if not already present. Layer
// blobs are content-addressed and never rewritten, so this is idempotent
// without needing the temp-file-and-rename dance SaveConfig/SaveManifest use.
func (s *Store) SaveLayer(d digest.Digest, b []byte) error {
	if s.ExistLayer(d) {
		return nil
	}
	dir := filepath.Join(s.root, "layerdb", "blobs", "sha256")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(s.LayerBlobPath(d), b, 0o644)
}

// ContainerDir returns the materialized root filesystem directory for a
// given manifest digest.
func (s *Store) ContainerDir(manifestDigest digest.Digest) string {
	return filepath.Join(s.root, "containerdb", manifestDigest.Hex())
}

// ExistConfig reports whether a config blob is already present.
func (s *Store) ExistConfig(d digest.Digest) bool {
	return exists(s.ConfigBlobPath(d))
}

// ExistLayer reports whether a layer blob is already present.
func (s *Store) ExistLayer(d digest.Digest) bool {
	return exists(s.LayerBlobPath(d))
}

// ExistManifest reports whether a manifest blob is already present.
func (s *Store) ExistManifest(d digest.Digest) bool {
	return exists(s.ManifestBlobPath(d))
}

// ExistContainer reports whether a container directory has been
// materialized for the given manifest digest.
func (s *Store) ExistContainer(d digest.Digest) bool {
	return exists(s.ContainerDir(d))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SaveConfig atomically writes a config blob.
func (s *Store) SaveConfig(d digest.Digest, b []byte) error {
	return atomicWrite(s.ConfigBlobPath(d), b)
}

// SaveManifest atomically writes a manifest blob.
func (s *Store) SaveManifest(d digest.Digest, b []byte) error {
	return atomicWrite(s.ManifestBlobPath(d), b)
}

// ReadConfig reads a config blob.
func (s *Store) ReadConfig(d digest.Digest) ([]byte, error) {
	return os.ReadFile(s.ConfigBlobPath(d))
}

// ReadManifest reads a manifest blob.
func (s *Store) ReadManifest(d digest.Digest) ([]byte, error) {
	return os.ReadFile(s.ManifestBlobPath(d))
}

// atomicWrite writes b to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func atomicWrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

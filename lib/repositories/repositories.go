// Package repositories maintains the images.json reverse index mapping
// repo+ref strings to manifest digests.
package repositories

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/hpmq/hpmq/lib/digest"
	"github.com/hpmq/hpmq/lib/imageref"
	"github.com/hpmq/hpmq/lib/layout"
)

// Index is the in-memory form of images.json: repository -> ref -> manifest digest.
type Index struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// onDisk is the wire shape of images.json: {"repositories": {full_name: {whole_name: digest}}}.
type onDisk struct {
	Repositories map[string]map[string]string `json:"repositories"`
}

// Load reads the repositories index from the store, returning an empty
// index if it does not yet exist.
func Load(s *layout.Store) (*Index, error) {
	ix := &Index{data: make(map[string]map[string]string)}

	b, err := os.ReadFile(s.RepositoriesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return ix, nil
	}
	var doc onDisk
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.Repositories != nil {
		ix.data = doc.Repositories
	}
	return ix, nil
}

// Digest looks up the manifest digest for a reference, returning false if
// unknown.
func (ix *Index) Digest(ref imageref.Reference) (digest.Digest, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	refs, ok := ix.data[ref.Repository()]
	if !ok {
		return "", false
	}
	d, ok := refs[ref.WholeName()]
	if !ok {
		return "", false
	}
	parsed, err := digest.Parse(d)
	if err != nil {
		return "", false
	}
	return parsed, true
}

// Update records the manifest digest for a reference, in memory only.
func (ix *Index) Update(ref imageref.Reference, d digest.Digest) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	repo := ref.Repository()
	if ix.data[repo] == nil {
		ix.data[repo] = make(map[string]string)
	}
	ix.data[repo][ref.WholeName()] = d.String()
}

// Save atomically persists the index to disk.
func (ix *Index) Save(s *layout.Store) error {
	ix.mu.RLock()
	b, err := json.MarshalIndent(onDisk{Repositories: ix.data}, "", "  ")
	ix.mu.RUnlock()
	if err != nil {
		return err
	}

	path := s.RepositoriesPath()
	tmp := path + ".tmp"
	if err := os.MkdirAll(s.ImageDBDir(), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// UpdateAndSave records a digest and immediately persists the index.
func (ix *Index) UpdateAndSave(s *layout.Store, ref imageref.Reference, d digest.Digest) error {
	ix.Update(ref, d)
	return ix.Save(s)
}

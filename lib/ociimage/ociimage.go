// Package ociimage defines the config and manifest document types
// hpmq reads and writes, using the OCI image-spec media type constants.
package ociimage

import (
	"encoding/json"
	"errors"
	"fmt"

	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/hpmq/hpmq/lib/digest"
)

// ErrCorruptBlob wraps a config or manifest document that fails to parse.
var ErrCorruptBlob = errors.New("ociimage: corrupt blob")

// MediaType mirrors the OCI image-spec media type strings.
type MediaType string

const (
	MediaTypeImageManifest  MediaType = MediaType(ispec.MediaTypeImageManifest)
	MediaTypeImageConfig    MediaType = MediaType(ispec.MediaTypeImageConfig)
	MediaTypeImageLayer     MediaType = MediaType(ispec.MediaTypeImageLayer)
	MediaTypeImageLayerGzip MediaType = MediaType(ispec.MediaTypeImageLayerGzip)
)

// Descriptor references a content-addressed blob.
type Descriptor struct {
	MediaType   MediaType         `json:"mediaType"`
	Digest      digest.Digest     `json:"digest"`
	Size        int64             `json:"size"`
	URLs        []string          `json:"urls,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// RootFS lists the ordered diffIDs composing an image's filesystem.
type RootFS struct {
	Type    string          `json:"type"`
	DiffIDs []digest.Digest `json:"diff_ids"`
}

// ConfigFile is the image configuration document.
type ConfigFile struct {
	Kind  string `json:"kind"` // "Wasi" | "App"
	Cmd   string `json:"cmd"`
	RootF RootFS `json:"rootf"`
}

// Canonicalize returns the deterministic JSON encoding used for digest
// computation and disk storage. encoding/json already emits map keys
// (the only map-typed field here is Annotations, absent from ConfigFile)
// in sorted order, so no extra canonicalization pass is required.
func (c ConfigFile) Canonicalize() ([]byte, error) {
	return json.Marshal(c)
}

// Manifest is the OCI image manifest document.
type Manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     MediaType         `json:"mediaType"`
	Config        Descriptor        `json:"config"`
	Layers        []Descriptor      `json:"layers"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// Canonicalize returns the deterministic JSON encoding used for digest
// computation and disk storage.
func (m Manifest) Canonicalize() ([]byte, error) {
	return json.Marshal(m)
}

// NewManifest builds a schema-version-2 OCI manifest from a config
// descriptor and ordered layer descriptors.
func NewManifest(config Descriptor, layers []Descriptor) Manifest {
	return Manifest{
		SchemaVersion: 2,
		MediaType:     MediaTypeImageManifest,
		Config:        config,
		Layers:        layers,
	}
}

// ParseConfig decodes a config document.
func ParseConfig(b []byte) (ConfigFile, error) {
	var c ConfigFile
	if err := json.Unmarshal(b, &c); err != nil {
		return ConfigFile{}, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	return c, nil
}

// ParseManifest decodes a manifest document.
func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	return m, nil
}

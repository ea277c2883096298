package ociimage

import (
	"testing"

	"github.com/hpmq/hpmq/lib/digest"
	"github.com/stretchr/testify/require"
)

func TestConfigCanonicalizeRoundTrips(t *testing.T) {
	c := ConfigFile{
		Kind: "App",
		Cmd:  "/bin/sh",
		RootF: RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{digest.FromBytes([]byte("layer1"))},
		},
	}
	b, err := c.Canonicalize()
	require.NoError(t, err)

	back, err := ParseConfig(b)
	require.NoError(t, err)
	require.Equal(t, c, back)
}

func TestCanonicalizeDeterministic(t *testing.T) {
	c := ConfigFile{Kind: "App", Cmd: "/bin/sh", RootF: RootFS{Type: "layers"}}
	b1, err := c.Canonicalize()
	require.NoError(t, err)
	b2, err := c.Canonicalize()
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestNewManifestSchemaVersion(t *testing.T) {
	m := NewManifest(Descriptor{MediaType: MediaTypeImageConfig}, nil)
	require.Equal(t, 2, m.SchemaVersion)
	require.Equal(t, MediaTypeImageManifest, m.MediaType)
}

func TestParseConfigRejectsCorruptBlob(t *testing.T) {
	_, err := ParseConfig([]byte("not json"))
	require.ErrorIs(t, err, ErrCorruptBlob)
}

func TestParseManifestRejectsCorruptBlob(t *testing.T) {
	_, err := ParseManifest([]byte("not json"))
	require.ErrorIs(t, err, ErrCorruptBlob)
}

package layout

import (
	"os"
	"testing"

	"github.com/hpmq/hpmq/lib/digest"
	"github.com/stretchr/testify/require"
)

func TestSaveAndReadConfig(t *testing.T) {
	s := New(t.TempDir())
	d := digest.FromBytes([]byte("config"))

	require.False(t, s.ExistConfig(d))
	require.NoError(t, s.SaveConfig(d, []byte("config")))
	require.True(t, s.ExistConfig(d))

	b, err := s.ReadConfig(d)
	require.NoError(t, err)
	require.Equal(t, []byte("config"), b)
}

func TestSaveManifestCreatesParents(t *testing.T) {
	s := New(t.TempDir())
	d := digest.FromBytes([]byte("manifest"))
	require.NoError(t, s.SaveManifest(d, []byte("manifest")))

	info, err := os.Stat(s.ManifestBlobPath(d))
	require.NoError(t, err)
	require.False(t, info.IsDir())
}

func TestContainerDirPath(t *testing.T) {
	s := New("/tmp/store")
	d := digest.FromBytes([]byte("x"))
	require.Contains(t, s.ContainerDir(d), "containerdb")
	require.Contains(t, s.ContainerDir(d), d.Hex())
}

func TestDefaultHonorsHPMQHome(t *testing.T) {
	t.Setenv("HPMQ_HOME", "/tmp/custom-hpmq")
	s, err := Default()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-hpmq", s.Root())
}

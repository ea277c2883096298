package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	d, err := Parse("sha256:" + strings.Repeat("a", 64))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("a", 64), d.Hex())
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"sha256:abc",
		"md5:" + strings.Repeat("a", 32),
		"not-a-digest",
		"sha256:" + strings.Repeat("z", 64),
	}
	for _, c := range cases {
		_, err := Parse(c)
		require.Error(t, err, "expected error for %q", c)
	}
}

func TestFromBytes(t *testing.T) {
	d := FromBytes([]byte("hello"))
	require.True(t, strings.HasPrefix(string(d), "sha256:"))
	require.NoError(t, d.Validate())
}

func TestFromReader(t *testing.T) {
	d, n, err := FromReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.EqualValues(t, 11, n)
	require.Equal(t, FromBytes([]byte("hello world")), d)
}

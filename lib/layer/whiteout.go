package layer

import (
	"path"
	"strings"
)

const whiteoutPrefix = ".wh."

// IsWhiteout reports whether a tar entry name's basename begins with
// ".wh.", and if so returns the path of the target it signals removing.
func IsWhiteout(name string) (target string, ok bool) {
	dir, base := path.Split(name)
	if !strings.HasPrefix(base, whiteoutPrefix) {
		return "", false
	}
	return dir + base[len(whiteoutPrefix):], true
}

// whiteoutName builds the ".wh."-prefixed tar entry name removing p.
func whiteoutName(p string) string {
	dir, base := path.Split(p)
	return dir + whiteoutPrefix + base
}

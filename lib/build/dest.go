package build

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidDestination is returned when a recipe destination string does
// not contain a '/' at all.
var ErrInvalidDestination = errors.New("build: invalid destination string")

var destPattern = regexp.MustCompile(`^(.*)/([^/]*)$`)

// Dest is a parsed recipe destination: an optional directory (empty means
// the image root) and an optional file name (empty means inherit the
// source file's basename).
type Dest struct {
	Directory string
	FileName  string
}

// ParseDest parses a destination string per the grammar `(.*)/([^/]*)$`.
// Inputs without a '/' are rejected.
func ParseDest(s string) (Dest, error) {
	m := destPattern.FindStringSubmatch(s)
	if m == nil {
		return Dest{}, ErrInvalidDestination
	}
	return Dest{
		Directory: strings.TrimPrefix(m[1], "/"),
		FileName:  m[2],
	}, nil
}

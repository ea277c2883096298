// Package imageref parses and normalizes image references of the form
// "registry/repo:tag" or "registry/repo@sha256:<hex>".
package imageref

import (
	"github.com/distribution/reference"
	"github.com/hpmq/hpmq/lib/digest"
)

// Reference is a validated, normalized image reference.
type Reference struct {
	raw        string
	repository string
	tag        string // empty if digest ref
	digest     digest.Digest
	isDigest   bool
}

// Parse validates and normalizes a user-supplied image reference.
// "alpine" becomes "docker.io/library/alpine:latest"; a bare digest
// reference keeps its digest and carries no tag.
func Parse(s string) (Reference, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return Reference{}, err
	}

	r := Reference{repository: reference.Domain(named) + "/" + reference.Path(named)}

	if canonical, ok := named.(reference.Canonical); ok {
		r.isDigest = true
		r.digest = digest.Digest(canonical.Digest().String())
		r.raw = canonical.String()
		return r, nil
	}

	tagged := reference.TagNameOnly(named)
	if t, ok := tagged.(reference.Tagged); ok {
		r.tag = t.Tag()
	}
	r.raw = tagged.String()
	return r, nil
}

// String returns the full normalized reference.
func (r Reference) String() string { return r.raw }

// Repository returns the repository path, without tag or digest.
func (r Reference) Repository() string { return r.repository }

// Tag returns the tag, or "" if this is a digest reference.
func (r Reference) Tag() string { return r.tag }

// Digest returns the pinned digest, or "" if this is a tag reference.
func (r Reference) Digest() digest.Digest { return r.digest }

// IsDigest reports whether this reference pins a digest rather than a tag.
func (r Reference) IsDigest() bool { return r.isDigest }

// FullName returns the repository, plus ":tag" or "@digest".
func (r Reference) FullName() string {
	if r.isDigest {
		return r.repository + "@" + r.digest.String()
	}
	return r.repository + ":" + r.tag
}

// WholeName is an alias for FullName, matching the repositories index's
// terminology for a fully-qualified repo+ref key.
func (r Reference) WholeName() string { return r.FullName() }

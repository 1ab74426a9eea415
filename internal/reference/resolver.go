// Package reference converts between stored names and the public references
// handed to callers. It never touches storage.
package reference

import (
	"errors"
	"fmt"
	"strings"

	"portfolio/imagestore/internal/naming"
	"portfolio/imagestore/internal/storage"
)

var ErrInvalidReference = errors.New("invalid reference")

const DefaultPrefix = "/images"

type Resolver struct {
	prefix   string
	thumbDir string
	specs    []string
}

// NewResolver serves references under prefix; derivatives live in thumbDir
// and are named after one of specs.
func NewResolver(prefix, thumbDir string, specs []string) *Resolver {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = DefaultPrefix
	}
	return &Resolver{
		prefix:   prefix,
		thumbDir: strings.Trim(thumbDir, "/"),
		specs:    append([]string(nil), specs...),
	}
}

func (r *Resolver) Prefix() string {
	return r.prefix
}

func (r *Resolver) ThumbnailDir() string {
	return r.thumbDir
}

// ToReference maps a root-relative stored path to its reference.
func (r *Resolver) ToReference(name string) string {
	return r.prefix + "/" + name
}

// ToStoredName accepts only <prefix>/<name> where name is a valid top-level
// file; everything else is ErrInvalidReference.
func (r *Resolver) ToStoredName(ref string) (string, error) {
	name, err := r.relative(ref)
	if err != nil {
		return "", err
	}
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return name, nil
}

// ToPath resolves any reference the resolver can produce, originals and
// derivatives alike, to its root-relative path.
func (r *Resolver) ToPath(ref string) (string, error) {
	name, err := r.relative(ref)
	if err != nil {
		return "", err
	}
	if dir, _, found := strings.Cut(name, "/"); found && dir != r.thumbDir {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return name, nil
}

// DerivativePath is the root-relative path of the spec-sized copy of stored.
func (r *Resolver) DerivativePath(stored, spec string) string {
	return r.thumbDir + "/" + naming.DerivativeName(stored, spec)
}

func (r *Resolver) ThumbnailReference(ref, spec string) (string, error) {
	stored, err := r.ToStoredName(ref)
	if err != nil {
		return "", err
	}
	return r.ToReference(r.DerivativePath(stored, spec)), nil
}

// OriginalReference inverts ThumbnailReference.
func (r *Resolver) OriginalReference(thumbRef string) (string, error) {
	name, err := r.relative(thumbRef)
	if err != nil {
		return "", err
	}
	dir, derived, found := strings.Cut(name, "/")
	if !found || dir != r.thumbDir {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, thumbRef)
	}
	stored, _, ok := naming.SplitDerivativeName(derived, r.specs)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, thumbRef)
	}
	return r.ToReference(stored), nil
}

func (r *Resolver) relative(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, r.prefix+"/")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if err := storage.ValidName(name); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return name, nil
}

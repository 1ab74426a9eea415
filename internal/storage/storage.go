package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"portfolio/imagestore/internal/models"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrExists      = errors.New("file already exists")
	ErrInvalidName = errors.New("invalid file name")
)

// Store keeps originals and derivatives under one root. Names are
// root-relative, slash separated and checked with ValidName before use.
type Store interface {
	// Write creates name and fails with ErrExists rather than overwrite.
	Write(ctx context.Context, name string, data []byte, contentType string) (models.StoredAsset, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (Info, error)
	// Delete reports whether name existed. A missing file is not an error.
	Delete(ctx context.Context, name string) (bool, error)
	Exists(ctx context.Context, name string) (bool, error)
	// List returns the base names of the files directly inside dir ("" is the root).
	List(ctx context.Context, dir string) ([]string, error)
	Ping(ctx context.Context) error
}

type Info struct {
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Error is a system-level storage failure.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxDepth = 2

// ValidName rejects anything that could resolve outside the root: absolute
// paths, dot segments, backslashes, hidden files and unclean paths.
func ValidName(name string) error {
	if name == "" || strings.ContainsAny(name, "\\\x00") || path.IsAbs(name) || path.Clean(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	segments := strings.Split(name, "/")
	if len(segments) > maxDepth {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, segment := range segments {
		if !segmentPattern.MatchString(segment) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

func validDir(dir string) error {
	if dir == "" {
		return nil
	}
	return ValidName(dir)
}

func asset(name string, size int64, contentType string, createdAt time.Time) models.StoredAsset {
	return models.StoredAsset{
		Name:        path.Base(name),
		Path:        name,
		SizeBytes:   size,
		ContentType: contentType,
		CreatedAt:   createdAt,
	}
}

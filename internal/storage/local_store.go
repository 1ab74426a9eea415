package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"portfolio/imagestore/internal/models"
)

const filePerm = 0o644

// LocalStore keeps files on a filesystem rooted at the storage directory.
// All access goes through an afero.BasePathFs, so even a name that slipped
// past ValidName cannot leave the root.
type LocalStore struct {
	fs   afero.Fs
	root string
	dirs []string
}

// NewLocalStore roots a store at dir on the OS filesystem and creates dir and
// the given subdirectories.
func NewLocalStore(dir string, subdirs ...string) (*LocalStore, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, &Error{Op: "resolve root", Name: dir, Err: err}
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Op: "create root", Name: root, Err: err}
	}
	return NewLocalStoreFs(afero.NewBasePathFs(osFs, root), root, subdirs...)
}

// NewLocalStoreFs uses fsys as the already-rooted filesystem.
func NewLocalStoreFs(fsys afero.Fs, root string, subdirs ...string) (*LocalStore, error) {
	for _, dir := range subdirs {
		if err := ValidName(dir); err != nil {
			return nil, err
		}
	}
	s := &LocalStore{fs: fsys, root: root, dirs: subdirs}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

// ensureDirs is safe to call concurrently; MkdirAll treats an existing
// directory as success.
func (s *LocalStore) ensureDirs() error {
	for _, dir := range append([]string{"."}, s.dirs...) {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return &Error{Op: "create directory", Name: dir, Err: err}
		}
	}
	return nil
}

func (s *LocalStore) Write(_ context.Context, name string, data []byte, contentType string) (models.StoredAsset, error) {
	if err := ValidName(name); err != nil {
		return models.StoredAsset{}, err
	}

	f, err := s.create(name)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return models.StoredAsset{}, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return models.StoredAsset{}, &Error{Op: "create", Name: name, Err: err}
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		_ = s.fs.Remove(name)
		return models.StoredAsset{}, &Error{Op: "write", Name: name, Err: errors.Join(writeErr, closeErr)}
	}

	return asset(name, int64(len(data)), contentType, time.Now().UTC()), nil
}

func (s *LocalStore) create(name string) (afero.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	f, err := s.fs.OpenFile(name, flags, filePerm)
	if errors.Is(err, fs.ErrNotExist) {
		// The directory was removed after startup; recreate it and retry once.
		if mkErr := s.fs.MkdirAll(path.Dir(name), 0o755); mkErr != nil {
			return nil, mkErr
		}
		f, err = s.fs.OpenFile(name, flags, filePerm)
	}
	return f, err
}

func (s *LocalStore) Read(ctx context.Context, name string) ([]byte, error) {
	if _, err := s.Stat(ctx, name); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "read", Name: name, Err: err}
	}
	return data, nil
}

func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, name); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "open", Name: name, Err: err}
	}
	return f, nil
}

func (s *LocalStore) Stat(_ context.Context, name string) (Info, error) {
	if err := ValidName(name); err != nil {
		return Info{}, err
	}
	fi, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, &Error{Op: "stat", Name: name, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return Info{}, ErrNotFound
	}
	return Info{Name: name, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (s *LocalStore) Delete(ctx context.Context, name string) (bool, error) {
	if _, err := s.Stat(ctx, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.fs.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &Error{Op: "delete", Name: name, Err: err}
	}
	return true, nil
}

func (s *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Stat(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *LocalStore) List(_ context.Context, dir string) ([]string, error) {
	if err := validDir(dir); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "."
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "list", Name: dir, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Mode().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalStore) Ping(_ context.Context) error {
	if _, err := s.fs.Stat("."); err != nil {
		return &Error{Op: "ping", Name: s.root, Err: err}
	}
	return nil
}

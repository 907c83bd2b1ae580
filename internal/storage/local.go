package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// LocalStore serves plain paths and file:// URIs from the local filesystem.
type LocalStore struct{}

func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func localPath(uri string) (string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if loc.Scheme != "" && loc.Scheme != "file" {
		return "", fmt.Errorf("local store cannot serve %q", uri)
	}
	return filepath.FromSlash(loc.Key), nil
}

// withScheme formats a filesystem path in the same URI style as reference.
func withScheme(reference, p string) string {
	loc, _ := ParseURI(reference)
	if loc.Scheme == "file" {
		return "file://" + filepath.ToSlash(p)
	}
	return p
}

func (s *LocalStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	p, err := localPath(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return f, err
}

func (s *LocalStore) List(ctx context.Context, pattern string) ([]string, error) {
	p, err := localPath(pattern)
	if err != nil {
		return nil, err
	}

	var files []string
	if hasMeta(p) {
		files, err = FindLocalFiles([]string{p})
		if err != nil {
			return nil, err
		}
	} else {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, nil
		case err != nil:
			return nil, err
		case info.Mode().IsRegular():
			files = []string{p}
		case info.IsDir():
			files, err = FindLocalFiles([]string{filepath.Join(p, "**", "*")})
			if err != nil {
				return nil, err
			}
			files = slices.DeleteFunc(files, func(f string) bool {
				rel, _ := filepath.Rel(p, f)
				return hasHiddenElem(rel)
			})
		}
	}

	slices.Sort(files)
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = withScheme(pattern, f)
	}
	return out, nil
}

func hasHiddenElem(rel string) bool {
	for {
		dir, file := filepath.Split(rel)
		if isHidden(file) {
			return true
		}
		dir = filepath.Clean(dir)
		if dir == "." || dir == string(filepath.Separator) || dir == "" {
			return false
		}
		rel = dir
	}
}

func (s *LocalStore) Put(ctx context.Context, uri string, r io.Reader, size int64) error {
	p, err := localPath(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (s *LocalStore) Exists(ctx context.Context, uri string) (bool, error) {
	p, err := localPath(uri)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *LocalStore) DeletePrefix(ctx context.Context, uri string) error {
	p, err := localPath(uri)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}

// FindLocalFiles expands doublestar patterns into regular files.
// Directories and symlinks are skipped.
func FindLocalFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
			}
		}
	}
	return files, nil
}

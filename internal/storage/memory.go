package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// MemoryStore keeps objects in memory, addressed as scheme://bucket/key.
type MemoryStore struct {
	mu      sync.RWMutex
	scheme  string
	objects map[string][]byte // bucket/key -> content
	puts    int
}

func NewMemoryStore(scheme string) *MemoryStore {
	return &MemoryStore{
		scheme:  scheme,
		objects: make(map[string][]byte),
	}
}

func memoryKey(uri string) (string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if loc.Bucket == "" {
		return "", fmt.Errorf("memory store cannot serve %q", uri)
	}
	return loc.Bucket + "/" + strings.TrimSuffix(loc.Key, "/"), nil
}

func (s *MemoryStore) uri(key string) string {
	return s.scheme + "://" + key
}

func (s *MemoryStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	key, err := memoryKey(uri)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, exists := s.objects[key]
	if !exists {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) List(ctx context.Context, pattern string) ([]string, error) {
	key, err := memoryKey(pattern)
	if err != nil {
		return nil, err
	}
	if hasMeta(key) && !doublestar.ValidatePattern(key) {
		return nil, doublestar.ErrBadPattern
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for k := range s.objects {
		switch {
		case hasMeta(key):
			if ok, _ := doublestar.Match(key, k); ok {
				out = append(out, s.uri(k))
			}
		case k == key:
			out = append(out, s.uri(k))
		case strings.HasPrefix(k, key+"/") && !hasHiddenKey(strings.TrimPrefix(k, key+"/")):
			out = append(out, s.uri(k))
		}
	}
	slices.Sort(out)
	return out, nil
}

func hasHiddenKey(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		if isHidden(elem) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Put(ctx context.Context, uri string, r io.Reader, size int64) error {
	key, err := memoryKey(uri)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts++
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, uri string) (bool, error) {
	if _, _, err := prefixLocation(uri); err != nil {
		return false, err
	}
	key, err := memoryKey(uri)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.objects {
		if k == key || strings.HasPrefix(k, key+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, uri string) error {
	if _, _, err := prefixLocation(uri); err != nil {
		return err
	}
	key, err := memoryKey(uri)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.objects {
		if k == key || strings.HasPrefix(k, key+"/") {
			delete(s.objects, k)
		}
	}
	return nil
}

// Keys returns every stored object URI, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, s.uri(k))
	}
	slices.Sort(out)
	return out
}

// PutCount returns how many Put calls succeeded.
func (s *MemoryStore) PutCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrBucketRoot is returned when a prefix operation targets a whole bucket.
var ErrBucketRoot = errors.New("location is a bucket root")

// ObjectStore is the minimal object storage surface used by the trainer.
// Locations are URIs such as s3a://bucket/key, file:///tmp/x or plain paths.
type ObjectStore interface {
	// Open returns a reader for a single object.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	// List expands a location into object URIs, sorted lexically. The location
	// may be a single object, a directory-like prefix, or a doublestar glob.
	List(ctx context.Context, pattern string) ([]string, error)
	// Put writes an object, replacing any existing object at uri.
	Put(ctx context.Context, uri string, r io.Reader, size int64) error
	// Exists reports whether an object or any object below uri exists.
	Exists(ctx context.Context, uri string) (bool, error)
	// DeletePrefix removes the object at uri and every object below it.
	DeletePrefix(ctx context.Context, uri string) error
}

// Location is a parsed object URI.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseURI splits raw into scheme, bucket and key. Plain paths and file://
// URIs carry the whole path in Key.
func ParseURI(raw string) (Location, error) {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return Location{Key: raw}, nil
	}
	scheme = strings.ToLower(scheme)
	if scheme == "file" {
		return Location{Scheme: scheme, Key: rest}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid object uri %q: missing bucket", raw)
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// String formats the location back into a URI.
func (l Location) String() string {
	switch l.Scheme {
	case "":
		return l.Key
	case "file":
		return "file://" + l.Key
	}
	if l.Key == "" {
		return l.Scheme + "://" + l.Bucket
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// prefixLocation parses uri for Exists and DeletePrefix. The returned key has
// no trailing slash and is never empty for bucket locations.
func prefixLocation(uri string) (Location, string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return Location{}, "", err
	}
	key := strings.TrimSuffix(loc.Key, "/")
	if loc.Bucket != "" && key == "" {
		return Location{}, "", fmt.Errorf("%w: %s", ErrBucketRoot, uri)
	}
	return loc, key, nil
}

// Join returns the location of elem below uri.
func Join(uri string, elem ...string) string {
	if len(elem) == 0 {
		return uri
	}
	return strings.TrimSuffix(uri, "/") + "/" + path.Join(elem...)
}

// hasMeta reports whether a pattern contains glob metacharacters.
func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// isHidden reports whether the base name marks a bookkeeping file, which
// directory reads skip (e.g. _SUCCESS, .crc files).
func isHidden(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".")
}

// Router dispatches calls to stores registered per URI scheme.
type Router struct {
	mu       sync.RWMutex
	fallback ObjectStore
	stores   map[string]ObjectStore
}

// NewRouter returns a router that sends plain paths and file:// URIs to
// fallback.
func NewRouter(fallback ObjectStore) *Router {
	return &Router{
		fallback: fallback,
		stores:   make(map[string]ObjectStore),
	}
}

// Register routes the given schemes to store.
func (r *Router) Register(store ObjectStore, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range schemes {
		r.stores[strings.ToLower(scheme)] = store
	}
}

func (r *Router) route(uri string) (ObjectStore, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if loc.Scheme == "" || loc.Scheme == "file" {
		return r.fallback, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[loc.Scheme]
	if !ok {
		return nil, fmt.Errorf("no object store registered for scheme %q", loc.Scheme)
	}
	return store, nil
}

func (r *Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	store, err := r.route(uri)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, uri)
}

func (r *Router) List(ctx context.Context, pattern string) ([]string, error) {
	store, err := r.route(pattern)
	if err != nil {
		return nil, err
	}
	return store.List(ctx, pattern)
}

func (r *Router) Put(ctx context.Context, uri string, rd io.Reader, size int64) error {
	store, err := r.route(uri)
	if err != nil {
		return err
	}
	return store.Put(ctx, uri, rd, size)
}

func (r *Router) Exists(ctx context.Context, uri string) (bool, error) {
	store, err := r.route(uri)
	if err != nil {
		return false, err
	}
	return store.Exists(ctx, uri)
}

func (r *Router) DeletePrefix(ctx context.Context, uri string) error {
	store, err := r.route(uri)
	if err != nil {
		return err
	}
	return store.DeletePrefix(ctx, uri)
}

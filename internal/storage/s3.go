package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the S3-compatible client.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	PathStyle bool
	Secure    bool
}

// S3Store serves s3://, s3a:// and s3n:// URIs through minio-go.
type S3Store struct {
	client *minio.Client
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	endpoint, secure, err := normalizeEndpoint(opts.Endpoint, opts.Secure)
	if err != nil {
		return nil, err
	}

	lookup := minio.BucketLookupAuto
	if opts.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       secure,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3Store{client: client}, nil
}

// normalizeEndpoint strips a scheme from endpoint; an explicit https scheme
// enables TLS, http disables it.
func normalizeEndpoint(endpoint string, secure bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, errors.New("s3 endpoint is not configured")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), secure, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		secure = true
	case "http":
		secure = false
	default:
		return "", false, fmt.Errorf("invalid s3 endpoint scheme %q", u.Scheme)
	}
	return u.Host, secure, nil
}

// Probe verifies the credentials by checking that bucket exists.
func (s *S3Store) Probe(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %q: %w", bucket, ErrNotFound)
	}
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (s *S3Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces missing keys before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
		}
		return nil, err
	}
	return obj, nil
}

func (s *S3Store) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return nil, nil
			}
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *S3Store) List(ctx context.Context, pattern string) ([]string, error) {
	loc, err := ParseURI(pattern)
	if err != nil {
		return nil, err
	}

	var matched []string
	if hasMeta(loc.Key) {
		base, _ := doublestar.SplitPattern(loc.Key)
		prefix := ""
		if base != "." {
			prefix = base + "/"
		}
		keys, err := s.listKeys(ctx, loc.Bucket, prefix)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			ok, err := doublestar.Match(loc.Key, key)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, key)
			}
		}
	} else {
		key := strings.TrimSuffix(loc.Key, "/")
		keys, err := s.listKeys(ctx, loc.Bucket, key)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			switch {
			case k == key:
				matched = append(matched, k)
			case strings.HasPrefix(k, key+"/") && !hasHiddenKey(strings.TrimPrefix(k, key+"/")):
				matched = append(matched, k)
			}
		}
	}

	slices.Sort(matched)
	out := make([]string, len(matched))
	for i, key := range matched {
		out[i] = Location{Scheme: loc.Scheme, Bucket: loc.Bucket, Key: key}.String()
	}
	return out, nil
}

func (s *S3Store) Put(ctx context.Context, uri string, r io.Reader, size int64) error {
	loc, err := ParseURI(uri)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, loc.Bucket, loc.Key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *S3Store) Exists(ctx context.Context, uri string) (bool, error) {
	loc, key, err := prefixLocation(uri)
	if err != nil {
		return false, err
	}
	keys, err := s.listKeys(ctx, loc.Bucket, key)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key || strings.HasPrefix(k, key+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, uri string) error {
	loc, key, err := prefixLocation(uri)
	if err != nil {
		return err
	}
	keys, err := s.listKeys(ctx, loc.Bucket, key)
	if err != nil {
		return err
	}

	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for _, k := range keys {
			if k == key || strings.HasPrefix(k, key+"/") {
				select {
				case objects <- minio.ObjectInfo{Key: k}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var errs []error
	for rmErr := range s.client.RemoveObjects(ctx, loc.Bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %s: %w", rmErr.ObjectName, rmErr.Err))
	}
	return errors.Join(errs...)
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"portfolio/imagestore/internal/config"
	"portfolio/imagestore/internal/models"
)

// ObjectStore implements Store on an S3-compatible bucket. The bucket plays
// the role of the storage root; Prefix is an optional key prefix inside it.
type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return &Error{Op: "bucket exists", Name: s.cfg.Bucket, Err: err}
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		// Another instance may have created it in the meantime.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return &Error{Op: "create bucket", Name: s.cfg.Bucket, Err: err}
	}
	return nil
}

func (s *ObjectStore) Client() *minio.Client {
	return s.client
}

func (s *ObjectStore) key(name string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" || prefix == "." {
		return name
	}
	return path.Join(prefix, name)
}

// listPrefix is the key prefix that selects the objects directly inside dir.
func (s *ObjectStore) listPrefix(dir string) string {
	prefix := s.key(dir)
	if prefix == "" {
		return ""
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *ObjectStore) Write(ctx context.Context, name string, data []byte, contentType string) (models.StoredAsset, error) {
	if err := ValidName(name); err != nil {
		return models.StoredAsset{}, err
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return models.StoredAsset{}, err
	}
	if exists {
		return models.StoredAsset{}, fmt.Errorf("%w: %s", ErrExists, name)
	}

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return models.StoredAsset{}, &Error{Op: "put object", Name: name, Err: err}
	}

	return asset(name, info.Size, contentType, time.Now().UTC()), nil
}

func (s *ObjectStore) Read(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &Error{Op: "read object", Name: name, Err: err}
	}
	return data, nil
}

func (s *ObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, &Error{Op: "get object", Name: name, Err: err}
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "get object", Name: name, Err: err}
	}
	return obj, nil
}

func (s *ObjectStore) Stat(ctx context.Context, name string) (Info, error) {
	if err := ValidName(name); err != nil {
		return Info{}, err
	}
	info, err := s.client.StatObject(ctx, s.cfg.Bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return Info{}, ErrNotFound
		}
		return Info{}, &Error{Op: "stat object", Name: name, Err: err}
	}
	return Info{
		Name:        name,
		Size:        info.Size,
		ModTime:     info.LastModified,
		ContentType: info.ContentType,
	}, nil
}

func (s *ObjectStore) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Exists(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.key(name), minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, &Error{Op: "remove object", Name: name, Err: err}
	}
	return true, nil
}

func (s *ObjectStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Stat(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *ObjectStore) List(ctx context.Context, dir string) ([]string, error) {
	if err := validDir(dir); err != nil {
		return nil, err
	}
	var names []string
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: s.listPrefix(dir)}) {
		if obj.Err != nil {
			return nil, &Error{Op: "list objects", Name: dir, Err: obj.Err}
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		names = append(names, path.Base(obj.Key))
	}
	sort.Strings(names)
	return names, nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.cfg.Bucket); err != nil {
		return &Error{Op: "ping", Name: s.cfg.Bucket, Err: err}
	}
	return nil
}

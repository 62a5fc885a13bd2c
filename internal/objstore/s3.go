package objstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// defaultS3Endpoint is used when no endpoint override is configured.
const defaultS3Endpoint = "s3.amazonaws.com"

// S3 is a Bucket backed by an S3-compatible object store.
type S3 struct {
	client *minio.Client
	bucket string
	// base is the key prefix carried by the bucket URI, e.g. the "path"
	// part of s3://bucket/path.
	base string
}

var _ Bucket = (*S3)(nil)

// newS3 builds an S3 bucket client. Credentials resolve through the usual
// chain: AWS env vars, MinIO env vars, then the IAM metadata endpoint.
func newS3(bucket, base string, opts Options) (*S3, error) {
	endpoint := opts.S3Endpoint
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.IAM{},
		}),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}

	return &S3{client: client, bucket: bucket, base: base}, nil
}

// fullKey prepends the URI base prefix to a key.
func (s *S3) fullKey(key string) string {
	if s.base == "" {
		return key
	}
	return s.base + "/" + key
}

// trimKey strips the URI base prefix from a listed key.
func (s *S3) trimKey(key string) string {
	if s.base == "" {
		return key
	}
	return strings.TrimPrefix(key, s.base+"/")
}

// List returns all objects under prefix, sorted by key.
func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    s.fullKey(prefix),
		Recursive: true,
	}

	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, info.Err
		}
		objects = append(objects, Object{
			Key:  s.trimKey(info.Key),
			Size: info.Size,
			ETag: strings.Trim(info.ETag, `"`),
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Get reads an object.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.fullKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return data, nil
}

// Put writes an object.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.fullKey(key),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Delete removes an object. Absent keys are ignored by S3 semantics.
func (s *S3) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.fullKey(key), minio.RemoveObjectOptions{})
}

// DeleteAll removes every object under prefix.
func (s *S3) DeleteAll(ctx context.Context, prefix string) (int, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return 0, err
		}
	}
	return len(objects), nil
}

// Exists reports whether any object lives under prefix.
func (s *S3) Exists(ctx context.Context, prefix string) (bool, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    s.fullKey(prefix),
		Recursive: true,
		MaxKeys:   1,
	}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return false, info.Err
		}
		return true, nil
	}
	return false, nil
}

// Package objstore abstracts the byte store that tables, manifests, and raw
// corpus files live in. A bucket is addressed by a base URI that is either a
// local directory or an s3:// URI; keys are slash-separated paths relative
// to that base.
package objstore

import (
	"context"
	"fmt"
	"strings"
)

// Object describes one stored object.
type Object struct {
	// Key is the object path relative to the bucket base.
	Key string
	// Size is the object size in bytes.
	Size int64
	// ETag identifies the object content. Local buckets use a SHA-256
	// digest; S3 buckets use the server-side ETag.
	ETag string
}

// Bucket is a flat key-to-bytes store.
type Bucket interface {
	// List returns all objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Get reads an object. Returns ErrNotExist when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes an object, replacing any existing content.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes an object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every object under prefix and returns the count.
	DeleteAll(ctx context.Context, prefix string) (int, error)

	// Exists reports whether any object lives under prefix.
	Exists(ctx context.Context, prefix string) (bool, error)
}

// ErrNotExist is returned by Get for absent keys.
var ErrNotExist = fmt.Errorf("objstore: object does not exist")

// Options configures bucket construction.
type Options struct {
	// S3Endpoint overrides the S3 endpoint host. Empty selects AWS.
	S3Endpoint string
}

// Open constructs a Bucket for the given base URI. URIs of the form
// s3://bucket[/prefix] open an S3-compatible bucket; anything else is
// treated as a local directory path.
func Open(uri string, opts Options) (Bucket, error) {
	scheme, bucket, prefix, ok := ParseURI(uri)
	if !ok {
		return NewLocal(uri), nil
	}
	switch scheme {
	case "s3":
		return newS3(bucket, prefix, opts)
	default:
		return nil, fmt.Errorf("objstore: unsupported scheme %q in %q", scheme, uri)
	}
}

// ParseURI splits scheme://bucket/prefix URIs. ok is false for plain paths.
func ParseURI(uri string) (scheme, bucket, prefix string, ok bool) {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return "", "", "", false
	}
	scheme = uri[:idx]
	rest := uri[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return scheme, rest[:slash], strings.Trim(rest[slash+1:], "/"), true
	}
	return scheme, rest, "", true
}

// JoinURI appends path elements to a base URI or local path.
func JoinURI(base string, elems ...string) string {
	joined := strings.TrimRight(base, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		joined += "/" + e
	}
	return joined
}

package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a Bucket backed by a directory tree. Keys map to file paths
// under the root.
type Local struct {
	root string
}

// NewLocal creates a local bucket rooted at dir. The directory is created
// lazily on first write.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

var _ Bucket = (*Local)(nil)

// path maps a key to its on-disk location.
func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// List returns all objects under prefix, sorted by key.
func (l *Local) List(_ context.Context, prefix string) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		objects = append(objects, Object{
			Key:  key,
			Size: int64(len(data)),
			ETag: hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Get reads an object.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return data, nil
}

// Put writes an object atomically (temp file + rename).
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes an object. Absent keys are ignored.
func (l *Local) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteAll removes every object under prefix.
func (l *Local) DeleteAll(ctx context.Context, prefix string) (int, error) {
	objects, err := l.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, obj := range objects {
		if err := l.Delete(ctx, obj.Key); err != nil {
			return 0, err
		}
	}
	// Prune now-empty directories under the prefix.
	if prefix != "" {
		_ = os.RemoveAll(l.path(strings.TrimSuffix(prefix, "/")))
	}
	return len(objects), nil
}

// Exists reports whether any object lives under prefix.
func (l *Local) Exists(ctx context.Context, prefix string) (bool, error) {
	objects, err := l.List(ctx, prefix)
	if err != nil {
		return false, err
	}
	return len(objects) > 0, nil
}

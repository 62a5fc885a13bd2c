// Package snapshot enumerates source files in the object store and tracks
// changes between ingestion runs. A run's state is identified by a commit:
// a digest over the sorted (path, etag) pairs visible under the source's
// prefix. Each computed commit persists a manifest so later runs can diff
// against it.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/errors"
	"github.com/thothlabs/thoth/internal/objstore"
)

// manifestPrefix is where commit manifests live, outside any source prefix.
const manifestPrefix = ".thoth/manifests"

// syncMarker records a completed local sync.
const syncMarker = ".synced"

// Changes partitions source files relative to an earlier commit. A rename
// shows up as the old path deleted plus the new path added.
type Changes struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// manifest is the persisted file inventory of one commit.
type manifest struct {
	Commit string            `json:"commit"`
	Files  map[string]string `json:"files"`
}

// Provider lists source files and computes commit-to-commit changes.
type Provider struct {
	bucket   objstore.Bucket
	registry *config.Registry
	syncDir  string
}

// NewProvider creates a provider over the bucket at the base URI. syncDir
// is the local root for SyncLocally downloads.
func NewProvider(bucket objstore.Bucket, registry *config.Registry, syncDir string) *Provider {
	return &Provider{bucket: bucket, registry: registry, syncDir: syncDir}
}

// ListFiles returns the relative paths of all files under the source's
// prefix whose extension the source supports, sorted. Callers index into
// this slice when forming batches.
func (p *Provider) ListFiles(ctx context.Context, source string) ([]string, error) {
	inventory, err := p.inventory(ctx, source)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(inventory))
	for rel := range inventory {
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}

// inventory maps relative path to etag for the source's supported files.
func (p *Provider) inventory(ctx context.Context, source string) (map[string]string, error) {
	src, ok := p.registry.Get(source)
	if !ok {
		return nil, errors.BadSource(source, p.registry.Names())
	}

	objects, err := p.bucket.List(ctx, src.ObjectPrefix)
	if err != nil {
		return nil, errors.ObjectStoreError(fmt.Sprintf("list source %s", source), err)
	}

	inventory := make(map[string]string, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, src.ObjectPrefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" || !src.Supports(path.Ext(rel)) {
			continue
		}
		inventory[rel] = obj.ETag
	}
	return inventory, nil
}

// CurrentCommit digests the source's current inventory and persists its
// manifest. An empty source yields a commit too, so emptiness is a
// diffable state.
func (p *Provider) CurrentCommit(ctx context.Context, source string) (string, error) {
	inventory, err := p.inventory(ctx, source)
	if err != nil {
		return "", err
	}

	commit := commitDigest(inventory)
	m := manifest{Commit: commit, Files: inventory}
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.Internal("marshal manifest", err)
	}
	key := manifestKey(source, commit)
	if err := p.bucket.Put(ctx, key, data); err != nil {
		return "", errors.ObjectStoreError(fmt.Sprintf("persist manifest %s", key), err)
	}
	return commit, nil
}

// FileChanges diffs the current inventory against the manifest of
// sinceCommit. With no baseline commit everything is added; with a baseline
// whose manifest is gone, everything current is treated as modified.
func (p *Provider) FileChanges(ctx context.Context, source, sinceCommit string) (*Changes, error) {
	current, err := p.inventory(ctx, source)
	if err != nil {
		return nil, err
	}

	changes := &Changes{}
	if sinceCommit == "" {
		for rel := range current {
			changes.Added = append(changes.Added, rel)
		}
		sort.Strings(changes.Added)
		return changes, nil
	}

	baseline, err := p.loadManifest(ctx, source, sinceCommit)
	if err == objstore.ErrNotExist {
		for rel := range current {
			changes.Modified = append(changes.Modified, rel)
		}
		sort.Strings(changes.Modified)
		return changes, nil
	}
	if err != nil {
		return nil, err
	}

	for rel, etag := range current {
		old, existed := baseline.Files[rel]
		switch {
		case !existed:
			changes.Added = append(changes.Added, rel)
		case old != etag:
			changes.Modified = append(changes.Modified, rel)
		}
	}
	for rel := range baseline.Files {
		if _, exists := current[rel]; !exists {
			changes.Deleted = append(changes.Deleted, rel)
		}
	}

	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	return changes, nil
}

func (p *Provider) loadManifest(ctx context.Context, source, commit string) (*manifest, error) {
	data, err := p.bucket.Get(ctx, manifestKey(source, commit))
	if err == objstore.ErrNotExist {
		return nil, err
	}
	if err != nil {
		return nil, errors.ObjectStoreError("load manifest", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Internal("decode manifest", err)
	}
	return &m, nil
}

// SyncLocally downloads every supported source file under syncDir/{source}
// and writes a marker recording the synced commit.
func (p *Provider) SyncLocally(ctx context.Context, source string) error {
	src, ok := p.registry.Get(source)
	if !ok {
		return errors.BadSource(source, p.registry.Names())
	}

	files, err := p.ListFiles(ctx, source)
	if err != nil {
		return err
	}

	root := filepath.Join(p.syncDir, source)
	for _, rel := range files {
		data, err := p.bucket.Get(ctx, path.Join(strings.TrimRight(src.ObjectPrefix, "/"), rel))
		if err != nil {
			return errors.ObjectStoreError(fmt.Sprintf("fetch %s", rel), err)
		}
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}

	commit, err := p.CurrentCommit(ctx, source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, syncMarker), []byte(commit), 0o644)
}

// IsLocallySynced reports whether a completed sync marker exists for the
// source.
func (p *Provider) IsLocallySynced(source string) bool {
	_, err := os.Stat(filepath.Join(p.syncDir, source, syncMarker))
	return err == nil
}

// LocalPath returns where a synced file lands on disk.
func (p *Provider) LocalPath(source, rel string) string {
	return filepath.Join(p.syncDir, source, filepath.FromSlash(rel))
}

func manifestKey(source, commit string) string {
	return path.Join(manifestPrefix, source, commit+".json")
}

// commitDigest hashes the sorted (path, etag) pairs.
func commitDigest(inventory map[string]string) string {
	paths := make([]string, 0, len(inventory))
	for rel := range inventory {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write([]byte(inventory[rel]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

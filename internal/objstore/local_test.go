package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(t.TempDir())

	require.NoError(t, b.Put(ctx, "a/b/doc.md", []byte("hello")))

	data, err := b.Get(ctx, "a/b/doc.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, b.Delete(ctx, "a/b/doc.md"))
	_, err = b.Get(ctx, "a/b/doc.md")
	assert.ErrorIs(t, err, ErrNotExist)

	// Deleting twice is fine.
	assert.NoError(t, b.Delete(ctx, "a/b/doc.md"))
}

func TestLocal_ListSortedWithETags(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(t.TempDir())

	require.NoError(t, b.Put(ctx, "p/z.txt", []byte("zz")))
	require.NoError(t, b.Put(ctx, "p/a.txt", []byte("aa")))
	require.NoError(t, b.Put(ctx, "q/other.txt", []byte("xx")))

	objects, err := b.List(ctx, "p/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "p/a.txt", objects[0].Key)
	assert.Equal(t, "p/z.txt", objects[1].Key)
	assert.NotEmpty(t, objects[0].ETag)
	assert.NotEqual(t, objects[0].ETag, objects[1].ETag)
}

func TestLocal_ListEmptyRoot(t *testing.T) {
	b := NewLocal(t.TempDir() + "/missing")
	objects, err := b.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocal_DeleteAllAndExists(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(t.TempDir())

	require.NoError(t, b.Put(ctx, "batch/1.gob", []byte("x")))
	require.NoError(t, b.Put(ctx, "batch/2.gob", []byte("y")))
	require.NoError(t, b.Put(ctx, "keep/3.gob", []byte("z")))

	ok, err := b.Exists(ctx, "batch/")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := b.DeleteAll(ctx, "batch/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err = b.Exists(ctx, "batch/")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.Exists(ctx, "keep/")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseURI(t *testing.T) {
	scheme, bucket, prefix, ok := ParseURI("s3://corpus/base/path")
	assert.True(t, ok)
	assert.Equal(t, "s3", scheme)
	assert.Equal(t, "corpus", bucket)
	assert.Equal(t, "base/path", prefix)

	_, _, _, ok = ParseURI("/var/data")
	assert.False(t, ok)

	scheme, bucket, prefix, ok = ParseURI("s3://corpus")
	assert.True(t, ok)
	assert.Equal(t, "corpus", bucket)
	assert.Empty(t, prefix)
	_ = scheme
}

func TestJoinURI(t *testing.T) {
	assert.Equal(t, "s3://b/x/y", JoinURI("s3://b", "x", "y"))
	assert.Equal(t, "/data/x", JoinURI("/data/", "/x/"))
	assert.Equal(t, "/data", JoinURI("/data", ""))
}

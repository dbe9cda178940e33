package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *Badger {
	t.Helper()
	s, err := OpenBadger("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	require.NoError(t, s.Put(ctx, "uploads", "hr/b.txt", []byte("b")))
	require.NoError(t, s.Put(ctx, "uploads", "a.txt", []byte("a")))
	require.NoError(t, s.Put(ctx, "uploads", "hr/", nil))
	require.NoError(t, s.Put(ctx, "processed", "a.md", []byte("x")))

	t.Run("list is ordered and container scoped", func(t *testing.T) {
		keys, err := s.List(ctx, "uploads")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "hr/", "hr/b.txt"}, keys)
	})

	t.Run("get", func(t *testing.T) {
		data, err := s.Get(ctx, "uploads", "hr/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "b", string(data))

		_, err = s.Get(ctx, "uploads", "missing.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "uploads", "a.txt"))
		require.NoError(t, s.Delete(ctx, "uploads", "a.txt"))
		_, err := s.Get(ctx, "uploads", "a.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid names", func(t *testing.T) {
		assert.Error(t, s.Put(ctx, "", "k", nil))
		assert.Error(t, s.Put(ctx, "uploads", "", nil))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.List(cctx, "uploads")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestVirtualPath(t *testing.T) {
	tests := []struct {
		key  string
		want VirtualPath
	}{
		{"doc.pdf", nil},
		{"/doc.pdf", nil},
		{"hr/doc.pdf", VirtualPath{"hr"}},
		{"hr/policies/2024/doc.pdf", VirtualPath{"hr", "policies", "2024"}},
		{"hr//doc.pdf", VirtualPath{"hr"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, VirtualPathFromKey(tt.key))
		})
	}

	assert.Nil(t, ParseVirtualPath(""))
	assert.Equal(t, VirtualPath{"a", "b"}, ParseVirtualPath("/a//b/"))
	assert.Equal(t, "a/b", VirtualPath{"a", "b"}.String())
}

func TestKeyHelpers(t *testing.T) {
	dir, file := SplitKey("hr/policies/handbook.pdf")
	assert.Equal(t, "hr/policies", dir)
	assert.Equal(t, "handbook.pdf", file)

	dir, file = SplitKey("notes.txt")
	assert.Empty(t, dir)
	assert.Equal(t, "notes.txt", file)

	assert.Equal(t, "x.md", JoinKey("", "x.md"))
	assert.Equal(t, "hr/x.md", JoinKey("hr", "x.md"))
	assert.Equal(t, "pdf", Ext("a/B.PDF"))
	assert.Equal(t, "", Ext("README"))
	assert.Equal(t, "handbook", Stem("hr/handbook.pdf"))
	assert.True(t, IsDirMarker("hr/"))
	assert.False(t, IsDirMarker("hr/a"))
}

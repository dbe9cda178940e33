package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("lands in the intake under the folder", func(t *testing.T) {
		h := newHarness(t)
		sub, err := h.pipeline.Submit(ctx, "hr/benefits", "plan.txt", []byte(sample))
		require.NoError(t, err)
		assert.Equal(t, Submission{
			Key:           "hr/benefits/plan.txt",
			RoutingKey:    "hr",
			KnowledgeBase: "Hr Documents",
			Size:          len(sample),
		}, sub)
		assert.Equal(t, []string{"hr/benefits/plan.txt"}, h.keys(t, "uploads"))

		// the submitted document flows through the pipeline like any other
		task := h.pipeline.Process(ctx, sub.Key)
		require.NoError(t, task.Err)
		assert.Equal(t, StateCommitted, task.State)
		assert.Empty(t, h.keys(t, "uploads"))
	})

	t.Run("root submission routes to default", func(t *testing.T) {
		h := newHarness(t)
		sub, err := h.pipeline.Submit(ctx, "", "notes.txt", []byte("n"))
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", sub.Key)
		assert.Equal(t, "default", sub.RoutingKey)
	})

	t.Run("duplicate pending key is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.put(t, "hr/plan.txt", "first")
		_, err := h.pipeline.Submit(ctx, "hr", "plan.txt", []byte("second"))
		assert.ErrorIs(t, err, ErrExists)
	})
}

func TestIntakeKey(t *testing.T) {
	tests := []struct {
		folder, name string
		want         string
		wantErr      bool
	}{
		{folder: "", name: "a.txt", want: "a.txt"},
		{folder: "hr", name: "a.txt", want: "hr/a.txt"},
		{folder: "/hr//policies/", name: "a.txt", want: "hr/policies/a.txt"},
		{folder: `hr\policies`, name: "a.txt", want: "hr/policies/a.txt"},
		{folder: "hr", name: "../../etc/passwd", want: "hr/passwd"},
		{folder: "hr", name: `C:\Users\me\a.txt`, want: "hr/a.txt"},
		{folder: "../outside", name: "a.txt", wantErr: true},
		{folder: "hr/./x", name: "a.txt", wantErr: true},
		{folder: "hr", name: "", wantErr: true},
		{folder: "hr", name: "..", wantErr: true},
	}
	for _, tt := range tests {
		got, err := intakeKey(tt.folder, tt.name)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidUpload, "%q %q", tt.folder, tt.name)
			continue
		}
		require.NoError(t, err, "%q %q", tt.folder, tt.name)
		assert.Equal(t, tt.want, got)
	}
}

// steppingClock advances one minute per reading
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	h := newHarness(t, func(d *Deps, _ *Options) { d.Now = clock.Now })

	h.put(t, "hr/a.txt", sample)
	h.put(t, "root.txt", "nothing here")
	require.Equal(t, StateCommitted, h.pipeline.Process(ctx, "hr/a.txt").State)
	require.Equal(t, StateCommitted, h.pipeline.Process(ctx, "root.txt").State)

	// stray entries that are not protected artifacts
	require.NoError(t, h.store.Put(ctx, "processed", "finance/", []byte{}))
	require.NoError(t, h.store.Put(ctx, "processed", "finance/notes.json", []byte("{}")))
	// artifact whose commit never wrote metadata
	require.NoError(t, h.store.Put(ctx, "processed", "finance/protected_q3.txt.md", []byte("# q3")))
	h.put(t, "finance/pending.txt", "not yet")

	files, err := h.pipeline.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)

	root, hr, orphan := files[0], files[1], files[2]

	assert.Equal(t, "protected_root.txt.md", root.Name)
	assert.Equal(t, "root.txt", root.SourceKey)
	assert.Equal(t, "default", root.RoutingKey)
	assert.Equal(t, "Default Documents", root.KnowledgeBase)
	assert.True(t, root.ProcessedAt.After(hr.ProcessedAt))

	assert.Equal(t, "hr/protected_a.txt.md", hr.Key)
	assert.Equal(t, "hr/a.txt", hr.SourceKey)
	assert.Equal(t, "Hr Documents", hr.KnowledgeBase)
	assert.Equal(t, StatusCompleted, hr.Status)
	assert.Equal(t, 4, hr.PIITotal)
	assert.Equal(t, len(h.indexer.uploads["file-1"]), hr.Size)
	require.NotNil(t, hr.Metadata)
	assert.Equal(t, "file-1", hr.Metadata.OpenWebUIFileID)

	assert.Equal(t, "finance/protected_q3.txt.md", orphan.Key)
	assert.Equal(t, "processed", orphan.Status)
	assert.Equal(t, "Finance Documents", orphan.KnowledgeBase)
	assert.Nil(t, orphan.Metadata)
	assert.True(t, orphan.ProcessedAt.IsZero())
}

func TestFilesEmpty(t *testing.T) {
	files, err := newHarness(t).pipeline.Files(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

package openwebui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raaihank/docguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseModel string, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.GetDefaults().Indexer
	cfg.URL = srv.URL
	cfg.APIKey = "sk-test"
	cfg.BaseModel = baseModel
	cfg.Timeout = 2 * time.Second
	cfg.RequestsPerSecond = 0
	return NewClient(cfg, nil)
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	var created createKnowledgeRequest
	var model createModelRequest
	var attached attachFileRequest
	var uploadedName, uploadedBody string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/knowledge/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"id":"kb1","name":"Hr Documents","description":"Knowledge base for hr documents"}]`))
	})
	mux.HandleFunc("/api/v1/knowledge/create", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		w.Write([]byte(`{"id":"kb2","name":"Finance Documents"}`))
	})
	mux.HandleFunc("/api/v1/models/create", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&model))
		w.Write([]byte(`{"id":"finance-assistant"}`))
	})
	mux.HandleFunc("/api/v1/files/", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		uploadedName, uploadedBody = hdr.Filename, string(b)
		w.Write([]byte(`{"id":"file-9"}`))
	})
	mux.HandleFunc("/api/v1/knowledge/kb2/file/add", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&attached))
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v1/knowledge/broken/file/add", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such knowledge", http.StatusNotFound)
	})

	c := newTestClient(t, "llama3", mux)

	t.Run("list", func(t *testing.T) {
		kbs, err := c.ListKnowledge(ctx)
		require.NoError(t, err)
		require.Len(t, kbs, 1)
		assert.Equal(t, "Hr Documents", kbs[0].Name)
	})

	t.Run("create knowledge", func(t *testing.T) {
		kb, err := c.CreateKnowledge(ctx, "Finance Documents", "Knowledge base for finance documents")
		require.NoError(t, err)
		assert.Equal(t, "kb2", kb.ID)
		assert.Equal(t, "Finance Documents", created.Name)
		assert.NotNil(t, created.Data)
	})

	t.Run("create model", func(t *testing.T) {
		id, err := c.CreateModel(ctx, ModelSpec{Name: "Finance Assistant", Knowledge: Knowledge{ID: "kb2"}})
		require.NoError(t, err)
		assert.Equal(t, "finance-assistant", id)
		assert.Equal(t, "llama3", model.BaseModelID)
		assert.Equal(t, "finance-assistant", model.ID)
		require.Len(t, model.Meta.Knowledge, 1)
		assert.Equal(t, "kb2", model.Meta.Knowledge[0].ID)
	})

	t.Run("upload and attach", func(t *testing.T) {
		id, err := c.UploadFile(ctx, "protected_a.txt.md", []byte("# a"))
		require.NoError(t, err)
		assert.Equal(t, "file-9", id)
		assert.Equal(t, "protected_a.txt.md", uploadedName)
		assert.Equal(t, "# a", uploadedBody)

		require.NoError(t, c.AttachFile(ctx, "kb2", id))
		assert.Equal(t, "file-9", attached.FileID)
	})

	t.Run("status error", func(t *testing.T) {
		err := c.AttachFile(ctx, "broken", "file-9")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.Status)
	})
}

func TestCreateModelWithoutBaseModel(t *testing.T) {
	called := false
	c := newTestClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	id, err := c.CreateModel(context.Background(), ModelSpec{Name: "Hr Assistant"})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.False(t, called)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := config.GetDefaults().Indexer
	cfg.URL = srv.URL
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	c := NewClient(cfg, nil)

	_, err := c.ListKnowledge(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListKnowledge(ctx)
	assert.Error(t, err)
}

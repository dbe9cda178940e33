package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/pipeline"
	"github.com/raaihank/docguard/internal/privacy"
	"github.com/raaihank/docguard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitted struct {
	folder, name string
	data         []byte
}

type fakePipeline struct {
	comparisons map[string]pipeline.Comparison
	inventory   []pipeline.KnowledgeBaseSummary
	files       []pipeline.ProcessedFile
	submitted   []submitted
	submitErr   error
	err         error
}

func (f *fakePipeline) Submit(_ context.Context, folder, name string, data []byte) (pipeline.Submission, error) {
	if f.submitErr != nil {
		return pipeline.Submission{}, f.submitErr
	}
	f.submitted = append(f.submitted, submitted{folder: folder, name: name, data: data})
	key := name
	if folder != "" {
		key = folder + "/" + name
	}
	return pipeline.Submission{Key: key, Size: len(data)}, nil
}

func (f *fakePipeline) Files(context.Context) ([]pipeline.ProcessedFile, error) {
	return f.files, f.err
}

func (f *fakePipeline) Compare(_ context.Context, name string) (pipeline.Comparison, error) {
	if f.err != nil {
		return pipeline.Comparison{}, f.err
	}
	c, ok := f.comparisons[name]
	if !ok {
		return pipeline.Comparison{}, fmt.Errorf("get %s: %w", name, storage.ErrNotFound)
	}
	return c, nil
}

func (f *fakePipeline) Inventory(context.Context) ([]pipeline.KnowledgeBaseSummary, error) {
	return f.inventory, f.err
}

func newTestServer(p Pipeline) *Server {
	return New(config.GetDefaults().Server, "test", p, privacy.NewSource(nil, nil, nil), nil, nil)
}

func upload(t *testing.T, s *Server, fields map[string]string, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if name != "" {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(&fakePipeline{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCompare(t *testing.T) {
	p := &fakePipeline{comparisons: map[string]pipeline.Comparison{
		"hr/a.txt": {
			Protected:           "# a.txt\n\nSSN ***-**-****",
			Metadata:            map[string]any{"status": pipeline.StatusCompleted},
			ComparisonAvailable: true,
		},
	}}
	s := newTestServer(p)

	t.Run("found", func(t *testing.T) {
		rec := get(t, s, "/demo/compare/hr/a.txt")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body pipeline.Comparison
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.ComparisonAvailable)
		assert.Contains(t, body.Protected, "***-**-****")
		assert.Equal(t, pipeline.StatusCompleted, body.Metadata["status"])
	})

	t.Run("missing artifact", func(t *testing.T) {
		rec := get(t, s, "/demo/compare/nope.txt")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no name", func(t *testing.T) {
		rec := get(t, s, "/demo/compare/")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		rec := get(t, newTestServer(&fakePipeline{err: errors.New("disk on fire")}), "/demo/compare/a.txt")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestInfo(t *testing.T) {
	rec := get(t, newTestServer(&fakePipeline{}), "/info")
	require.Equal(t, http.StatusOK, rec.Code)

	var body infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "docguard", body.Name)
	assert.Equal(t, privacy.DefaultCatalog().Classes(), body.Classes)
	assert.False(t, body.SecretStoreReady)
	assert.Nil(t, body.WebSocket)
}

func TestKnowledgeBases(t *testing.T) {
	p := &fakePipeline{inventory: []pipeline.KnowledgeBaseSummary{
		{RoutingKey: "default", Name: "Default Documents"},
		{RoutingKey: "hr", Name: "Hr Documents", Pending: 1, Processed: 2},
	}}
	rec := get(t, newTestServer(p), "/knowledge-bases")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		KnowledgeBases []pipeline.KnowledgeBaseSummary `json:"knowledge_bases"`
		Total          int                             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, p.inventory, body.KnowledgeBases)

	rec = get(t, newTestServer(&fakePipeline{err: errors.New("boom")}), "/knowledge-bases")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpload(t *testing.T) {
	t.Run("writes into the folder", func(t *testing.T) {
		p := &fakePipeline{}
		rec := upload(t, newTestServer(p), map[string]string{"folder": "hr"}, "policy.txt", []byte("SSN 123-45-6789"))
		require.Equal(t, http.StatusCreated, rec.Code)

		var body struct {
			Success    bool                `json:"success"`
			Message    string              `json:"message"`
			Submission pipeline.Submission `json:"submission"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, "File uploaded successfully", body.Message)
		assert.Equal(t, "hr/policy.txt", body.Submission.Key)

		require.Len(t, p.submitted, 1)
		assert.Equal(t, submitted{folder: "hr", name: "policy.txt", data: []byte("SSN 123-45-6789")}, p.submitted[0])
	})

	t.Run("folder is optional", func(t *testing.T) {
		p := &fakePipeline{}
		rec := upload(t, newTestServer(p), nil, "a.txt", []byte("a"))
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, p.submitted, 1)
		assert.Empty(t, p.submitted[0].folder)
	})

	t.Run("missing file", func(t *testing.T) {
		p := &fakePipeline{}
		rec := upload(t, newTestServer(p), map[string]string{"folder": "hr"}, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No file provided")
		assert.Empty(t, p.submitted)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
		rec := httptest.NewRecorder()
		newTestServer(&fakePipeline{}).Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		cfg := config.GetDefaults().Server
		cfg.MaxUploadBytes = 64
		p := &fakePipeline{}
		s := New(cfg, "test", p, nil, nil, nil)
		rec := upload(t, s, nil, "big.txt", bytes.Repeat([]byte("x"), 256))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, p.submitted)
	})

	t.Run("submission errors map to status codes", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{fmt.Errorf("%w: folder \"..\"", pipeline.ErrInvalidUpload), http.StatusBadRequest},
			{fmt.Errorf("hr/a.txt: %w", pipeline.ErrExists), http.StatusConflict},
			{errors.New("disk on fire"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			rec := upload(t, newTestServer(&fakePipeline{submitErr: tt.err}), nil, "a.txt", []byte("a"))
			assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		cfg := config.GetDefaults().Server
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1}
		p := &fakePipeline{}
		s := New(cfg, "test", p, nil, nil, nil)
		assert.Equal(t, http.StatusCreated, upload(t, s, nil, "a.txt", []byte("a")).Code)
		assert.Equal(t, http.StatusTooManyRequests, upload(t, s, nil, "b.txt", []byte("b")).Code)
		assert.Len(t, p.submitted, 1)
	})

	t.Run("get is not routed", func(t *testing.T) {
		rec := get(t, newTestServer(&fakePipeline{}), "/upload")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestFiles(t *testing.T) {
	processedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePipeline{files: []pipeline.ProcessedFile{{
		Name:          "protected_a.txt.md",
		Key:           "hr/protected_a.txt.md",
		SourceKey:     "hr/a.txt",
		RoutingKey:    "hr",
		KnowledgeBase: "Hr Documents",
		Status:        pipeline.StatusCompleted,
		ProcessedAt:   processedAt,
		PIITotal:      2,
	}}}
	rec := get(t, newTestServer(p), "/files")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Files []pipeline.ProcessedFile `json:"files"`
		Total int                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, p.files, body.Files)

	rec = get(t, newTestServer(&fakePipeline{err: errors.New("boom")}), "/files")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	newTestServer(&fakePipeline{}).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "unknown", RequestID(context.Background()))
}

func TestRateLimit(t *testing.T) {
	cfg := config.GetDefaults().Server
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 2}
	s := New(cfg, "test", &fakePipeline{}, nil, nil, nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, s, "/knowledge-bases").Code)
	}
	rec := get(t, s, "/knowledge-bases")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// health is never limited
	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)

	// a different client has its own budget
	req := httptest.NewRequest(http.MethodGet, "/knowledge-bases", nil)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	other := httptest.NewRecorder()
	s.Handler().ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestCleanupOldBuckets(t *testing.T) {
	l := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 10})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("1.2.3.4"))
	now = now.Add(2 * time.Hour)
	require.True(t, l.Allow("5.6.7.8"))

	l.CleanupOldBuckets()
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "5.6.7.8")
}

func TestRateLimitDisabled(t *testing.T) {
	l := NewRateLimiter(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("1.2.3.4"))
	}
}

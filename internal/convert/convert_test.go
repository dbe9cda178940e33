package convert

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFallback(t *testing.T) {
	tests := []struct {
		name string
		key  string
		data string
		want string
	}{
		{
			name: "plain text",
			key:  "hr/notes.txt",
			data: "hello",
			want: "# notes.txt\n\nhello",
		},
		{
			name: "markdown",
			key:  "readme.md",
			data: "body",
			want: "# readme.md\n\nbody",
		},
		{
			name: "json",
			key:  "data.json",
			data: `{"a":1}`,
			want: "# data.json\n\n## Content\n\n```json\n{\"a\":1}\n```\n\n*Converted from JSON format*",
		},
		{
			name: "unknown",
			key:  "report.pdf",
			data: "raw",
			want: "# report.pdf\n\n## Raw Content\n\n```\nraw\n```\n\n*Converted from unknown format*",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fallback(tt.key, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("binary content", func(t *testing.T) {
		_, err := Fallback("scan.pdf", []byte{0xff, 0xfe, 0x00, 0x81})
		assert.ErrorIs(t, err, ErrNotText)
	})
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convert/file", r.URL.Path)
		f, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		if hdr.Filename == "broken.docx" {
			http.Error(w, "conversion failed", http.StatusUnprocessableEntity)
			return
		}
		w.Write([]byte(`{"document":{"md_content":"# converted\n\n` + string(b) + `"},"status":"success"}`))
	}))
	defer srv.Close()

	c := NewClient(config.ConverterConfig{URL: srv.URL}, nil)

	md, err := c.Convert(context.Background(), "a.docx", []byte("text"))
	require.NoError(t, err)
	assert.Equal(t, "# converted\n\ntext", md)

	_, err = c.Convert(context.Background(), "broken.docx", []byte("x"))
	assert.Error(t, err)

	_, err = NewClient(config.ConverterConfig{}, nil).Convert(context.Background(), "a.txt", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClientLogsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"document":{"md_content":"# Title"},"status":"partial_success","errors":["page 2 unreadable"]}`)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	c := NewClient(config.ConverterConfig{URL: srv.URL}, logger.Wrap(zap.New(core)))

	md, err := c.Convert(context.Background(), "scan.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "# Title", md)
	assert.Equal(t, 1, logs.FilterMessage("Conversion reported errors").Len())
	converted := logs.FilterMessage("Document converted").All()
	require.Len(t, converted, 1)
	assert.Equal(t, "scan.pdf", converted[0].ContextMap()["file"])
	assert.Equal(t, "converter", converted[0].ContextMap()["component"])

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported", http.StatusUnprocessableEntity)
	}))
	defer rejecting.Close()

	c = NewClient(config.ConverterConfig{URL: rejecting.URL}, logger.Wrap(zap.New(core)))
	_, err = c.Convert(context.Background(), "scan.pdf", []byte("%PDF"))
	assert.ErrorContains(t, err, "status 422")
	rejected := logs.FilterMessage("Conversion service rejected document").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, int64(http.StatusUnprocessableEntity), rejected[0].ContextMap()["status_code"])
}

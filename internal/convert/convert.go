package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned by a client without a service URL
	ErrNotConfigured = errors.New("converter not configured")
	// ErrNotText is returned by Fallback for content that is not valid UTF-8
	ErrNotText = errors.New("content is not valid UTF-8 text")
)

// Converter turns a document into markdown
type Converter interface {
	Convert(ctx context.Context, name string, data []byte) (string, error)
}

// Client calls a docling-serve compatible conversion sidecar
type Client struct {
	url    string
	http   *http.Client
	logger *logger.Logger
}

type convertResponse struct {
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []any  `json:"errors"`
}

// NewClient creates a converter client. An empty URL yields a client that
// always fails, which routes every document through Fallback.
func NewClient(cfg config.ConverterConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		http:   &http.Client{Timeout: timeout},
		logger: log.WithComponent("converter"),
	}
}

// Convert uploads the document and returns its markdown rendering
func (c *Client) Convert(ctx context.Context, name string, data []byte) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.WriteField("to_formats", "md"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/convert/file", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Conversion request failed", zap.String("file", name), zap.Error(err))
		return "", fmt.Errorf("convert %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("Conversion service rejected document",
			zap.String("file", name),
			zap.Int("status_code", resp.StatusCode))
		return "", fmt.Errorf("convert %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("convert %s: decode response: %w", name, err)
	}
	if len(out.Errors) > 0 {
		c.logger.Warn("Conversion reported errors",
			zap.String("file", name),
			zap.String("status", out.Status),
			zap.Any("errors", out.Errors))
	}
	if strings.TrimSpace(out.Document.MDContent) == "" {
		return "", fmt.Errorf("convert %s: empty markdown", name)
	}

	c.logger.Debug("Document converted",
		zap.String("file", name),
		zap.Int("input_bytes", len(data)),
		zap.Int("markdown_bytes", len(out.Document.MDContent)),
		zap.Duration("duration", time.Since(start)))
	return out.Document.MDContent, nil
}

// Fallback renders a document as markdown without a conversion service.
// Only UTF-8 text is accepted; the extension picks the layout.
func Fallback(name string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", name, ErrNotText)
	}
	content := string(data)
	_, file := storage.SplitKey(name)
	ext := storage.Ext(file)

	switch ext {
	case "txt", "md", "markdown":
		return fmt.Sprintf("# %s\n\n%s", file, content), nil
	case "json", "xml":
		return fmt.Sprintf("# %s\n\n## Content\n\n```%s\n%s\n```\n\n*Converted from %s format*",
			file, ext, content, strings.ToUpper(ext)), nil
	default:
		return fmt.Sprintf("# %s\n\n## Raw Content\n\n```\n%s\n```\n\n*Converted from unknown format*", file, content), nil
	}
}

package openwebui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoBaseModel is logged when companion model creation is skipped
var ErrNoBaseModel = errors.New("no base model configured")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to an OpenWebUI-compatible indexing service. Requests share a
// token bucket so bursts of uploads stay under the service's limits.
type Client struct {
	baseURL   string
	apiKey    string
	baseModel string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *logger.Logger
}

// NewClient creates an indexing service client from configuration
func NewClient(cfg config.IndexerConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		baseModel: cfg.BaseModel,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, burst),
		logger:    log.WithComponent("openwebui"),
	}
}

// ListKnowledge returns every knowledge base visible to the API key
func (c *Client) ListKnowledge(ctx context.Context) ([]Knowledge, error) {
	var out []Knowledge
	if err := c.doJSON(ctx, "list knowledge", http.MethodGet, "/api/v1/knowledge/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateKnowledge creates a knowledge base
func (c *Client) CreateKnowledge(ctx context.Context, name, description string) (Knowledge, error) {
	req := createKnowledgeRequest{
		Name:          name,
		Description:   description,
		Data:          map[string]any{},
		AccessControl: map[string]any{},
	}
	var out Knowledge
	if err := c.doJSON(ctx, "create knowledge", http.MethodPost, "/api/v1/knowledge/create", req, &out); err != nil {
		return Knowledge{}, err
	}
	if out.ID == "" {
		return Knowledge{}, fmt.Errorf("create knowledge %q: response has no id", name)
	}
	if out.Name == "" {
		out.Name = name
	}
	return out, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// CreateModel creates a companion model bound to a knowledge base. Without a
// configured base model there is nothing to derive from, so it returns ""
// and no error.
func (c *Client) CreateModel(ctx context.Context, spec ModelSpec) (string, error) {
	if c.baseModel == "" {
		c.logger.Debug("Skipping model creation", zap.String("model", spec.Name), zap.Error(ErrNoBaseModel))
		return "", nil
	}

	id := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(spec.Name), "-"), "-")
	req := createModelRequest{
		ID:          id,
		Name:        spec.Name,
		BaseModelID: c.baseModel,
		Meta: modelMeta{
			Description: spec.Description,
			Knowledge:   []Knowledge{spec.Knowledge},
		},
		Params: map[string]any{},
	}
	var out idResponse
	if err := c.doJSON(ctx, "create model", http.MethodPost, "/api/v1/models/create", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		out.ID = id
	}
	return out.ID, nil
}

// UploadFile uploads a file and returns its id
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/files/", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out idResponse
	if err := c.do(req, "upload file", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload file %q: response has no id", name)
	}
	return out.ID, nil
}

// AttachFile adds an uploaded file to a knowledge base
func (c *Client) AttachFile(ctx context.Context, knowledgeID, fileID string) error {
	path := fmt.Sprintf("/api/v1/knowledge/%s/file/add", knowledgeID)
	return c.doJSON(ctx, "attach file", http.MethodPost, path, attachFileRequest{FileID: fileID}, nil)
}

// DeleteFile removes an uploaded file
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, "delete file", http.MethodDelete, "/api/v1/files/"+fileID, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, op, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

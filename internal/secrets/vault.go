package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/privacy"
	"go.uber.org/zap"
)

// ErrSecretNotFound is returned when a class has no secret at its path
var ErrSecretNotFound = errors.New("secret not found")

// Vault reads PII patterns and replacement strategies from a Vault KV v2 mount
type Vault struct {
	addr             string
	token            string
	mount            string
	patternsPath     string
	replacementsPath string
	probeTimeout     time.Duration
	requestTimeout   time.Duration
	client           *http.Client
	logger           *logger.Logger
}

var _ privacy.SecretStore = (*Vault)(nil)

// kvResponse is the KV v2 read envelope; the secret itself is data.data
type kvResponse struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

// NewVault creates a Vault client from configuration
func NewVault(cfg config.VaultConfig, log *logger.Logger) *Vault {
	if log == nil {
		log = logger.NewNop()
	}
	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &Vault{
		addr:             strings.TrimRight(cfg.Addr, "/"),
		token:            cfg.Token,
		mount:            mount,
		patternsPath:     strings.Trim(cfg.PatternsPath, "/"),
		replacementsPath: strings.Trim(cfg.ReplacementsPath, "/"),
		probeTimeout:     cfg.ProbeTimeout,
		requestTimeout:   cfg.RequestTimeout,
		client:           &http.Client{},
		logger:           log.WithComponent("vault"),
	}
}

// HealthProbe reports whether Vault answers /v1/sys/health with 200
func (v *Vault) HealthProbe(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, v.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.addr+"/v1/sys/health", nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Debug("Vault health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// GetPattern returns the regular expression source for a class
func (v *Vault) GetPattern(ctx context.Context, class privacy.Class) (string, error) {
	data, err := v.read(ctx, v.patternsPath, class)
	if err != nil {
		return "", err
	}
	pattern, ok := data["pattern"]
	if !ok || pattern == "" {
		return "", fmt.Errorf("secret %s/%s has no pattern field", v.patternsPath, class)
	}
	return pattern, nil
}

// GetStrategy returns the replacement method and its template for a class.
// Tokenize secrets carry a "prefix" field, mask secrets a "pattern" field.
func (v *Vault) GetStrategy(ctx context.Context, class privacy.Class) (string, string, error) {
	data, err := v.read(ctx, v.replacementsPath, class)
	if err != nil {
		return "", "", err
	}
	method := data["method"]
	if method == "" {
		return "", "", fmt.Errorf("secret %s/%s has no method field", v.replacementsPath, class)
	}
	template := data["prefix"]
	if strings.EqualFold(method, string(privacy.MethodMask)) {
		template = data["pattern"]
	}
	return method, template, nil
}

func (v *Vault) read(ctx context.Context, base string, class privacy.Class) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx, v.requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/%s/data/%s/%s", v.addr, v.mount, base, class)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", base, class, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s/%s: %w", base, class, ErrSecretNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("read %s/%s: unexpected status %d", base, class, resp.StatusCode)
	}

	var kv kvResponse
	if err := json.NewDecoder(resp.Body).Decode(&kv); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", base, class, err)
	}
	if kv.Data.Data == nil {
		return nil, fmt.Errorf("%s/%s: %w", base, class, ErrSecretNotFound)
	}
	return kv.Data.Data, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

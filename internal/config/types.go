package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Vault     VaultConfig     `yaml:"vault" mapstructure:"vault"`
	Indexer   IndexerConfig   `yaml:"indexer" mapstructure:"indexer"`
	Converter ConverterConfig `yaml:"converter" mapstructure:"converter"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains the diagnostic HTTP server configuration
type ServerConfig struct {
	Enabled        bool            `yaml:"enabled" mapstructure:"enabled"`
	Port           int             `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxUploadBytes int64           `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig limits diagnostic requests per client IP
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string        `yaml:"level" mapstructure:"level"`
	Format string        `yaml:"format" mapstructure:"format"` // json or console
	File   LogFileConfig `yaml:"file" mapstructure:"file"`
}

// LogFileConfig controls the optional JSON log file tee
type LogFileConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// StorageConfig selects the object storage backend and its containers
type StorageConfig struct {
	Backend             string `yaml:"backend" mapstructure:"backend"` // badger
	Path                string `yaml:"path" mapstructure:"path"`
	InMemory            bool   `yaml:"in_memory" mapstructure:"in_memory"`
	IntakeContainer     string `yaml:"intake_container" mapstructure:"intake_container"`
	ProcessedContainer  string `yaml:"processed_container" mapstructure:"processed_container"`
	QuarantineContainer string `yaml:"quarantine_container" mapstructure:"quarantine_container"`
}

// VaultConfig points at the secret store holding PII patterns
type VaultConfig struct {
	Addr             string        `yaml:"addr" mapstructure:"addr"`
	Token            string        `yaml:"token" mapstructure:"token"`
	Mount            string        `yaml:"mount" mapstructure:"mount"`
	PatternsPath     string        `yaml:"patterns_path" mapstructure:"patterns_path"`
	ReplacementsPath string        `yaml:"replacements_path" mapstructure:"replacements_path"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// IndexerConfig contains the knowledge indexing service (OpenWebUI) settings
type IndexerConfig struct {
	URL                 string        `yaml:"url" mapstructure:"url"`
	APIKey              string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond   float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst               int           `yaml:"burst" mapstructure:"burst"`
	BaseModel           string        `yaml:"base_model" mapstructure:"base_model"`
	KnowledgeNameSuffix string        `yaml:"knowledge_name_suffix" mapstructure:"knowledge_name_suffix"`
}

// ConverterConfig points at the document conversion sidecar
type ConverterConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PipelineConfig controls the polling driver and retry policy
type PipelineConfig struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"` // 0 = unlimited
	DedupeByHash bool          `yaml:"dedupe_by_hash" mapstructure:"dedupe_by_hash"`
}

// PrivacyConfig holds additional PII classes applied after the built-ins
type PrivacyConfig struct {
	Classes []ClassConfig `yaml:"classes" mapstructure:"classes"`
}

// ClassConfig declares one PII class and its default pattern and strategy
type ClassConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Pattern  string `yaml:"pattern" mapstructure:"pattern"`
	Method   string `yaml:"method" mapstructure:"method"` // tokenize or mask
	Template string `yaml:"template" mapstructure:"template"`
}

// LockConfig selects how routing-key get-or-create is serialized
type LockConfig struct {
	Backend  string        `yaml:"backend" mapstructure:"backend"` // local or redis
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
	LeaseTTL time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
}

// LedgerConfig selects where attempts and commits are recorded
type LedgerConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"` // memory or postgres
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// WebSocketConfig contains the pipeline event stream configuration
type WebSocketConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Events   struct {
		BroadcastTransitions bool `yaml:"broadcast_transitions" mapstructure:"broadcast_transitions"`
		BroadcastCycles      bool `yaml:"broadcast_cycles" mapstructure:"broadcast_cycles"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Enabled:        true,
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 50 << 20,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: LogFileConfig{
				Enabled: false,
				Path:    "logs/docguard.log",
			},
		},
		Storage: StorageConfig{
			Backend:             "badger",
			Path:                "data/blobs",
			IntakeContainer:     "uploads",
			ProcessedContainer:  "processed",
			QuarantineContainer: "quarantine",
		},
		Vault: VaultConfig{
			Addr:             "http://localhost:8200",
			Mount:            "secret",
			PatternsPath:     "pii-patterns",
			ReplacementsPath: "pii-replacements",
			ProbeTimeout:     5 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Indexer: IndexerConfig{
			Timeout:             10 * time.Second,
			RequestsPerSecond:   5,
			Burst:               5,
			KnowledgeNameSuffix: "Documents",
		},
		Converter: ConverterConfig{
			Timeout: 120 * time.Second,
		},
		Pipeline: PipelineConfig{
			Interval:    30 * time.Second,
			Workers:     1,
			MaxAttempts: 0,
		},
		Lock: LockConfig{
			Backend:  "local",
			LeaseTTL: 30 * time.Second,
			Prefix:   "docguard:kb-lock",
		},
		Ledger: LedgerConfig{
			Backend:         "memory",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
	}

	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Events.BroadcastTransitions = true
	cfg.WebSocket.Events.BroadcastCycles = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}

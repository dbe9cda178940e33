package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration marks configuration problems that must stop the process
// before polling starts.
var ErrConfiguration = errors.New("configuration error")

// Load loads configuration from .env, the config file and environment variables
func Load(configPath string) (*Config, error) {
	// Best-effort: a missing .env is not an error
	_ = godotenv.Load()

	return load(viper.GetViper(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	config := GetDefaults()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/docguard/")
	v.AddConfigPath("$HOME/.docguard/")

	v.SetEnvPrefix("DOCGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// bindEnv registers keys that have no default in the file so AutomaticEnv
// can see them during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"indexer.url",
		"indexer.api_key",
		"indexer.base_model",
		"vault.addr",
		"vault.token",
		"converter.url",
		"lock.redis_url",
		"ledger.database_url",
		"websocket.username",
		"websocket.password",
		"storage.path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks the loaded configuration. Every returned error wraps
// ErrConfiguration.
func Validate(config *Config) error {
	var problems []string

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server port: %d", config.Server.Port))
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMin <= 0 {
		problems = append(problems, "server.rate_limit.requests_per_min must be positive when enabled")
	}

	if config.Server.MaxUploadBytes <= 0 {
		problems = append(problems, "server.max_upload_bytes must be positive")
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level))
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		problems = append(problems, fmt.Sprintf("invalid log format: %s (must be json or console)", config.Logging.Format))
	}

	if strings.TrimSpace(config.Indexer.URL) == "" {
		problems = append(problems, "indexer.url is required")
	}
	if strings.TrimSpace(config.Indexer.APIKey) == "" {
		problems = append(problems, "indexer.api_key is required")
	}

	if config.Storage.Backend != "badger" {
		problems = append(problems, fmt.Sprintf("invalid storage backend: %s (must be badger)", config.Storage.Backend))
	}
	if !config.Storage.InMemory && config.Storage.Path == "" {
		problems = append(problems, "storage.path is required unless storage.in_memory is set")
	}
	if config.Storage.IntakeContainer == "" || config.Storage.ProcessedContainer == "" {
		problems = append(problems, "storage intake and processed containers are required")
	}
	if config.Storage.IntakeContainer == config.Storage.ProcessedContainer {
		problems = append(problems, "storage intake and processed containers must differ")
	}

	switch config.Lock.Backend {
	case "local":
	case "redis":
		if config.Lock.RedisURL == "" {
			problems = append(problems, "lock.redis_url is required for the redis lock backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid lock backend: %s (must be local or redis)", config.Lock.Backend))
	}

	switch config.Ledger.Backend {
	case "memory":
	case "postgres":
		if config.Ledger.DatabaseURL == "" {
			problems = append(problems, "ledger.database_url is required for the postgres ledger")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid ledger backend: %s (must be memory or postgres)", config.Ledger.Backend))
	}

	if config.Pipeline.Interval <= 0 {
		problems = append(problems, "pipeline.interval must be positive")
	}
	if config.Pipeline.Workers < 1 {
		problems = append(problems, "pipeline.workers must be at least 1")
	}
	if config.Pipeline.MaxAttempts < 0 {
		problems = append(problems, "pipeline.max_attempts must not be negative")
	}

	for i, class := range config.Privacy.Classes {
		if err := validateClass(class); err != nil {
			problems = append(problems, fmt.Sprintf("privacy.classes[%d]: %v", i, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func validateClass(class ClassConfig) error {
	if strings.TrimSpace(class.Name) == "" {
		return errors.New("name is required")
	}
	if _, err := regexp.Compile(class.Pattern); err != nil || class.Pattern == "" {
		return fmt.Errorf("invalid pattern %q", class.Pattern)
	}
	if class.Method != "tokenize" && class.Method != "mask" {
		return fmt.Errorf("invalid method %q (must be tokenize or mask)", class.Method)
	}
	if class.Method == "mask" && class.Template == "" {
		return errors.New("mask template is required")
	}
	return nil
}

// Watch starts watching the configuration file for changes. Invalid
// reloads are reported to onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) {
	v := viper.GetViper()
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		if err := Validate(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()
}

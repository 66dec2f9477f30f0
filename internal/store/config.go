// File path: internal/store/config.go
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TextAnalyzer is the single shared name of the full-text analyzer, used
// both when the index mapping is created and in every keyword query. The
// analyzer configuration (standard tokenizer with lowercase, cjk_width and
// cjk_bigram filters) follows the index-creation definition.
const TextAnalyzer = "cjk_text"

type Config struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Scheme   string `json:"scheme"`
	Index    string `json:"index"`
	Username string `json:"username"`
	Password string `json:"password"`

	Shards   int `json:"shards"`
	Replicas int `json:"replicas"`

	Timeout       time.Duration `json:"-"`
	TimeoutString string        `json:"timeout"`

	MaxRetries int `json:"max_retries"`
}

func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Host) != "" {
		result.Host = strings.TrimSpace(override.Host)
	}
	if strings.TrimSpace(override.Port) != "" {
		result.Port = strings.TrimSpace(override.Port)
	}
	if strings.TrimSpace(override.Scheme) != "" {
		result.Scheme = strings.TrimSpace(override.Scheme)
	}
	if strings.TrimSpace(override.Index) != "" {
		result.Index = strings.TrimSpace(override.Index)
	}
	if strings.TrimSpace(override.Username) != "" {
		result.Username = override.Username
	}
	if strings.TrimSpace(override.Password) != "" {
		result.Password = override.Password
	}
	if override.Shards > 0 {
		result.Shards = override.Shards
	}
	if override.Replicas > 0 {
		result.Replicas = override.Replicas
	}
	if override.Timeout > 0 {
		result.Timeout = override.Timeout
	}
	if strings.TrimSpace(override.TimeoutString) != "" {
		result.TimeoutString = strings.TrimSpace(override.TimeoutString)
	}
	if override.MaxRetries > 0 {
		result.MaxRetries = override.MaxRetries
	}
	return result
}

// LoadConfig merges an optional JSON config file with environment overrides
// and applies defaults.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("ELASTICSEARCH_CONFIG_FILE")); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	envCfg, err := loadConfigEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.Merge(envCfg)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "localhost"
	}
	if strings.TrimSpace(c.Port) == "" {
		c.Port = "9200"
	}
	if strings.TrimSpace(c.Scheme) == "" {
		c.Scheme = "http"
	}
	if strings.TrimSpace(c.Index) == "" {
		c.Index = "teaqa_chunks"
	}
	if c.Shards <= 0 {
		c.Shards = 1
	}
	if c.Replicas < 0 {
		c.Replicas = 0
	}
	if c.Timeout <= 0 {
		if c.TimeoutString != "" {
			if parsed, err := time.ParseDuration(c.TimeoutString); err == nil {
				c.Timeout = parsed
			}
		}
		if c.Timeout <= 0 {
			c.Timeout = 30 * time.Second
		}
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read elasticsearch config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse elasticsearch config: %w", err)
	}
	return cfg, nil
}

func loadConfigEnv() (Config, error) {
	cfg := Config{}
	if host := strings.TrimSpace(os.Getenv("ELASTICSEARCH_HOST")); host != "" {
		cfg.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("ELASTICSEARCH_PORT")); port != "" {
		cfg.Port = port
	}
	if scheme := strings.TrimSpace(os.Getenv("ELASTICSEARCH_SCHEME")); scheme != "" {
		cfg.Scheme = scheme
	}
	if index := strings.TrimSpace(os.Getenv("ELASTICSEARCH_INDEX")); index != "" {
		cfg.Index = index
	}
	if user := strings.TrimSpace(os.Getenv("ELASTICSEARCH_USERNAME")); user != "" {
		cfg.Username = user
	}
	if pass := strings.TrimSpace(os.Getenv("ELASTICSEARCH_PASSWORD")); pass != "" {
		cfg.Password = pass
	}
	if shards := strings.TrimSpace(os.Getenv("ELASTICSEARCH_SHARDS")); shards != "" {
		value, err := strconv.Atoi(shards)
		if err != nil {
			return Config{}, fmt.Errorf("parse ELASTICSEARCH_SHARDS: %w", err)
		}
		cfg.Shards = value
	}
	if replicas := strings.TrimSpace(os.Getenv("ELASTICSEARCH_REPLICAS")); replicas != "" {
		value, err := strconv.Atoi(replicas)
		if err != nil {
			return Config{}, fmt.Errorf("parse ELASTICSEARCH_REPLICAS: %w", err)
		}
		cfg.Replicas = value
	}
	if timeout := strings.TrimSpace(os.Getenv("ELASTICSEARCH_TIMEOUT")); timeout != "" {
		cfg.TimeoutString = timeout
		if parsed, err := time.ParseDuration(timeout); err == nil {
			cfg.Timeout = parsed
		}
	}
	if retries := strings.TrimSpace(os.Getenv("ELASTICSEARCH_MAX_RETRIES")); retries != "" {
		value, err := strconv.Atoi(retries)
		if err != nil {
			return Config{}, fmt.Errorf("parse ELASTICSEARCH_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = value
	}
	return cfg, nil
}

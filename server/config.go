package server

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// Environment variables that override file-based server settings. SDK-level
// settings (endpoint, API key, profile) keep their PANW_AI_SEC_* names and
// act as fallbacks when the file leaves them empty.
const (
	EnvListen      = "PANW_AISEC_SERVER_LISTEN"
	EnvMock        = "PANW_AISEC_SERVER_MOCK"
	EnvRedisURL    = "PANW_AISEC_SERVER_REDIS_URL"
	EnvDatabaseURL = "PANW_AISEC_SERVER_DATABASE_URL"
	EnvLogLevel    = "PANW_AISEC_SERVER_LOG_LEVEL"
	EnvCORSOrigins = "PANW_AISEC_SERVER_CORS_ORIGINS"
)

// Config is the server configuration, loaded from a YAML file with
// environment overrides applied on top.
type Config struct {
	Listen      string        `yaml:"listen"`
	Mock        bool          `yaml:"mock"`
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Profile     ProfileConfig `yaml:"profile"`
	Poll        PollConfig    `yaml:"poll"`
	RedisURL    string        `yaml:"redis_url"`
	DatabaseURL string        `yaml:"database_url"`
	CORSOrigins []string      `yaml:"cors_origins"`
	LogLevel    string        `yaml:"log_level"`
}

// ProfileConfig names the default AI profile scans are evaluated against
// when a request does not carry its own.
type ProfileConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AIProfile converts the config form to the SDK type.
func (p ProfileConfig) AIProfile() aisecurity.AIProfile {
	return aisecurity.AIProfile{ProfileID: p.ID, ProfileName: p.Name}
}

// PollConfig is the default retry budget for the wait endpoint.
type PollConfig struct {
	Attempts   int `yaml:"attempts"`
	IntervalMs int `yaml:"interval_ms"`
}

// Budget converts the config form to the SDK retry budget.
func (p PollConfig) Budget() aisecurity.RetryBudget {
	return aisecurity.RetryBudget{
		MaxAttempts:  p.Attempts,
		WaitInterval: time.Duration(p.IntervalMs) * time.Millisecond,
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	budget := aisecurity.DefaultRetryBudget()
	return Config{
		Listen: ":8080",
		Poll: PollConfig{
			Attempts:   budget.MaxAttempts,
			IntervalMs: int(budget.WaitInterval / time.Millisecond),
		},
		CORSOrigins: []string{"*"},
		LogLevel:    "info",
	}
}

// Load reads the YAML config at path, expands ${VAR} references against the
// environment, and applies environment overrides. An empty path skips the
// file and returns defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvMock); v != "" {
		c.Mock = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvCORSOrigins); v != "" {
		c.CORSOrigins = splitOrigins(v)
	}

	// SDK settings fall back to the PANW_AI_SEC_* variables the client and
	// examples already read.
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv(aisecurity.EnvAPIEndpoint)
	}
	if c.Profile.ID == "" {
		c.Profile.ID = os.Getenv(aisecurity.EnvProfileID)
	}
	if c.Profile.Name == "" {
		c.Profile.Name = os.Getenv(aisecurity.EnvProfileName)
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Poll.Attempts == 0 {
		c.Poll.Attempts = def.Poll.Attempts
	}
	if c.Poll.IntervalMs == 0 {
		c.Poll.IntervalMs = def.Poll.IntervalMs
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

func (c Config) validate() error {
	if c.Poll.Attempts < 1 {
		return fmt.Errorf("poll.attempts must be at least 1, got %d", c.Poll.Attempts)
	}
	if c.Poll.IntervalMs < 0 {
		return fmt.Errorf("poll.interval_ms must not be negative, got %d", c.Poll.IntervalMs)
	}
	if !c.Mock && c.Profile.ID == "" && c.Profile.Name == "" {
		return fmt.Errorf("profile.id or profile.name required (or set %s / %s)",
			aisecurity.EnvProfileID, aisecurity.EnvProfileName)
	}
	return nil
}

func splitOrigins(v string) []string {
	parts := strings.Split(v, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME references.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the config text.
// ${VAR_NAME:-default} substitutes the default when the variable is unset or
// empty; undefined variables expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			defaultVal = name[idx+2:]
			name = name[:idx]
		}

		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultVal
	})
}

// ExampleConfig returns a commented example configuration file.
func ExampleConfig() string {
	return `# AI Runtime Security demo service configuration.
# Environment variables can be referenced as ${VAR_NAME} or ${VAR_NAME:-default}.

listen: ":8080"

# Serve verdicts from the offline mock instead of the remote scan service.
mock: false

# Scan service connection. The API key may also come from PANW_AI_SEC_API_KEY
# or, in production, from the secret named by PANW_AI_SEC_API_KEY_SECRET_ARN.
endpoint: ${PANW_AI_SEC_API_ENDPOINT}
api_key: ${PANW_AI_SEC_API_KEY}

# Default AI profile for requests that do not carry their own.
profile:
  id: ${PANW_AI_PROFILE_ID}
  name: ${PANW_AI_PROFILE_NAME}

# Default retry budget for GET /v1/scans/{scan_id}/wait.
poll:
  attempts: 3
  interval_ms: 10000

# Optional shared verdict cache. Leave empty to disable.
redis_url: ${REDIS_URL}

# Optional scan history store. Leave empty to disable.
database_url: ${DATABASE_URL}

cors_origins:
  - "*"

log_level: info
`
}

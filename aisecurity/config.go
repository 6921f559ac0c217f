package aisecurity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by NewConfigFromEnv and LoadProfileFromEnv.
const (
	EnvAPIKey         = "PANW_AI_SEC_API_KEY"
	EnvAPIKeySecret   = "PANW_AI_SEC_API_KEY_SECRET_ARN"
	EnvAPIEndpoint    = "PANW_AI_SEC_API_ENDPOINT"
	EnvTimeoutSeconds = "PANW_AI_SEC_TIMEOUT_SECONDS"
	EnvRetryAttempts  = "PANW_AI_SEC_RETRY_ATTEMPTS"
	EnvProfileID      = "PANW_AI_PROFILE_ID"
	EnvProfileName    = "PANW_AI_PROFILE_NAME"

	// Alternate profile variable names used by the demo programs.
	EnvDemoProfileID   = "DEMO_AI_PROFILE_ID"
	EnvDemoProfileName = "DEMO_AI_PROFILE_NAME"
)

// LoadDotEnv loads variables from the given files (default ".env") into the
// process environment without overriding values already set. A missing file
// is not an error; development setups have one, deployments usually don't.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// NewConfigFromEnv builds a Config from the environment. A .env file in the
// working directory is loaded first, best-effort. The API key is required;
// endpoint, timeout, and retry attempts are optional overrides.
func NewConfigFromEnv() (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("aisecurity: loading .env: %w", err)
	}

	apiKey := os.Getenv(EnvAPIKey)
	if apiKey == "" {
		return Config{}, fmt.Errorf("%w: set %s", ErrMissingAPIKey, EnvAPIKey)
	}

	cfg := Config{
		APIKey:   apiKey,
		Endpoint: getEnvOrDefault(EnvAPIEndpoint, DefaultEndpoint),
	}
	if seconds := getEnvInt(EnvTimeoutSeconds, 0); seconds > 0 {
		cfg.Timeout = time.Duration(seconds) * time.Second
	}
	if attempts := getEnvInt(EnvRetryAttempts, 0); attempts > 0 {
		cfg.Retry.Enabled = true
		cfg.Retry.MaxAttempts = attempts
	}
	return cfg, nil
}

// LoadProfileFromEnv resolves the AI profile to scan against. The PANW_
// variables win; the DEMO_ names the example programs document are accepted
// as fallbacks. At least one identifier must be present.
func LoadProfileFromEnv() (AIProfile, error) {
	profile := AIProfile{
		ProfileID:   firstEnv(EnvProfileID, EnvDemoProfileID),
		ProfileName: firstEnv(EnvProfileName, EnvDemoProfileName),
	}
	if profile.IsZero() {
		return AIProfile{}, fmt.Errorf("%w: set %s or %s", ErrMissingProfile, EnvProfileID, EnvProfileName)
	}
	return profile, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

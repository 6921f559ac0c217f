package aisecurity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir changes into dir for the duration of the test, restoring the
// original working directory afterward. It stands in for testing.T.Chdir,
// which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Errorf("Failed to restore working directory: %v", err)
		}
	})
}

// clearScanEnv unsets every variable the loaders read, restoring them after
// the test.
func clearScanEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvAPIKey, EnvAPIEndpoint, EnvTimeoutSeconds, EnvRetryAttempts,
		EnvProfileID, EnvProfileName, EnvDemoProfileID, EnvDemoProfileName,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	clearScanEnv(t)
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvAPIEndpoint, "https://scan.example.com")
	t.Setenv(EnvTimeoutSeconds, "10")
	t.Setenv(EnvRetryAttempts, "7")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv failed: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("Expected API key env-key, got %q", cfg.APIKey)
	}
	if cfg.Endpoint != "https://scan.example.com" {
		t.Errorf("Expected endpoint override, got %q", cfg.Endpoint)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %v", cfg.Timeout)
	}
	if !cfg.Retry.Enabled || cfg.Retry.MaxAttempts != 7 {
		t.Errorf("Expected retry enabled with 7 attempts, got %+v", cfg.Retry)
	}
}

func TestNewConfigFromEnvDefaults(t *testing.T) {
	clearScanEnv(t)
	t.Setenv(EnvAPIKey, "env-key")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv failed: %v", err)
	}
	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("Expected default endpoint, got %q", cfg.Endpoint)
	}
	if cfg.Timeout != 0 {
		t.Errorf("Expected zero timeout (client defaults it), got %v", cfg.Timeout)
	}
}

func TestNewConfigFromEnvMissingKey(t *testing.T) {
	clearScanEnv(t)

	_, err := NewConfigFromEnv()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewConfigFromEnvDotEnvFile(t *testing.T) {
	clearScanEnv(t)

	dir := t.TempDir()
	env := "PANW_AI_SEC_API_KEY=file-key\nPANW_AI_SEC_API_ENDPOINT=https://file.example.com\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	chdir(t, dir)

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv failed: %v", err)
	}
	if cfg.APIKey != "file-key" {
		t.Errorf("Expected API key from .env file, got %q", cfg.APIKey)
	}
	if cfg.Endpoint != "https://file.example.com" {
		t.Errorf("Expected endpoint from .env file, got %q", cfg.Endpoint)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	if err := LoadDotEnv(); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestLoadProfileFromEnv(t *testing.T) {
	clearScanEnv(t)
	t.Setenv(EnvProfileName, "prod-profile")

	profile, err := LoadProfileFromEnv()
	if err != nil {
		t.Fatalf("LoadProfileFromEnv failed: %v", err)
	}
	if profile.ProfileName != "prod-profile" || profile.ProfileID != "" {
		t.Errorf("Unexpected profile: %+v", profile)
	}
}

func TestLoadProfileFromEnvDemoFallback(t *testing.T) {
	clearScanEnv(t)
	t.Setenv(EnvDemoProfileID, "demo-id")

	profile, err := LoadProfileFromEnv()
	if err != nil {
		t.Fatalf("LoadProfileFromEnv failed: %v", err)
	}
	if profile.ProfileID != "demo-id" {
		t.Errorf("Expected demo fallback ID, got %+v", profile)
	}

	// The PANW_ name wins when both are set.
	t.Setenv(EnvProfileID, "primary-id")
	profile, err = LoadProfileFromEnv()
	if err != nil {
		t.Fatalf("LoadProfileFromEnv failed: %v", err)
	}
	if profile.ProfileID != "primary-id" {
		t.Errorf("Expected PANW_ name to win, got %+v", profile)
	}
}

func TestLoadProfileFromEnvMissing(t *testing.T) {
	clearScanEnv(t)

	_, err := LoadProfileFromEnv()
	if !errors.Is(err, ErrMissingProfile) {
		t.Fatalf("Expected ErrMissingProfile, got %v", err)
	}
}

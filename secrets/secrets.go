// Package secrets resolves AI Runtime Security credentials from managed
// secret stores. Deployments keep the scan API key out of process
// environments by storing it in AWS Secrets Manager and pointing
// PANW_AI_SEC_API_KEY_SECRET_ARN at it; development setups fall back to
// plain environment variables or an in-memory store.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// Store resolves a named secret to a map of credential fields.
type Store interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// Credential field keys recognized inside a resolved secret.
const (
	KeyAPIKey = "api_key"
	KeyValue  = "value"
)

// ErrNoAPIKeySource is returned when neither the API key variable nor a
// secret reference is configured.
var ErrNoAPIKeySource = errors.New("secrets: no API key source configured, set " +
	aisecurity.EnvAPIKey + " or " + aisecurity.EnvAPIKeySecret)

// ResolveAPIKey returns the scan API key. A key set directly in the
// environment wins; otherwise the secret named by PANW_AI_SEC_API_KEY_SECRET_ARN
// is fetched from the store and its api_key field (or bare value) is used.
func ResolveAPIKey(ctx context.Context, store Store) (string, error) {
	if key := os.Getenv(aisecurity.EnvAPIKey); key != "" {
		return key, nil
	}

	ref := os.Getenv(aisecurity.EnvAPIKeySecret)
	if ref == "" {
		return "", ErrNoAPIKeySource
	}
	if store == nil {
		return "", fmt.Errorf("secrets: %s is set but no secret store is configured", aisecurity.EnvAPIKeySecret)
	}

	fields, err := store.GetSecret(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("secrets: resolve API key: %w", err)
	}
	if key := fields[KeyAPIKey]; key != "" {
		return key, nil
	}
	if key := fields[KeyValue]; key != "" {
		return key, nil
	}
	return "", fmt.Errorf("secrets: secret %s has no %s or %s field", maskName(ref), KeyAPIKey, KeyValue)
}

type cachedSecret struct {
	fields    map[string]string
	expiresAt time.Time
}

// AWSStore reads secrets from AWS Secrets Manager with a short-lived local
// cache, so repeated key resolutions do not hammer the service.
type AWSStore struct {
	client *secretsmanager.Client
	ttl    time.Duration
	logger *log.Logger

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

// AWSStoreOptions configures an AWSStore. Static credentials are only for
// test and local setups; leave them empty to use the default AWS credential
// chain.
type AWSStoreOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	CacheTTL        time.Duration
	Logger          *log.Logger
}

// NewAWSStore creates a Secrets Manager backed store.
func NewAWSStore(ctx context.Context, opts AWSStoreOptions) (*AWSStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS] ", log.LstdFlags)
	}

	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cachedSecret),
	}, nil
}

// GetSecret fetches a secret by ARN or name. JSON secrets are decoded into
// their fields; a plain-string secret is exposed under the "value" key.
func (s *AWSStore) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	entry, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.fields, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskName(name))

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", maskName(name), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskName(name))
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		fields = map[string]string{KeyValue: *out.SecretString}
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{fields: fields, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return fields, nil
}

// Invalidate drops one secret from the cache, forcing a refetch.
func (s *AWSStore) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
}

// InvalidateAll clears the cache.
func (s *AWSStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]cachedSecret)
	s.mu.Unlock()
}

// EnvStore reads credential fields from environment variables. The secret
// name is used as a variable prefix: resolving "PANW" collects PANW_API_KEY,
// PANW_API_SECRET, and so on.
type EnvStore struct {
	logger *log.Logger
}

// Credential fields an EnvStore looks for under the prefix.
var envFields = []string{
	"API_KEY", "API_SECRET", "TOKEN",
	"ENDPOINT", "PROFILE_ID", "PROFILE_NAME",
	"USERNAME", "PASSWORD",
}

// NewEnvStore creates an environment-backed store for development use.
func NewEnvStore(logger *log.Logger) *EnvStore {
	if logger == nil {
		logger = log.New(os.Stdout, "[ENV_SECRETS] ", log.LstdFlags)
	}
	return &EnvStore{logger: logger}
}

// GetSecret collects credential fields for the given prefix. Field names map
// to lowercase keys: PANW_API_KEY becomes api_key.
func (s *EnvStore) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, field := range envFields {
		if value := os.Getenv(name + "_" + field); value != "" {
			fields[strings.ToLower(field)] = value
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", name)
	}
	return fields, nil
}

// LocalStore is an in-memory store for tests and single-process setups.
type LocalStore struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

// NewLocalStore creates an empty in-memory store.
func NewLocalStore() *LocalStore {
	return &LocalStore{secrets: make(map[string]map[string]string)}
}

// Set stores a secret under the given name.
func (s *LocalStore) Set(name string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = fields
}

// GetSecret returns a stored secret.
func (s *LocalStore) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fields, ok := s.secrets[name]; ok {
		return fields, nil
	}
	return nil, fmt.Errorf("secret %s not found", maskName(name))
}

// maskName hides all but the last 8 characters of a secret name for logging.
func maskName(name string) string {
	if len(name) <= 12 {
		return "***"
	}
	return "..." + name[len(name)-8:]
}

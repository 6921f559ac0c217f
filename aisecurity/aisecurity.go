// Package aisecurity is a client for the Palo Alto Networks AI Runtime
// Security scan service. It submits prompt/response content for synchronous
// or asynchronous evaluation, queries scan and report status, and polls
// asynchronous results to completion under a fixed retry budget.
//
// The scan service itself is remote; this package only consumes it. Nothing
// here evaluates content.
package aisecurity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the production scan service endpoint used when the
// configuration does not name one.
const DefaultEndpoint = "https://service.api.aisecurity.paloaltonetworks.com"

// API paths served by the scan service.
const (
	syncScanPath    = "/v1/scan/sync/request"
	asyncScanPath   = "/v1/scan/async/request"
	scanResultsPath = "/v1/scan/results"
	scanReportsPath = "/v1/scan/reports"
)

// apiKeyHeader carries the API key on every request.
const apiKeyHeader = "x-pan-token"

// Batch limits enforced by the scan service. Requests exceeding them are
// rejected locally before any network call.
const (
	MaxSyncScanContents  = 2
	MaxAsyncScanObjects  = 5
	MaxScanIDsPerQuery   = 5
	MaxReportIDsPerQuery = 5
)

// Config holds client configuration.
type Config struct {
	APIKey    string        // Required: scan service API key
	Endpoint  string        // Optional: service base URL (default: DefaultEndpoint)
	Timeout   time.Duration // Request timeout (default: 30s)
	UserAgent string        // Optional User-Agent header
	Retry     RetryConfig   // Transport retry configuration
	Cache     CacheConfig   // Sync scan verdict cache configuration
}

// RetryConfig configures transport-level retry. This layer is independent of
// the result poller: it re-issues a single failed HTTP call, while the poller
// re-queries a pending scan.
type RetryConfig struct {
	Enabled      bool          // Enable retry logic (default: true)
	MaxAttempts  int           // Maximum attempts per call (default: 5)
	InitialDelay time.Duration // Initial delay between attempts (default: 1s)
}

// CacheConfig configures the in-memory sync scan verdict cache. Identical
// content scanned against the same profile within the TTL reuses the cached
// verdict instead of a network call.
type CacheConfig struct {
	Enabled bool          // Enable caching (default: false)
	TTL     time.Duration // Cache TTL (default: 5m when enabled)
}

// Client talks to the AI Runtime Security scan service.
type Client struct {
	config     Config
	httpClient *http.Client
	cache      *verdictCache
	metrics    *ClientMetrics
}

// Validation errors surfaced before any network call.
var (
	ErrMissingAPIKey    = errors.New("aisecurity: missing API key")
	ErrMissingProfile   = errors.New("aisecurity: profile needs profile_id or profile_name")
	ErrEmptyContents    = errors.New("aisecurity: scan request has no contents")
	ErrEmptyScanContent = errors.New("aisecurity: scan content has neither prompt nor response")
)

// APIError is a non-2xx response from the scan service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scan service returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the transport retry layer may re-issue the call.
// Client errors (4xx) are never retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// NewClient creates a scan service client. The API key is required;
// everything else defaults.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	base, err := url.Parse(config.Endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("aisecurity: invalid endpoint %q", config.Endpoint)
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 5
		config.Retry.Enabled = true
	}
	if config.Retry.InitialDelay == 0 {
		config.Retry.InitialDelay = 1 * time.Second
	}
	if config.Cache.Enabled && config.Cache.TTL == 0 {
		config.Cache.TTL = 5 * time.Minute
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		metrics: NewClientMetrics(),
	}
	if config.Cache.Enabled {
		c.cache = newVerdictCache(config.Cache.TTL)
	}
	return c, nil
}

// NewClientFromEnv builds a client from NewConfigFromEnv.
func NewClientFromEnv() (*Client, error) {
	cfg, err := NewConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(cfg)
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Metrics exposes the client's counters and latency histogram.
func (c *Client) Metrics() *ClientMetrics {
	return c.metrics
}

// Close releases idle connections and stops the cache janitor. The client
// must not be used afterwards.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.stop()
	}
	c.httpClient.CloseIdleConnections()
}

// SyncScan submits content for synchronous evaluation and returns its
// verdict. When the verdict cache is enabled, identical content against the
// same profile within the TTL is answered locally.
func (c *Client) SyncScan(ctx context.Context, req ScanRequest) (*ScanResponse, error) {
	if err := validateScanRequest(req); err != nil {
		return nil, err
	}

	var key string
	if c.cache != nil {
		key = VerdictKey(req.AIProfile, req.Contents)
		if cached, found := c.cache.get(key); found {
			c.metrics.RecordCacheHit()
			return cached, nil
		}
		c.metrics.RecordCacheMiss()
	}

	var out ScanResponse
	if err := c.call(ctx, http.MethodPost, syncScanPath, nil, req, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(key, &out)
	}
	return &out, nil
}

// AsyncScan submits a batch of up to MaxAsyncScanObjects scan requests for
// asynchronous evaluation. The returned handle is the poll key for the
// batch's results.
func (c *Client) AsyncScan(ctx context.Context, objects []AsyncScanObject) (*AsyncScanResponse, error) {
	if len(objects) == 0 {
		return nil, ErrEmptyContents
	}
	if len(objects) > MaxAsyncScanObjects {
		return nil, fmt.Errorf("aisecurity: batch of %d exceeds %d scan objects", len(objects), MaxAsyncScanObjects)
	}
	for _, obj := range objects {
		if err := validateScanRequest(obj.ScanReq); err != nil {
			return nil, fmt.Errorf("aisecurity: scan object %d: %w", obj.ReqID, err)
		}
	}

	var out AsyncScanResponse
	if err := c.call(ctx, http.MethodPost, asyncScanPath, nil, objects, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryByScanIDs looks up the processing status of up to MaxScanIDsPerQuery
// scans. Completed records carry the scan verdict in Result.
func (c *Client) QueryByScanIDs(ctx context.Context, scanIDs []string) ([]ScanIDResult, error) {
	if err := validateIDs(scanIDs, MaxScanIDsPerQuery, "scan"); err != nil {
		return nil, err
	}

	query := url.Values{"scan_ids": {strings.Join(scanIDs, ",")}}
	var out []ScanIDResult
	if err := c.call(ctx, http.MethodGet, scanResultsPath, query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryByReportIDs looks up detection results for up to MaxReportIDsPerQuery
// reports. Reports still processing come back with empty DetectionResults.
func (c *Client) QueryByReportIDs(ctx context.Context, reportIDs []string) ([]ThreatScanReportObject, error) {
	if err := validateIDs(reportIDs, MaxReportIDsPerQuery, "report"); err != nil {
		return nil, err
	}

	query := url.Values{"report_ids": {strings.Join(reportIDs, ",")}}
	var out []ThreatScanReportObject
	if err := c.call(ctx, http.MethodGet, scanReportsPath, query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateScanRequest(req ScanRequest) error {
	if req.AIProfile.IsZero() {
		return ErrMissingProfile
	}
	if len(req.Contents) == 0 {
		return ErrEmptyContents
	}
	if len(req.Contents) > MaxSyncScanContents {
		return fmt.Errorf("aisecurity: %d content items exceeds %d per request", len(req.Contents), MaxSyncScanContents)
	}
	for _, content := range req.Contents {
		if content.IsZero() {
			return ErrEmptyScanContent
		}
	}
	return nil
}

func validateIDs(ids []string, max int, kind string) error {
	if len(ids) == 0 {
		return fmt.Errorf("aisecurity: no %s IDs to query", kind)
	}
	if len(ids) > max {
		return fmt.Errorf("aisecurity: %d %s IDs exceeds %d per query", len(ids), kind, max)
	}
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("aisecurity: empty %s ID in query", kind)
		}
	}
	return nil
}

// call runs one API operation through the transport retry layer and records
// metrics for it.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	err := c.executeWithRetry(ctx, method, path, query, body, out)
	c.metrics.RecordRequest(time.Since(start), err)
	return err
}

// executeWithRetry executes a request with exponential backoff. Client
// errors (4xx) and context cancellation stop retrying immediately.
func (c *Client) executeWithRetry(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.config.Retry.Enabled {
		return c.executeRequest(ctx, method, path, query, body, out)
	}

	var lastErr error
	for attempt := 0; attempt < c.config.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: delay * 2^(attempt-1)
			delay := time.Duration(float64(c.config.Retry.InitialDelay) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.metrics.RecordRetry()
		}

		err := c.executeRequest(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.config.Retry.MaxAttempts, lastErr)
}

// executeRequest executes a single request without retry.
func (c *Client) executeRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.config.Endpoint + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(apiKeyHeader, c.config.APIKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

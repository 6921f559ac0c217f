// Package mock is an offline stand-in for the AI Runtime Security scan
// service. It classifies prompts with rule-based substring checks instead of
// calling the remote detection services, so examples, tests, and local
// development need no credentials or network access.
//
// Client exposes the same call surface as the real client, including the
// asynchronous submit/poll lifecycle: freshly submitted batches answer
// "pending" for a configurable number of queries before completing, which
// lets the result poller run a realistic session offline.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// Fixed identifiers stamped on mock verdicts.
const (
	TransactionID = "mock-transaction-id"
	ProfileID     = "mock-profile-id"
	ProfileName   = "mock-profile-name"
)

// Detection service names used in mock report entries.
const (
	serviceURLFiltering    = "urlf"
	serviceDLP             = "dlp"
	servicePromptInjection = "pi"
)

// promptFindings is the outcome of the rule-based classifier for one prompt.
type promptFindings struct {
	urlCats   bool
	dlp       bool
	injection bool
}

// classify applies the substring rules to a prompt. Checks are
// case-insensitive and look at the prompt only; responses are never
// classified.
func classify(prompt string) promptFindings {
	lower := strings.ToLower(prompt)
	return promptFindings{
		urlCats: strings.Contains(lower, "url"),
		dlp: strings.Contains(lower, "bank account") ||
			strings.Contains(lower, "password") ||
			strings.Contains(lower, "routing number"),
		injection: strings.Contains(lower, "ignore"),
	}
}

// category maps findings to a verdict category, highest severity first.
func (f promptFindings) category() string {
	switch {
	case f.urlCats:
		return "security"
	case f.dlp:
		return "dlp"
	case f.injection:
		return "policy"
	default:
		return "none"
	}
}

// blocked reports whether the findings flip the action to block. Injection
// alone does not block; it is reported but allowed through.
func (f promptFindings) blocked() bool {
	return f.urlCats || f.dlp
}

func (f promptFindings) any() bool {
	return f.urlCats || f.dlp || f.injection
}

// batch tracks one asynchronous submission and how often each side of it has
// been queried.
type batch struct {
	scanID        string
	reportID      string
	objects       []aisecurity.AsyncScanObject
	scanQueries   int
	reportQueries int
}

// Client is the offline scan client. It is safe for concurrent use.
type Client struct {
	pendingQueries int

	mu       sync.Mutex
	byScan   map[string]*batch
	byReport map[string]*batch
}

// Option customizes a mock client.
type Option func(*Client)

// WithPendingQueries sets how many status queries a batch answers with
// "pending" before completing. Zero completes on the first query.
func WithPendingQueries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.pendingQueries = n
		}
	}
}

// NewClient creates an offline scan client. By default a batch reports
// pending once and completes on the second query.
func NewClient(opts ...Option) *Client {
	c := &Client{
		pendingQueries: 1,
		byScan:         make(map[string]*batch),
		byReport:       make(map[string]*batch),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close exists for call-surface parity with the real client.
func (c *Client) Close() {}

// SyncScan classifies the first content item's prompt and returns a verdict
// immediately.
func (c *Client) SyncScan(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AIProfile.IsZero() {
		return nil, aisecurity.ErrMissingProfile
	}
	if len(req.Contents) == 0 {
		return nil, aisecurity.ErrEmptyContents
	}

	return c.verdict(req, uuid.New().String()), nil
}

// verdict builds the ScanResponse for one request.
func (c *Client) verdict(req aisecurity.ScanRequest, scanID string) *aisecurity.ScanResponse {
	findings := classify(req.Contents[0].Prompt)

	action := aisecurity.ActionAllow
	if findings.blocked() {
		action = aisecurity.ActionBlock
	}

	trID := req.TrID
	if trID == "" {
		trID = TransactionID
	}
	profileID, profileName := req.AIProfile.ProfileID, req.AIProfile.ProfileName
	if profileID == "" && profileName == "" {
		profileID, profileName = ProfileID, ProfileName
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return &aisecurity.ScanResponse{
		ScanID:      scanID,
		ReportID:    "R" + scanID,
		TrID:        trID,
		ProfileID:   profileID,
		ProfileName: profileName,
		Category:    findings.category(),
		Action:      action,
		PromptDetected: &aisecurity.PromptDetected{
			URLCats:   findings.urlCats,
			DLP:       findings.dlp,
			Injection: findings.injection,
		},
		ResponseDetected: &aisecurity.ResponseDetected{},
		CreatedAt:        now,
		CompletedAt:      now,
	}
}

// AsyncScan registers a batch and returns its handle. Results become
// queryable after the configured number of pending answers.
func (c *Client) AsyncScan(ctx context.Context, objects []aisecurity.AsyncScanObject) (*aisecurity.AsyncScanResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, aisecurity.ErrEmptyContents
	}
	if len(objects) > aisecurity.MaxAsyncScanObjects {
		return nil, fmt.Errorf("mock: batch of %d exceeds %d scan objects", len(objects), aisecurity.MaxAsyncScanObjects)
	}

	scanID := uuid.New().String()
	b := &batch{
		scanID:   scanID,
		reportID: "R" + scanID,
		objects:  append([]aisecurity.AsyncScanObject(nil), objects...),
	}

	c.mu.Lock()
	c.byScan[b.scanID] = b
	c.byReport[b.reportID] = b
	c.mu.Unlock()

	return &aisecurity.AsyncScanResponse{
		Received: time.Now().UTC().Format(time.RFC3339),
		ScanID:   b.scanID,
		ReportID: b.reportID,
	}, nil
}

// QueryByScanIDs reports batch status. Unknown scan IDs come back as bare
// records with no status, mirroring the permissive treatment of partial
// responses.
func (c *Client) QueryByScanIDs(ctx context.Context, scanIDs []string) ([]aisecurity.ScanIDResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var results []aisecurity.ScanIDResult
	for _, id := range scanIDs {
		b, ok := c.byScan[id]
		if !ok {
			results = append(results, aisecurity.ScanIDResult{ScanID: id})
			continue
		}

		b.scanQueries++
		if b.scanQueries <= c.pendingQueries {
			for _, obj := range b.objects {
				results = append(results, aisecurity.ScanIDResult{
					ReqID:  obj.ReqID,
					ScanID: b.scanID,
					Status: aisecurity.StatusPending,
				})
			}
			continue
		}

		for _, obj := range b.objects {
			results = append(results, aisecurity.ScanIDResult{
				ReqID:  obj.ReqID,
				ScanID: b.scanID,
				Status: aisecurity.StatusComplete,
				Result: c.verdict(obj.ScanReq, b.scanID),
			})
		}
	}
	return results, nil
}

// QueryByReportIDs returns detection results once a batch's report side has
// been queried past the pending threshold. Reports still pending come back
// with empty detection results; unknown report IDs come back bare.
func (c *Client) QueryByReportIDs(ctx context.Context, reportIDs []string) ([]aisecurity.ThreatScanReportObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var reports []aisecurity.ThreatScanReportObject
	for _, id := range reportIDs {
		b, ok := c.byReport[id]
		if !ok {
			reports = append(reports, aisecurity.ThreatScanReportObject{ReportID: id})
			continue
		}

		b.reportQueries++
		if b.reportQueries <= c.pendingQueries {
			for _, obj := range b.objects {
				reports = append(reports, aisecurity.ThreatScanReportObject{
					ReportID:      b.reportID,
					ScanID:        b.scanID,
					ReqID:         obj.ReqID,
					TransactionID: obj.ScanReq.TrID,
				})
			}
			continue
		}

		for _, obj := range b.objects {
			reports = append(reports, aisecurity.ThreatScanReportObject{
				ReportID:         b.reportID,
				ScanID:           b.scanID,
				ReqID:            obj.ReqID,
				TransactionID:    obj.ScanReq.TrID,
				DetectionResults: detectionResults(obj.ScanReq),
			})
		}
	}
	return reports, nil
}

// detectionResults expands findings into per-service report entries. A clean
// prompt still yields one benign entry: a completed report is never empty.
func detectionResults(req aisecurity.ScanRequest) []aisecurity.DetectionServiceResultObject {
	if len(req.Contents) == 0 {
		return nil
	}
	findings := classify(req.Contents[0].Prompt)

	action := aisecurity.ActionAllow
	if findings.blocked() {
		action = aisecurity.ActionBlock
	}

	var results []aisecurity.DetectionServiceResultObject
	if findings.urlCats {
		results = append(results, aisecurity.DetectionServiceResultObject{
			DataType:         "prompt",
			DetectionService: serviceURLFiltering,
			Verdict:          aisecurity.VerdictMalicious,
			Action:           action,
			ResultDetail: &aisecurity.DetectionResultDetail{
				URLfReport: []aisecurity.URLfEntry{{
					URL:        req.Contents[0].Prompt,
					RiskLevel:  "high",
					Categories: []string{"malware"},
				}},
			},
		})
	}
	if findings.dlp {
		results = append(results, aisecurity.DetectionServiceResultObject{
			DataType:         "prompt",
			DetectionService: serviceDLP,
			Verdict:          aisecurity.VerdictMalicious,
			Action:           action,
			ResultDetail: &aisecurity.DetectionResultDetail{
				DLPReport: &aisecurity.DLPReport{
					DLPReportID: uuid.New().String(),
					Verdict:     aisecurity.VerdictMalicious,
					Action:      action,
				},
			},
		})
	}
	if findings.injection {
		results = append(results, aisecurity.DetectionServiceResultObject{
			DataType:         "prompt",
			DetectionService: servicePromptInjection,
			Verdict:          aisecurity.VerdictMalicious,
			Action:           action,
		})
	}
	if len(results) == 0 {
		results = append(results, aisecurity.DetectionServiceResultObject{
			DataType:         "prompt",
			DetectionService: servicePromptInjection,
			Verdict:          aisecurity.VerdictBenign,
			Action:           aisecurity.ActionAllow,
		})
	}
	return results
}

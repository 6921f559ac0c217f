// Package guard wraps LLM call sites with inline AI Runtime Security
// scanning. A Guard scans the prompt before the model is invoked and,
// optionally, the model output afterwards, so application code stays free of
// scan plumbing:
//
//	g := guard.New(client, profile)
//	answer := g.Protect(callModel)
//	out, err := answer(ctx, userInput)
//
// Scan failures block by default. The service being unreachable is not a
// reason to let an unscreened prompt through; WithFailOpen relaxes this for
// development environments.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// Stage identifies which side of the LLM exchange a verdict applies to.
type Stage string

const (
	StagePrompt   Stage = "prompt"
	StageResponse Stage = "response"
)

// Scanner is the slice of the scan client the guard needs. Both the live
// client and the offline mock satisfy it.
type Scanner interface {
	SyncScan(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error)
}

// LLMFunc is a call into a language model: prompt in, completion out.
type LLMFunc func(ctx context.Context, prompt string) (string, error)

// FallbackFunc produces a substitute result for blocked content. The verdict
// that caused the block is passed along so fallbacks can tailor the message.
type FallbackFunc func(ctx context.Context, input string, verdict *aisecurity.ScanResponse) (string, error)

// BlockedError reports that a scan verdict called for blocking the exchange.
type BlockedError struct {
	Stage    Stage
	Category string
	ScanID   string
	ReportID string
}

func (e *BlockedError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("guard: %s blocked by security policy", e.Stage)
	}
	return fmt.Sprintf("guard: %s blocked by security policy (category %s)", e.Stage, e.Category)
}

// ScanFailedError reports that a scan could not be completed and the guard
// blocked the exchange fail-closed. Hint carries remediation guidance for
// well-known failure classes.
type ScanFailedError struct {
	Stage Stage
	Hint  string
	Err   error
}

func (e *ScanFailedError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("guard: %s scan failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("guard: %s scan failed (%s): %v", e.Stage, e.Hint, e.Err)
}

func (e *ScanFailedError) Unwrap() error { return e.Err }

// hint maps well-known scan failures to remediation guidance, mirroring the
// troubleshooting advice surfaced by the example programs.
func hint(err error) string {
	var apiErr *aisecurity.APIError
	switch {
	case errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden):
		return "authentication failed, check your " + aisecurity.EnvAPIKey + " environment variable"
	case errors.Is(err, aisecurity.ErrMissingProfile):
		return "missing profile configuration, set " + aisecurity.EnvProfileID + " or " + aisecurity.EnvProfileName
	case errors.Is(err, context.DeadlineExceeded):
		return "scan timed out, check network connectivity and " + aisecurity.EnvAPIEndpoint
	default:
		return ""
	}
}

// Guard scans LLM traffic against one security profile. It is safe for
// concurrent use; counters are atomic and the scanner is expected to be
// concurrency-safe itself.
type Guard struct {
	scanner  Scanner
	profile  aisecurity.AIProfile
	log      logrus.FieldLogger
	metadata *aisecurity.Metadata
	nextTrID func() string
	fallback FallbackFunc

	scanResponses bool
	failOpen      bool

	scans    atomic.Uint64
	allowed  atomic.Uint64
	blocked  atomic.Uint64
	failures atomic.Uint64
}

// Option customizes a Guard.
type Option func(*Guard)

// WithLogger routes guard diagnostics to the given logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(g *Guard) { g.log = log }
}

// WithResponseScan also scans model output before it is returned to the
// caller. By default only prompts are scanned.
func WithResponseScan() Option {
	return func(g *Guard) { g.scanResponses = true }
}

// WithFailOpen lets traffic through when a scan cannot be completed, instead
// of blocking. Scan failures are still logged and counted.
func WithFailOpen() Option {
	return func(g *Guard) { g.failOpen = true }
}

// WithFallback substitutes the given function's result when content is
// blocked, instead of returning a BlockedError.
func WithFallback(fn FallbackFunc) Option {
	return func(g *Guard) { g.fallback = fn }
}

// WithMetadata attaches caller context to every scan request.
func WithMetadata(md aisecurity.Metadata) Option {
	return func(g *Guard) { g.metadata = &md }
}

// WithTransactionIDs stamps each scan request with an ID from next,
// correlating verdicts with application-side transactions.
func WithTransactionIDs(next func() string) Option {
	return func(g *Guard) { g.nextTrID = next }
}

// New creates a Guard that scans against the given profile.
func New(scanner Scanner, profile aisecurity.AIProfile, opts ...Option) *Guard {
	g := &Guard{
		scanner: scanner,
		profile: profile,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Protect wraps fn with security scanning. The returned function scans the
// prompt first and refuses to invoke fn when the verdict blocks or, unless
// the guard is fail-open, when the scan itself fails. With WithResponseScan
// the model output is scanned the same way before being returned.
func (g *Guard) Protect(fn LLMFunc) LLMFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		verdict, err := g.CheckPrompt(ctx, prompt)
		if out, handled, err := g.gate(ctx, StagePrompt, prompt, verdict, err); handled {
			return out, err
		}

		out, err := fn(ctx, prompt)
		if err != nil {
			return "", err
		}

		if g.scanResponses {
			verdict, err := g.CheckResponse(ctx, prompt, out)
			if fallback, handled, err := g.gate(ctx, StageResponse, out, verdict, err); handled {
				return fallback, err
			}
		}

		g.allowed.Add(1)
		return out, nil
	}
}

// gate turns a scan outcome into control flow: handled is true when the
// wrapped call must not proceed, in which case the accompanying result and
// error are final.
func (g *Guard) gate(ctx context.Context, stage Stage, input string, verdict *aisecurity.ScanResponse, err error) (string, bool, error) {
	if err != nil {
		var blockedErr *BlockedError
		if !errors.As(err, &blockedErr) {
			// Scan failure, not a verdict.
			if g.failOpen {
				g.log.WithError(err).WithField("stage", stage).Warn("Scan failed, continuing fail-open")
				return "", false, nil
			}
			return "", true, err
		}

		g.log.WithFields(logrus.Fields{
			"stage":    stage,
			"category": blockedErr.Category,
			"scan_id":  blockedErr.ScanID,
		}).Warn("Content blocked by security policy")

		if g.fallback != nil {
			out, fbErr := g.fallback(ctx, input, verdict)
			return out, true, fbErr
		}
		return "", true, err
	}
	return "", false, nil
}

// CheckPrompt scans a prompt and returns its verdict. A blocking verdict is
// returned as a *BlockedError alongside the verdict itself; a scan failure is
// returned as a *ScanFailedError.
func (g *Guard) CheckPrompt(ctx context.Context, prompt string) (*aisecurity.ScanResponse, error) {
	return g.check(ctx, StagePrompt, aisecurity.ScanContent{Prompt: prompt})
}

// CheckResponse scans a prompt/response pair, evaluating the model output in
// the context of the prompt that produced it.
func (g *Guard) CheckResponse(ctx context.Context, prompt, response string) (*aisecurity.ScanResponse, error) {
	return g.check(ctx, StageResponse, aisecurity.ScanContent{Prompt: prompt, Response: response})
}

func (g *Guard) check(ctx context.Context, stage Stage, content aisecurity.ScanContent) (*aisecurity.ScanResponse, error) {
	g.scans.Add(1)

	req := aisecurity.ScanRequest{
		AIProfile: g.profile,
		Metadata:  g.metadata,
		Contents:  []aisecurity.ScanContent{content},
	}
	if g.nextTrID != nil {
		req.TrID = g.nextTrID()
	}

	verdict, err := g.scanner.SyncScan(ctx, req)
	if err != nil {
		g.failures.Add(1)
		return nil, &ScanFailedError{Stage: stage, Hint: hint(err), Err: err}
	}

	// Anything other than an explicit allow blocks here. A verdict with a
	// missing or unknown action is not a verdict to act on.
	if verdict == nil || verdict.Action != aisecurity.ActionAllow {
		g.blocked.Add(1)
		blocked := &BlockedError{Stage: stage}
		if verdict != nil {
			blocked.Category = verdict.Category
			blocked.ScanID = verdict.ScanID
			blocked.ReportID = verdict.ReportID
		}
		return verdict, blocked
	}
	return verdict, nil
}

// Stats is a point-in-time snapshot of guard activity.
type Stats struct {
	Scans    uint64 `json:"scans"`
	Allowed  uint64 `json:"allowed"`
	Blocked  uint64 `json:"blocked"`
	Failures uint64 `json:"failures"`
}

// Stats returns current counters. Allowed counts completed protected calls,
// Blocked counts blocking verdicts, Failures counts scans that errored.
func (g *Guard) Stats() Stats {
	return Stats{
		Scans:    g.scans.Load(),
		Allowed:  g.allowed.Load(),
		Blocked:  g.blocked.Load(),
		Failures: g.failures.Load(),
	}
}

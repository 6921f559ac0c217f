package aisecurity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ScanHandle is the poll key returned by an asynchronous submission. Scan
// status is indexed by ScanID, detection results by ReportID; queries by
// either are supported, so a handle is usable with just one field set.
// Handles are never mutated once obtained.
type ScanHandle struct {
	ScanID   string
	ReportID string
}

// IsZero reports whether the handle carries no identifier at all.
func (h ScanHandle) IsZero() bool {
	return h.ScanID == "" && h.ReportID == ""
}

// RetryBudget bounds one polling session: at most MaxAttempts queries, with
// WaitInterval between consecutive queries. The budget is fixed for the life
// of the session, not adaptive.
type RetryBudget struct {
	MaxAttempts  int
	WaitInterval time.Duration
}

// DefaultRetryBudget returns the budget the example programs use: three
// queries, ten seconds apart.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{MaxAttempts: 3, WaitInterval: 10 * time.Second}
}

func (b RetryBudget) validate() error {
	if b.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidBudget, b.MaxAttempts)
	}
	if b.WaitInterval < 0 {
		return fmt.Errorf("%w: negative wait interval %v", ErrInvalidBudget, b.WaitInterval)
	}
	return nil
}

// Caller errors rejected before the first query is issued.
var (
	ErrEmptyHandle     = errors.New("aisecurity: scan handle has no identifiers")
	ErrMissingScanID   = errors.New("aisecurity: scan handle has no scan ID")
	ErrMissingReportID = errors.New("aisecurity: scan handle has no report ID")
	ErrInvalidBudget   = errors.New("aisecurity: invalid retry budget")
)

// PollState is the lifecycle of one polling session:
// NotStarted -> Polling -> {Completed, Exhausted}. Completed and Exhausted
// are both terminal and both return the same result shape; callers tell them
// apart only by the completed flag. A session that ends in a query error
// stays in Polling.
type PollState int32

const (
	PollStateNotStarted PollState = iota
	PollStatePolling
	PollStateCompleted
	PollStateExhausted
)

func (s PollState) String() string {
	switch s {
	case PollStateNotStarted:
		return "not_started"
	case PollStatePolling:
		return "polling"
	case PollStateCompleted:
		return "completed"
	case PollStateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("PollState(%d)", int32(s))
	}
}

// QueryFunc performs one remote lookup for the handle.
type QueryFunc[T any] func(ctx context.Context, handle ScanHandle) (T, error)

// CompleteFunc decides whether a query response terminates polling.
type CompleteFunc[T any] func(T) bool

// Poller runs one bounded polling session against a scan handle. Each
// instance owns its handle, budget, and response buffer; polling many
// handles concurrently needs one Poller per handle and no coordination.
//
// A Poller is single-use: construct, Run once, inspect.
type Poller[T any] struct {
	handle ScanHandle
	budget RetryBudget
	query  QueryFunc[T]
	done   CompleteFunc[T]

	mu       sync.Mutex
	state    PollState
	attempts int
	last     T

	// wait is replaceable in tests to observe suspensions without sleeping.
	wait func(ctx context.Context, d time.Duration) error
}

// NewPoller validates inputs and prepares a session. The handle must carry
// at least one identifier and the budget must allow at least one query;
// violations are caller errors returned before any polling happens.
func NewPoller[T any](handle ScanHandle, budget RetryBudget, query QueryFunc[T], done CompleteFunc[T]) (*Poller[T], error) {
	if handle.IsZero() {
		return nil, ErrEmptyHandle
	}
	if err := budget.validate(); err != nil {
		return nil, err
	}
	if query == nil {
		return nil, errors.New("aisecurity: nil query function")
	}
	if done == nil {
		return nil, errors.New("aisecurity: nil completion predicate")
	}
	return &Poller[T]{
		handle: handle,
		budget: budget,
		query:  query,
		done:   done,
		state:  PollStateNotStarted,
		wait:   waitInterval,
	}, nil
}

// Run executes the polling session:
//
//  1. Issue one query and keep its response as the last seen.
//  2. If the response satisfies the completion predicate, stop with
//     completed = true.
//  3. Otherwise suspend for the budget's wait interval and query again,
//     up to MaxAttempts queries in total (so at most MaxAttempts-1 waits).
//
// Budget exhaustion is not an error: the last response is returned with
// completed = false and the caller degrades gracefully. A query error is
// terminal and returned as-is alongside whatever was fetched before it; the
// poller does not retry errors. Cancelling ctx during a wait aborts the
// session with ctx.Err().
func (p *Poller[T]) Run(ctx context.Context) (T, bool, error) {
	var last T

	p.mu.Lock()
	if p.state != PollStateNotStarted {
		p.mu.Unlock()
		return last, false, fmt.Errorf("aisecurity: poller already ran (state %s)", p.state)
	}
	p.state = PollStatePolling
	p.mu.Unlock()

	for attempt := 0; attempt < p.budget.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, p.budget.WaitInterval); err != nil {
				return last, false, err
			}
		}

		resp, err := p.query(ctx, p.handle)
		if err != nil {
			return last, false, fmt.Errorf("poll query %d of %d: %w", attempt+1, p.budget.MaxAttempts, err)
		}
		last = resp

		p.mu.Lock()
		p.attempts = attempt + 1
		p.last = resp
		p.mu.Unlock()

		if p.done(resp) {
			p.setState(PollStateCompleted)
			return last, true, nil
		}
	}

	p.setState(PollStateExhausted)
	return last, false, nil
}

// State returns the session's current lifecycle state.
func (p *Poller[T]) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts returns how many queries have been issued so far.
func (p *Poller[T]) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Handle returns the session's poll key.
func (p *Poller[T]) Handle() ScanHandle {
	return p.handle
}

// Last returns the most recent query response, zero before the first query.
func (p *Poller[T]) Last() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller[T]) setState(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func waitInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll runs one session without keeping the Poller around. It returns the
// last response fetched, whether a completion predicate was satisfied, and
// any terminal error.
func Poll[T any](ctx context.Context, handle ScanHandle, query QueryFunc[T], done CompleteFunc[T], budget RetryBudget) (T, bool, error) {
	p, err := NewPoller(handle, budget, query, done)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return p.Run(ctx)
}

// ScanComplete is the status predicate for scan-ID queries: any record in
// the batch whose status is "complete" finishes the session.
func ScanComplete(results []ScanIDResult) bool {
	for _, result := range results {
		if result.Complete() {
			return true
		}
	}
	return false
}

// ReportHasResults is the data predicate for report-ID queries: any report
// in the batch with a non-empty detection result collection finishes the
// session. It is independent of ScanComplete; the two signals are not
// guaranteed to agree and either one suffices.
func ReportHasResults(reports []ThreatScanReportObject) bool {
	for _, report := range reports {
		if report.HasResults() {
			return true
		}
	}
	return false
}

// ScanStatusQuerier is the slice of the client the status poll needs.
type ScanStatusQuerier interface {
	QueryByScanIDs(ctx context.Context, scanIDs []string) ([]ScanIDResult, error)
}

// ReportQuerier is the slice of the client the report poll needs.
type ReportQuerier interface {
	QueryByReportIDs(ctx context.Context, reportIDs []string) ([]ThreatScanReportObject, error)
}

// WaitForScanCompletion polls scan status for the handle until a record
// reports "complete" or the budget runs out. The handle must carry a ScanID.
func WaitForScanCompletion(ctx context.Context, querier ScanStatusQuerier, handle ScanHandle, budget RetryBudget) ([]ScanIDResult, bool, error) {
	if handle.ScanID == "" {
		return nil, false, ErrMissingScanID
	}
	return Poll(ctx, handle, func(ctx context.Context, h ScanHandle) ([]ScanIDResult, error) {
		return querier.QueryByScanIDs(ctx, []string{h.ScanID})
	}, ScanComplete, budget)
}

// WaitForReportResults polls report results for the handle until detection
// results appear or the budget runs out. The handle must carry a ReportID.
func WaitForReportResults(ctx context.Context, querier ReportQuerier, handle ScanHandle, budget RetryBudget) ([]ThreatScanReportObject, bool, error) {
	if handle.ReportID == "" {
		return nil, false, ErrMissingReportID
	}
	return Poll(ctx, handle, func(ctx context.Context, h ScanHandle) ([]ThreatScanReportObject, error) {
		return querier.QueryByReportIDs(ctx, []string{h.ReportID})
	}, ReportHasResults, budget)
}

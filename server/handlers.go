package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
	"github.com/cdot65/pan-ai-runtime-security/history"
)

// syncScanRequest is the body of POST /v1/scans/sync. Profile and metadata
// are optional; the server's default profile applies when absent.
type syncScanRequest struct {
	TrID     string                `json:"tr_id,omitempty"`
	Prompt   string                `json:"prompt,omitempty"`
	Response string                `json:"response,omitempty"`
	Profile  *aisecurity.AIProfile `json:"profile,omitempty"`
	Metadata *aisecurity.Metadata  `json:"metadata,omitempty"`
}

// asyncScanRequest is the body of POST /v1/scans/async. Each content becomes
// one request in the batch, req_id 1..n.
type asyncScanRequest struct {
	TrID     string                   `json:"tr_id,omitempty"`
	Contents []aisecurity.ScanContent `json:"contents"`
	Profile  *aisecurity.AIProfile    `json:"profile,omitempty"`
}

// waitResponse is the body of GET /v1/scans/{scan_id}/wait. Completed false
// means the budget ran out while the scan was still processing; the last
// observed results are returned either way.
type waitResponse struct {
	Completed bool                      `json:"completed"`
	Attempts  int                       `json:"attempts"`
	Results   []aisecurity.ScanIDResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSyncScan(w http.ResponseWriter, r *http.Request) {
	var body syncScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Prompt == "" && body.Response == "" {
		s.respondError(w, http.StatusBadRequest, "prompt or response required")
		return
	}

	profile := s.profile
	if body.Profile != nil && !body.Profile.IsZero() {
		profile = *body.Profile
	}
	req := aisecurity.ScanRequest{
		TrID:      body.TrID,
		AIProfile: profile,
		Metadata:  body.Metadata,
		Contents:  []aisecurity.ScanContent{{Prompt: body.Prompt, Response: body.Response}},
	}

	if s.cache != nil {
		if verdict, ok := s.cache.Get(r.Context(), req.AIProfile, req.Contents); ok {
			promCacheHits.Inc()
			w.Header().Set("X-Cache", "hit")
			s.respondJSON(w, http.StatusOK, verdict)
			return
		}
	}

	verdict, err := s.scanner.SyncScan(r.Context(), req)
	if err != nil {
		s.respondScanError(w, err)
		return
	}

	if verdict.IsBlocked() {
		promScansBlocked.Inc()
	}
	if s.cache != nil {
		s.cache.Set(r.Context(), req.AIProfile, req.Contents, verdict)
	}
	if s.recorder != nil {
		s.recorder.Record(history.FromResponse(verdict, req, s.source(history.SourceSync)))
	}
	s.respondJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleAsyncScan(w http.ResponseWriter, r *http.Request) {
	var body asyncScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Contents) == 0 {
		s.respondError(w, http.StatusBadRequest, "contents required")
		return
	}
	if len(body.Contents) > aisecurity.MaxAsyncScanObjects {
		s.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("batch of %d exceeds the maximum of %d", len(body.Contents), aisecurity.MaxAsyncScanObjects))
		return
	}

	profile := s.profile
	if body.Profile != nil && !body.Profile.IsZero() {
		profile = *body.Profile
	}
	objects := make([]aisecurity.AsyncScanObject, 0, len(body.Contents))
	for i, content := range body.Contents {
		objects = append(objects, aisecurity.AsyncScanObject{
			ReqID: i + 1,
			ScanReq: aisecurity.ScanRequest{
				TrID:      body.TrID,
				AIProfile: profile,
				Contents:  []aisecurity.ScanContent{content},
			},
		})
	}

	resp, err := s.scanner.AsyncScan(r.Context(), objects)
	if err != nil {
		s.respondScanError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scan_id"]
	results, err := s.scanner.QueryByScanIDs(r.Context(), []string{scanID})
	if err != nil {
		s.respondScanError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleScanWait(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scan_id"]

	budget := s.cfg.Poll.Budget()
	if v := r.URL.Query().Get("attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "attempts must be a positive integer")
			return
		}
		budget.MaxAttempts = n
	}
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.respondError(w, http.StatusBadRequest, "interval must be a non-negative duration, e.g. 5s")
			return
		}
		budget.WaitInterval = d
	}

	poller, err := aisecurity.NewPoller(
		aisecurity.ScanHandle{ScanID: scanID},
		budget,
		func(ctx context.Context, handle aisecurity.ScanHandle) ([]aisecurity.ScanIDResult, error) {
			return s.scanner.QueryByScanIDs(ctx, []string{handle.ScanID})
		},
		aisecurity.ScanComplete,
	)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, completed, err := poller.Run(r.Context())
	if err != nil {
		s.respondScanError(w, err)
		return
	}

	if completed && s.recorder != nil {
		for _, res := range results {
			if res.Result == nil {
				continue
			}
			if res.Result.IsBlocked() {
				promScansBlocked.Inc()
			}
			s.recorder.Record(history.FromResponse(res.Result, aisecurity.ScanRequest{}, s.source(history.SourceAsync)))
		}
	}

	s.respondJSON(w, http.StatusOK, waitResponse{
		Completed: completed,
		Attempts:  poller.Attempts(),
		Results:   results,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	reportID := mux.Vars(r)["report_id"]
	reports, err := s.scanner.QueryByReportIDs(r.Context(), []string{reportID})
	if err != nil {
		s.respondScanError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reports)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("history query failed")
		s.respondError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   serviceName,
		"version":   version,
		"mock":      s.cfg.Mock,
		"timestamp": time.Now().UTC(),
	})
}

// source tags history rows: mock-mode rows are always "mock" so demo data is
// distinguishable from real verdicts.
func (s *Server) source(kind string) string {
	if s.cfg.Mock {
		return history.SourceMock
	}
	return kind
}

// respondScanError maps scanner failures to HTTP statuses: caller mistakes
// are 400, upstream scan service failures are 502, the rest 500.
func (s *Server) respondScanError(w http.ResponseWriter, err error) {
	var apiErr *aisecurity.APIError
	switch {
	case errors.Is(err, aisecurity.ErrMissingProfile),
		errors.Is(err, aisecurity.ErrEmptyContents),
		errors.Is(err, aisecurity.ErrEmptyScanContent):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		s.log.WithError(err).Warn("scan service error")
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.WithError(err).Error("scan failed")
		s.respondError(w, http.StatusInternalServerError, "scan failed")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}

package aisecurity

// AIProfile identifies the security profile a scan is evaluated against.
// At least one of ProfileID or ProfileName must be set.
type AIProfile struct {
	ProfileID   string `json:"profile_id,omitempty"`
	ProfileName string `json:"profile_name,omitempty"`
}

// IsZero reports whether neither identifier is set.
func (p AIProfile) IsZero() bool {
	return p.ProfileID == "" && p.ProfileName == ""
}

// Metadata carries optional caller context attached to a scan request.
type Metadata struct {
	AppName string `json:"app_name,omitempty"`
	AppUser string `json:"app_user,omitempty"`
	AIModel string `json:"ai_model,omitempty"`
}

// ScanContent is one prompt/response pair to evaluate. Either field may be
// empty, but not both.
type ScanContent struct {
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
}

// IsZero reports whether the content carries nothing to scan.
func (c ScanContent) IsZero() bool {
	return c.Prompt == "" && c.Response == ""
}

// ScanRequest is the body of a synchronous scan submission.
type ScanRequest struct {
	TrID      string        `json:"tr_id,omitempty"`
	AIProfile AIProfile     `json:"ai_profile"`
	Metadata  *Metadata     `json:"metadata,omitempty"`
	Contents  []ScanContent `json:"contents"`
}

// PromptDetected flags the detection services that fired on the prompt.
type PromptDetected struct {
	URLCats   bool `json:"url_cats"`
	DLP       bool `json:"dlp"`
	Injection bool `json:"injection"`
}

// Any reports whether any prompt detection fired.
func (d *PromptDetected) Any() bool {
	return d != nil && (d.URLCats || d.DLP || d.Injection)
}

// ResponseDetected flags the detection services that fired on the response.
type ResponseDetected struct {
	URLCats bool `json:"url_cats"`
	DLP     bool `json:"dlp"`
}

// Any reports whether any response detection fired.
func (d *ResponseDetected) Any() bool {
	return d != nil && (d.URLCats || d.DLP)
}

// ScanResponse is the verdict returned by a synchronous scan, and the
// per-request result embedded in completed asynchronous scans.
//
// Fields the service omits decode to their zero values; callers treat an
// absent field as unknown rather than an error.
type ScanResponse struct {
	ReportID         string            `json:"report_id,omitempty"`
	ScanID           string            `json:"scan_id,omitempty"`
	TrID             string            `json:"tr_id,omitempty"`
	ProfileID        string            `json:"profile_id,omitempty"`
	ProfileName      string            `json:"profile_name,omitempty"`
	Category         string            `json:"category,omitempty"`
	Action           string            `json:"action,omitempty"`
	PromptDetected   *PromptDetected   `json:"prompt_detected,omitempty"`
	ResponseDetected *ResponseDetected `json:"response_detected,omitempty"`
	CreatedAt        string            `json:"created_at,omitempty"`
	CompletedAt      string            `json:"completed_at,omitempty"`
}

// IsBlocked reports whether the verdict calls for blocking the content.
// An empty action is treated as allow; the service sets "block" explicitly.
func (r *ScanResponse) IsBlocked() bool {
	return r != nil && r.Action == ActionBlock
}

// AsyncScanObject pairs one scan request with the caller-chosen request ID
// used to correlate results within a batch.
type AsyncScanObject struct {
	ReqID   int         `json:"req_id"`
	ScanReq ScanRequest `json:"scan_req"`
}

// AsyncScanResponse acknowledges an asynchronous batch submission.
type AsyncScanResponse struct {
	Received string `json:"received,omitempty"`
	ScanID   string `json:"scan_id"`
	ReportID string `json:"report_id"`
}

// Handle returns the poll key for this submission.
func (r *AsyncScanResponse) Handle() ScanHandle {
	return ScanHandle{ScanID: r.ScanID, ReportID: r.ReportID}
}

// ScanIDResult is one record from a query-by-scan-ID lookup. Result is only
// populated once Status reaches "complete".
type ScanIDResult struct {
	ReqID  int           `json:"req_id,omitempty"`
	Status string        `json:"status,omitempty"`
	ScanID string        `json:"scan_id,omitempty"`
	Result *ScanResponse `json:"result,omitempty"`
}

// Complete reports whether this record's status marks the scan finished.
func (r ScanIDResult) Complete() bool {
	return r.Status == StatusComplete
}

// URLfEntry is one categorized URL from the URL filtering service.
type URLfEntry struct {
	URL        string   `json:"url"`
	RiskLevel  string   `json:"risk_level,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// DLPReport carries the data-loss-prevention detail for one detection.
type DLPReport struct {
	DLPReportID             string `json:"dlp_report_id,omitempty"`
	Verdict                 string `json:"verdict,omitempty"`
	Action                  string `json:"action,omitempty"`
	DataPatternRule1Verdict string `json:"data_pattern_rule1_verdict,omitempty"`
	DataPatternRule2Verdict string `json:"data_pattern_rule2_verdict,omitempty"`
}

// DetectionResultDetail holds per-service detail for a detection result.
type DetectionResultDetail struct {
	URLfReport []URLfEntry `json:"urlf_report,omitempty"`
	DLPReport  *DLPReport  `json:"dlp_report,omitempty"`
}

// DetectionServiceResultObject is a single verdict from one detection
// service (URL categorization, DLP, prompt injection) for a prompt or
// response.
type DetectionServiceResultObject struct {
	DataType         string                 `json:"data_type,omitempty"`
	DetectionService string                 `json:"detection_service,omitempty"`
	Verdict          string                 `json:"verdict,omitempty"`
	Action           string                 `json:"action,omitempty"`
	ResultDetail     *DetectionResultDetail `json:"result_detail,omitempty"`
}

// ThreatScanReportObject is the aggregated result record for one request in
// an asynchronous batch, keyed by report ID.
type ThreatScanReportObject struct {
	ReportID         string                         `json:"report_id,omitempty"`
	ScanID           string                         `json:"scan_id,omitempty"`
	ReqID            int                            `json:"req_id,omitempty"`
	TransactionID    string                         `json:"transaction_id,omitempty"`
	DetectionResults []DetectionServiceResultObject `json:"detection_results,omitempty"`
}

// HasResults reports whether the report carries any detection results yet.
func (r ThreatScanReportObject) HasResults() bool {
	return len(r.DetectionResults) > 0
}

// Well-known field values returned by the scan service.
const (
	// ActionAllow and ActionBlock are the two verdict actions.
	ActionAllow = "allow"
	ActionBlock = "block"

	// StatusComplete marks a scan record as finished in query-by-scan-ID
	// responses. Anything else (including absent) means still processing.
	StatusComplete = "complete"
	StatusPending  = "pending"

	// VerdictBenign and VerdictMalicious are per-service verdicts inside
	// detection results.
	VerdictBenign    = "benign"
	VerdictMalicious = "malicious"
)

package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
	"github.com/cdot65/pan-ai-runtime-security/aisecurity/mock"
)

var testProfile = aisecurity.AIProfile{ProfileName: "test-profile"}

// scannerFunc adapts a function to the Scanner interface.
type scannerFunc func(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error)

func (f scannerFunc) SyncScan(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
	return f(ctx, req)
}

func allowAll(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
	return &aisecurity.ScanResponse{ScanID: "s1", Action: aisecurity.ActionAllow, Category: "none"}, nil
}

func blockAll(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
	return &aisecurity.ScanResponse{
		ScanID:   "s1",
		ReportID: "Rs1",
		Action:   aisecurity.ActionBlock,
		Category: "security",
	}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func echo(ctx context.Context, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

func TestProtectAllows(t *testing.T) {
	g := New(scannerFunc(allowAll), testProfile, WithLogger(quietLogger()))

	out, err := g.Protect(echo)(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Protected call failed: %v", err)
	}
	if out != "echo: hello" {
		t.Errorf("Expected wrapped function output, got %q", out)
	}

	stats := g.Stats()
	if stats.Scans != 1 || stats.Allowed != 1 || stats.Blocked != 0 || stats.Failures != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestProtectBlocks(t *testing.T) {
	called := false
	fn := func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "", nil
	}

	g := New(scannerFunc(blockAll), testProfile, WithLogger(quietLogger()))

	_, err := g.Protect(fn)(context.Background(), "bad input")
	if err == nil {
		t.Fatal("Expected a blocked error")
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Expected *BlockedError, got %T: %v", err, err)
	}
	if blocked.Stage != StagePrompt {
		t.Errorf("Expected prompt stage, got %s", blocked.Stage)
	}
	if blocked.Category != "security" {
		t.Errorf("Expected security category, got %q", blocked.Category)
	}
	if blocked.ScanID != "s1" || blocked.ReportID != "Rs1" {
		t.Errorf("Expected verdict identifiers on the error, got %+v", blocked)
	}
	if called {
		t.Error("Wrapped function must not run on a blocking verdict")
	}

	stats := g.Stats()
	if stats.Blocked != 1 || stats.Allowed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestProtectFailClosed(t *testing.T) {
	called := false
	fn := func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "", nil
	}
	failing := scannerFunc(func(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
		return nil, &aisecurity.APIError{StatusCode: 401, Message: "invalid api key"}
	})

	g := New(failing, testProfile, WithLogger(quietLogger()))

	_, err := g.Protect(fn)(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected a scan failure error")
	}
	var scanErr *ScanFailedError
	if !errors.As(err, &scanErr) {
		t.Fatalf("Expected *ScanFailedError, got %T: %v", err, err)
	}
	if !strings.Contains(scanErr.Hint, aisecurity.EnvAPIKey) {
		t.Errorf("Expected an API key hint, got %q", scanErr.Hint)
	}
	var apiErr *aisecurity.APIError
	if !errors.As(err, &apiErr) {
		t.Error("Expected the underlying API error to remain unwrappable")
	}
	if called {
		t.Error("Wrapped function must not run when the scan fails closed")
	}

	stats := g.Stats()
	if stats.Failures != 1 {
		t.Errorf("Expected 1 failure, got %+v", stats)
	}
}

func TestProtectFailOpen(t *testing.T) {
	failing := scannerFunc(func(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
		return nil, errors.New("service unavailable")
	})

	g := New(failing, testProfile, WithLogger(quietLogger()), WithFailOpen())

	out, err := g.Protect(echo)(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Fail-open call failed: %v", err)
	}
	if out != "echo: hello" {
		t.Errorf("Expected wrapped function output, got %q", out)
	}

	stats := g.Stats()
	if stats.Failures != 1 || stats.Allowed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestProtectFallback(t *testing.T) {
	fallback := func(ctx context.Context, input string, verdict *aisecurity.ScanResponse) (string, error) {
		if verdict == nil {
			t.Error("Expected the blocking verdict to reach the fallback")
		}
		return "cannot process this input", nil
	}

	g := New(scannerFunc(blockAll), testProfile, WithLogger(quietLogger()), WithFallback(fallback))

	out, err := g.Protect(echo)(context.Background(), "bad input")
	if err != nil {
		t.Fatalf("Expected the fallback to absorb the block, got %v", err)
	}
	if out != "cannot process this input" {
		t.Errorf("Expected fallback output, got %q", out)
	}
}

func TestProtectResponseScan(t *testing.T) {
	// Block only when model output is present and contains a leak.
	scanner := scannerFunc(func(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
		resp := &aisecurity.ScanResponse{ScanID: "s1", Action: aisecurity.ActionAllow}
		if strings.Contains(req.Contents[0].Response, "password") {
			resp.Action = aisecurity.ActionBlock
			resp.Category = "dlp"
		}
		return resp, nil
	})

	leaky := func(ctx context.Context, prompt string) (string, error) {
		return "the password is hunter2", nil
	}

	g := New(scanner, testProfile, WithLogger(quietLogger()), WithResponseScan())

	_, err := g.Protect(leaky)(context.Background(), "what is the password?")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Expected *BlockedError, got %v", err)
	}
	if blocked.Stage != StageResponse {
		t.Errorf("Expected response stage, got %s", blocked.Stage)
	}

	stats := g.Stats()
	if stats.Scans != 2 {
		t.Errorf("Expected 2 scans (prompt and response), got %d", stats.Scans)
	}
}

func TestProtectBlocksOnMissingAction(t *testing.T) {
	// A verdict without an explicit allow is not trusted.
	vague := scannerFunc(func(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
		return &aisecurity.ScanResponse{ScanID: "s1"}, nil
	})

	g := New(vague, testProfile, WithLogger(quietLogger()))

	_, err := g.Protect(echo)(context.Background(), "hello")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Expected *BlockedError for a missing action, got %v", err)
	}
	if blocked.Category != "" {
		t.Errorf("Expected no category, got %q", blocked.Category)
	}
}

func TestProtectPropagatesLLMError(t *testing.T) {
	llmErr := errors.New("model overloaded")
	failing := func(ctx context.Context, prompt string) (string, error) {
		return "", llmErr
	}

	g := New(scannerFunc(allowAll), testProfile, WithLogger(quietLogger()))

	_, err := g.Protect(failing)(context.Background(), "hello")
	if !errors.Is(err, llmErr) {
		t.Errorf("Expected the model error to pass through, got %v", err)
	}
}

func TestRequestShaping(t *testing.T) {
	var captured aisecurity.ScanRequest
	scanner := scannerFunc(func(ctx context.Context, req aisecurity.ScanRequest) (*aisecurity.ScanResponse, error) {
		captured = req
		return &aisecurity.ScanResponse{Action: aisecurity.ActionAllow}, nil
	})

	seq := 0
	g := New(scanner, testProfile,
		WithLogger(quietLogger()),
		WithMetadata(aisecurity.Metadata{AppName: "guard-test", AppUser: "tester"}),
		WithTransactionIDs(func() string {
			seq++
			return fmt.Sprintf("tr-%d", seq)
		}),
	)

	if _, err := g.CheckPrompt(context.Background(), "hello"); err != nil {
		t.Fatalf("CheckPrompt failed: %v", err)
	}
	if captured.AIProfile != testProfile {
		t.Errorf("Expected profile %+v, got %+v", testProfile, captured.AIProfile)
	}
	if captured.Metadata == nil || captured.Metadata.AppName != "guard-test" {
		t.Errorf("Expected metadata on the request, got %+v", captured.Metadata)
	}
	if captured.TrID != "tr-1" {
		t.Errorf("Expected transaction ID tr-1, got %q", captured.TrID)
	}
	if len(captured.Contents) != 1 || captured.Contents[0].Prompt != "hello" {
		t.Errorf("Unexpected contents: %+v", captured.Contents)
	}

	if _, err := g.CheckResponse(context.Background(), "hello", "world"); err != nil {
		t.Fatalf("CheckResponse failed: %v", err)
	}
	if captured.TrID != "tr-2" {
		t.Errorf("Expected transaction ID tr-2, got %q", captured.TrID)
	}
	if captured.Contents[0].Response != "world" {
		t.Errorf("Expected response content, got %+v", captured.Contents)
	}
}

func TestGuardWithMockClient(t *testing.T) {
	g := New(mock.NewClient(), testProfile, WithLogger(quietLogger()))
	protected := g.Protect(echo)

	out, err := protected(context.Background(), "Tell me a joke")
	if err != nil {
		t.Fatalf("Clean prompt failed: %v", err)
	}
	if !strings.Contains(out, "Tell me a joke") {
		t.Errorf("Expected echoed output, got %q", out)
	}

	_, err = protected(context.Background(), "Here's my bank account 8775664322 and routing number 2344567")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Expected *BlockedError, got %v", err)
	}
	if blocked.Category != "dlp" {
		t.Errorf("Expected dlp category, got %q", blocked.Category)
	}
}

func TestHints(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "unauthorized",
			err:  &aisecurity.APIError{StatusCode: 401},
			want: aisecurity.EnvAPIKey,
		},
		{
			name: "forbidden",
			err:  &aisecurity.APIError{StatusCode: 403},
			want: aisecurity.EnvAPIKey,
		},
		{
			name: "missing profile",
			err:  aisecurity.ErrMissingProfile,
			want: aisecurity.EnvProfileID,
		},
		{
			name: "timeout",
			err:  fmt.Errorf("scan: %w", context.DeadlineExceeded),
			want: aisecurity.EnvAPIEndpoint,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hint(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("Expected no hint, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Expected hint mentioning %q, got %q", tt.want, got)
			}
		})
	}
}

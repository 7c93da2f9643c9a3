package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/httpx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type fakeRecorder struct {
	entries []*types.CostEntry
	err     error
}

func (f *fakeRecorder) Record(ctx context.Context, e *types.CostEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func testAnthropic(t *testing.T, url string, maxAttempts int, rec Recorder) *anthropicClient {
	t.Helper()
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &anthropicClient{
		log:         logg.With("client", "AnthropicClient"),
		baseURL:     url,
		apiKey:      "test-key",
		model:       "claude-sonnet-4-5",
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		maxAttempts: maxAttempts,
		backoffBase: time.Millisecond,
		pricing:     DefaultPricing(),
		recorder:    rec,
	}
}

func testOpenAI(t *testing.T, url string, maxAttempts int, rec Recorder) *openAIClient {
	t.Helper()
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &openAIClient{
		log:         logg.With("client", "OpenAIClient"),
		baseURL:     url,
		apiKey:      "test-key",
		model:       "gpt-4o",
		imageModel:  "gpt-image-1",
		imageSize:   "1024x1536",
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		maxAttempts: maxAttempts,
		backoffBase: time.Millisecond,
		pricing:     DefaultPricing(),
		recorder:    rec,
	}
}

func TestCallJSONRetriesThroughRateLimitStorm(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"type":"rate_limit_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"summary\":\"strong opening\"}"}],"model":"claude-sonnet-4-5","usage":{"input_tokens":1200,"output_tokens":300}}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := testAnthropic(t, srv.URL, 5, rec)

	res, err := c.CallJSON(context.Background(), "analyze this section", Params{MaxTokens: 1024},
		Attribution{Feature: "developmental-analysis", Operation: "analyze-section"})
	if err != nil {
		t.Fatalf("CallJSON: %v", err)
	}
	if res.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4 (three 429s then success)", res.Attempts)
	}
	if hits != 4 {
		t.Fatalf("server hits = %d, want 4", hits)
	}
	if res.Parsed["summary"] != "strong opening" {
		t.Fatalf("parsed = %v", res.Parsed)
	}
	if res.ParseFailed {
		t.Fatal("ParseFailed set on a clean parse")
	}

	if len(rec.entries) != 1 {
		t.Fatalf("cost entries = %d, want exactly 1 per successful call", len(rec.entries))
	}
	e := rec.entries[0]
	if e.CostCenter != types.CostCenterClaude {
		t.Fatalf("cost center = %s", e.CostCenter)
	}
	if e.FeatureName != "developmental-analysis" || e.Operation != "analyze-section" {
		t.Fatalf("attribution = %s/%s", e.FeatureName, e.Operation)
	}
	if e.InputTokens == nil || *e.InputTokens != 1200 || e.OutputTokens == nil || *e.OutputTokens != 300 {
		t.Fatalf("tokens = %v/%v", e.InputTokens, e.OutputTokens)
	}
	wantCost := 1200.0/1e6*3.0 + 300.0/1e6*15.0
	if math.Abs(e.CostUSD-wantCost) > 1e-9 {
		t.Fatalf("cost = %v, want %v", e.CostUSD, wantCost)
	}
}

func TestCallJSONNonRetryable4xxSurfacesImmediately(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"max_tokens too large"}}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := testAnthropic(t, srv.URL, 5, rec)

	_, err := c.CallJSON(context.Background(), "analyze", Params{}, Attribution{Feature: "developmental-analysis"})
	if err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if got := httpx.StatusCode(err); got != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", got)
	}
	if hits != 1 {
		t.Fatalf("server hits = %d, want 1 (no retries on non-429 4xx)", hits)
	}
	if len(rec.entries) != 0 {
		t.Fatalf("cost entries = %d, want 0 on failure", len(rec.entries))
	}
}

func TestCallJSONParseFailureDegradesToSentinel(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"I am unable to produce JSON for this."}],"model":"claude-sonnet-4-5","usage":{"input_tokens":90,"output_tokens":12}}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := testAnthropic(t, srv.URL, 2, rec)

	res, err := c.CallJSON(context.Background(), "analyze", Params{}, Attribution{Feature: "line-analysis", Operation: "analyze-section"})
	if err != nil {
		t.Fatalf("CallJSON: %v (sentinel expected, not error)", err)
	}
	if !res.ParseFailed {
		t.Fatal("ParseFailed not set")
	}
	if res.Parsed["parseError"] != true {
		t.Fatalf("sentinel = %v", res.Parsed)
	}
	if hits != 2 {
		t.Fatalf("server hits = %d, want maxAttempts (parse failures retry)", hits)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("cost entries = %d, want 1 (tokens were billed)", len(rec.entries))
	}
}

func TestRecorderFailureDoesNotFailCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"{\"ok\":true}"}],"model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{err: fmt.Errorf("ledger database down")}
	c := testAnthropic(t, srv.URL, 1, rec)

	res, err := c.CallJSON(context.Background(), "analyze", Params{}, Attribution{Feature: "developmental-analysis"})
	if err != nil {
		t.Fatalf("CallJSON should survive recorder failure: %v", err)
	}
	if res.Parsed["ok"] != true {
		t.Fatalf("parsed = %v", res.Parsed)
	}
}

func TestGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// base64 of the bytes 0x89 'P' 'N' 'G'
		fmt.Fprint(w, `{"data":[{"b64_json":"iVBORw==","revised_prompt":"a moody rain-soaked skyline"}]}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := testOpenAI(t, srv.URL, 3, rec)

	img, err := c.GenerateImage(context.Background(), "noir thriller cover", Attribution{Feature: "cover-generation", Operation: "generate-variation"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if len(img.Bytes) != 4 || img.Bytes[0] != 0x89 {
		t.Fatalf("image bytes = %v", img.Bytes)
	}
	if img.MimeType != "image/png" || img.RevisedPrompt == "" {
		t.Fatalf("image = %+v", img)
	}

	if len(rec.entries) != 1 {
		t.Fatalf("cost entries = %d, want 1", len(rec.entries))
	}
	e := rec.entries[0]
	if e.CostCenter != types.CostCenterOpenAI || e.CostUSD != 0.04 {
		t.Fatalf("image cost entry = %+v", e)
	}
	if e.InputTokens != nil {
		t.Fatal("image entries carry no token counts")
	}
}

func TestPricingLookup(t *testing.T) {
	p := DefaultPricing()

	got := p.TextCost("claude-sonnet-4-5-20250929", 1_000_000, 0)
	if math.Abs(got-3.0) > 1e-9 {
		t.Fatalf("prefix-matched input cost = %v, want 3.0", got)
	}
	if c := p.TextCost("some-unknown-model", 1000, 1000); c != 0 {
		t.Fatalf("unknown model cost = %v, want 0", c)
	}
	if c := p.ImageCost(); c != 0.04 {
		t.Fatalf("image cost = %v", c)
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/platform/httpx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

const anthropicVersion = "2023-06-01"

type anthropicHTTPError struct {
	StatusCode int
	Body       string
}

func (e *anthropicHTTPError) Error() string {
	return fmt.Sprintf("anthropic http %d: %s", e.StatusCode, e.Body)
}

func (e *anthropicHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type anthropicClient struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration

	pricing  *Pricing
	recorder Recorder
}

// NewAnthropic builds the analysis-stage text client from ANTHROPIC_API_KEY,
// ANTHROPIC_BASE_URL, ANTHROPIC_MODEL, ANTHROPIC_TIMEOUT_SECONDS and
// ANTHROPIC_MAX_ATTEMPTS.
func NewAnthropic(log *logger.Logger, pricing *Pricing, recorder Recorder) (Chat, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	timeoutSec := 180
	if v := os.Getenv("ANTHROPIC_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxAttempts := defaultMaxAttempts
	if v := os.Getenv("ANTHROPIC_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			maxAttempts = parsed
		}
	}
	if pricing == nil {
		pricing = DefaultPricing()
	}

	return &anthropicClient{
		log:         log.With("client", "AnthropicClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxAttempts: maxAttempts,
		backoffBase: baseBackoff,
		pricing:     pricing,
		recorder:    recorder,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

func (c *anthropicClient) CallJSON(ctx context.Context, prompt string, p Params, attr Attribution) (*Result, error) {
	return c.call(ctx, prompt, p, attr, true)
}

func (c *anthropicClient) CallText(ctx context.Context, prompt string, p Params, attr Attribution) (*Result, error) {
	return c.call(ctx, prompt, p, attr, false)
}

func (c *anthropicClient) call(ctx context.Context, prompt string, p Params, attr Attribution, wantJSON bool) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt required")
	}
	model := p.Model
	if model == "" {
		model = c.model
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: p.Temperature,
		System:      p.System,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}

	start := time.Now()
	outcome := "error"
	var spent Usage
	defer func() {
		if m := observability.Current(); m != nil {
			m.ObserveProviderCall(model, attr.Operation, outcome, time.Since(start), spent.InputTokens, spent.OutputTokens)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, "/v1/messages", req)
		if err != nil {
			if !httpx.IsRetryableError(err) {
				return nil, err
			}
			lastErr = err
			if attempt == c.maxAttempts {
				return nil, err
			}
			c.sleep(resp, attempt, err)
			continue
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			lastErr = fmt.Errorf("anthropic decode error: %w", err)
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}

		text := anthropicText(parsed)
		usage := Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			Model:        parsed.Model,
		}
		if usage.Model == "" {
			usage.Model = model
		}
		usage.CostUSD = c.pricing.TextCost(usage.Model, usage.InputTokens, usage.OutputTokens)

		if text == "" {
			lastErr = fmt.Errorf("anthropic returned empty completion")
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}

		result := &Result{Text: text, Usage: usage, Attempts: attempt}
		if !wantJSON {
			outcome, spent = "ok", usage
			recordCost(ctx, c.log, c.recorder, types.CostCenterClaude, attr, usage, true)
			return result, nil
		}

		obj, perr := DecodeJSON(text)
		if perr == nil {
			result.Parsed = obj
			outcome, spent = "ok", usage
			recordCost(ctx, c.log, c.recorder, types.CostCenterClaude, attr, usage, true)
			return result, nil
		}

		// Parse failure is retryable; the last attempt degrades to the
		// sentinel record instead of an error.
		lastErr = perr
		if attempt == c.maxAttempts {
			result.Parsed = ParseFailedRecord()
			result.ParseFailed = true
			outcome, spent = "parse_failed", usage
			recordCost(ctx, c.log, c.recorder, types.CostCenterClaude, attr, usage, true)
			c.log.Warn("Completion JSON unrepairable, returning sentinel",
				"feature", attr.Feature, "operation", attr.Operation, "attempts", attempt, "error", perr.Error())
			return result, nil
		}
		c.sleep(resp, attempt, perr)
	}

	return nil, lastErr
}

func (c *anthropicClient) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &anthropicHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *anthropicClient) sleep(resp *http.Response, attempt int, cause error) {
	backoff := backoffFor(attempt, c.backoffBase)
	sleepFor := httpx.RetryAfterDuration(resp, backoff, maxBackoff)
	sleepFor = httpx.JitterSleep(sleepFor)

	c.log.Warn("Anthropic request retrying",
		"attempt", attempt,
		"max_attempts", c.maxAttempts,
		"sleep", sleepFor.String(),
		"error", cause.Error(),
	)
	time.Sleep(sleepFor)
}

func anthropicText(r anthropicResponse) string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type != "" && c.Type != "text" {
			continue
		}
		b.WriteString(c.Text)
	}
	return strings.TrimSpace(b.String())
}

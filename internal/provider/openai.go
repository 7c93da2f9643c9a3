package provider

import (
	"bytes"
	"context"
	"encoding/base64"
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

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type openAIClient struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	imageModel  string
	imageSize   string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration

	pricing  *Pricing
	recorder Recorder
}

// OpenAI serves two pipeline roles: fallback text completions and cover
// image synthesis.
type OpenAI interface {
	Chat
	ImageGen
}

// NewOpenAI builds the client from OPENAI_API_KEY, OPENAI_BASE_URL,
// OPENAI_MODEL, OPENAI_IMAGE_MODEL, OPENAI_IMAGE_SIZE,
// OPENAI_TIMEOUT_SECONDS and OPENAI_MAX_ATTEMPTS.
func NewOpenAI(log *logger.Logger, pricing *Pricing, recorder Recorder) (OpenAI, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o"
	}
	imageModel := strings.TrimSpace(os.Getenv("OPENAI_IMAGE_MODEL"))
	if imageModel == "" {
		imageModel = "gpt-image-1"
	}
	imageSize := strings.TrimSpace(os.Getenv("OPENAI_IMAGE_SIZE"))
	if imageSize == "" {
		imageSize = "1024x1536"
	}

	timeoutSec := 180
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxAttempts := defaultMaxAttempts
	if v := os.Getenv("OPENAI_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			maxAttempts = parsed
		}
	}
	if pricing == nil {
		pricing = DefaultPricing()
	}

	return &openAIClient{
		log:         log.With("client", "OpenAIClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		imageModel:  imageModel,
		imageSize:   imageSize,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxAttempts: maxAttempts,
		backoffBase: baseBackoff,
		pricing:     pricing,
		recorder:    recorder,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openAIClient) CallJSON(ctx context.Context, prompt string, p Params, attr Attribution) (*Result, error) {
	return c.call(ctx, prompt, p, attr, true)
}

func (c *openAIClient) CallText(ctx context.Context, prompt string, p Params, attr Attribution) (*Result, error) {
	return c.call(ctx, prompt, p, attr, false)
}

func (c *openAIClient) call(ctx context.Context, prompt string, p Params, attr Attribution, wantJSON bool) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt required")
	}
	model := p.Model
	if model == "" {
		model = c.model
	}
	messages := []chatMessage{}
	if p.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
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

		resp, raw, err := c.doOnce(ctx, "/v1/chat/completions", req)
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

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			lastErr = fmt.Errorf("openai decode error: %w", err)
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}

		text := ""
		if len(parsed.Choices) > 0 {
			text = strings.TrimSpace(parsed.Choices[0].Message.Content)
		}
		usage := Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			Model:        parsed.Model,
		}
		if usage.Model == "" {
			usage.Model = model
		}
		usage.CostUSD = c.pricing.TextCost(usage.Model, usage.InputTokens, usage.OutputTokens)

		if text == "" {
			lastErr = fmt.Errorf("openai returned empty completion")
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}

		result := &Result{Text: text, Usage: usage, Attempts: attempt}
		if !wantJSON {
			outcome, spent = "ok", usage
			recordCost(ctx, c.log, c.recorder, types.CostCenterOpenAI, attr, usage, true)
			return result, nil
		}

		obj, perr := DecodeJSON(text)
		if perr == nil {
			result.Parsed = obj
			outcome, spent = "ok", usage
			recordCost(ctx, c.log, c.recorder, types.CostCenterOpenAI, attr, usage, true)
			return result, nil
		}

		lastErr = perr
		if attempt == c.maxAttempts {
			result.Parsed = ParseFailedRecord()
			result.ParseFailed = true
			outcome, spent = "parse_failed", usage
			recordCost(ctx, c.log, c.recorder, types.CostCenterOpenAI, attr, usage, true)
			c.log.Warn("Completion JSON unrepairable, returning sentinel",
				"feature", attr.Feature, "operation", attr.Operation, "attempts", attempt, "error", perr.Error())
			return result, nil
		}
		c.sleep(resp, attempt, perr)
	}

	return nil, lastErr
}

type imagesRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imagesResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (c *openAIClient) GenerateImage(ctx context.Context, prompt string, attr Attribution) (*Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("image prompt required")
	}

	req := imagesRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: "b64_json",
	}

	start := time.Now()
	outcome := "error"
	defer func() {
		if m := observability.Current(); m != nil {
			m.ObserveProviderCall(c.imageModel, attr.Operation, outcome, time.Since(start), 0, 0)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, "/v1/images/generations", req)
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

		var parsed imagesResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			lastErr = fmt.Errorf("openai decode error: %w", err)
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}
		if len(parsed.Data) == 0 || strings.TrimSpace(parsed.Data[0].B64JSON) == "" {
			lastErr = fmt.Errorf("image response missing b64_json")
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}

		bytesOut, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parsed.Data[0].B64JSON))
		if err != nil || len(bytesOut) == 0 {
			lastErr = fmt.Errorf("decode image base64: %w", err)
			if attempt == c.maxAttempts {
				return nil, lastErr
			}
			c.sleep(resp, attempt, lastErr)
			continue
		}

		usage := Usage{Model: c.imageModel, CostUSD: c.pricing.ImageCost()}
		outcome = "ok"
		recordCost(ctx, c.log, c.recorder, types.CostCenterOpenAI, attr, usage, false)

		return &Image{
			Bytes:         bytesOut,
			MimeType:      "image/png",
			RevisedPrompt: strings.TrimSpace(parsed.Data[0].RevisedPrompt),
			Usage:         usage,
			Attempts:      attempt,
		}, nil
	}

	return nil, lastErr
}

func (c *openAIClient) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *openAIClient) sleep(resp *http.Response, attempt int, cause error) {
	backoff := backoffFor(attempt, c.backoffBase)
	sleepFor := httpx.RetryAfterDuration(resp, backoff, maxBackoff)
	sleepFor = httpx.JitterSleep(sleepFor)

	c.log.Warn("OpenAI request retrying",
		"attempt", attempt,
		"max_attempts", c.maxAttempts,
		"sleep", sleepFor.String(),
		"error", cause.Error(),
	)
	time.Sleep(sleepFor)
}

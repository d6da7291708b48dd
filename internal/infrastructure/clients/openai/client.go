package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/smartqrhealth/backend/internal/domain/providers"
	"github.com/smartqrhealth/backend/pkg/config"
)

const defaultModel = "gpt-4o-mini"

// Client implements providers.AIModelProvider on top of the OpenAI API.
type Client struct {
	api     *goopenai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

var _ providers.AIModelProvider = (*Client)(nil)

// NewClient creates a new OpenAI client.
func NewClient(cfg *config.OpenAIConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: 2 * time.Minute}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &Client{
		api:     goopenai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
		limiter: newRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
	}, nil
}

// Complete runs one chat completion and returns the first choice's content.
// The call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, req providers.AICompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			recordOpenAIMetric(ctx, model, "chat", 0, 0, err)
			return "", fmt.Errorf("openai rate limiter: %w", err)
		}
		recordOpenAIRateLimitWait(ctx, model, time.Since(waitStart))
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		recordOpenAIMetric(ctx, model, "chat", statusCode(err), time.Since(start), err)
		return "", wrapAPIError("openai chat completion failed", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err := errors.New("openai response missing content")
		recordOpenAIMetric(ctx, model, "chat", http.StatusOK, time.Since(start), err)
		return "", err
	}

	recordOpenAIMetric(ctx, model, "chat", http.StatusOK, time.Since(start), nil)
	return resp.Choices[0].Message.Content, nil
}

// UploadDocument uploads a local file for document understanding.
func (c *Client) UploadDocument(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	file, err := c.api.CreateFile(ctx, goopenai.FileRequest{
		FileName: filepath.Base(path),
		FilePath: path,
		Purpose:  "assistants",
	})
	if err != nil {
		recordOpenAIMetric(ctx, c.model, "files.create", statusCode(err), time.Since(start), err)
		return "", wrapAPIError("openai file upload failed", err)
	}

	recordOpenAIMetric(ctx, c.model, "files.create", http.StatusOK, time.Since(start), nil)
	return file.ID, nil
}

// DeleteDocument removes an uploaded file.
func (c *Client) DeleteDocument(ctx context.Context, fileID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.api.DeleteFile(ctx, fileID); err != nil {
		recordOpenAIMetric(ctx, c.model, "files.delete", statusCode(err), time.Since(start), err)
		return wrapAPIError("openai file delete failed", err)
	}
	recordOpenAIMetric(ctx, c.model, "files.delete", http.StatusOK, time.Since(start), nil)
	return nil
}

func toChatMessages(messages []providers.AIMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := goopenai.ChatCompletionMessage{Role: string(m.Role)}
		if m.ImageDataURL == "" {
			msg.Content = m.Content
		} else {
			msg.MultiContent = []goopenai.ChatMessagePart{
				{Type: goopenai.ChatMessagePartTypeText, Text: m.Content},
				{
					Type: goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{
						URL:    m.ImageDataURL,
						Detail: goopenai.ImageURLDetailAuto,
					},
				},
			}
		}
		out = append(out, msg)
	}
	return out
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func wrapAPIError(msg string, err error) error {
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: %v", providers.ErrAIModelUnauthorized, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// newRateLimiter returns nil when rpm is not positive, which disables limiting.
func newRateLimiter(rpm int, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}

type openAIMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

var (
	openaiMetricsOnce sync.Once
	openaiMetrics     *openAIMetrics
)

// loadOpenAIMetrics creates the instruments once. It returns nil when the
// meter rejected one of them.
func loadOpenAIMetrics() *openAIMetrics {
	openaiMetricsOnce.Do(func() {
		openaiMetrics = newOpenAIMetrics()
	})
	return openaiMetrics
}

func newOpenAIMetrics() *openAIMetrics {
	meter := otel.Meter("github.com/smartqrhealth/backend/openai")

	requestCount, err := meter.Int64Counter(
		"ai.openai.request.count",
		metric.WithDescription("Number of OpenAI requests"),
	)
	if err != nil {
		return nil
	}
	requestDuration, err := meter.Float64Histogram(
		"ai.openai.request.duration",
		metric.WithDescription("OpenAI request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil
	}
	requestErrors, err := meter.Int64Counter(
		"ai.openai.request.errors",
		metric.WithDescription("Number of OpenAI request errors"),
	)
	if err != nil {
		return nil
	}
	rateLimitWait, err := meter.Float64Histogram(
		"ai.openai.rate_limit.wait",
		metric.WithDescription("Time spent waiting for OpenAI rate limiter in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil
	}

	return &openAIMetrics{
		requestCount:    requestCount,
		requestDuration: requestDuration,
		requestErrors:   requestErrors,
		rateLimitWait:   rateLimitWait,
	}
}

func recordOpenAIMetric(ctx context.Context, model, operation string, statusCode int, duration time.Duration, err error) {
	m := loadOpenAIMetrics()
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
		attribute.String("ai.operation", operation),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	m.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func recordOpenAIRateLimitWait(ctx context.Context, model string, wait time.Duration) {
	m := loadOpenAIMetrics()
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", model),
	}
	m.rateLimitWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(attrs...))
}

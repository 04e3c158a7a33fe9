package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	internalerrors "github.com/olegiv/bms-telemetry-go/internal/errors"
)

// Client wraps the Anthropic API client
type Client struct {
	client     *anthropic.Client
	model      string
	maxTokens  int
	maxRetries int
	backoff    func(error, int) time.Duration
}

// Stats holds statistics about the API call
type Stats struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
	CostUSD             float64
	DurationSeconds     float64
}

// NewClient creates a new Claude AI client. Extra options are passed to the
// Anthropic SDK after the HTTP client is installed.
func NewClient(apiKey, model, proxyURL string, timeoutSeconds, maxTokens int, opts ...anthropic.ClientOption) (*Client, error) {
	timeout := time.Duration(timeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: timeout}

	if proxyURL != "" {
		proxyURLParsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		// Validate proxy URL scheme for security
		if proxyURLParsed.Scheme != "http" && proxyURLParsed.Scheme != "https" {
			return nil, fmt.Errorf("proxy URL must use http or https scheme, got: %s", proxyURLParsed.Scheme)
		}

		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(proxyURLParsed),
		}
	}

	options := append([]anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}, opts...)

	return &Client{
		client:     anthropic.NewClient(apiKey, options...),
		model:      model,
		maxTokens:  maxTokens,
		maxRetries: defaultMaxRetries,
		backoff:    getBackoffDuration,
	}, nil
}

// Analyze sends the prompts to Claude with retry and parses the JSON
// assessment from the response text.
func (c *Client) Analyze(ctx context.Context, systemPrompt, userPrompt string) (*Analysis, *Stats, error) {
	startTime := time.Now()

	response, err := retryWithBackoff(ctx, c.maxRetries, c.backoff, func() (anthropic.MessagesResponse, error) {
		return c.callAPI(ctx, systemPrompt, userPrompt)
	})
	if err != nil {
		return nil, nil, err
	}

	if len(response.Content) == 0 {
		return nil, nil, fmt.Errorf("empty response from Claude")
	}

	var responseText strings.Builder
	for _, content := range response.Content {
		if content.Type == anthropic.MessagesContentTypeText && content.Text != nil {
			responseText.WriteString(*content.Text)
		}
	}

	analysis, err := ParseAnalysis(responseText.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse analysis: %w", err)
	}

	stats := c.calculateStats(response, time.Since(startTime).Seconds())

	return analysis, stats, nil
}

// callAPI makes the actual API call to Claude
func (c *Client) callAPI(ctx context.Context, systemPrompt, userPrompt string) (anthropic.MessagesResponse, error) {
	request := anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(userPrompt),
				},
			},
		},
		System:    systemPrompt,
		MaxTokens: c.maxTokens,
	}

	response, err := c.client.CreateMessages(ctx, request)
	if err != nil {
		// Keep the API key out of error messages
		wrapped := internalerrors.Wrapf(err, "API call failed (%s)", classifyError(err))
		if classifyError(err) == classPermanent {
			return anthropic.MessagesResponse{}, permanent(wrapped)
		}
		return anthropic.MessagesResponse{}, wrapped
	}

	return response, nil
}

// calculateStats calculates cost and token statistics
func (c *Client) calculateStats(response anthropic.MessagesResponse, durationSeconds float64) *Stats {
	inputTokens := response.Usage.InputTokens
	outputTokens := response.Usage.OutputTokens
	cacheCreationTokens := response.Usage.CacheCreationInputTokens
	cacheReadTokens := response.Usage.CacheReadInputTokens

	// Sonnet pricing per million tokens: input $3, output $15,
	// cache write $3.75, cache read $0.30.
	inputCost := float64(inputTokens) / 1000000 * 3.0
	outputCost := float64(outputTokens) / 1000000 * 15.0
	cacheWriteCost := float64(cacheCreationTokens) / 1000000 * 3.75
	cacheReadCost := float64(cacheReadTokens) / 1000000 * 0.30

	return &Stats{
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		CacheCreationTokens: cacheCreationTokens,
		CacheReadTokens:     cacheReadTokens,
		CostUSD:             inputCost + outputCost + cacheWriteCost + cacheReadCost,
		DurationSeconds:     durationSeconds,
	}
}

// GetModelInfo returns information about the configured model
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":         c.model,
		"provider":      "Anthropic",
		"max_tokens":    c.maxTokens,
		"context_limit": 200000,
	}
}

// GetProviderName returns the name of the provider
func (c *Client) GetProviderName() string {
	return "Anthropic"
}

// Ensure Client implements Provider interface
var _ Provider = (*Client)(nil)

package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "google.golang.org/genai"

	"livefeed-service/pkg/common"
)

const (
	// DefaultModel is used when Config.Model is empty
	DefaultModel = "gemini-1.5-flash"

	// DefaultTimeout bounds one generation call
	DefaultTimeout = 20 * time.Second

	temperature = 0.9
)

// Client asks the hosted model for one line of commentary.
// It never retries; every failure is returned as a generation error.
type Client struct {
	models  *sdk.Models
	model   string
	timeout time.Duration
	logger  common.Logger
}

// Config holds the configuration for the generation client.
// BaseURL is only set to point at a proxy or a test server.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient creates a generation client with custom configuration
func NewClient(ctx context.Context, config Config, logger common.Logger) (*Client, error) {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	client, err := sdk.NewClient(ctx, &sdk.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     sdk.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: config.Timeout},
		HTTPOptions: sdk.HTTPOptions{BaseURL: strings.TrimRight(config.BaseURL, "/")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	return &Client{
		models:  client.Models,
		model:   config.Model,
		timeout: config.Timeout,
		logger:  logger,
	}, nil
}

// Generate returns one commentary sentence for req.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", common.NewGenerationError("invalid generation request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, sdk.Text(BuildPrompt(req)), &sdk.GenerateContentConfig{
		Temperature: sdk.Ptr[float32](temperature),
	})
	if err != nil {
		return "", c.requestError(ctx, err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", common.NewGenerationError("generation refused: "+string(resp.PromptFeedback.BlockReason), nil)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", common.NewGenerationError("generation returned no candidates", nil)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == sdk.FinishReasonSafety {
		return "", common.NewGenerationError("generation refused: SAFETY", nil)
	}

	var raw strings.Builder
	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p != nil {
				raw.WriteString(p.Text)
			}
		}
	}
	text := FirstSentence(raw.String())
	if text == "" {
		return "", common.NewGenerationError("generation returned empty text", nil)
	}

	c.logger.Debug("Generated %s commentary in %v", req.EventType, time.Since(start))
	return text, nil
}

func (c *Client) requestError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return common.NewGenerationError(fmt.Sprintf("generation timed out after %s", c.timeout), err)
	}

	var apiErr sdk.APIError
	if errors.As(err, &apiErr) {
		return common.NewGenerationError(fmt.Sprintf("generation API error %d: %s", apiErr.Code, apiErr.Message), nil)
	}
	var apiErrPtr *sdk.APIError
	if errors.As(err, &apiErrPtr) {
		return common.NewGenerationError(fmt.Sprintf("generation API error %d: %s", apiErrPtr.Code, apiErrPtr.Message), nil)
	}
	return common.NewGenerationError("generation request failed", err)
}

// FirstSentence returns the first non-empty line of s with surrounding
// whitespace and quotes removed.
func FirstSentence(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"'`)
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

package claude

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/ymorita/restrack/pkg/service"
)

const (
	serviceName     = "claude"
	maxAttempts     = 3
	maxOutputTokens = 8192
	initialBackoff  = 2 * time.Second
)

// Client wraps the Anthropic SDK and implements service.ReasoningClient.
// It performs its own retries so the SDK's built-in ones are disabled.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
	sleep func(time.Duration)
}

// New creates a Claude client. apiKey defaults to ANTHROPIC_API_KEY env.
// model defaults to Claude Sonnet.
func New(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not set")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)

	m := anthropic.ModelClaudeSonnet4_6
	if model != "" {
		m = anthropic.Model(model)
	}

	return &Client{inner: inner, model: m, sleep: time.Sleep}, nil
}

// GenerateSchedule sends the prompts to the Claude API and returns the raw
// response text. Rate limits and connection failures are retried with
// exponential backoff; other API errors are returned immediately.
func (c *Client) GenerateSchedule(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: int64(maxOutputTokens),
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err == nil {
			var text strings.Builder
			for _, block := range resp.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			return text.String(), nil
		}

		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode != http.StatusTooManyRequests {
				return "", &service.UpstreamError{
					Service:    serviceName,
					StatusCode: apiErr.StatusCode,
					Message:    apiErr.Error(),
				}
			}
			// Rate limited, fall through to retry.
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if attempt < maxAttempts {
			c.sleep(backoff)
			backoff *= 2
		}
	}
	return "", &service.RetriesExhaustedError{
		Service:  serviceName,
		Attempts: maxAttempts,
		Last:     lastErr,
	}
}

package claude

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ymorita/restrack/pkg/service"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var sleeps []time.Duration
	client := &Client{
		inner: anthropic.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(srv.URL),
			option.WithMaxRetries(0),
		),
		model: anthropic.ModelClaudeSonnet4_6,
		sleep: func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return client, &sleeps
}

const messageBody = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-6",
	"content": [{"type": "text", "text": "[]"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 5}
}`

func TestGenerateSchedule(t *testing.T) {

	t.Run("ReturnsResponseText", func(t *testing.T) {
		client, sleeps := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(messageBody))
		})

		text, err := client.GenerateSchedule(context.Background(), "system", "user")
		assert.NoError(t, err)
		assert.Equal(t, "[]", text)
		assert.Empty(t, *sleeps)
	})

	t.Run("RateLimitRetriedThenExhausted", func(t *testing.T) {
		calls := 0
		client, sleeps := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
		})

		_, err := client.GenerateSchedule(context.Background(), "system", "user")
		var exhausted *service.RetriesExhaustedError
		assert.True(t, errors.As(err, &exhausted))
		assert.Equal(t, maxAttempts, exhausted.Attempts)
		assert.Equal(t, maxAttempts, calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
	})

	t.Run("RateLimitRecovers", func(t *testing.T) {
		calls := 0
		client, sleeps := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			if calls == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
				return
			}
			w.Write([]byte(messageBody))
		})

		text, err := client.GenerateSchedule(context.Background(), "system", "user")
		assert.NoError(t, err)
		assert.Equal(t, "[]", text)
		assert.Equal(t, []time.Duration{2 * time.Second}, *sleeps)
	})

	t.Run("OtherAPIErrorFailsImmediately", func(t *testing.T) {
		calls := 0
		client, sleeps := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "bad prompt"}}`))
		})

		_, err := client.GenerateSchedule(context.Background(), "system", "user")
		var upstream *service.UpstreamError
		assert.True(t, errors.As(err, &upstream))
		assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *sleeps)
	})
}

func TestNew(t *testing.T) {
	t.Run("MissingKey", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := New("", "")
		assert.Error(t, err)
	})

	t.Run("ModelOverride", func(t *testing.T) {
		client, err := New("key", "claude-haiku-4")
		assert.NoError(t, err)
		assert.Equal(t, anthropic.Model("claude-haiku-4"), client.model)
	})
}

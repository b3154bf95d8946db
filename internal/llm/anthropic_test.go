package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repochat/pkg/types"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func successBody(text string) string {
	return `{"content":[{"type":"text","text":"` + text + `"}],"stop_reason":"end_turn"}`
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL), WithRetryConfig(fastRetry())}, opts...)
	client, err := NewAnthropicClient("test-key", opts...)
	require.NoError(t, err)
	return client
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	_, err := NewAnthropicClient("")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv(EnvAPIKey, "env-key")
	client, err := NewAnthropicClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())
}

func TestChat_RequestShape(t *testing.T) {
	var captured struct {
		body    map[string]interface{}
		headers http.Header
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured.headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.body)
		_, _ = w.Write([]byte(successBody("hello")))
	})

	reply, err := client.Chat(context.Background(), ChatRequest{
		System:  "be helpful",
		History: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hey"}},
		Prompt:  "how are you?",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)

	assert.Equal(t, "test-key", captured.headers.Get("x-api-key"))
	assert.Equal(t, AnthropicVersion, captured.headers.Get("anthropic-version"))
	assert.Equal(t, "application/json", captured.headers.Get("Content-Type"))

	assert.Equal(t, DefaultModel, captured.body["model"])
	assert.Equal(t, float64(DefaultMaxTokens), captured.body["max_tokens"])
	assert.Equal(t, "be helpful", captured.body["system"])

	messages, ok := captured.body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 3, "history plus the new prompt")
	last, _ := messages[2].(map[string]interface{})
	assert.Equal(t, RoleUser, last["role"])
	assert.Equal(t, "how are you?", last["content"])
}

func TestSummarize_PromptNamesLanguage(t *testing.T) {
	var prompt string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body apiRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		prompt = body.Messages[0].Content
		_, _ = w.Write([]byte(successBody("A Rust parser.")))
	})

	summary, err := client.Summarize(context.Background(), SummarizeRequest{
		Path:     "src/parse.rs",
		Language: "Rust",
		Content:  "fn parse() {}",
	})
	require.NoError(t, err)
	assert.Equal(t, "A Rust parser.", summary)
	assert.Contains(t, prompt, "very concise summary")
	assert.Contains(t, prompt, "Rust code")
	assert.Contains(t, prompt, "fn parse() {}")
}

func TestSummarize_CacheHitSkipsNetwork(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(successBody("cached summary")))
	}, WithCache(NewCache(16)))

	req := SummarizeRequest{Path: "a.go", Language: "Go", Content: "package a"}

	first, err := client.Summarize(context.Background(), req)
	require.NoError(t, err)
	second, err := client.Summarize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A renamed file with identical content also hits the cache.
	renamed := SummarizeRequest{Path: "b.go", Language: "Go", Content: "package a"}
	_, err = client.Summarize(context.Background(), renamed)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestChat_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(successBody("recovered")))
	})

	reply, err := client.Chat(context.Background(), ChatRequest{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestChat_NoRetryOnClientError(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	})

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, types.KindServicePermanent, types.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx responses are not retried")
}

func TestChat_RateLimitIsTransient(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, types.KindServiceTransient, types.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "rate limits exhaust the retry budget")
}

func TestChat_Cancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Chat(ctx, ChatRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
}

func TestChat_EmptyReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"end_turn"}`))
	})

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "q"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestChat_EmptyPromptRejectedLocally(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestCallLogs_RecordCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(successBody("ok")))
	})

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "q"})
	require.NoError(t, err)

	logs := client.CallLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "chat", logs[0].RequestSummary)
	assert.Equal(t, http.StatusOK, logs[0].ResponseStatus)
	assert.False(t, logs[0].Timestamp.IsZero())
}

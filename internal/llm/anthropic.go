package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"repochat/pkg/types"
)

// Anthropic API configuration
const (
	AnthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	AnthropicVersion = "2023-06-01"

	DefaultModel     = "claude-3-sonnet-20240229"
	DefaultMaxTokens = 4000

	// EnvAPIKey is the environment variable holding the API key
	EnvAPIKey = "ANTHROPIC_API_KEY"

	defaultCallTimeout = 60 * time.Second
)

// summarizePrompt is the per-file summarization instruction.
const summarizePrompt = "Provide a very concise summary (2-3 sentences max) of the following %s code, focusing on its main purpose and key functionalities:\n\n%s"

// CallLog records one outbound API call for diagnostics.
type CallLog struct {
	Timestamp      time.Time
	Endpoint       string
	RequestSummary string
	ResponseStatus int
	ResponseTime   time.Duration
}

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
	cache      *Cache

	logMu    sync.Mutex
	callLogs []CallLog
}

// Option configures an AnthropicClient.
type Option func(*AnthropicClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *AnthropicClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *AnthropicClient) { c.baseURL = url }
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *AnthropicClient) { c.httpClient.Timeout = d }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *AnthropicClient) { c.retry = cfg }
}

// WithCache attaches a summary cache.
func WithCache(cache *Cache) Option {
	return func(c *AnthropicClient) { c.cache = cache }
}

// NewAnthropicClient creates a client for the Anthropic messages API.
// An empty apiKey falls back to the ANTHROPIC_API_KEY environment
// variable.
func NewAnthropicClient(apiKey string, opts ...Option) (*AnthropicClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoAPIKey, EnvAPIKey)
	}

	c := &AnthropicClient{
		apiKey:    apiKey,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		baseURL:   AnthropicAPIURL,
		httpClient: &http.Client{
			Timeout: defaultCallTimeout,
		},
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Summarize generates a concise summary of one file's content. Results
// are cached by content hash so unchanged content never repeats the
// network call.
func (c *AnthropicClient) Summarize(ctx context.Context, req SummarizeRequest) (string, error) {
	if err := ValidateSummarizeRequest(req); err != nil {
		return "", types.E(types.KindServicePermanent, "invalid summarize request", err)
	}

	hash := ComputeHash(req.Content)
	if c.cache != nil {
		if summary, ok := c.cache.Get(hash); ok {
			return summary, nil
		}
	}

	language := req.Language
	if language == "" {
		language = "source"
	}
	prompt := fmt.Sprintf(summarizePrompt, language, req.Content)

	summary, err := retryWithBackoff(ctx, c.retry, func() (string, error) {
		return c.callAPI(ctx, "summarize_file", "", []Message{{Role: RoleUser, Content: prompt}})
	})
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		c.cache.Set(hash, summary)
	}
	return summary, nil
}

// Chat generates a reply over assembled context and history.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := ValidateChatRequest(req); err != nil {
		return "", types.E(types.KindServicePermanent, "invalid chat request", err)
	}

	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: RoleUser, Content: req.Prompt})

	return retryWithBackoff(ctx, c.retry, func() (string, error) {
		return c.callAPI(ctx, "chat", req.System, messages)
	})
}

// Model returns the model identifier in use.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Close releases idle connections.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// CallLogs returns a copy of the recorded API call log.
func (c *AnthropicClient) CallLogs() []CallLog {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	logs := make([]CallLog, len(c.callLogs))
	copy(logs, c.callLogs)
	return logs
}

// Message roles accepted by the messages API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	System    string       `json:"system,omitempty"`
	MaxTokens int          `json:"max_tokens"`
}

type apiResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// callAPI performs one messages-API round trip and extracts the reply
// text. Errors are classified for the retry layer.
func (c *AnthropicClient) callAPI(ctx context.Context, summary, system string, messages []Message) (string, error) {
	apiMessages := make([]apiMessage, len(messages))
	for i, m := range messages {
		apiMessages[i] = apiMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(apiRequest{
		Model:     c.model,
		Messages:  apiMessages,
		System:    system,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", types.E(types.KindServicePermanent, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", types.E(types.KindServicePermanent, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", AnthropicVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		c.logCall(summary, 0, elapsed)
		return "", classifyNetworkError("api call", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logCall(summary, resp.StatusCode, elapsed)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", classifyHTTPError(resp.StatusCode,
			fmt.Sprintf("api error %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", types.E(types.KindServiceTransient, "decode response", err)
	}

	if len(apiResp.Content) == 0 || apiResp.Content[0].Text == "" {
		return "", types.E(types.KindServicePermanent, "missing text in api response", ErrEmptyReply)
	}

	return strings.TrimSpace(apiResp.Content[0].Text), nil
}

func (c *AnthropicClient) logCall(summary string, status int, elapsed time.Duration) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.callLogs = append(c.callLogs, CallLog{
		Timestamp:      time.Now(),
		Endpoint:       c.baseURL,
		RequestSummary: summary,
		ResponseStatus: status,
		ResponseTime:   elapsed,
	})
}

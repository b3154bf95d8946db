package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrEmptyPrompt  = errors.New("prompt cannot be empty")
	ErrNoAPIKey     = errors.New("no API key configured")
	ErrEmptyReply   = errors.New("empty reply from model service")
)

// Message is one entry of conversation history sent with a chat call.
type Message struct {
	Role    string
	Content string
}

// SummarizeRequest asks for a per-file summary.
type SummarizeRequest struct {
	Path     string
	Language string
	Content  string
}

// ChatRequest asks for a completion over assembled context plus
// conversation history.
type ChatRequest struct {
	System  string
	History []Message
	Prompt  string
}

// Client wraps the external model service. Implementations own their
// retry, backoff, and timeout policy; callers see a single call that
// either succeeds or returns a typed error.
type Client interface {
	// Summarize generates a natural-language summary of one file.
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)

	// Chat generates a reply for the given context and history.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// Model returns the model identifier in use.
	Model() string

	// Close releases any resources held by the client.
	Close() error
}

// Cache provides in-memory LRU caching of summaries by content hash, so
// re-indexing a renamed-but-unchanged file skips the network round trip.
type Cache struct {
	cache *lru.Cache[string, string]
}

// NewCache creates a summary cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 4096
	}
	cache, err := lru.New[string, string](maxLen)
	if err != nil {
		// Only possible with a non-positive size
		cache, _ = lru.New[string, string](4096)
	}
	return &Cache{cache: cache}
}

// Get retrieves a cached summary by content hash.
func (c *Cache) Get(hash string) (string, bool) {
	return c.cache.Get(hash)
}

// Set stores a summary with automatic LRU eviction.
func (c *Cache) Set(hash, summary string) {
	c.cache.Add(hash, summary)
}

// Len returns the current cache size.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// ComputeHash computes the sha256 cache key for file content.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateSummarizeRequest validates a summarize request.
func ValidateSummarizeRequest(req SummarizeRequest) error {
	if req.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// ValidateChatRequest validates a chat request.
func ValidateChatRequest(req ChatRequest) error {
	if req.Prompt == "" {
		return ErrEmptyPrompt
	}
	return nil
}

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nestline/chatnest/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrUpstream is returned when the generative-language API cannot produce
// a usable reply.
var ErrUpstream = errors.New("assistant upstream error")

// FallbackReply is served when the upstream fails, so the child always
// gets something to click.
var FallbackReply = Reply{
	Text:    "Sorry, I had trouble thinking of a response. Try again!",
	Buttons: []string{"Try again", "Ask something else", "Start over"},
}

// Config holds the generative-language upstream settings.
type Config struct {
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// Client calls the generative-language API and parses its structured
// replies. Identical prompts within the cache TTL are answered from the
// reply cache without an upstream call.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *expirable.LRU[string, Reply]
	logger zerolog.Logger
}

// NewClient creates an assistant client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 512
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  expirable.NewLRU[string, Reply](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger.With().Str("component", "assistant").Logger(),
	}
}

// generateRequest is the upstream wire format.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// generateResponse models the slice of the upstream reply we consume.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Chat produces one assistant turn for a child's message about a topic.
// On upstream failure the error is returned alongside FallbackReply, so
// callers can persist and serve the fallback while still observing the
// failure.
func (c *Client) Chat(ctx context.Context, topicLabel, topicValue, message string) (Reply, error) {
	prompt := BuildPrompt(topicLabel, topicValue, message)

	if reply, ok := c.cache.Get(prompt); ok {
		metrics.AssistantCacheHits.Inc()
		return reply, nil
	}

	start := time.Now()
	raw, err := c.generate(ctx, prompt)
	metrics.AssistantRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AssistantUpstreamErrors.Inc()
		c.logger.Warn().Err(err).Str("topic", topicValue).Msg("Assistant upstream call failed")
		return FallbackReply, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	reply := ParseReply(raw)
	c.cache.Add(prompt, reply)
	return reply, nil
}

// generate performs the raw upstream call and extracts the first
// candidate's text.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the log, upstream errors are JSON
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upstream status %d: %s", resp.StatusCode, snippet)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no candidates in response")
	}

	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	maxSSELine          = 64 * 1024
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	stats      *LLMStats
}

// Option configures a client.
type Option func(*AnthropicClient)

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *AnthropicClient) { c.httpClient = h }
}

func NewAnthropicClient(apiKey, model string, opts ...Option) *AnthropicClient {
	c := &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultAnthropicURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: NewLLMStats(time.Hour),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return c.model }

// Stats returns the rolling call statistics.
func (c *AnthropicClient) Stats() *LLMStats { return c.stats }

// Complete sends req and waits for the whole answer.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() { c.stats.Record(time.Since(start), resp, err) }()

	httpResp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("read response: %w", err))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, apiError(apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &FatalError{StatusCode: httpResp.StatusCode, Message: "empty response from anthropic"}
	}

	return &Response{
		Text:         sb.String(),
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		StopReason:   apiResp.StopReason,
	}, nil
}

// Stream sends req with server-sent events and forwards each text delta.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, out chan<- string) (resp *Response, err error) {
	start := time.Now()
	defer func() { c.stats.Record(time.Since(start), resp, err) }()

	httpResp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 4096), maxSSELine)

	result := &Response{}
	var sb strings.Builder
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			// event names, comments and keep-alive blanks
			continue
		}
		data = strings.TrimSpace(data)
		if !gjson.Valid(data) {
			continue
		}
		ev := gjson.Parse(data)
		switch ev.Get("type").String() {
		case "message_start":
			result.InputTokens = int(ev.Get("message.usage.input_tokens").Int())
		case "content_block_delta":
			text := ev.Get("delta.text").String()
			if text == "" {
				continue
			}
			sb.WriteString(text)
			if err := send(ctx, out, text); err != nil {
				return nil, err
			}
		case "message_delta":
			result.OutputTokens = int(ev.Get("usage.output_tokens").Int())
			if r := ev.Get("delta.stop_reason"); r.Exists() {
				result.StopReason = r.String()
			}
		case "error":
			return nil, apiError(ev.Get("error.type").String(), ev.Get("error.message").String())
		case "message_stop":
			result.Text = sb.String()
			return result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransport(fmt.Errorf("read stream: %w", err))
	}
	// The connection closed before message_stop.
	return nil, &TransientError{Message: "stream ended unexpectedly"}
}

func (c *AnthropicClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		reqBody.Temperature = &t
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("anthropic api: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, classifyStatus(resp.StatusCode, string(msg))
	}
	return resp, nil
}

// apiError maps an error object from a 200 body or an SSE error event.
func apiError(kind, message string) error {
	switch kind {
	case "overloaded_error", "rate_limit_error", "api_error":
		return &TransientError{Message: kind + ": " + message}
	default:
		return &FatalError{Message: kind + ": " + message}
	}
}

// Close releases idle connections.
func (c *AnthropicClient) Close() {
	c.httpClient.CloseIdleConnections()
}

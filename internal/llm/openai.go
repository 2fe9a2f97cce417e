package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	httpClient *http.Client
	stats      *LLMStats
}

// NewOpenAIClient builds a client. An empty baseURL uses the OpenAI default.
func NewOpenAIClient(apiKey, model, baseURL string, httpClient *http.Client) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	config.HTTPClient = httpClient
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		httpClient: httpClient,
		stats:      NewLLMStats(time.Hour),
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Stats returns the rolling call statistics.
func (c *OpenAIClient) Stats() *LLMStats { return c.stats }

// Close releases idle connections.
func (c *OpenAIClient) Close() { c.httpClient.CloseIdleConnections() }

func (c *OpenAIClient) chatRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// Complete sends req and waits for the whole answer.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() { c.stats.Record(time.Since(start), resp, err) }()

	out, err := c.client.CreateChatCompletion(ctx, c.chatRequest(req))
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(out.Choices) == 0 {
		return nil, &FatalError{StatusCode: http.StatusOK, Message: "empty response from openai"}
	}
	return &Response{
		Text:         out.Choices[0].Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		StopReason:   string(out.Choices[0].FinishReason),
	}, nil
}

// Stream forwards content deltas as they arrive.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, out chan<- string) (resp *Response, err error) {
	start := time.Now()
	defer func() { c.stats.Record(time.Since(start), resp, err) }()

	chatReq := c.chatRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	defer stream.Close()

	result := &Response{}
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, mapOpenAIError(err)
		}
		if chunk.Usage != nil {
			result.InputTokens = chunk.Usage.PromptTokens
			result.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			result.StopReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		sb.WriteString(choice.Delta.Content)
		if err := send(ctx, out, choice.Delta.Content); err != nil {
			return nil, err
		}
	}
	result.Text = sb.String()
	return result, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode != 0 {
			return classifyStatus(reqErr.HTTPStatusCode, fmt.Sprint(reqErr.Err))
		}
	}
	return classifyTransport(fmt.Errorf("openai request: %w", err))
}

package providers

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
)

// OpenAIClient speaks the OpenAI chat-completions protocol. It serves the
// openai type itself and every OpenAI-compatible upstream (Groq, Mistral,
// DeepSeek, xAI, Perplexity, TogetherAI, OpenRouter, Qwen, Azure, Copilot,
// custom endpoints) — only the base URL and auth header differ.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	query      string // raw query appended to the completions URL (Azure api-version)
	headers    map[string]string
	httpClient *http.Client
}

// withQuery sets a raw query string appended to every request URL.
func (c *OpenAIClient) withQuery(q string) *OpenAIClient {
	c.query = q
	return c
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// baseURL is the API root (e.g. "https://api.openai.com/v1"); the chat
// completions path is appended. extraHeaders lets Azure/Copilot variants
// inject their auth scheme.
func NewOpenAIClient(baseURL, apiKey string, extraHeaders map[string]string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		headers: extraHeaders,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type openaiRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

// Complete implements the Client interface.
func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	body, err := c.post(ctx, &openaiRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to read response: %w", err)
	}

	var resp openaiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai: API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		FinishReason: finishOrStop(resp.Choices[0].FinishReason),
	}, nil
}

// Stream implements the Client interface. The upstream SSE is pumped on a
// goroutine; usage arrives in the final chunk when the endpoint honors
// stream_options.include_usage.
func (c *OpenAIClient) Stream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	body, err := c.post(ctx, &openaiRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}

	stream, w := NewStream()
	go func() {
		defer body.Close()

		var usage Usage
		finish := "stop"

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk openaiChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue // tolerate keep-alive noise between events
			}
			if chunk.Usage != nil {
				usage.PromptTokens = chunk.Usage.PromptTokens
				usage.CompletionTokens = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
				finish = *fr
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !w.Send(ctx, text) {
					w.Fail(usage, ctx.Err())
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			w.Fail(usage, fmt.Errorf("openai: stream read failed: %w", err))
			return
		}
		w.Close(usage, finish)
	}()
	return stream, nil
}

func (c *OpenAIClient) post(ctx context.Context, req *openaiRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	target := c.baseURL + "/chat/completions"
	if c.query != "" {
		target += "?" + c.query
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError("openai", resp.StatusCode, body)
	}
	return resp.Body, nil
}

// statusError maps upstream HTTP failures to descriptive errors, shared by
// the HTTP-based adapters.
func statusError(name string, status int, body []byte) error {
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: upstream rate limit exceeded (status 429)", name)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: invalid API key (status 401)", name)
	case http.StatusForbidden:
		return fmt.Errorf("%s: access denied (status 403)", name)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%s: quota exhausted (status 402)", name)
	case 500, 502, 503, 504, 529:
		return fmt.Errorf("%s: service temporarily unavailable (status %d)", name, status)
	default:
		return fmt.Errorf("%s: request failed with status %d: %s", name, status, string(body))
	}
}

// finishOrStop defaults an empty finish reason to "stop".
func finishOrStop(fr string) string {
	if fr == "" {
		return "stop"
	}
	return fr
}

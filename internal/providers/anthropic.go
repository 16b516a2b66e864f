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

// AnthropicClient speaks the Anthropic messages protocol. It serves the
// anthropic type with an API key and the claude-code type with an OAuth
// bearer token.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	oauthToken string
	httpClient *http.Client
}

const anthropicVersion = "2023-06-01"

// NewAnthropicClient creates a messages-API client. Exactly one of apiKey or
// oauthToken is expected; the factory validates that.
func NewAnthropicClient(baseURL, apiKey, oauthToken string) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		oauthToken: oauthToken,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicEvent covers the SSE event payloads we care about. Anthropic
// splits input tokens (message_start) from output tokens (message_delta).
type anthropicEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystem extracts system-role messages into Anthropic's top-level
// system field; the API rejects system entries in the messages array.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n"), rest
}

// mapStopReason folds Anthropic stop reasons onto OpenAI finish reasons.
func mapStopReason(sr string) string {
	switch sr {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// Complete implements the Client interface.
func (c *AnthropicClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	system, rest := splitSystem(messages)
	body, err := c.post(ctx, &anthropicRequest{
		Model:     model,
		MaxTokens: 4096,
		Messages:  rest,
		System:    system,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to read response: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error: %s", resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
		FinishReason: mapStopReason(resp.StopReason),
	}, nil
}

// Stream implements the Client interface.
func (c *AnthropicClient) Stream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	system, rest := splitSystem(messages)
	body, err := c.post(ctx, &anthropicRequest{
		Model:     model,
		MaxTokens: 4096,
		Messages:  rest,
		System:    system,
		Stream:    true,
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

			var ev anthropicEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					usage.PromptTokens = ev.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if ev.Delta != nil && ev.Delta.Text != "" {
					if !w.Send(ctx, ev.Delta.Text) {
						w.Fail(usage, ctx.Err())
						return
					}
				}
			case "message_delta":
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					finish = mapStopReason(ev.Delta.StopReason)
				}
				if ev.Usage != nil {
					usage.CompletionTokens = ev.Usage.OutputTokens
				}
			case "error":
				msg := "unknown stream error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				w.Fail(usage, fmt.Errorf("anthropic: stream error: %s", msg))
				return
			case "message_stop":
				w.Close(usage, finish)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			w.Fail(usage, fmt.Errorf("anthropic: stream read failed: %w", err))
			return
		}
		w.Close(usage, finish)
	}()
	return stream, nil
}

func (c *AnthropicClient) post(ctx context.Context, req *anthropicRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if c.oauthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.oauthToken)
	} else {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError("anthropic", resp.StatusCode, body)
	}
	return resp.Body, nil
}

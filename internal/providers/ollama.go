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

// OllamaClient speaks the Ollama chat protocol (newline-delimited JSON).
// Local models are free; no credentials are required.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a client for a local or remote Ollama daemon.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Local inference can be slow on first model load.
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func mapOllamaDone(reason string) string {
	if reason == "length" {
		return "length"
	}
	return "stop"
}

// Complete implements the Client interface.
func (c *OllamaClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	body, err := c.post(ctx, &ollamaRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to read response: %w", err)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("ollama: failed to unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama: API error: %s", resp.Error)
	}

	return &Completion{
		Text: resp.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		},
		FinishReason: mapOllamaDone(resp.DoneReason),
	}, nil
}

// Stream implements the Client interface. Ollama streams NDJSON objects;
// the final object carries done=true plus the token counts.
func (c *OllamaClient) Stream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	body, err := c.post(ctx, &ollamaRequest{Model: model, Messages: messages, Stream: true})
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
			if line == "" {
				continue
			}

			var chunk ollamaResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				w.Fail(usage, fmt.Errorf("ollama: malformed stream line: %w", err))
				return
			}
			if chunk.Error != "" {
				w.Fail(usage, fmt.Errorf("ollama: stream error: %s", chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !w.Send(ctx, chunk.Message.Content) {
					w.Fail(usage, ctx.Err())
					return
				}
			}
			if chunk.Done {
				usage.PromptTokens = chunk.PromptEvalCount
				usage.CompletionTokens = chunk.EvalCount
				finish = mapOllamaDone(chunk.DoneReason)
				break
			}
		}
		if err := scanner.Err(); err != nil {
			w.Fail(usage, fmt.Errorf("ollama: stream read failed: %w", err))
			return
		}
		w.Close(usage, finish)
	}()
	return stream, nil
}

func (c *OllamaClient) post(ctx context.Context, req *ollamaRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError("ollama", resp.StatusCode, body)
	}
	return resp.Body, nil
}

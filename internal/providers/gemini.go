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

// GeminiClient speaks the Google generative-language protocol. It serves the
// google type with an API key, and google-vertex / gemini-cli with an OAuth
// bearer token against a Vertex base URL.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	oauthToken string
	httpClient *http.Client
}

// NewGeminiClient creates a generateContent client.
func NewGeminiClient(baseURL, apiKey, oauthToken string) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		oauthToken: oauthToken,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildGeminiRequest converts chat messages to Gemini contents. Gemini uses
// "model" for the assistant role and takes system text separately.
func buildGeminiRequest(messages []Message) *geminiRequest {
	req := &geminiRequest{}
	for _, m := range messages {
		switch m.Role {
		case "system":
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, geminiPart{Text: m.Content})
		case "assistant":
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return req
}

// mapGeminiFinish folds Gemini finish reasons onto OpenAI finish reasons.
func mapGeminiFinish(fr string) string {
	switch fr {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}

// Complete implements the Client interface.
func (c *GeminiClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	body, err := c.post(ctx, fmt.Sprintf("/models/%s:generateContent", model), buildGeminiRequest(messages))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to read response: %w", err)
	}

	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gemini: failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("gemini: API error: %s", resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: response contained no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = resp.UsageMetadata.PromptTokenCount
		usage.CompletionTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	return &Completion{
		Text:         text.String(),
		Usage:        usage,
		FinishReason: mapGeminiFinish(resp.Candidates[0].FinishReason),
	}, nil
}

// Stream implements the Client interface using streamGenerateContent with
// SSE framing (alt=sse).
func (c *GeminiClient) Stream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	body, err := c.post(ctx, fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", model), buildGeminiRequest(messages))
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

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.UsageMetadata != nil {
				usage.PromptTokens = chunk.UsageMetadata.PromptTokenCount
				usage.CompletionTokens = chunk.UsageMetadata.CandidatesTokenCount
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			cand := chunk.Candidates[0]
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				if !w.Send(ctx, part.Text) {
					w.Fail(usage, ctx.Err())
					return
				}
			}
			if cand.FinishReason != "" {
				finish = mapGeminiFinish(cand.FinishReason)
			}
		}
		if err := scanner.Err(); err != nil {
			w.Fail(usage, fmt.Errorf("gemini: stream read failed: %w", err))
			return
		}
		w.Close(usage, finish)
	}()
	return stream, nil
}

func (c *GeminiClient) post(ctx context.Context, path string, req *geminiRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.oauthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.oauthToken)
	} else {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError("gemini", resp.StatusCode, body)
	}
	return resp.Body, nil
}

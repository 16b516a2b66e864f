package executor

import (
	"fmt"
	"time"
)

// OpenAI chat-completion wire shapes. Field names and the always-null
// refusal/logprobs members are part of the client contract; clients built
// against the OpenAI SDK parse these exactly.

// WireMessage is the assistant message of a non-streaming response.
type WireMessage struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Refusal *string `json:"refusal"`
}

// WireChoice is the single choice of a non-streaming response.
type WireChoice struct {
	Index        int         `json:"index"`
	Message      WireMessage `json:"message"`
	Logprobs     *struct{}   `json:"logprobs"`
	FinishReason string      `json:"finish_reason"`
}

// WireUsage is the usage block of a response.
type WireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the non-streaming response body.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []WireChoice `json:"choices"`
	Usage   WireUsage    `json:"usage"`
}

// WireDelta is the incremental payload of a streaming chunk. The final chunk
// carries an empty delta.
type WireDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is the single choice of a streaming chunk.
type ChunkChoice struct {
	Index        int       `json:"index"`
	Delta        WireDelta `json:"delta"`
	Logprobs     *struct{} `json:"logprobs"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatCompletionChunk is one streaming SSE event body.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// completionID derives the response id from the request arrival time.
func completionID(t time.Time) string {
	return fmt.Sprintf("chatcmpl-%d", t.UnixMilli())
}

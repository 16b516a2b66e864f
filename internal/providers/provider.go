// Package providers implements the upstream LLM wire clients behind a single
// adapter contract. Each configured provider maps to one of a small set of
// wire protocols (OpenAI chat, Anthropic messages, Gemini generateContent,
// Ollama chat, Bedrock invoke); the factory in this package picks the client
// for a provider configuration.
package providers

import (
	"context"
	"errors"
)

// Adapter construction failures.
var (
	// ErrMisconfigured indicates required credentials are missing for the
	// provider type.
	ErrMisconfigured = errors.New("provider misconfigured")

	// ErrUnsupported indicates the provider type has no factory.
	ErrUnsupported = errors.New("provider type unsupported")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the normalized token count report. Upstreams disagree on field
// names (promptTokens/inputTokens); adapters normalize here so callers see
// one shape.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Completion is the result of a non-streaming call.
type Completion struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Stream is a live streaming response. Text chunks arrive on Chunks in
// upstream order; the channel closes when the upstream stream ends. Usage
// and finish reason resolve at that point and are read through Wait.
type Stream struct {
	Chunks <-chan string

	done   chan struct{}
	usage  Usage
	finish string
	err    error
}

// Wait blocks until the stream has ended and returns the upstream-reported
// usage and finish reason. On mid-stream failure err is non-nil and the
// usage holds whatever the upstream reported before failing (possibly zero).
func (s *Stream) Wait() (Usage, string, error) {
	<-s.done
	return s.usage, s.finish, s.err
}

// StreamWriter is the producer side of a Stream. Adapters (and stub clients
// in tests) feed chunks through it and settle the terminal state exactly once.
type StreamWriter struct {
	chunks chan string
	stream *Stream
}

// NewStream creates a connected Stream / StreamWriter pair.
func NewStream() (*Stream, *StreamWriter) {
	ch := make(chan string, 16)
	s := &Stream{Chunks: ch, done: make(chan struct{})}
	return s, &StreamWriter{chunks: ch, stream: s}
}

// Send delivers one text fragment, honoring cancellation.
func (w *StreamWriter) Send(ctx context.Context, text string) bool {
	select {
	case w.chunks <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream with the final usage and finish reason.
func (w *StreamWriter) Close(usage Usage, finish string) {
	w.stream.usage = usage
	w.stream.finish = finish
	close(w.chunks)
	close(w.stream.done)
}

// Fail ends the stream with an error, keeping any partial usage report.
func (w *StreamWriter) Fail(usage Usage, err error) {
	w.stream.usage = usage
	w.stream.err = err
	close(w.chunks)
	close(w.stream.done)
}

// Client is the uniform adapter contract regardless of upstream API.
type Client interface {
	// Complete performs a blocking, non-streaming call.
	Complete(ctx context.Context, model string, messages []Message) (*Completion, error)

	// Stream starts a streaming call. The returned Stream's channel is
	// closed when the upstream ends or fails; callers must drain it and
	// then Wait for the terminal state.
	Stream(ctx context.Context, model string, messages []Message) (*Stream, error)
}

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":4}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1", "sk-test", nil)
	comp, err := c.Complete(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "hello there", comp.Text)
	assert.Equal(t, 12, comp.Usage.PromptTokens)
	assert.Equal(t, 4, comp.Usage.CompletionTokens)
	assert.Equal(t, 16, comp.Usage.Total())
	assert.Equal(t, "stop", comp.FinishReason)
}

func TestOpenAICompleteExtraHeadersAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-version=2024-06-01", r.URL.RawQuery)
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", map[string]string{"api-key": "azure-key"}).
		withQuery("api-version=2024-06-01")
	comp, err := c.Complete(context.Background(), "gpt-4o", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", comp.Text)
	assert.Equal(t, "stop", comp.FinishReason, "absent finish_reason defaults to stop")
}

func TestOpenAICompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk", nil)
	_, err := c.Complete(context.Background(), "gpt-4o", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestOpenAICompleteAPIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk", nil)
	_, err := c.Complete(context.Background(), "gpt-4o", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		lines := []string{
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			`data: {"choices":[{"delta":{"content":"He"}}]}`,
			``,
			`: keep-alive comment`,
			`data: {"choices":[{"delta":{"content":"llo"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1}}`,
			`data: [DONE]`,
		}
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk", nil)
	stream, err := c.Stream(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	var text strings.Builder
	for chunk := range stream.Chunks {
		text.WriteString(chunk)
	}
	usage, finish, err := stream.Wait()
	require.NoError(t, err)

	assert.Equal(t, "Hello", text.String())
	assert.Equal(t, "stop", finish)
	assert.Equal(t, 2, usage.PromptTokens)
	assert.Equal(t, 1, usage.CompletionTokens)
}

func TestOpenAIStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		// Overfill the chunk buffer so the producer blocks on Send.
		for i := 0; i < 64; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")
		}
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewOpenAIClient(srv.URL, "sk", nil)
	stream, err := c.Stream(ctx, "gpt-4o", nil)
	require.NoError(t, err)

	// Read one chunk, then walk away mid-stream.
	<-stream.Chunks
	cancel()

	_, _, err = stream.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

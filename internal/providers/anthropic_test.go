package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// System turns are hoisted out of the messages array.
		assert.Equal(t, "be terse", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		fmt.Fprint(w, `{
			"content":[{"type":"text","text":"hi "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":9,"output_tokens":3}
		}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "sk-ant-test", "")
	comp, err := c.Complete(context.Background(), "claude-sonnet-4", []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", comp.Text)
	assert.Equal(t, 9, comp.Usage.PromptTokens)
	assert.Equal(t, 3, comp.Usage.CompletionTokens)
	assert.Equal(t, "stop", comp.FinishReason)
}

func TestAnthropicOAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer oauth-tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("x-api-key"))
		fmt.Fprint(w, `{"content":[],"stop_reason":"end_turn","usage":{}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "", "oauth-tok")
	_, err := c.Complete(context.Background(), "claude-sonnet-4", nil)
	require.NoError(t, err)
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		events := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"usage":{"input_tokens":7}}}`,
			`data: {"type":"content_block_delta","delta":{"text":"Hel"}}`,
			`data: {"type":"content_block_delta","delta":{"text":"lo"}}`,
			`data: {"type":"message_delta","delta":{"stop_reason":"max_tokens"},"usage":{"output_tokens":4}}`,
			`data: {"type":"message_stop"}`,
		}
		for _, line := range events {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "sk", "")
	stream, err := c.Stream(context.Background(), "claude-sonnet-4", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	var text strings.Builder
	for chunk := range stream.Chunks {
		text.WriteString(chunk)
	}
	usage, finish, err := stream.Wait()
	require.NoError(t, err)

	assert.Equal(t, "Hello", text.String())
	assert.Equal(t, "length", finish)
	assert.Equal(t, 7, usage.PromptTokens)
	assert.Equal(t, 4, usage.CompletionTokens)
}

func TestAnthropicStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"message\":\"overloaded\"}}\n")
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "sk", "")
	stream, err := c.Stream(context.Background(), "claude-sonnet-4", nil)
	require.NoError(t, err)

	for range stream.Chunks {
	}
	_, _, err = stream.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapStopReason("end_turn"))
	assert.Equal(t, "stop", mapStopReason(""))
	assert.Equal(t, "length", mapStopReason("max_tokens"))
	assert.Equal(t, "tool_calls", mapStopReason("tool_use"))
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBedrockComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/anthropic.claude-sonnet-4/invoke", r.URL.Path)

		// SigV4 signature over the payload hash, scoped to region and service.
		auth := r.Header.Get("Authorization")
		assert.Contains(t, auth, "AWS4-HMAC-SHA256")
		assert.Contains(t, auth, "Credential=AKIATEST")
		assert.Contains(t, auth, "/eu-west-1/bedrock/aws4_request")
		assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))

		var req bedrockRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, bedrockAnthropicVersion, req.AnthropicVersion)
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

	c := NewBedrockClient("AKIATEST", "secret", "eu-west-1", srv.URL)
	comp, err := c.Complete(context.Background(), "anthropic.claude-sonnet-4", []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", comp.Text)
	assert.Equal(t, 9, comp.Usage.PromptTokens)
	assert.Equal(t, 3, comp.Usage.CompletionTokens)
	assert.Equal(t, "stop", comp.FinishReason)
}

func TestBedrockCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewBedrockClient("AKIATEST", "secret", "eu-west-1", srv.URL)
	_, err := c.Complete(context.Background(), "anthropic.claude-sonnet-4", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestBedrockStreamSingleChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"content":[{"type":"text","text":"whole answer"}],
			"stop_reason":"max_tokens",
			"usage":{"input_tokens":5,"output_tokens":2}
		}`)
	}))
	defer srv.Close()

	c := NewBedrockClient("AKIATEST", "secret", "eu-west-1", srv.URL)
	stream, err := c.Stream(context.Background(), "anthropic.claude-sonnet-4", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	// The blocking invoke surfaces as exactly one chunk.
	var chunks []string
	for chunk := range stream.Chunks {
		chunks = append(chunks, chunk)
	}
	usage, finish, err := stream.Wait()
	require.NoError(t, err)

	assert.Equal(t, []string{"whole answer"}, chunks)
	assert.Equal(t, "length", finish)
	assert.Equal(t, 5, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestBedrockStreamUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewBedrockClient("AKIATEST", "secret", "eu-west-1", srv.URL)
	stream, err := c.Stream(context.Background(), "anthropic.claude-sonnet-4", nil)
	require.NoError(t, err)

	for range stream.Chunks {
	}
	_, _, err = stream.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestBedrockDefaultEndpoint(t *testing.T) {
	c := NewBedrockClient("AKIATEST", "secret", "us-east-1", "")
	assert.Equal(t, "https://bedrock-runtime.us-east-1.amazonaws.com", c.endpoint)
}

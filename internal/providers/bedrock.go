package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// BedrockClient invokes Anthropic models on AWS Bedrock. Requests are the
// Anthropic messages shape wrapped in Bedrock's invoke envelope and signed
// with SigV4.
//
// The wire protocol is non-streaming: Bedrock's streaming variant uses AWS
// binary event-stream framing, which is out of proportion here, so Stream
// performs the blocking call and emits the text as a single chunk.
type BedrockClient struct {
	endpoint   string
	region     string
	creds      credentials.StaticCredentialsProvider
	signer     *v4.Signer
	httpClient *http.Client
}

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// NewBedrockClient creates a Bedrock runtime client with static credentials.
// endpoint overrides the regional default, for tests and local mocks.
func NewBedrockClient(accessKey, secretKey, region, endpoint string) *BedrockClient {
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	}
	return &BedrockClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		region:     region,
		creds:      credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		signer:     v4.NewSigner(),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type bedrockRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Messages         []Message `json:"messages"`
	System           string    `json:"system,omitempty"`
}

// Complete implements the Client interface.
func (c *BedrockClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	system, rest := splitSystem(messages)
	jsonData, err := json.Marshal(&bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        4096,
		Messages:         rest,
		System:           system,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to marshal request: %w", err)
	}

	target := fmt.Sprintf("%s/model/%s/invoke", c.endpoint, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	cr, err := c.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to resolve credentials: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	if err := c.signer.SignHTTP(ctx, cr, httpReq, hex.EncodeToString(hash[:]), "bedrock", c.region, time.Now()); err != nil {
		return nil, fmt.Errorf("bedrock: failed to sign request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bedrock: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("bedrock", resp.StatusCode, body)
	}

	// Bedrock returns the native Anthropic messages response body.
	var ar anthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("bedrock: failed to unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
		},
		FinishReason: mapStopReason(ar.StopReason),
	}, nil
}

// Stream implements the Client interface via the blocking call.
func (c *BedrockClient) Stream(ctx context.Context, model string, messages []Message) (*Stream, error) {
	stream, w := NewStream()
	go func() {
		comp, err := c.Complete(ctx, model, messages)
		if err != nil {
			w.Fail(Usage{}, err)
			return
		}
		if comp.Text != "" {
			if !w.Send(ctx, comp.Text) {
				w.Fail(comp.Usage, ctx.Err())
				return
			}
		}
		w.Close(comp.Usage, comp.FinishReason)
	}()
	return stream, nil
}

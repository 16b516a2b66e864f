// Package executor drives a routed request end-to-end: it calls the chosen
// provider through its wire client, translates the result to the OpenAI
// chat-completion format, computes cost, and records usage exactly once.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/config"
	"modelgate/internal/logging"
	"modelgate/internal/metrics"
	"modelgate/internal/providers"
	"modelgate/internal/router"
	"modelgate/internal/spend"
)

// Consumer records consumed budget after a call completes.
type Consumer interface {
	Consume(providerID, modelName string, promptTokens, completionTokens int, costUSD float64)
}

// Pricer resolves pricing for cost computation.
type Pricer interface {
	PriceFor(t config.ProviderType, m config.Model) (config.Pricing, bool)
}

// Recorder persists spend events. Optional; nil disables the ledger.
type Recorder interface {
	Record(in spend.RecordInput)
}

// Executor translates between the gateway's adapter contract and the OpenAI
// wire format.
type Executor struct {
	usage  Consumer
	pricer Pricer
	ledger Recorder
	now    func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock overrides the wall clock, for deterministic response ids.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLedger attaches a best-effort spend ledger.
func WithLedger(r Recorder) Option {
	return func(e *Executor) { e.ledger = r }
}

// New creates an Executor.
func New(usage Consumer, pricer Pricer, opts ...Option) *Executor {
	e := &Executor{
		usage:  usage,
		pricer: pricer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// cost computes the USD cost of a call. The second return is false when
// pricing is unknown, in which case cost is 0 and the call is flagged.
func (e *Executor) cost(c router.Candidate, u providers.Usage) (float64, bool) {
	pricing, ok := e.pricer.PriceFor(c.Provider.Type, c.Model)
	if !ok {
		logging.L().Warn("pricing unknown, recording zero cost",
			zap.String("provider", c.Provider.ID),
			zap.String("model", c.Model.Name))
		metrics.Get().RecordPricingUnknown(c.Provider.ID, c.Model.Name)
		return 0, false
	}
	if pricing.CostPerRequest != nil {
		return *pricing.CostPerRequest, true
	}
	var cost float64
	if pricing.InputCostPerMillionTokens != nil {
		cost += float64(u.PromptTokens) * *pricing.InputCostPerMillionTokens / 1e6
	}
	if pricing.OutputCostPerMillionTokens != nil {
		cost += float64(u.CompletionTokens) * *pricing.OutputCostPerMillionTokens / 1e6
	}
	return cost, true
}

// account records usage, metrics, and the spend ledger entry for one call.
func (e *Executor) account(c router.Candidate, u providers.Usage, status string, streamed bool, started time.Time) {
	costUSD, known := e.cost(c, u)
	e.usage.Consume(c.Provider.ID, c.Model.Name, u.PromptTokens, u.CompletionTokens, costUSD)

	elapsed := e.now().Sub(started)
	metrics.Get().RecordUpstreamCall(c.Provider.ID, c.Model.Name, status, elapsed, u.PromptTokens, u.CompletionTokens, costUSD)
	if e.ledger != nil {
		e.ledger.Record(spend.RecordInput{
			ProviderID:       c.Provider.ID,
			Model:            c.Model.Name,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			CostUSD:          costUSD,
			PricingKnown:     known,
			Streamed:         streamed,
			DurationMs:       int(elapsed.Milliseconds()),
			Status:           status,
		})
	}
}

// Complete executes the non-streaming path and returns the response body.
// Accounting happens only after the upstream call succeeds; failures record
// nothing.
func (e *Executor) Complete(ctx context.Context, client providers.Client, c router.Candidate, messages []providers.Message) (*ChatCompletion, error) {
	started := e.now()
	comp, err := client.Complete(ctx, c.Model.Name, messages)
	if err != nil {
		metrics.Get().UpstreamRequestsTotal.WithLabelValues(c.Provider.ID, c.Model.Name, "error").Inc()
		return nil, fmt.Errorf("executor: upstream call failed: %w", err)
	}

	e.account(c, comp.Usage, "success", false, started)

	now := e.now()
	return &ChatCompletion{
		ID:      completionID(now),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   c.Model.ClientName(),
		Choices: []WireChoice{{
			Message: WireMessage{
				Role:    "assistant",
				Content: comp.Text,
			},
			FinishReason: comp.FinishReason,
		}},
		Usage: WireUsage{
			PromptTokens:     comp.Usage.PromptTokens,
			CompletionTokens: comp.Usage.CompletionTokens,
			TotalTokens:      comp.Usage.Total(),
		},
	}, nil
}

// StreamTo executes the streaming path, writing SSE events directly to w.
//
// An error return means the upstream refused the stream before any response
// bytes were written; the caller still owns the HTTP status. Once headers go
// out, all failures are reported in-stream (an error event followed by
// [DONE]) and StreamTo returns nil.
func (e *Executor) StreamTo(ctx context.Context, w http.ResponseWriter, client providers.Client, c router.Candidate, messages []providers.Message) error {
	started := e.now()
	stream, err := client.Stream(ctx, c.Model.Name, messages)
	if err != nil {
		metrics.Get().UpstreamRequestsTotal.WithLabelValues(c.Provider.ID, c.Model.Name, "error").Inc()
		return fmt.Errorf("executor: upstream stream failed: %w", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flush(w)

	now := e.now()
	id := completionID(now)
	created := now.Unix()
	model := c.Model.ClientName()

	chunk := func(delta WireDelta, finish *string) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	// Opening role delta, emitted before any content so SDK clients can
	// initialize their message state.
	writeEvent(w, chunk(WireDelta{Role: "assistant"}, nil))

	for text := range stream.Chunks {
		writeEvent(w, chunk(WireDelta{Content: text}, nil))
	}

	usage, finish, streamErr := stream.Wait()
	if streamErr != nil {
		logging.L().Error("upstream stream failed mid-flight",
			zap.String("provider", c.Provider.ID),
			zap.String("model", c.Model.Name),
			zap.Error(streamErr))
		writeRaw(w, `{"error":"Streaming failed"}`)
		writeRaw(w, "[DONE]")
		// Count whatever the upstream reported before failing.
		if usage.Total() > 0 {
			e.account(c, usage, "error", true, started)
		} else {
			metrics.Get().UpstreamRequestsTotal.WithLabelValues(c.Provider.ID, c.Model.Name, "error").Inc()
		}
		return nil
	}

	writeEvent(w, chunk(WireDelta{}, &finish))
	writeRaw(w, "[DONE]")

	e.account(c, usage, "success", true, started)
	return nil
}

// writeEvent serializes one SSE data event and flushes it.
func writeEvent(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.L().Error("failed to marshal stream chunk", zap.Error(err))
		return
	}
	writeRawBytes(w, data)
}

func writeRaw(w http.ResponseWriter, payload string) {
	writeRawBytes(w, []byte(payload))
}

func writeRawBytes(w http.ResponseWriter, payload []byte) {
	// Client disconnects surface as write errors; the upstream read loop
	// notices via context cancellation, so they are ignored here.
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Package engine wires the gateway's components together: configuration
// source, price catalog, usage manager, dispatcher, router, and executor.
// Everything is constructed here and passed down explicitly; no component
// reaches for a global.
package engine

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/catalog"
	"modelgate/internal/config"
	"modelgate/internal/dispatch"
	"modelgate/internal/executor"
	"modelgate/internal/logging"
	"modelgate/internal/metrics"
	"modelgate/internal/providers"
	"modelgate/internal/router"
	"modelgate/internal/spend"
	"modelgate/internal/usage"
)

// Engine owns the request pipeline and coordinates configuration reloads.
type Engine struct {
	source     config.Source
	catalog    *catalog.Catalog
	usage      *usage.Manager
	dispatcher *dispatch.Dispatcher
	router     *router.Router
	executor   *executor.Executor
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	factory dispatch.Factory
	ledger  executor.Recorder
	clock   func() time.Time
}

// WithFactory overrides the wire-client factory. Tests inject stub adapters
// here.
func WithFactory(f dispatch.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithLedger attaches a spend ledger to the executor.
func WithLedger(l *spend.Ledger) Option {
	return func(o *options) {
		if l != nil {
			o.ledger = l
		}
	}
}

// WithClock overrides the wall clock for the executor and usage manager.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New constructs an engine over a configuration source and price catalog.
func New(source config.Source, cat *catalog.Catalog, opts ...Option) *Engine {
	o := &options{factory: providers.New}
	for _, opt := range opts {
		opt(o)
	}

	ps := source.Providers()

	var usageOpts []usage.Option
	if o.clock != nil {
		usageOpts = append(usageOpts, usage.WithClock(o.clock))
	}
	um := usage.NewManager(ps, usageOpts...)

	var execOpts []executor.Option
	if o.ledger != nil {
		execOpts = append(execOpts, executor.WithLedger(o.ledger))
	}
	if o.clock != nil {
		execOpts = append(execOpts, executor.WithClock(o.clock))
	}

	metrics.Get().ProvidersConfigured.Set(float64(len(ps)))

	return &Engine{
		source:     source,
		catalog:    cat,
		usage:      um,
		dispatcher: dispatch.NewDispatcherWithFactory(o.factory),
		router:     router.New(ps, um, cat),
		executor:   executor.New(um, cat, execOpts...),
	}
}

// Usage exposes the usage manager for persistence and introspection.
func (e *Engine) Usage() *usage.Manager { return e.usage }

// ModelNames returns the sorted union of client-facing model names across
// all configured providers.
func (e *Engine) ModelNames() []string {
	seen := make(map[string]bool)
	for _, p := range e.source.Providers() {
		for _, m := range p.Models {
			seen[m.ClientName()] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChatCompletion serves one non-streaming request for the client-facing
// model name.
func (e *Engine) ChatCompletion(ctx context.Context, model string, messages []providers.Message) (*executor.ChatCompletion, error) {
	client, cand, err := e.resolve(model)
	if err != nil {
		return nil, err
	}
	return e.executor.Complete(ctx, client, cand, messages)
}

// ChatStream serves one streaming request, writing SSE events to w. An
// error return means nothing was written and the caller still owns the
// response status.
func (e *Engine) ChatStream(ctx context.Context, w http.ResponseWriter, model string, messages []providers.Message) error {
	client, cand, err := e.resolve(model)
	if err != nil {
		return err
	}
	return e.executor.StreamTo(ctx, w, client, cand, messages)
}

func (e *Engine) resolve(model string) (providers.Client, router.Candidate, error) {
	cand, err := e.router.Route(model)
	if err != nil {
		if err == router.ErrAllRateLimited {
			metrics.Get().AdmissionRejectedTotal.WithLabelValues(model).Inc()
		}
		return nil, router.Candidate{}, err
	}
	client, err := e.dispatcher.ClientFor(cand.Provider)
	if err != nil {
		return nil, router.Candidate{}, err
	}
	return client, cand, nil
}

// Refresh re-reads the provider set from the source and reconciles every
// component: cached wire clients are evicted, limiters with unchanged
// budgets keep their counters, and the router snapshot is swapped. In-flight
// requests continue on the snapshot they captured.
func (e *Engine) Refresh() {
	ps := e.source.Providers()

	e.dispatcher.Invalidate()
	e.usage.Reconcile(ps)
	e.router.Update(ps)

	metrics.Get().ProvidersConfigured.Set(float64(len(ps)))
	logging.L().Info("engine refreshed after configuration change",
		zap.Int("providers", len(ps)))
}

// Run blocks, refreshing the engine whenever the configuration source
// signals an update, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	updates := e.source.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			e.Refresh()
		}
	}
}

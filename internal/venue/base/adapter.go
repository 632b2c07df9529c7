// Package base holds the plumbing shared by all venue adapters: a
// rate-limited REST client, a polling worker pool, and request signing.
package base

import (
	"context"
	"fmt"
	"time"

	"funding_arb/internal/core"
	"funding_arb/pkg/concurrency"
	httpclient "funding_arb/pkg/http"
	"funding_arb/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 10 * time.Second

// Adapter bundles the REST client, the venue-wide rate limiter, and the
// worker pool that runs polling streams.
type Adapter struct {
	name    string
	rest    *httpclient.Client
	limiter *rate.Limiter
	pool    *concurrency.WorkerPool
	logger  core.ILogger
}

// NewAdapter creates the shared venue plumbing. requestsPerSecond bounds
// the REST call rate across all callers of this adapter.
func NewAdapter(name, baseURL string, signer httpclient.Signer, requestsPerSecond float64, logger core.ILogger) *Adapter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &Adapter{
		name:    name,
		rest:    httpclient.NewClient(baseURL, defaultRequestTimeout, signer),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)*2),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       name + "-streams",
			MaxWorkers: 4,
		}, logger),
		logger: logger.WithField("venue", name),
	}
}

// Name returns the venue name
func (a *Adapter) Name() string { return a.name }

// Logger returns the venue-scoped logger
func (a *Adapter) Logger() core.ILogger { return a.logger }

// Get performs a rate-limited GET and records the venue latency
func (a *Adapter) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	start := time.Now()
	body, err := a.rest.Get(ctx, path, params)
	a.recordLatency(ctx, path, start)
	return body, err
}

// Post performs a rate-limited POST and records the venue latency
func (a *Adapter) Post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	start := time.Now()
	body, err := a.rest.Post(ctx, path, payload)
	a.recordLatency(ctx, path, start)
	return body, err
}

func (a *Adapter) recordLatency(ctx context.Context, path string, start time.Time) {
	elapsed := float64(time.Since(start).Milliseconds())
	telemetry.GetGlobalMetrics().VenueLatency.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("venue", a.name),
		attribute.String("path", path),
	))
}

// PollLoop runs fn immediately and then on every interval tick until the
// context is cancelled. The loop itself executes on the adapter's worker
// pool so multiple streams share the same bounded concurrency; fn errors
// are logged and the loop keeps going.
func (a *Adapter) PollLoop(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	return a.pool.Submit(func() {
		for {
			if err := fn(ctx); err != nil {
				a.logger.Warn("Poll iteration failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	})
}

// Close stops the stream worker pool, waiting for in-flight polls
func (a *Adapter) Close() {
	a.pool.Stop()
}

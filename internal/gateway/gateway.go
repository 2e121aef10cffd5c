package gateway

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// probeCommand is the cheap read used to verify connectivity.
const probeCommand = "system.status"

// Gateway runs logical commands through the configured transport strategy,
// serving parameterless reads from the cache and flushing it after any
// successful write.
type Gateway struct {
	strategy Strategy
	cache    *Cache
	retry    *RetryPolicy
	logger   *log.Logger
	tracer   trace.Tracer
}

// New composes a gateway. cache and retry may be nil to disable caching or
// retries respectively.
func New(strategy Strategy, cache *Cache, retry *RetryPolicy, logger *log.Logger) *Gateway {
	return &Gateway{
		strategy: strategy,
		cache:    cache,
		retry:    retry,
		logger:   logger,
		tracer:   otel.Tracer("perimeterd/gateway"),
	}
}

// TransportName reports the active transport identifier.
func (g *Gateway) TransportName() string {
	return g.strategy.Name()
}

// Execute runs command with params. Parameterless calls are reads: they may
// be answered from the cache and their results are cached on success. Calls
// with params are writes: on success every cached read is invalidated, since
// a write can change any subsequent read.
func (g *Gateway) Execute(ctx context.Context, command string, params map[string]any) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.execute", trace.WithAttributes(
		attribute.String("gateway.transport", g.strategy.Name()),
		attribute.String("gateway.command", command),
	))
	defer span.End()

	read := len(params) == 0
	if read {
		if res, ok := g.cache.Get(g.strategy.Name(), command); ok {
			span.SetAttributes(attribute.Bool("gateway.cache_hit", true))
			return res, nil
		}
	}

	run := func() (Result, error) {
		return g.strategy.Execute(ctx, command, params)
	}
	var (
		res Result
		err error
	)
	if g.retry != nil {
		res, err = g.retry.Execute(ctx, run)
	} else {
		res, err = run()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Printf("command %s failed on %s: %v", command, g.strategy.Name(), err)
		return nil, err
	}

	if read {
		g.cache.Put(g.strategy.Name(), command, res)
	} else {
		g.cache.InvalidateAll()
	}
	return res, nil
}

// Test probes connectivity with a cheap read, bypassing cache and retry.
func (g *Gateway) Test(ctx context.Context) error {
	_, err := g.strategy.Execute(ctx, probeCommand, nil)
	return err
}

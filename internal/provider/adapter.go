package provider

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/metrics"
	"gatewarden/pkg/platform/circuit"
)

const tracerName = "gatewarden/provider"

// AdapterConfig bounds the adapter's patience with the provider.
type AdapterConfig struct {
	Timeout    time.Duration // per-attempt timeout
	Retries    int           // retry count after the first attempt
	BackoffMin time.Duration // first backoff step, doubled per retry
}

// Alarmer receives operational alarms raised by the adapter.
type Alarmer interface {
	PublishAlarm(domain.AlarmEvent)
}

// Adapter enforces the engine's timeout/retry policy around a raw Provider.
// It is the only component allowed to talk to the provider; everything above
// it sees domain results and the closed error set.
type Adapter struct {
	raw     Provider
	cfg     AdapterConfig
	breaker *circuit.Breaker
	alarms  Alarmer
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewAdapter wraps a raw provider with retry, timeout, and circuit breaking.
func NewAdapter(raw Provider, cfg AdapterConfig, logger *slog.Logger, m *metrics.Metrics) *Adapter {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 50 * time.Millisecond
	}
	return &Adapter{
		raw:     raw,
		cfg:     cfg,
		breaker: circuit.New("embedding-provider", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// WithAlarms routes circuit transitions to the given sink.
func (a *Adapter) WithAlarms(sink Alarmer) *Adapter {
	a.alarms = sink
	return a
}

// Verify compares the capture against a single target embedding.
func (a *Adapter) Verify(ctx context.Context, imageRef, targetFaceID string) (domain.SimilarityResult, error) {
	var result domain.SimilarityResult
	err := a.call(ctx, "verify", func(ctx context.Context) error {
		var err error
		result, err = a.raw.Verify(ctx, imageRef, targetFaceID)
		return err
	})
	return result, err
}

// Search compares the capture against a collection.
func (a *Adapter) Search(ctx context.Context, imageRef, collection string) ([]domain.SimilarityResult, error) {
	var results []domain.SimilarityResult
	err := a.call(ctx, "search", func(ctx context.Context) error {
		var err error
		results, err = a.raw.Search(ctx, imageRef, collection)
		return err
	})
	return results, err
}

// call runs one provider operation with per-attempt timeout, bounded retries
// with exponential backoff, and circuit breaking. Only transient failures
// are retried; a no-face result returns immediately.
func (a *Adapter) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := a.tracer.Start(ctx, "provider."+op)
	defer span.End()

	// An open circuit downgrades to a single probe attempt: enough to notice
	// recovery, cheap enough not to pile onto an outage.
	retries := a.cfg.Retries
	if a.breaker.IsOpen() {
		span.SetAttributes(attribute.Bool("circuit_open", true))
		retries = 0
	}

	backoff := a.cfg.BackoffMin
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return a.fail(op, NewError(ErrorUnavailable, op, "context done during backoff", ctx.Err()))
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			a.observe(op, "ok", elapsed)
			if _, change := a.breaker.RecordSuccess(); change.Closed {
				a.logger.InfoContext(ctx, "provider circuit closed", "op", op)
			}
			return nil
		}

		if attemptCtx.Err() != nil && ctx.Err() == nil {
			// The attempt hit its own deadline, not the caller's.
			err = NewError(ErrorUnavailable, op, "provider timeout", attemptCtx.Err())
		} else if ctx.Err() != nil {
			a.observe(op, "deadline", elapsed)
			return a.fail(op, NewError(ErrorUnavailable, op, "request deadline exceeded", ctx.Err()))
		}

		category := Category(err)
		a.observe(op, string(category), elapsed)
		lastErr = err
		if !Retryable(err) {
			return err
		}
		a.logger.WarnContext(ctx, "provider attempt failed",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return a.fail(op, NewError(ErrorUnavailable, op, "retries exhausted", lastErr))
}

func (a *Adapter) fail(op string, err *Error) error {
	if _, change := a.breaker.RecordFailure(); change.Opened {
		a.logger.Error("provider circuit opened", "op", op)
		if a.alarms != nil {
			a.alarms.PublishAlarm(domain.AlarmEvent{
				Kind:   domain.AlarmProviderCircuit,
				Detail: op,
			})
		}
	}
	return err
}

func (a *Adapter) observe(op, outcome string, elapsed time.Duration) {
	if a.metrics != nil {
		a.metrics.ObserveProvider(op, outcome, elapsed)
	}
}

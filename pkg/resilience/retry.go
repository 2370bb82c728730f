package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCircuitOpen is returned when an endpoint's circuit rejects a call.
var ErrCircuitOpen = errors.New("circuit open")

var tracer = otel.Tracer("freedive-coach/resilience")

// RetryConfig controls the executor's retry and timeout behavior.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         float64
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns three attempts with 1s..10s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		Jitter:         0.2,
		AttemptTimeout: 25 * time.Second,
	}
}

// CallContext identifies the caller of a protected operation.
type CallContext struct {
	Endpoint string
	UserID   string
}

// ErrorSink receives one entry per failed attempt.
type ErrorSink interface {
	Log(ctx context.Context, entry models.ErrorLogEntry) error
}

// CallError is returned when a protected call fails terminally.
type CallError struct {
	Endpoint       string
	Attempts       int
	Classification Classification
	Err            error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) [%s]: %v", e.Endpoint, e.Attempts, e.Classification.Type, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Executor runs operations with retries, backoff and circuit breaking.
type Executor struct {
	cfg      RetryConfig
	breakers *Registry
	sink     ErrorSink
	metrics  *telemetry.Metrics

	sleep  func(context.Context, time.Duration) error
	jitter func() float64
	now    func() time.Time
}

// NewExecutor creates an Executor. sink and metrics may be nil.
func NewExecutor(cfg RetryConfig, breakers *Registry, sink ErrorSink, metrics *telemetry.Metrics) *Executor {
	def := DefaultRetryConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if breakers == nil {
		breakers = NewRegistry(nil, 0, 0)
	}
	return &Executor{
		cfg:      cfg,
		breakers: breakers,
		sink:     sink,
		metrics:  metrics,
		sleep:    sleepCtx,
		jitter:   rand.Float64,
		now:      time.Now,
	}
}

// Breakers returns the executor's circuit registry.
func (e *Executor) Breakers() *Registry { return e.breakers }

// Do runs op until it succeeds, fails with a non-retryable error, or runs out
// of attempts. It returns the number of attempts made. Failures are returned
// as *CallError.
func (e *Executor) Do(ctx context.Context, cc CallContext, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		allowed, trial := e.breakers.acquire(ctx, cc.Endpoint)
		if !allowed {
			e.metrics.CircuitRejected(ctx, cc.Endpoint)
			e.record(ctx, cc, circuitOpen, ErrCircuitOpen, attempt)
			return attempts, &CallError{Endpoint: cc.Endpoint, Attempts: attempts, Classification: circuitOpen, Err: ErrCircuitOpen}
		}

		attempts++
		err := e.attempt(ctx, cc, attempt, op)
		if err == nil {
			e.breakers.RecordSuccess(ctx, cc.Endpoint)
			return attempts, nil
		}

		if ctx.Err() != nil {
			// Caller went away; not the upstream's fault.
			if trial {
				e.breakers.release(context.WithoutCancel(ctx), cc.Endpoint)
			}
			return attempts, &CallError{Endpoint: cc.Endpoint, Attempts: attempts, Classification: timedOut, Err: err}
		}

		cls := Classify(err)
		e.record(ctx, cc, cls, err, attempt)

		if !cls.Retryable || attempt == e.cfg.MaxRetries || trial {
			e.breakers.RecordFailure(ctx, cc.Endpoint)
			return attempts, &CallError{Endpoint: cc.Endpoint, Attempts: attempts, Classification: cls, Err: err}
		}

		delay := e.Backoff(attempt)
		e.metrics.Retry(ctx, cc.Endpoint, string(cls.Type))
		log.Debug().
			Str("endpoint", cc.Endpoint).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying")
		if serr := e.sleep(ctx, delay); serr != nil {
			return attempts, &CallError{Endpoint: cc.Endpoint, Attempts: attempts, Classification: timedOut, Err: serr}
		}
	}
	// Unreachable: the loop always returns on its final attempt.
	return attempts, &CallError{Endpoint: cc.Endpoint, Attempts: attempts, Classification: unknown, Err: errors.New("no attempts made")}
}

func (e *Executor) attempt(ctx context.Context, cc CallContext, n int, op func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "upstream.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("coach.endpoint", cc.Endpoint),
			attribute.Int("coach.attempt", n),
		),
	)
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	start := e.now()
	err := op(actx)
	e.metrics.Attempt(ctx, cc.Endpoint, err == nil, float64(e.now().Sub(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

func (e *Executor) record(ctx context.Context, cc CallContext, cls Classification, err error, attempt int) {
	log.Warn().
		Err(err).
		Str("endpoint", cc.Endpoint).
		Int("attempt", attempt).
		Str("type", string(cls.Type)).
		Str("severity", string(cls.Severity)).
		Bool("retryable", cls.Retryable).
		Msg("upstream call failed")

	if e.sink == nil {
		return
	}
	entry := models.ErrorLogEntry{
		UserID:       cc.UserID,
		Endpoint:     cc.Endpoint,
		ErrorType:    string(cls.Type),
		ErrorMessage: err.Error(),
		Severity:     cls.Severity,
		Attempt:      attempt,
		CreatedAt:    e.now().UTC(),
	}
	if lerr := e.sink.Log(context.WithoutCancel(ctx), entry); lerr != nil {
		log.Error().Err(lerr).Msg("write error log")
	}
}

// Backoff returns the wait before the retry that follows attempt:
// min(base*2^(attempt-1), max) plus up to Jitter of that value.
func (e *Executor) Backoff(attempt int) time.Duration {
	d := e.cfg.BaseDelay << (attempt - 1)
	if d > e.cfg.MaxDelay || d <= 0 {
		d = e.cfg.MaxDelay
	}
	if e.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * e.cfg.Jitter * e.jitter())
	}
	return d
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, e *Executor, cc CallContext, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var out T
	attempts, err := e.Do(ctx, cc, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, attempts, err
}

// AsCallError extracts the classification of a failed call.
func AsCallError(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
